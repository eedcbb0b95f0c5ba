package roundctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/engine"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

// Scenario is a match setup plus the rounds to play against it.
type Scenario struct {
	Match  engine.MatchSetup `yaml:"match"`
	Rounds []ScenarioRound   `yaml:"rounds"`
}

// ScenarioRound opens one round, submits its actions and, when Resolve is
// set, freezes and resolves it.
type ScenarioRound struct {
	Danger  int             `yaml:"danger"`
	Actions []action.Action `yaml:"actions"`
	Resolve bool            `yaml:"resolve"`
}

// LoadScenario parses the scenario at path within fsys.
func LoadScenario(fsys fs.FS, path string) (Scenario, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if len(sc.Match.Participants) == 0 {
		return Scenario{}, fmt.Errorf("scenario %s has no participants", path)
	}
	return sc, nil
}

// RunScenario starts the match and plays each round in order. Rejected
// submissions are reported and skipped; any other failure stops the run.
func RunScenario(ctx context.Context, svc *engine.Service, sc Scenario, out io.Writer) error {
	state, err := svc.StartMatch(ctx, sc.Match)
	if err != nil {
		return fmt.Errorf("start match: %w", err)
	}
	matchID := state.Match.ID
	fmt.Fprintf(out, "Started match %s (%s) with %d participants\n", matchID, state.Match.Ruleset, len(state.Participants))

	for i, r := range sc.Rounds {
		round, err := svc.OpenRound(ctx, matchID, engine.RoundSetup{Danger: r.Danger})
		if err != nil {
			return fmt.Errorf("open round %d: %w", i+1, err)
		}
		key := storage.RoundKey{MatchID: matchID, Round: round.Number}
		for _, a := range r.Actions {
			err := svc.Submit(ctx, key, a.Participant, a)
			var rej *engine.RejectError
			if errors.As(err, &rej) {
				fmt.Fprintf(out, "  participant %d rejected: %v\n", a.Participant, rej)
				continue
			}
			if err != nil {
				return fmt.Errorf("submit for participant %d: %w", a.Participant, err)
			}
		}
		if !r.Resolve {
			fmt.Fprintf(out, "Round %d left open with %d actions\n", round.Number, len(r.Actions))
			return nil
		}
		if _, err := svc.Freeze(ctx, key); err != nil {
			return fmt.Errorf("freeze round %d: %w", round.Number, err)
		}
		res, err := svc.Resolve(ctx, key)
		if err != nil {
			return fmt.Errorf("resolve round %d: %w", round.Number, err)
		}
		printRecord(out, res.Record, res.Streams().Moderator())
		if res.Record.Verdict.Ended {
			return nil
		}
	}
	return nil
}
