// Package resolve replays a frozen action list against a state snapshot in
// priority order. A pass performs no I/O and reads no clock, so the same
// input always produces the same output.
package resolve

import (
	"fmt"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/ledger"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
)

// Ruleset supplies the match-type specific rules of a pass. Implementations
// may keep per-pass scratch state and must not be reused across passes.
type Ruleset interface {
	// Apply resolves one action. Returned errors abort the pass.
	Apply(p *Pass, a action.Action) error
	// Settle runs once after every action and tick.
	Settle(p *Pass) error
	// Predicates lists terminal conditions in evaluation order.
	Predicates() []verdict.Predicate
}

// Input is everything a pass reads.
type Input struct {
	State    match.State
	Actions  []action.Action
	Catalog  *catalog.Catalog
	Renderer auditlog.Renderer
}

// Outcome is everything a pass produces.
type Outcome struct {
	State    match.State
	Lines    []auditlog.Line
	Terminal []effect.TerminalEvent
	Verdict  verdict.Verdict
	Changes  []ledger.Change
}

// Resolve runs one pass. Input state is never mutated.
func Resolve(in Input, rs Ruleset) (Outcome, error) {
	if in.Catalog == nil {
		return Outcome{}, fmt.Errorf("resolve: catalog is required")
	}
	if rs == nil {
		return Outcome{}, fmt.Errorf("resolve: ruleset is required")
	}

	state := in.State.Clone()
	state.Normalize()

	actions := make([]action.Action, len(in.Actions))
	for i, a := range in.Actions {
		actions[i] = a.Normalized()
	}
	action.Sort(actions)

	p := &Pass{
		State:   &state,
		Catalog: in.Catalog,
		Effects: effect.New(&state),
		Ledger:  ledger.New(&state, in.Catalog),
		Log:     auditlog.NewEmitter(in.Renderer),
	}

	for _, a := range actions {
		actor := state.Participant(a.Participant)
		if actor == nil || !actor.CanAct() {
			p.Log.Privileged(auditlog.Detail{Entry: auditlog.Entry{
				Key:   auditlog.KeyActorDown,
				Args:  []string{auditlog.Itoa(a.Participant)},
				Actor: a.Participant,
			}})
		} else if err := rs.Apply(p, a); err != nil {
			return Outcome{}, fmt.Errorf("resolve participant %d: %w", a.Participant, err)
		}
		for _, fired := range p.Effects.Tick() {
			p.ReportHits(fired.Pending.Source, fired.Hits, true)
		}
	}

	for _, pending := range p.Effects.Expire() {
		src := pending.Source
		p.Log.Privileged(auditlog.Detail{Entry: auditlog.Entry{
			Key:   auditlog.KeyEffectFizzled,
			Args:  []string{auditlog.Itoa(src.Participant), src.ItemName, auditlog.Itoa(pending.Remaining)},
			Actor: src.Participant,
		}})
	}

	if err := rs.Settle(p); err != nil {
		return Outcome{}, fmt.Errorf("settle round: %w", err)
	}

	v := verdict.Evaluate(rs.Predicates(), state)
	if v.Ended {
		verdict.Apply(&state.Match, v)
		p.Log.Public(auditlog.Entry{Key: auditlog.KeyVerdict, Args: []string{v.Winner, v.Reason}})
	}

	return Outcome{
		State:    state,
		Lines:    p.Log.Lines(),
		Terminal: p.Effects.Terminal(),
		Verdict:  v,
		Changes:  p.Ledger.Changes(),
	}, nil
}
