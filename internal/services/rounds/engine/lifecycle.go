package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/partyround/internal/platform/errors"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

// ParticipantSetup seats one participant.
type ParticipantSetup struct {
	Num   int            `yaml:"num" json:"num"`
	Name  string         `yaml:"name" json:"name"`
	Role  string         `yaml:"role" json:"role"`
	Items map[string]int `yaml:"items,omitempty" json:"items,omitempty"`
}

// MatchSetup describes a match to start. Board lists monster template ids
// per slot, an empty id leaving the slot empty; Queue lists templates that
// refill defeated slots in order.
type MatchSetup struct {
	ID                  string             `yaml:"id,omitempty" json:"id,omitempty"`
	Ruleset             match.Ruleset      `yaml:"ruleset" json:"ruleset"`
	RoundLimit          int                `yaml:"round_limit,omitempty" json:"round_limit,omitempty"`
	ObjectiveTarget     int                `yaml:"objective_target,omitempty" json:"objective_target,omitempty"`
	CorruptionThreshold int                `yaml:"corruption_threshold,omitempty" json:"corruption_threshold,omitempty"`
	DefenseThreshold    int                `yaml:"defense_threshold,omitempty" json:"defense_threshold,omitempty"`
	SabotageTieBreak    string             `yaml:"sabotage_tie_break,omitempty" json:"sabotage_tie_break,omitempty"`
	Incubation          int                `yaml:"incubation,omitempty" json:"incubation,omitempty"`
	Board               []string           `yaml:"board,omitempty" json:"board,omitempty"`
	Queue               []string           `yaml:"queue,omitempty" json:"queue,omitempty"`
	Participants        []ParticipantSetup `yaml:"participants" json:"participants"`
}

// StartMatch builds the initial state from the catalog and persists it.
func (s *Service) StartMatch(ctx context.Context, setup MatchSetup) (match.State, error) {
	state, err := s.buildState(setup)
	if err != nil {
		return match.State{}, err
	}
	err = s.store.CreateMatch(ctx, state)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return match.State{}, apperrors.Wrap(apperrors.CodeAlreadyExists, "match already exists", err)
	}
	if err != nil {
		return match.State{}, fmt.Errorf("create match: %w", err)
	}
	s.logger.Info("match started",
		zap.String("match_id", state.Match.ID),
		zap.String("ruleset", string(state.Match.Ruleset)),
		zap.Int("participants", len(state.Participants)),
	)
	return state, nil
}

func (s *Service) buildState(setup MatchSetup) (match.State, error) {
	invalid := func(format string, args ...any) error {
		return apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf(format, args...))
	}
	if !setup.Ruleset.Valid() {
		return match.State{}, invalid("unknown ruleset %q", setup.Ruleset)
	}
	if len(setup.Participants) == 0 {
		return match.State{}, invalid("a match needs participants")
	}
	matchID := strings.TrimSpace(setup.ID)
	if matchID == "" {
		generated, err := s.newID()
		if err != nil {
			return match.State{}, err
		}
		matchID = generated
	}

	m := match.Match{
		ID:                  matchID,
		Ruleset:             setup.Ruleset,
		Phase:               match.PhaseRunning,
		RoundLimit:          setup.RoundLimit,
		ObjectiveTarget:     setup.ObjectiveTarget,
		CorruptionThreshold: setup.CorruptionThreshold,
		DefenseThreshold:    setup.DefenseThreshold,
		SabotageTieBreak:    setup.SabotageTieBreak,
		Incubation:          setup.Incubation,
		SlotCount:           len(setup.Board),
		CreatedAt:           s.now(),
	}
	if m.Ruleset == match.RulesetOutbreak && m.SabotageTieBreak == "" {
		m.SabotageTieBreak = match.TeamTown
	}
	state := match.State{Match: m}

	seen := make(map[int]bool, len(setup.Participants))
	for _, ps := range setup.Participants {
		if ps.Num <= 0 || seen[ps.Num] {
			return match.State{}, invalid("participant number %d is invalid or repeated", ps.Num)
		}
		seen[ps.Num] = true
		role, err := s.catalog.Role(ps.Role)
		if err != nil {
			return match.State{}, invalid("participant %d: unknown role %q", ps.Num, ps.Role)
		}
		if role.Ruleset != string(setup.Ruleset) {
			return match.State{}, invalid("role %q belongs to %s", role.Code, role.Ruleset)
		}
		p := match.Participant{
			Num:       ps.Num,
			Name:      ps.Name,
			Role:      role.Code,
			Team:      role.Team,
			Alive:     true,
			Health:    role.MaxHealth,
			MaxHealth: role.MaxHealth,
			Tokens:    role.StartingTokens,
			Caps:      role.Caps(),
		}
		state.Participants = append(state.Participants, p)
		for kind, qty := range ps.Items {
			if !s.catalog.HasItem(kind) || qty <= 0 {
				return match.State{}, invalid("participant %d: bad item %q x%d", ps.Num, kind, qty)
			}
			state.Inventory = append(state.Inventory, match.InventoryItem{
				Owner: ps.Num, Kind: kind, Quantity: qty, UsableNow: true,
			})
		}
	}

	for i, templateID := range setup.Board {
		slot := match.Slot{Index: i + 1}
		if templateID != "" {
			tmpl, err := s.catalog.Monster(templateID)
			if err != nil {
				return match.State{}, invalid("slot %d: unknown monster %q", i+1, templateID)
			}
			entity := tmpl.Instance(match.EntityActive)
			slot.Entity = &entity
		}
		state.Slots = append(state.Slots, slot)
	}
	for _, templateID := range setup.Queue {
		tmpl, err := s.catalog.Monster(templateID)
		if err != nil {
			return match.State{}, invalid("queue: unknown monster %q", templateID)
		}
		state.Queue = append(state.Queue, tmpl.Instance(match.EntityQueued))
	}
	state.Normalize()
	return state, nil
}

// RoundSetup parameterises a newly opened round.
type RoundSetup struct {
	Danger   int
	Deadline time.Time
}

// OpenRound opens the next round of matchID. The match must be running and
// its current round resolved.
func (s *Service) OpenRound(ctx context.Context, matchID string, setup RoundSetup) (match.Round, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if errors.Is(err, storage.ErrNotFound) {
		return match.Round{}, apperrors.Wrap(apperrors.CodeNotFound, "match not found", err)
	}
	if err != nil {
		return match.Round{}, fmt.Errorf("get match: %w", err)
	}
	if !m.Running() {
		return match.Round{}, apperrors.New(apperrors.CodeMatchEnded, "match has ended")
	}
	if m.CurrentRound > 0 {
		prev, err := s.store.GetRound(ctx, storage.RoundKey{MatchID: m.ID, Round: m.CurrentRound})
		if err != nil {
			return match.Round{}, fmt.Errorf("get current round: %w", err)
		}
		if prev.Status != match.RoundResolved {
			return match.Round{}, apperrors.New(apperrors.CodePreviousRoundUnresolved, "current round is not resolved")
		}
	}

	round := match.Round{
		MatchID:  m.ID,
		Number:   m.CurrentRound + 1,
		Status:   match.RoundOpen,
		Danger:   setup.Danger,
		Deadline: setup.Deadline,
		OpenedAt: s.now(),
	}
	err = s.store.OpenRound(ctx, round)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return match.Round{}, apperrors.Wrap(apperrors.CodeAlreadyExists, "round already open", err)
	}
	if err != nil {
		return match.Round{}, fmt.Errorf("open round: %w", err)
	}
	s.logger.Info("round opened", roundFields(storage.RoundKey{MatchID: m.ID, Round: round.Number})...)
	return round, nil
}

// RemoveParticipant takes a participant out of future rounds. The
// participant stays in the match's history.
func (s *Service) RemoveParticipant(ctx context.Context, matchID string, num int) error {
	err := s.store.RemoveParticipant(ctx, matchID, num)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.Wrap(apperrors.CodeNotFound, "participant not found", err)
	}
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	s.logger.Info("participant removed", zap.String("match_id", matchID), zap.Int("participant", num))
	return nil
}

// State returns the current snapshot of round in matchID.
func (s *Service) State(ctx context.Context, key storage.RoundKey) (match.State, error) {
	state, err := s.store.LoadState(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return match.State{}, apperrors.Wrap(apperrors.CodeNotFound, "round not found", err)
	}
	if err != nil {
		return match.State{}, fmt.Errorf("load state: %w", err)
	}
	return state, nil
}
