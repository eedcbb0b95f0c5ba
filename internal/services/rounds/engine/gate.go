package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/partyround/internal/platform/errors"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/ledger"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

// LegalityChecker vets an action against the open round's state. Refusals
// are returned as *RejectError; any other error aborts the submission.
type LegalityChecker interface {
	Check(state match.State, a action.Action) error
}

// CatalogLegality checks that referenced slots, participants, items and
// abilities exist, that the submitter holds what it names, and that the
// action kind belongs to the match's ruleset.
type CatalogLegality struct {
	Catalog *catalog.Catalog
}

// Check implements LegalityChecker.
func (c CatalogLegality) Check(state match.State, a action.Action) error {
	rs := state.Match.Ruleset
	switch a.Kind {
	case action.KindAttack:
		if rs != match.RulesetSkirmish {
			return reject(ReasonAbilityNotPermitted, "attack is not part of %s", rs)
		}
		if state.Slot(a.Attack.Slot) == nil {
			return reject(ReasonIllegalTarget, "slot %d does not exist", a.Attack.Slot)
		}
		for _, w := range a.Attack.Weapons {
			item, err := c.Catalog.Item(w)
			if err != nil || item.Effect == nil {
				return reject(ReasonIllegalResource, "%q is not a weapon", w)
			}
			if !ledger.Holds(state, c.Catalog, a.Participant, w) {
				return reject(ReasonIllegalResource, "%q is not held", w)
			}
		}
	case action.KindProtect:
		if rs != match.RulesetSkirmish {
			return reject(ReasonAbilityNotPermitted, "protect is not part of %s", rs)
		}
		if state.Slot(a.Protect.Slot) == nil {
			return reject(ReasonIllegalTarget, "slot %d does not exist", a.Protect.Slot)
		}
		item, err := c.Catalog.Item(a.Protect.Item)
		if err != nil || item.Protection == nil {
			return reject(ReasonIllegalResource, "%q does not protect", a.Protect.Item)
		}
		if !ledger.Holds(state, c.Catalog, a.Participant, a.Protect.Item) {
			return reject(ReasonIllegalResource, "%q is not held", a.Protect.Item)
		}
	case action.KindAbility:
		return c.checkAbility(state, a)
	case action.KindCommit:
		if rs != match.RulesetOutbreak {
			return reject(ReasonAbilityNotPermitted, "commit is not part of %s", rs)
		}
	default:
		return reject(ReasonUnknownKind, "%q", a.Kind)
	}
	return nil
}

func (c CatalogLegality) checkAbility(state match.State, a action.Action) error {
	name := a.Ability.Ability
	spec, err := c.Catalog.Ability(name)
	if err != nil {
		return reject(ReasonAbilityNotPermitted, "unknown ability %q", name)
	}
	actor := state.Participant(a.Participant)
	role, err := c.Catalog.Role(actor.Role)
	if err != nil {
		return fmt.Errorf("participant %d: %w", actor.Num, err)
	}
	if !role.Permits(name) {
		return reject(ReasonAbilityNotPermitted, "role %s cannot %s", role.Code, name)
	}
	if spec.Targeted {
		target := state.Participant(a.Ability.Target)
		if target == nil || !target.CanAct() {
			return reject(ReasonIllegalTarget, "participant %d cannot be targeted", a.Ability.Target)
		}
	} else if a.Ability.Target != 0 {
		return reject(ReasonIllegalTarget, "%s takes no target", name)
	}
	if spec.Consumes != "" && !ledger.Holds(state, c.Catalog, a.Participant, spec.Consumes) {
		return reject(ReasonIllegalResource, "%q is not held", spec.Consumes)
	}
	return nil
}

// Submit records participant's action for the round at key, replacing any
// earlier submission. The participant number on a is overwritten with the
// caller's.
func (s *Service) Submit(ctx context.Context, key storage.RoundKey, participant int, a action.Action) (err error) {
	ctx, span := s.startSpan(ctx, "rounds.submit", key)
	defer func() { endSpan(span, err) }()

	a.Participant = participant
	if err := a.Validate(); err != nil {
		reason := ReasonMalformed
		if errors.Is(err, action.ErrUnknownKind) {
			reason = ReasonUnknownKind
		}
		return s.rejected(key, participant, &RejectError{Reason: reason, Detail: err.Error()})
	}

	state, err := s.store.LoadState(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return s.rejected(key, participant, reject(ReasonRoundNotOpen, "round %d does not exist", key.Round))
	}
	if err != nil {
		return fmt.Errorf("load round state: %w", err)
	}
	if !state.Match.Running() || state.Round.Status != match.RoundOpen {
		return s.rejected(key, participant, reject(ReasonRoundNotOpen, "round is %s", state.Round.Status))
	}
	actor := state.Participant(participant)
	if actor == nil {
		return s.rejected(key, participant, reject(ReasonParticipantUnknown, "participant %d", participant))
	}
	if !actor.CanAct() {
		return s.rejected(key, participant, reject(ReasonParticipantNotAlive, "participant %d", participant))
	}
	if err := s.legality.Check(state, a); err != nil {
		var rej *RejectError
		if errors.As(err, &rej) {
			return s.rejected(key, participant, rej)
		}
		return fmt.Errorf("check legality: %w", err)
	}

	err = s.store.PutAction(ctx, key, a, s.now())
	if errors.Is(err, storage.ErrRoundNotOpen) {
		return s.rejected(key, participant, reject(ReasonRoundNotOpen, "round froze during submission"))
	}
	if err != nil {
		return fmt.Errorf("store action: %w", err)
	}
	s.logger.Debug("action accepted", append(roundFields(key),
		zap.Int("participant", participant),
		zap.String("kind", string(a.Kind)),
	)...)
	return nil
}

func (s *Service) rejected(key storage.RoundKey, participant int, rej *RejectError) error {
	s.metrics.RejectedSubmission(string(rej.Reason))
	s.logger.Info("action rejected", append(roundFields(key),
		zap.Int("participant", participant),
		zap.String("reason", string(rej.Reason)),
		zap.String("detail", rej.Detail),
	)...)
	return rej
}

// LockedSnapshot is a frozen round with its actions in resolution order.
type LockedSnapshot struct {
	Round   match.Round
	Actions []action.Action
}

// Freeze latches the round at key from Open to Locked and draws its
// tie-break seed. Freezing twice returns an error matching
// storage.ErrAlreadyFrozen.
func (s *Service) Freeze(ctx context.Context, key storage.RoundKey) (snap LockedSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "rounds.freeze", key)
	defer func() { endSpan(span, err) }()

	err = s.store.LockRound(ctx, key, s.seed(), s.now())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return LockedSnapshot{}, apperrors.Wrap(apperrors.CodeNotFound, "round not found", err)
	case errors.Is(err, storage.ErrAlreadyFrozen):
		return LockedSnapshot{}, &apperrors.Error{
			Code:     apperrors.CodeRoundAlreadyFrozen,
			Message:  "round already frozen",
			Metadata: roundMetadata(key),
			Cause:    err,
		}
	case err != nil:
		return LockedSnapshot{}, fmt.Errorf("lock round: %w", err)
	}

	round, err := s.store.GetRound(ctx, key)
	if err != nil {
		return LockedSnapshot{}, fmt.Errorf("get round: %w", err)
	}
	actions, err := s.store.ListActions(ctx, key)
	if err != nil {
		return LockedSnapshot{}, fmt.Errorf("list actions: %w", err)
	}
	s.logger.Info("round frozen", append(roundFields(key), zap.Int("actions", len(actions)))...)
	return LockedSnapshot{Round: round, Actions: actions}, nil
}
