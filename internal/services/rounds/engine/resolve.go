package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/partyround/internal/platform/errors"
	"github.com/louisbranch/partyround/internal/platform/timeouts"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/combat"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/contagion"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/resolve"
	"github.com/louisbranch/partyround/internal/services/rounds/observability/metrics"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

// Result is a committed resolution. Cached is true when the record was
// produced by an earlier call or another writer.
type Result struct {
	Record storage.ResolutionRecord
	Cached bool
}

// Streams splits the record's lines by audience.
func (r Result) Streams() auditlog.Streams {
	return auditlog.Split(r.Record.Lines)
}

// Resolve returns the resolution of the round at key, computing and
// committing it on the first call. Every later call, from any process
// sharing the store, returns the same record.
func (s *Service) Resolve(ctx context.Context, key storage.RoundKey) (Result, error) {
	flightKey := fmt.Sprintf("%s/%d", key.MatchID, key.Round)
	v, err, _ := s.flight.Do(flightKey, func() (any, error) {
		// Coalesced callers share this pass; resolve applies its own deadline.
		return s.resolve(context.WithoutCancel(ctx), key)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Service) resolve(ctx context.Context, key storage.RoundKey) (res Result, err error) {
	ctx, span := s.startSpan(ctx, "rounds.resolve", key)
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, timeouts.Resolve)
	defer cancel()

	if rec, ok, err := s.cached(ctx, key); err != nil || ok {
		return Result{Record: rec, Cached: ok}, err
	}

	started := s.now()
	state, err := s.store.LoadState(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, apperrors.Wrap(apperrors.CodeNotFound, "round not found", err)
	}
	if err != nil {
		return Result{}, storageFailure("load state", err)
	}
	if state.Round.Status == match.RoundResolved {
		// Another writer committed between the cache read and the load.
		if rec, ok, err := s.cached(ctx, key); err != nil || ok {
			return Result{Record: rec, Cached: ok}, err
		}
	}
	ruleset := string(state.Match.Ruleset)
	if err := s.checkResolvable(ctx, state); err != nil {
		return Result{}, err
	}

	actions, err := s.store.ListActions(ctx, key)
	if err != nil {
		return Result{}, storageFailure("list actions", err)
	}
	rs, err := rulesetFor(state.Match.Ruleset)
	if err != nil {
		return Result{}, s.failed(key, ruleset, started, &ResolutionError{
			Code:   apperrors.CodeResolutionFailed,
			Detail: "unsupported ruleset",
			Err:    wrapNonRetryable(err),
		})
	}
	out, err := resolve.Resolve(resolve.Input{
		State:    state,
		Actions:  actions,
		Catalog:  s.catalog,
		Renderer: s.renderer,
	}, rs)
	if err != nil {
		code := apperrors.CodeResolutionFailed
		if errors.Is(err, catalog.ErrInconsistent) {
			code = apperrors.CodeCatalogInconsistent
		}
		return Result{}, s.failed(key, ruleset, started, &ResolutionError{
			Code:   code,
			Detail: "resolution pass aborted",
			Err:    wrapNonRetryable(err),
		})
	}

	resolutionID, err := s.newID()
	if err != nil {
		return Result{}, s.failed(key, ruleset, started, storageFailure("generate resolution id", err))
	}
	rec := storage.ResolutionRecord{
		ID:         resolutionID,
		MatchID:    key.MatchID,
		Round:      key.Round,
		Ruleset:    state.Match.Ruleset,
		Lines:      out.Lines,
		Terminal:   out.Terminal,
		Verdict:    out.Verdict,
		Changes:    out.Changes,
		ResolvedAt: s.now(),
	}
	err = s.store.CommitResolution(ctx, rec, out.State)
	if errors.Is(err, storage.ErrAlreadyResolved) {
		winner, getErr := s.store.GetResolution(ctx, key)
		if getErr != nil {
			return Result{}, storageFailure("read winning resolution", getErr)
		}
		s.metrics.ObserveResolution(ruleset, metrics.OutcomeLost, s.now().Sub(started))
		s.logger.Info("resolution lost commit race", append(roundFields(key), zap.String("resolution_id", winner.ID))...)
		return Result{Record: winner, Cached: true}, nil
	}
	if err != nil {
		return Result{}, s.failed(key, ruleset, started, storageFailure("commit resolution", err))
	}

	outcome := metrics.OutcomeResolved
	if rec.Verdict.Ended {
		outcome = metrics.OutcomeEnded
	}
	s.metrics.ObserveResolution(ruleset, outcome, s.now().Sub(started))
	s.logger.Info("round resolved", append(roundFields(key),
		zap.String("resolution_id", rec.ID),
		zap.Int("actions", len(actions)),
		zap.Int("lines", len(rec.Lines)),
		zap.Bool("ended", rec.Verdict.Ended),
		zap.String("winner", rec.Verdict.Winner),
	)...)
	s.publish(ctx, rec)
	return Result{Record: rec}, nil
}

func (s *Service) cached(ctx context.Context, key storage.RoundKey) (storage.ResolutionRecord, bool, error) {
	rec, err := s.store.GetResolution(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ResolutionRecord{}, false, nil
	}
	if err != nil {
		return storage.ResolutionRecord{}, false, storageFailure("read resolution", err)
	}
	s.metrics.CacheHit()
	return rec, true, nil
}

func (s *Service) checkResolvable(ctx context.Context, state match.State) error {
	if state.Round.Status != match.RoundLocked {
		return apperrors.WithMetadata(apperrors.CodeRoundNotLocked,
			fmt.Sprintf("round %d is %s", state.Round.Number, state.Round.Status),
			roundMetadata(storage.RoundKey{MatchID: state.Match.ID, Round: state.Round.Number}))
	}
	if !state.Match.Running() {
		return apperrors.New(apperrors.CodeMatchEnded, "match has ended")
	}
	if state.Round.Number <= 1 {
		return nil
	}
	prev, err := s.store.GetRound(ctx, storage.RoundKey{MatchID: state.Match.ID, Round: state.Round.Number - 1})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storageFailure("read previous round", err)
	}
	if err != nil || prev.Status != match.RoundResolved {
		return apperrors.New(apperrors.CodePreviousRoundUnresolved, "previous round is not resolved")
	}
	return nil
}

func (s *Service) failed(key storage.RoundKey, ruleset string, started time.Time, rerr *ResolutionError) error {
	s.metrics.ObserveResolution(ruleset, metrics.OutcomeFailed, s.now().Sub(started))
	s.logger.Error("resolution failed", append(roundFields(key),
		zap.String("code", string(rerr.Code)),
		zap.Bool("retryable", rerr.Retryable),
		zap.Error(rerr),
	)...)
	return rerr
}

func (s *Service) publish(ctx context.Context, rec storage.ResolutionRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishResolution(ctx, rec); err != nil {
		s.logger.Warn("publish resolution", append(roundFields(rec.Key()), zap.Error(err))...)
	}
}

// rulesetFor is the closed set of rulesets the engine can resolve.
func rulesetFor(r match.Ruleset) (resolve.Ruleset, error) {
	switch r {
	case match.RulesetSkirmish:
		return combat.New(), nil
	case match.RulesetOutbreak:
		return contagion.New(), nil
	default:
		return nil, fmt.Errorf("unknown ruleset %q", r)
	}
}

// Result returns the committed resolution of the round at key without
// resolving it.
func (s *Service) Result(ctx context.Context, key storage.RoundKey) (storage.ResolutionRecord, error) {
	rec, err := s.store.GetResolution(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ResolutionRecord{}, apperrors.Wrap(apperrors.CodeNotFound, "resolution not found", err)
	}
	if err != nil {
		return storage.ResolutionRecord{}, fmt.Errorf("get resolution: %w", err)
	}
	return rec, nil
}
