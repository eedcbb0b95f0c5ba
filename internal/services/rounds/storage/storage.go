// Package storage defines persistence contracts for round resolution state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/ledger"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrRoundNotOpen indicates a submission against a round that is not open.
	ErrRoundNotOpen = errors.New("round is not open")
	// ErrAlreadyFrozen indicates a freeze of a round that already left Open.
	ErrAlreadyFrozen = errors.New("round already frozen")
	// ErrAlreadyResolved indicates another writer committed the resolution
	// first.
	ErrAlreadyResolved = errors.New("round already resolved")
)

// RoundKey addresses one round of one match.
type RoundKey struct {
	MatchID string
	Round   int
}

// ResolutionRecord is the immutable result of resolving one round. Once
// written it is returned verbatim to every later reader.
type ResolutionRecord struct {
	ID         string
	MatchID    string
	Round      int
	Ruleset    match.Ruleset
	Lines      []auditlog.Line
	Terminal   []effect.TerminalEvent
	Verdict    verdict.Verdict
	Changes    []ledger.Change
	ResolvedAt time.Time
}

// Key returns the round this record resolves.
func (r ResolutionRecord) Key() RoundKey {
	return RoundKey{MatchID: r.MatchID, Round: r.Round}
}

// MatchStore persists matches and their seated state.
type MatchStore interface {
	// CreateMatch inserts the match with its participants, board, queue and
	// inventory. The state's round is ignored.
	CreateMatch(ctx context.Context, state match.State) error
	GetMatch(ctx context.Context, matchID string) (match.Match, error)
	// LoadState reads the snapshot a resolution of key starts from.
	LoadState(ctx context.Context, key RoundKey) (match.State, error)
	// RemoveParticipant marks a participant removed. Participants are never
	// deleted.
	RemoveParticipant(ctx context.Context, matchID string, num int) error
}

// RoundStore persists round lifecycle.
type RoundStore interface {
	// OpenRound inserts an open round and advances the match's current
	// round.
	OpenRound(ctx context.Context, round match.Round) error
	GetRound(ctx context.Context, key RoundKey) (match.Round, error)
	// LockRound moves an open round to locked and stores the tie-break seed.
	// It returns ErrAlreadyFrozen when the round already left Open.
	LockRound(ctx context.Context, key RoundKey, seed int64, at time.Time) error
	// ListDueRounds returns open rounds whose deadline passed and locked
	// rounds still awaiting resolution, ordered by match then number.
	ListDueRounds(ctx context.Context, now time.Time) ([]match.Round, error)
}

// ActionStore persists submitted actions.
type ActionStore interface {
	// PutAction stores a participant's action, replacing an earlier one for
	// the same round. It returns ErrRoundNotOpen unless the round is open.
	PutAction(ctx context.Context, key RoundKey, a action.Action, at time.Time) error
	// ListActions returns a round's actions ordered by priority, then
	// participant.
	ListActions(ctx context.Context, key RoundKey) ([]action.Action, error)
}

// ResolutionStore persists resolution results.
type ResolutionStore interface {
	GetResolution(ctx context.Context, key RoundKey) (ResolutionRecord, error)
	// CommitResolution writes rec and the post-resolution state in one
	// transaction and marks the round resolved. A concurrent loser gets
	// ErrAlreadyResolved and nothing it wrote is kept.
	CommitResolution(ctx context.Context, rec ResolutionRecord, state match.State) error
}

// Store is everything the rounds engine persists.
type Store interface {
	MatchStore
	RoundStore
	ActionStore
	ResolutionStore
}
