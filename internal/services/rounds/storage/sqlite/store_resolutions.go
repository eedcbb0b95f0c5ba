package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/ledger"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

type resolutionPayload struct {
	Lines    []auditlog.Line        `json:"lines"`
	Terminal []effect.TerminalEvent `json:"terminal"`
	Verdict  verdict.Verdict        `json:"verdict"`
	Changes  []ledger.Change        `json:"changes,omitempty"`
}

// GetResolution returns the committed result of a round.
func (s *Store) GetResolution(ctx context.Context, key storage.RoundKey) (storage.ResolutionRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ResolutionRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, match_id, round_number, ruleset, payload, resolved_at
		   FROM resolutions
		  WHERE match_id = ? AND round_number = ?`,
		strings.TrimSpace(key.MatchID), key.Round,
	)
	var (
		rec        storage.ResolutionRecord
		ruleset    string
		payload    string
		resolvedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.MatchID, &rec.Round, &ruleset, &payload, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ResolutionRecord{}, storage.ErrNotFound
		}
		return storage.ResolutionRecord{}, fmt.Errorf("get resolution: %w", err)
	}
	var body resolutionPayload
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return storage.ResolutionRecord{}, fmt.Errorf("decode resolution: %w", err)
	}
	rec.Ruleset = match.Ruleset(ruleset)
	rec.Lines = body.Lines
	rec.Terminal = body.Terminal
	rec.Verdict = body.Verdict
	rec.Changes = body.Changes
	rec.ResolvedAt = fromMillis(resolvedAt)
	return rec, nil
}

// CommitResolution writes the resolution row and the post-resolution state
// in one transaction.
func (s *Store) CommitResolution(ctx context.Context, rec storage.ResolutionRecord, state match.State) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	rec.MatchID = strings.TrimSpace(rec.MatchID)
	if rec.ID == "" || rec.MatchID == "" || rec.Round <= 0 {
		return fmt.Errorf("resolution id, match id and round are required")
	}
	payload, err := json.Marshal(resolutionPayload{
		Lines:    rec.Lines,
		Terminal: rec.Terminal,
		Verdict:  rec.Verdict,
		Changes:  rec.Changes,
	})
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resolutions (match_id, round_number, id, ruleset, payload, resolved_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.MatchID, rec.Round, rec.ID, string(rec.Ruleset), string(payload), toMillis(rec.ResolvedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return storage.ErrAlreadyResolved
			}
			return fmt.Errorf("insert resolution: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE rounds SET status = ?, resolved_at = ?
			  WHERE match_id = ? AND number = ? AND status = ?`,
			string(match.RoundResolved), toMillis(rec.ResolvedAt),
			rec.MatchID, rec.Round, string(match.RoundLocked),
		)
		if err != nil {
			return fmt.Errorf("mark round resolved: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("round %d of match %s is not locked", rec.Round, rec.MatchID)
		}

		m := state.Match
		if _, err := tx.ExecContext(ctx,
			`UPDATE matches
			    SET phase = ?, winner = ?, end_reason = ?, objective_count = ?,
			        corruption = ?, defense = ?
			  WHERE id = ?`,
			string(m.Phase), m.Winner, m.EndReason, m.ObjectiveCount,
			m.Corruption, m.Defense, rec.MatchID,
		); err != nil {
			return fmt.Errorf("update match: %w", err)
		}

		// Removal is owned by the host and may change while a pass runs.
		for _, p := range state.Participants {
			if _, err := tx.ExecContext(ctx,
				`UPDATE participants
				    SET alive = ?, health = ?, tokens = ?, score = ?, caps = ?, transmit_round = ?
				  WHERE match_id = ? AND num = ?`,
				boolInt(p.Alive), p.Health, p.Tokens, p.Score, int(p.Caps), p.TransmitRound,
				rec.MatchID, p.Num,
			); err != nil {
				return fmt.Errorf("update participant %d: %w", p.Num, err)
			}
		}
		return writeBoard(ctx, tx, rec.MatchID, state)
	})
}
