package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

// PutAction stores or replaces a participant's action for an open round.
// The status check and the write share one transaction, so a submission
// racing a freeze either lands before the lock or is refused.
func (s *Store) PutAction(ctx context.Context, key storage.RoundKey, a action.Action, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getRound(ctx, tx, key)
		if err != nil {
			return err
		}
		if r.Status != match.RoundOpen {
			return storage.ErrRoundNotOpen
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO actions (match_id, round_number, participant, priority, kind, payload, submitted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (match_id, round_number, participant) DO UPDATE SET
			   priority = excluded.priority,
			   kind = excluded.kind,
			   payload = excluded.payload,
			   submitted_at = excluded.submitted_at`,
			strings.TrimSpace(key.MatchID), key.Round, a.Participant, a.Rank(), string(a.Kind),
			string(payload), toMillis(at),
		)
		if err != nil {
			return fmt.Errorf("put action: %w", err)
		}
		return nil
	})
}

// ListActions returns a round's actions in resolution order.
func (s *Store) ListActions(ctx context.Context, key storage.RoundKey) ([]action.Action, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT payload FROM actions
		  WHERE match_id = ? AND round_number = ?
		  ORDER BY participant ASC`,
		strings.TrimSpace(key.MatchID), key.Round,
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []action.Action
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("list actions: %w", err)
		}
		var a action.Action
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
		out = append(out, a.Normalized())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	action.Sort(out)
	return out, nil
}
