package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

const roundColumns = `match_id, number, status, danger, deadline, tie_break_seed, opened_at, locked_at, resolved_at`

// OpenRound inserts an open round and advances the match's current round.
func (s *Store) OpenRound(ctx context.Context, round match.Round) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	round.MatchID = strings.TrimSpace(round.MatchID)
	if round.MatchID == "" {
		return fmt.Errorf("match id is required")
	}
	if round.Number <= 0 {
		return fmt.Errorf("round number must be greater than zero")
	}
	if round.OpenedAt.IsZero() {
		round.OpenedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rounds (match_id, number, status, danger, deadline, opened_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			round.MatchID, round.Number, string(match.RoundOpen), round.Danger,
			toMillis(round.Deadline), toMillis(round.OpenedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrAlreadyExists
			}
			return fmt.Errorf("open round: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE matches SET current_round = ? WHERE id = ? AND current_round < ?`,
			round.Number, round.MatchID, round.Number,
		)
		if err != nil {
			return fmt.Errorf("advance current round: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := getMatch(ctx, tx, round.MatchID); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRound returns one round.
func (s *Store) GetRound(ctx context.Context, key storage.RoundKey) (match.Round, error) {
	if err := s.ready(ctx); err != nil {
		return match.Round{}, err
	}
	return getRound(ctx, s.sqlDB, key)
}

func getRound(ctx context.Context, q queryer, key storage.RoundKey) (match.Round, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE match_id = ? AND number = ?`,
		strings.TrimSpace(key.MatchID), key.Round,
	)
	r, err := scanRound(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return match.Round{}, storage.ErrNotFound
		}
		return match.Round{}, fmt.Errorf("get round: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (match.Round, error) {
	var (
		r                                      match.Round
		status                                 string
		deadline, openedAt, lockedAt, resolved int64
	)
	if err := row.Scan(&r.MatchID, &r.Number, &status, &r.Danger, &deadline, &r.TieBreakSeed, &openedAt, &lockedAt, &resolved); err != nil {
		return match.Round{}, err
	}
	r.Status = match.RoundStatus(status)
	r.Deadline = fromMillis(deadline)
	r.OpenedAt = fromMillis(openedAt)
	r.LockedAt = fromMillis(lockedAt)
	r.ResolvedAt = fromMillis(resolved)
	return r, nil
}

// LockRound moves an open round to locked.
func (s *Store) LockRound(ctx context.Context, key storage.RoundKey, seed int64, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE rounds SET status = ?, tie_break_seed = ?, locked_at = ?
			  WHERE match_id = ? AND number = ? AND status = ?`,
			string(match.RoundLocked), seed, toMillis(at),
			strings.TrimSpace(key.MatchID), key.Round, string(match.RoundOpen),
		)
		if err != nil {
			return fmt.Errorf("lock round: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("lock round: %w", err)
		}
		if n == 1 {
			return nil
		}
		if _, err := getRound(ctx, tx, key); err != nil {
			return err
		}
		return storage.ErrAlreadyFrozen
	})
}

// ListDueRounds returns open rounds past their deadline and locked rounds.
func (s *Store) ListDueRounds(ctx context.Context, now time.Time) ([]match.Round, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT r.`+strings.ReplaceAll(roundColumns, ", ", ", r.")+`
		   FROM rounds r
		   JOIN matches m ON m.id = r.match_id
		  WHERE m.phase = ?
		    AND ((r.status = ? AND r.deadline > 0 AND r.deadline <= ?) OR r.status = ?)
		  ORDER BY r.match_id ASC, r.number ASC`,
		string(match.PhaseRunning), string(match.RoundOpen), toMillis(now), string(match.RoundLocked),
	)
	if err != nil {
		return nil, fmt.Errorf("list due rounds: %w", err)
	}
	defer rows.Close()

	var out []match.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("list due rounds: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due rounds: %w", err)
	}
	return out, nil
}
