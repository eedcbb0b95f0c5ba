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

const matchColumns = `id, ruleset, phase, winner, end_reason, current_round, round_limit,
       objective_count, objective_target, corruption, defense,
       corruption_threshold, defense_threshold, sabotage_tie_break,
       incubation, slot_count, created_at`

// CreateMatch inserts a match with its seated state.
func (s *Store) CreateMatch(ctx context.Context, state match.State) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	m := state.Match
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		return fmt.Errorf("match id is required")
	}
	if !m.Ruleset.Valid() {
		return fmt.Errorf("unknown ruleset %q", m.Ruleset)
	}
	if m.Phase == "" {
		m.Phase = match.PhaseRunning
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO matches (`+matchColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, string(m.Ruleset), string(m.Phase), m.Winner, m.EndReason,
			m.CurrentRound, m.RoundLimit, m.ObjectiveCount, m.ObjectiveTarget,
			m.Corruption, m.Defense, m.CorruptionThreshold, m.DefenseThreshold,
			m.SabotageTieBreak, m.Incubation, m.SlotCount, toMillis(m.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrAlreadyExists
			}
			return fmt.Errorf("create match: %w", err)
		}
		for _, p := range state.Participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO participants (match_id, num, name, role, team, alive, removed,
				   health, max_health, tokens, score, caps, transmit_round)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID, p.Num, p.Name, p.Role, p.Team, boolInt(p.Alive), boolInt(p.Removed),
				p.Health, p.MaxHealth, p.Tokens, p.Score, int(p.Caps), p.TransmitRound,
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("participant %d seated twice: %w", p.Num, storage.ErrAlreadyExists)
				}
				return fmt.Errorf("create participant %d: %w", p.Num, err)
			}
		}
		return writeBoard(ctx, tx, m.ID, state)
	})
}

// GetMatch returns one match by id.
func (s *Store) GetMatch(ctx context.Context, matchID string) (match.Match, error) {
	if err := s.ready(ctx); err != nil {
		return match.Match{}, err
	}
	return getMatch(ctx, s.sqlDB, strings.TrimSpace(matchID))
}

func getMatch(ctx context.Context, q queryer, matchID string) (match.Match, error) {
	if matchID == "" {
		return match.Match{}, fmt.Errorf("match id is required")
	}
	row := q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, matchID)
	var (
		m         match.Match
		ruleset   string
		phase     string
		createdAt int64
	)
	err := row.Scan(
		&m.ID, &ruleset, &phase, &m.Winner, &m.EndReason, &m.CurrentRound, &m.RoundLimit,
		&m.ObjectiveCount, &m.ObjectiveTarget, &m.Corruption, &m.Defense,
		&m.CorruptionThreshold, &m.DefenseThreshold, &m.SabotageTieBreak,
		&m.Incubation, &m.SlotCount, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return match.Match{}, storage.ErrNotFound
		}
		return match.Match{}, fmt.Errorf("get match: %w", err)
	}
	m.Ruleset = match.Ruleset(ruleset)
	m.Phase = match.Phase(phase)
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// LoadState reads the match, the round addressed by key and the current
// participants, board and inventory.
func (s *Store) LoadState(ctx context.Context, key storage.RoundKey) (match.State, error) {
	if err := s.ready(ctx); err != nil {
		return match.State{}, err
	}
	var state match.State
	m, err := getMatch(ctx, s.sqlDB, strings.TrimSpace(key.MatchID))
	if err != nil {
		return match.State{}, err
	}
	state.Match = m
	if state.Round, err = getRound(ctx, s.sqlDB, key); err != nil {
		return match.State{}, err
	}
	if state.Participants, err = listParticipants(ctx, s.sqlDB, m.ID); err != nil {
		return match.State{}, err
	}
	if state.Slots, err = listSlots(ctx, s.sqlDB, m.ID); err != nil {
		return match.State{}, err
	}
	if state.Queue, err = listQueue(ctx, s.sqlDB, m.ID); err != nil {
		return match.State{}, err
	}
	if state.Inventory, err = listInventory(ctx, s.sqlDB, m.ID); err != nil {
		return match.State{}, err
	}
	return state, nil
}

// RemoveParticipant marks a participant removed.
func (s *Store) RemoveParticipant(ctx context.Context, matchID string, num int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE participants SET removed = 1 WHERE match_id = ? AND num = ?`,
		strings.TrimSpace(matchID), num,
	)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func listParticipants(ctx context.Context, q queryer, matchID string) ([]match.Participant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT num, name, role, team, alive, removed, health, max_health,
		        tokens, score, caps, transmit_round
		   FROM participants
		  WHERE match_id = ?
		  ORDER BY num ASC`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []match.Participant
	for rows.Next() {
		var (
			p              match.Participant
			alive, removed int
			caps           int
		)
		if err := rows.Scan(
			&p.Num, &p.Name, &p.Role, &p.Team, &alive, &removed, &p.Health, &p.MaxHealth,
			&p.Tokens, &p.Score, &caps, &p.TransmitRound,
		); err != nil {
			return nil, fmt.Errorf("list participants: %w", err)
		}
		p.Alive = alive != 0
		p.Removed = removed != 0
		p.Caps = match.Capability(caps)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}

func listSlots(ctx context.Context, q queryer, matchID string) ([]match.Slot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT slot_index, template_id, name, health, max_health, reward, status
		   FROM slots
		  WHERE match_id = ?
		  ORDER BY slot_index ASC`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var out []match.Slot
	for rows.Next() {
		var (
			slot                      match.Slot
			templateID, name, status  sql.NullString
			health, maxHealth, reward sql.NullInt64
		)
		if err := rows.Scan(&slot.Index, &templateID, &name, &health, &maxHealth, &reward, &status); err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
		if templateID.Valid {
			slot.Entity = &match.Entity{
				TemplateID: templateID.String,
				Name:       name.String,
				Health:     int(health.Int64),
				MaxHealth:  int(maxHealth.Int64),
				Reward:     int(reward.Int64),
				Status:     match.EntityStatus(status.String),
			}
		}
		out = append(out, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return out, nil
}

func listQueue(ctx context.Context, q queryer, matchID string) ([]match.Entity, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT template_id, name, health, max_health, reward
		   FROM entity_queue
		  WHERE match_id = ?
		  ORDER BY position ASC`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list entity queue: %w", err)
	}
	defer rows.Close()

	var out []match.Entity
	for rows.Next() {
		e := match.Entity{Status: match.EntityQueued}
		if err := rows.Scan(&e.TemplateID, &e.Name, &e.Health, &e.MaxHealth, &e.Reward); err != nil {
			return nil, fmt.Errorf("list entity queue: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entity queue: %w", err)
	}
	return out, nil
}

func listInventory(ctx context.Context, q queryer, matchID string) ([]match.InventoryItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT owner, kind, quantity, usable_now
		   FROM inventory
		  WHERE match_id = ?
		  ORDER BY owner ASC, kind ASC`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	var out []match.InventoryItem
	for rows.Next() {
		var (
			item   match.InventoryItem
			usable int
		)
		if err := rows.Scan(&item.Owner, &item.Kind, &item.Quantity, &usable); err != nil {
			return nil, fmt.Errorf("list inventory: %w", err)
		}
		item.UsableNow = usable != 0
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return out, nil
}

// writeBoard replaces the slots, entity queue and inventory of a match with
// the ones in state.
func writeBoard(ctx context.Context, tx *sql.Tx, matchID string, state match.State) error {
	for _, table := range []string{"slots", "entity_queue", "inventory"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE match_id = ?`, matchID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, slot := range state.Slots {
		var err error
		if e := slot.Entity; e != nil {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO slots (match_id, slot_index, template_id, name, health, max_health, reward, status)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				matchID, slot.Index, e.TemplateID, e.Name, e.Health, e.MaxHealth, e.Reward, string(e.Status),
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO slots (match_id, slot_index) VALUES (?, ?)`,
				matchID, slot.Index,
			)
		}
		if err != nil {
			return fmt.Errorf("write slot %d: %w", slot.Index, err)
		}
	}
	for i, e := range state.Queue {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_queue (match_id, position, template_id, name, health, max_health, reward)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			matchID, i+1, e.TemplateID, e.Name, e.Health, e.MaxHealth, e.Reward,
		); err != nil {
			return fmt.Errorf("write queue entry %d: %w", i+1, err)
		}
	}
	for _, item := range state.Inventory {
		if item.Quantity <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO inventory (match_id, owner, kind, quantity, usable_now)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (match_id, owner, kind) DO UPDATE SET quantity = quantity + excluded.quantity`,
			matchID, item.Owner, item.Kind, item.Quantity, boolInt(item.UsableNow),
		); err != nil {
			return fmt.Errorf("write inventory %d/%s: %w", item.Owner, item.Kind, err)
		}
	}
	return nil
}
