// Package effect applies damage and healing to a board snapshot and runs
// pending effects that fire after a number of ticks.
package effect

import (
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
)

// TerminalKind distinguishes terminal events.
type TerminalKind string

const (
	// TerminalKill is an entity crossing zero health.
	TerminalKill TerminalKind = "kill"
	// TerminalElimination is a participant leaving play.
	TerminalElimination TerminalKind = "elimination"
)

// TerminalEvent is one kill or elimination, consumed by presentation layers.
type TerminalEvent struct {
	Kind        TerminalKind `json:"kind"`
	Slot        int          `json:"slot,omitempty"`
	Entity      string       `json:"entity,omitempty"`
	Reward      int          `json:"reward,omitempty"`
	Participant int          `json:"participant,omitempty"`
	// CreditedTo is the participant credited with the event, zero for the
	// environment.
	CreditedTo    int  `json:"credited_to,omitempty"`
	EffectSourced bool `json:"effect_sourced,omitempty"`
}

// WithoutSlots returns a copy of evs with board positions cleared, for
// audiences that must not learn slot indices.
func WithoutSlots(evs []TerminalEvent) []TerminalEvent {
	if evs == nil {
		return nil
	}
	out := make([]TerminalEvent, len(evs))
	for i, ev := range evs {
		ev.Slot = 0
		out[i] = ev
	}
	return out
}

// Source identifies who caused an effect and with what.
type Source struct {
	Participant int
	Priority    int
	Item        string
	ItemName    string
}

// Hit is the result of damaging one slot.
type Hit struct {
	Slot   int
	Entity string
	Dealt  int
	Killed bool
}

// Kind of a pending effect.
type Kind string

const (
	KindDelayed   Kind = "delayed"
	KindRecurring Kind = "recurring"
)

// Pending is an effect registered during a pass that fires after Remaining
// ticks. It never outlives the pass.
type Pending struct {
	Source    Source
	Kind      Kind
	Magnitude int
	Targets   []int
	Remaining int
	// Period re-arms a recurring effect after it fires.
	Period int
	// CyclesLeft counts remaining fires of a recurring effect.
	CyclesLeft int
}

// Fired reports one pending effect reaching zero on a tick.
type Fired struct {
	Pending Pending
	Hits    []Hit
}

// Engine mutates one state snapshot. It is owned by a single resolution
// pass and is not safe for concurrent use.
type Engine struct {
	state    *match.State
	pending  []*Pending
	terminal []TerminalEvent
}

// New returns an engine over state.
func New(state *match.State) *Engine {
	return &Engine{state: state}
}

// DamageSlot applies amount to the entity in slot. Empty slots and
// entities that are no longer active are silent no-ops.
func (e *Engine) DamageSlot(src Source, slot, amount int, effectSourced bool) (Hit, bool) {
	s := e.state.Slot(slot)
	if s == nil || !s.Occupied() || amount < 0 {
		return Hit{}, false
	}
	ent := s.Entity
	before := ent.Health
	ent.Health = floorZero(before - amount)
	hit := Hit{Slot: slot, Entity: ent.Name, Dealt: before - ent.Health}
	if ent.Health == 0 {
		ent.Status = match.EntityDefeated
		hit.Killed = true
		e.terminal = append(e.terminal, TerminalEvent{
			Kind:          TerminalKill,
			Slot:          slot,
			Entity:        ent.Name,
			Reward:        ent.Reward,
			CreditedTo:    src.Participant,
			EffectSourced: effectSourced,
		})
	}
	return hit, true
}

// DamageSlots applies amount to each distinct slot in ascending order of
// first appearance. Only landed hits are returned.
func (e *Engine) DamageSlots(src Source, slots []int, amount int, effectSourced bool) []Hit {
	seen := make(map[int]bool, len(slots))
	var hits []Hit
	for _, slot := range slots {
		if seen[slot] {
			continue
		}
		seen[slot] = true
		if hit, ok := e.DamageSlot(src, slot, amount, effectSourced); ok {
			hits = append(hits, hit)
		}
	}
	return hits
}

// ParticipantHit is the result of damaging a participant.
type ParticipantHit struct {
	Participant int
	Dealt       int
	Eliminated  bool
}

// DamageParticipant applies amount to a participant. A participant whose
// health crosses zero is eliminated and credited to src.
func (e *Engine) DamageParticipant(src Source, num, amount int) (ParticipantHit, bool) {
	p := e.state.Participant(num)
	if p == nil || !p.CanAct() || amount < 0 {
		return ParticipantHit{}, false
	}
	before := p.Health
	p.Health = floorZero(before - amount)
	hit := ParticipantHit{Participant: num, Dealt: before - p.Health}
	if p.Health == 0 {
		e.eliminate(p, src.Participant)
		hit.Eliminated = true
	}
	return hit, true
}

// Eliminate removes a participant from play without damage.
func (e *Engine) Eliminate(num, creditedTo int) bool {
	p := e.state.Participant(num)
	if p == nil || !p.CanAct() {
		return false
	}
	e.eliminate(p, creditedTo)
	return true
}

func (e *Engine) eliminate(p *match.Participant, creditedTo int) {
	p.Alive = false
	e.terminal = append(e.terminal, TerminalEvent{
		Kind:        TerminalElimination,
		Participant: p.Num,
		CreditedTo:  creditedTo,
	})
}

// HealParticipant restores up to amount health, capped at the maximum.
// It returns the amount restored.
func (e *Engine) HealParticipant(num, amount int) int {
	p := e.state.Participant(num)
	if p == nil || !p.CanAct() || amount <= 0 {
		return 0
	}
	before := p.Health
	p.Health = min(p.MaxHealth, before+amount)
	return p.Health - before
}

// Schedule registers a pending effect. Effects tick in registration order.
func (e *Engine) Schedule(p Pending) {
	p.Targets = append([]int(nil), p.Targets...)
	if p.Kind == KindRecurring && p.CyclesLeft <= 0 {
		p.CyclesLeft = 1
	}
	e.pending = append(e.pending, &p)
}

// Tick advances every pending effect by one trigger and fires those that
// reach zero. Recurring effects re-arm until their cycles run out.
func (e *Engine) Tick() []Fired {
	var fired []Fired
	kept := e.pending[:0]
	for _, p := range e.pending {
		p.Remaining--
		if p.Remaining > 0 {
			kept = append(kept, p)
			continue
		}
		hits := e.DamageSlots(p.Source, p.Targets, p.Magnitude, true)
		fired = append(fired, Fired{Pending: *p, Hits: hits})
		if p.Kind == KindRecurring && p.CyclesLeft > 1 {
			p.CyclesLeft--
			p.Remaining = max(p.Period, 1)
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = nil
	}
	e.pending = kept
	return fired
}

// Expire drops every pending effect and returns what was dropped.
func (e *Engine) Expire() []Pending {
	out := make([]Pending, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, *p)
	}
	e.pending = nil
	return out
}

// PendingCount reports how many effects are still armed.
func (e *Engine) PendingCount() int {
	return len(e.pending)
}

// Terminal returns kill and elimination events in the order they happened.
func (e *Engine) Terminal() []TerminalEvent {
	return append([]TerminalEvent(nil), e.terminal...)
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
