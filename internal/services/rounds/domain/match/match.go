// Package match defines the persisted state a round resolution reads and
// mutates: the match, its rounds, participants, board slots and inventory.
package match

import (
	"sort"
	"time"
)

// Ruleset names the resolution rules a match is played under.
type Ruleset string

const (
	RulesetSkirmish Ruleset = "skirmish"
	RulesetOutbreak Ruleset = "outbreak"
)

// Valid reports whether r is a known ruleset.
func (r Ruleset) Valid() bool {
	switch r {
	case RulesetSkirmish, RulesetOutbreak:
		return true
	default:
		return false
	}
}

// Phase is the match-level state machine: Running -> Ended.
type Phase string

const (
	PhaseRunning Phase = "running"
	PhaseEnded   Phase = "ended"
)

// Team codes used by the bundled rulesets.
const (
	TeamParty   = "party"
	TeamHouse   = "house"
	TeamTown    = "town"
	TeamCarrier = "carrier"
)

// Match is one full game instance spanning multiple rounds.
type Match struct {
	ID        string
	Ruleset   Ruleset
	Phase     Phase
	Winner    string
	EndReason string

	CurrentRound int
	// RoundLimit ends the match once a round with this number resolves.
	// Zero disables the limit.
	RoundLimit int

	ObjectiveCount  int
	ObjectiveTarget int

	Corruption          int
	Defense             int
	CorruptionThreshold int
	DefenseThreshold    int
	// SabotageTieBreak names the team that wins when both sabotage
	// thresholds are crossed in the same round.
	SabotageTieBreak string
	// Incubation is the number of rounds between infection and transmission.
	Incubation int

	SlotCount int
	CreatedAt time.Time
}

// Running reports whether the match still accepts rounds.
func (m Match) Running() bool {
	return m.Phase == PhaseRunning
}

// RoundStatus moves monotonically Open -> Locked -> Resolved.
type RoundStatus string

const (
	RoundOpen     RoundStatus = "open"
	RoundLocked   RoundStatus = "locked"
	RoundResolved RoundStatus = "resolved"
)

// Round is one cycle of simultaneous submission followed by resolution.
type Round struct {
	MatchID string
	Number  int
	Status  RoundStatus
	// Danger is the retaliation damage surviving entities deal this round.
	Danger   int
	Deadline time.Time
	// TieBreakSeed is drawn once at freeze time and is the only source of
	// randomness a resolution pass may consult.
	TieBreakSeed int64

	OpenedAt   time.Time
	LockedAt   time.Time
	ResolvedAt time.Time
}

// Capability is a set of boolean participant flags.
type Capability uint8

const (
	CapImmune Capability = 1 << iota
	CapContagious
	CapInfected
)

// Has reports whether every flag in f is set.
func (c Capability) Has(f Capability) bool {
	return c&f == f
}

// Participant is a player or bot in a match. Participants are never deleted.
type Participant struct {
	Num     int
	Name    string
	Role    string
	Team    string
	Alive   bool
	Removed bool

	Health    int
	MaxHealth int
	Tokens    int
	Score     int

	Caps Capability
	// TransmitRound is the round at which a contagious participant next
	// spreads infection. Zero when not scheduled.
	TransmitRound int
}

// CanAct reports whether the participant may submit and be resolved.
func (p Participant) CanAct() bool {
	return p.Alive && !p.Removed
}

// EntityStatus tracks an entity instance on the board.
type EntityStatus string

const (
	EntityActive   EntityStatus = "active"
	EntityDefeated EntityStatus = "defeated"
	EntityQueued   EntityStatus = "queued"
)

// Entity is an instance created from a monster template.
type Entity struct {
	TemplateID string
	Name       string
	Health     int
	MaxHealth  int
	Reward     int
	Status     EntityStatus
}

// Slot is one addressable board position, numbered from 1.
type Slot struct {
	Index  int
	Entity *Entity
}

// Occupied reports whether the slot holds an active entity.
func (s Slot) Occupied() bool {
	return s.Entity != nil && s.Entity.Status == EntityActive
}

// InventoryItem is one owned stack of an item kind.
type InventoryItem struct {
	Owner     int
	Kind      string
	Quantity  int
	UsableNow bool
}

// State is the snapshot one resolution reads and mutates.
type State struct {
	Match        Match
	Round        Round
	Participants []Participant
	Slots        []Slot
	Queue        []Entity
	Inventory    []InventoryItem
}

// Clone returns a deep copy that shares no memory with s.
func (s State) Clone() State {
	out := State{
		Match:        s.Match,
		Round:        s.Round,
		Participants: append([]Participant(nil), s.Participants...),
		Queue:        append([]Entity(nil), s.Queue...),
		Inventory:    append([]InventoryItem(nil), s.Inventory...),
	}
	if s.Slots != nil {
		out.Slots = make([]Slot, len(s.Slots))
		for i, slot := range s.Slots {
			out.Slots[i] = Slot{Index: slot.Index}
			if slot.Entity != nil {
				entity := *slot.Entity
				out.Slots[i].Entity = &entity
			}
		}
	}
	return out
}

// Participant returns the participant with num, or nil.
func (s *State) Participant(num int) *Participant {
	for i := range s.Participants {
		if s.Participants[i].Num == num {
			return &s.Participants[i]
		}
	}
	return nil
}

// Slot returns the slot with index, or nil.
func (s *State) Slot(index int) *Slot {
	for i := range s.Slots {
		if s.Slots[i].Index == index {
			return &s.Slots[i]
		}
	}
	return nil
}

// Acting returns the participants that can act, ordered by number.
func (s State) Acting() []Participant {
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.CanAct() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// ActiveEntities counts occupied slots.
func (s State) ActiveEntities() int {
	n := 0
	for _, slot := range s.Slots {
		if slot.Occupied() {
			n++
		}
	}
	return n
}

// Normalize orders participants, slots and inventory canonically.
func (s *State) Normalize() {
	sort.Slice(s.Participants, func(i, j int) bool { return s.Participants[i].Num < s.Participants[j].Num })
	sort.Slice(s.Slots, func(i, j int) bool { return s.Slots[i].Index < s.Slots[j].Index })
	sort.Slice(s.Inventory, func(i, j int) bool {
		if s.Inventory[i].Owner != s.Inventory[j].Owner {
			return s.Inventory[i].Owner < s.Inventory[j].Owner
		}
		return s.Inventory[i].Kind < s.Inventory[j].Kind
	})
}
