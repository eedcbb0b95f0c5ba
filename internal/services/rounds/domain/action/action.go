// Package action defines the closed set of intents a participant may submit
// for a round.
package action

import (
	"errors"
	"fmt"
	"sort"
)

// Kind discriminates the Action union.
type Kind string

const (
	KindAttack  Kind = "attack"
	KindProtect Kind = "protect"
	KindAbility Kind = "ability"
	KindCommit  Kind = "commit"
)

// MaxWeapons caps the weapon references of one attack.
const MaxWeapons = 2

var (
	// ErrUnknownKind is returned for kinds outside the closed set.
	ErrUnknownKind = errors.New("unknown action kind")
	// ErrMalformed is returned when the payload does not match the kind.
	ErrMalformed = errors.New("malformed action")
)

// Attack strikes one slot with up to MaxWeapons weapons. No weapons means
// the catalog's default weapon.
type Attack struct {
	Weapons []string `json:"weapons,omitempty" yaml:"weapons,omitempty"`
	Slot    int      `json:"slot" yaml:"slot"`
}

// Protect shields one slot with an item.
type Protect struct {
	Item string `json:"item" yaml:"item"`
	Slot int    `json:"slot" yaml:"slot"`
}

// Ability casts a role ability. Target is a participant number, zero when
// the ability takes no target.
type Ability struct {
	Ability string `json:"ability" yaml:"ability"`
	Target  int    `json:"target,omitempty" yaml:"target,omitempty"`
}

// Commit pledges a number of tokens.
type Commit struct {
	Amount int `json:"amount" yaml:"amount"`
}

// Action is one participant's submission for a round. Exactly one payload
// matching Kind is set.
type Action struct {
	Participant int `json:"participant" yaml:"participant"`
	// Priority is nil when the participant left it unset. An explicit zero
	// is legal and orders first.
	Priority *int `json:"priority,omitempty" yaml:"priority,omitempty"`
	Kind     Kind `json:"kind" yaml:"kind"`

	Attack  *Attack  `json:"attack,omitempty" yaml:"attack,omitempty"`
	Protect *Protect `json:"protect,omitempty" yaml:"protect,omitempty"`
	Ability *Ability `json:"ability,omitempty" yaml:"ability,omitempty"`
	Commit  *Commit  `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// Validate checks the union shape. It does not consult match state.
func (a Action) Validate() error {
	if a.Participant <= 0 {
		return fmt.Errorf("%w: participant is required", ErrMalformed)
	}
	if a.Priority != nil && *a.Priority < 0 {
		return fmt.Errorf("%w: priority must not be negative", ErrMalformed)
	}
	set := 0
	for _, present := range []bool{a.Attack != nil, a.Protect != nil, a.Ability != nil, a.Commit != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: more than one payload", ErrMalformed)
	}

	switch a.Kind {
	case KindAttack:
		if a.Attack == nil {
			return fmt.Errorf("%w: attack payload missing", ErrMalformed)
		}
		if len(a.Attack.Weapons) > MaxWeapons {
			return fmt.Errorf("%w: at most %d weapons", ErrMalformed, MaxWeapons)
		}
		if a.Attack.Slot <= 0 {
			return fmt.Errorf("%w: attack slot is required", ErrMalformed)
		}
	case KindProtect:
		if a.Protect == nil {
			return fmt.Errorf("%w: protect payload missing", ErrMalformed)
		}
		if a.Protect.Item == "" || a.Protect.Slot <= 0 {
			return fmt.Errorf("%w: protect needs item and slot", ErrMalformed)
		}
	case KindAbility:
		if a.Ability == nil {
			return fmt.Errorf("%w: ability payload missing", ErrMalformed)
		}
		if a.Ability.Ability == "" || a.Ability.Target < 0 {
			return fmt.Errorf("%w: ability needs a name", ErrMalformed)
		}
	case KindCommit:
		if a.Commit == nil {
			return fmt.Errorf("%w: commit payload missing", ErrMalformed)
		}
		if a.Commit.Amount <= 0 {
			return fmt.Errorf("%w: commit amount must be positive", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, a.Kind)
	}
	return nil
}

// At returns a pointer to an explicit priority.
func At(priority int) *int {
	return &priority
}

// Rank is the effective priority: the explicit value, or the participant
// number when unset.
func (a Action) Rank() int {
	if a.Priority == nil {
		return a.Participant
	}
	return *a.Priority
}

// Normalized fills the default priority (the participant number) when the
// caller left it unset.
func (a Action) Normalized() Action {
	a.Priority = At(a.Rank())
	return a
}

// Sort orders actions by ascending priority, then participant number.
func Sort(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if ri, rj := actions[i].Rank(), actions[j].Rank(); ri != rj {
			return ri < rj
		}
		return actions[i].Participant < actions[j].Participant
	})
}
