// Package combat implements the skirmish ruleset: participants attack board
// slots with weapons, protect slots with items, and surviving entities
// strike back at the end of the round.
package combat

import (
	"fmt"
	"sort"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/resolve"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
)

// Ruleset resolves one skirmish round.
type Ruleset struct {
	// landed maps a slot to the participants whose direct attack hit it.
	landed map[int][]int
}

var _ resolve.Ruleset = (*Ruleset)(nil)

// New returns a ruleset for a single pass.
func New() *Ruleset {
	return &Ruleset{landed: map[int][]int{}}
}

// Apply resolves one action.
func (r *Ruleset) Apply(p *resolve.Pass, a action.Action) error {
	switch a.Kind {
	case action.KindAttack:
		return r.attack(p, a)
	case action.KindProtect:
		return r.protect(p, a)
	case action.KindAbility:
		return r.ability(p, a)
	case action.KindCommit:
		p.Anomaly(auditlog.KeyNotPermitted, a.Participant, auditlog.Itoa(a.Participant), string(a.Kind), roleOf(p, a.Participant))
		return nil
	default:
		return fmt.Errorf("%w: %q", action.ErrUnknownKind, a.Kind)
	}
}

func (r *Ruleset) attack(p *resolve.Pass, a action.Action) error {
	weapons := a.Attack.Weapons
	if len(weapons) == 0 {
		weapons = []string{p.Catalog.DefaultWeapon().Kind}
	}
	for _, kind := range weapons {
		if err := r.strike(p, a, kind); err != nil {
			return err
		}
	}
	return nil
}

func (r *Ruleset) strike(p *resolve.Pass, a action.Action, kind string) error {
	item, err := p.Catalog.Item(kind)
	if err != nil {
		return err
	}
	actor := auditlog.Itoa(a.Participant)
	if item.Effect == nil {
		p.Anomaly(auditlog.KeyNotPermitted, a.Participant, actor, kind, roleOf(p, a.Participant))
		return nil
	}
	ok, err := p.Consume(a.Participant, kind)
	if err != nil || !ok {
		return err
	}

	spec := *item.Effect
	src := effect.Source{Participant: a.Participant, Priority: a.Rank(), Item: kind, ItemName: item.Name}
	slot := a.Attack.Slot

	if !spec.IsArea() && !spec.IgnoresProtection {
		if w, shielded := p.Shielded(resolve.Target{Kind: resolve.TargetSlot, Index: slot}, a.Rank()); shielded {
			r.cancelled(p, a, item, w)
			return nil
		}
	}

	targets := []int{slot}
	if spec.IsArea() {
		targets = areaTargets(p.State, spec)
	}

	if spec.Pending() {
		pending := effect.Pending{
			Source:    src,
			Kind:      effect.KindDelayed,
			Magnitude: spec.Magnitude,
			Targets:   targets,
			Remaining: spec.Delay,
		}
		if spec.Shape == catalog.ShapeRecurring {
			pending.Kind = effect.KindRecurring
			pending.Period = spec.Period
			pending.CyclesLeft = spec.Cycles
		}
		p.Effects.Schedule(pending)
		p.Log.Public(auditlog.Entry{Key: auditlog.KeyEffectCast, Args: []string{actor, item.Name}, Actor: a.Participant})
		p.Log.Privileged(auditlog.Detail{
			Entry: auditlog.Entry{
				Key:   auditlog.KeyEffectCastDetail,
				Args:  []string{actor, item.Name, auditlog.Ints(targets), auditlog.Itoa(spec.Delay)},
				Actor: a.Participant,
			},
			Slot: slotIfSingle(targets),
		})
		return nil
	}

	if spec.IsArea() {
		p.ReportHits(src, p.Effects.DamageSlots(src, targets, spec.Magnitude, false), false)
		return nil
	}

	hit, landed := p.Effects.DamageSlot(src, slot, spec.Magnitude, false)
	if !landed {
		p.Log.Privileged(auditlog.Detail{
			Entry: auditlog.Entry{Key: auditlog.KeyAttackEmpty, Args: []string{actor, auditlog.Itoa(slot), item.Name}, Actor: a.Participant},
			Slot:  slot,
		})
		return nil
	}
	p.Log.Public(auditlog.Entry{
		Key:    auditlog.KeyAttackHit,
		Args:   []string{actor, auditlog.Itoa(hit.Dealt)},
		Actor:  a.Participant,
		Damage: hit.Dealt,
	})
	p.Log.Privileged(auditlog.Detail{
		Entry: auditlog.Entry{
			Key:    auditlog.KeyAttackHitDetail,
			Args:   []string{actor, auditlog.Itoa(slot), hit.Entity, item.Name, auditlog.Itoa(hit.Dealt)},
			Actor:  a.Participant,
			Damage: hit.Dealt,
		},
		Slot: slot,
	})
	if hit.Killed {
		p.ReportKill(src, hit, false)
	}
	r.markLanded(slot, a.Participant)
	return nil
}

func (r *Ruleset) cancelled(p *resolve.Pass, a action.Action, item catalog.Item, w resolve.Window) {
	actor := auditlog.Itoa(a.Participant)
	p.Log.Public(auditlog.Entry{
		Key:       auditlog.KeyAttackCancelled,
		Args:      []string{actor},
		Actor:     a.Participant,
		Cancelled: true,
		Reason:    auditlog.ReasonProtected,
	})
	p.Log.Privileged(auditlog.Detail{
		Entry: auditlog.Entry{
			Key:       auditlog.KeyAttackCancelledDetail,
			Args:      []string{actor, item.Name, auditlog.Itoa(a.Attack.Slot), auditlog.Itoa(w.Source), w.ItemName},
			Actor:     a.Participant,
			Cancelled: true,
			Reason:    auditlog.ReasonProtected,
		},
		Slot: a.Attack.Slot,
	})
	if !w.Reflect || item.Effect.Magnitude == 0 {
		return
	}
	hit, ok := p.Effects.DamageParticipant(effect.Source{Participant: w.Source}, a.Participant, item.Effect.Magnitude)
	if !ok {
		return
	}
	p.Log.Public(auditlog.Entry{
		Key:    auditlog.KeyReflect,
		Args:   []string{auditlog.Itoa(hit.Dealt), actor},
		Actor:  w.Source,
		Damage: hit.Dealt,
	})
	if hit.Eliminated {
		p.ReportElimination(a.Participant)
	}
}

func (r *Ruleset) protect(p *resolve.Pass, a action.Action) error {
	item, err := p.Catalog.Item(a.Protect.Item)
	if err != nil {
		return err
	}
	actor := auditlog.Itoa(a.Participant)
	if item.Protection == nil {
		p.Anomaly(auditlog.KeyNotPermitted, a.Participant, actor, item.Kind, roleOf(p, a.Participant))
		return nil
	}
	ok, err := p.Consume(a.Participant, item.Kind)
	if err != nil || !ok {
		return err
	}
	p.Protect(resolve.Window{
		Target:   resolve.Target{Kind: resolve.TargetSlot, Index: a.Protect.Slot},
		From:     a.Rank(),
		Reflect:  item.Protection.Reflect,
		Source:   a.Participant,
		ItemName: item.Name,
	})
	p.Log.Public(auditlog.Entry{Key: auditlog.KeyProtect, Args: []string{actor}, Actor: a.Participant})
	p.Log.Privileged(auditlog.Detail{
		Entry: auditlog.Entry{Key: auditlog.KeyProtectDetail, Args: []string{actor, auditlog.Itoa(a.Protect.Slot), item.Name}, Actor: a.Participant},
		Slot:  a.Protect.Slot,
	})
	return nil
}

func (r *Ruleset) ability(p *resolve.Pass, a action.Action) error {
	spec, err := p.Catalog.Ability(a.Ability.Ability)
	if err != nil {
		return err
	}
	caster := p.State.Participant(a.Participant)
	role, err := p.Catalog.Role(caster.Role)
	if err != nil {
		return err
	}
	actor := auditlog.Itoa(a.Participant)
	if spec.Kind != catalog.AbilityMend || !role.Permits(spec.Kind) {
		p.Anomaly(auditlog.KeyNotPermitted, a.Participant, actor, spec.Kind, caster.Role)
		return nil
	}
	target := p.State.Participant(a.Ability.Target)
	if target == nil || !target.CanAct() {
		p.Anomaly(auditlog.KeyBadTarget, a.Participant, actor, auditlog.Itoa(a.Ability.Target))
		return nil
	}
	if spec.Consumes != "" {
		ok, err := p.Consume(a.Participant, spec.Consumes)
		if err != nil || !ok {
			return err
		}
	}
	healed := p.Effects.HealParticipant(target.Num, spec.Magnitude)
	p.Log.Public(auditlog.Entry{
		Key:   auditlog.KeyMend,
		Args:  []string{actor, auditlog.Itoa(healed)},
		Actor: a.Participant,
	})
	p.Log.Privileged(auditlog.Detail{
		Entry: auditlog.Entry{
			Key:   auditlog.KeyMendDetail,
			Args:  []string{actor, auditlog.Itoa(target.Num), auditlog.Itoa(healed)},
			Actor: a.Participant,
		},
		Target: target.Num,
	})
	return nil
}

func (r *Ruleset) markLanded(slot, participant int) {
	for _, n := range r.landed[slot] {
		if n == participant {
			return
		}
	}
	r.landed[slot] = append(r.landed[slot], participant)
}

// Settle runs retaliation, grants kill rewards and refills the board.
func (r *Ruleset) Settle(p *resolve.Pass) error {
	r.retaliate(p)

	for _, ev := range p.Effects.Terminal() {
		if ev.Kind != effect.TerminalKill {
			continue
		}
		p.State.Match.ObjectiveCount++
		credited := p.State.Participant(ev.CreditedTo)
		if credited == nil || ev.Reward == 0 {
			continue
		}
		credited.Score += ev.Reward
		p.Log.Public(auditlog.Entry{
			Key:   auditlog.KeyReward,
			Args:  []string{auditlog.Itoa(credited.Num), auditlog.Itoa(ev.Reward)},
			Actor: credited.Num,
		})
	}

	for i := range p.State.Slots {
		slot := &p.State.Slots[i]
		if slot.Occupied() || len(p.State.Queue) == 0 {
			continue
		}
		next := p.State.Queue[0]
		p.State.Queue = p.State.Queue[1:]
		next.Status = match.EntityActive
		slot.Entity = &next
		p.Log.Public(auditlog.Entry{Key: auditlog.KeyEntityArrived, Args: []string{next.Name}})
	}
	return nil
}

func (r *Ruleset) retaliate(p *resolve.Pass) {
	danger := p.State.Round.Danger
	if danger <= 0 {
		return
	}
	for _, slot := range p.State.Slots {
		if !slot.Occupied() {
			continue
		}
		attackers := append([]int(nil), r.landed[slot.Index]...)
		sort.Ints(attackers)
		for _, num := range attackers {
			hit, ok := p.Effects.DamageParticipant(effect.Source{}, num, danger)
			if !ok {
				continue
			}
			p.Log.Public(auditlog.Entry{
				Key:    auditlog.KeyRetaliate,
				Args:   []string{slot.Entity.Name, auditlog.Itoa(num), auditlog.Itoa(hit.Dealt)},
				Damage: hit.Dealt,
			})
			if hit.Eliminated {
				p.ReportElimination(num)
			}
		}
	}
}

// Predicates are evaluated in this order; the first that holds ends the
// match.
func (r *Ruleset) Predicates() []verdict.Predicate {
	return []verdict.Predicate{
		verdict.When("party_eliminated", match.TeamHouse, func(s match.State) bool {
			return len(s.Acting()) == 0
		}),
		verdict.When("objective_reached", match.TeamParty, func(s match.State) bool {
			return s.Match.ObjectiveTarget > 0 && s.Match.ObjectiveCount >= s.Match.ObjectiveTarget
		}),
		verdict.When("board_cleared", match.TeamParty, func(s match.State) bool {
			return s.ActiveEntities() == 0 && len(s.Queue) == 0
		}),
		verdict.When("round_limit", match.TeamHouse, verdict.RoundLimitReached),
	}
}

func areaTargets(s *match.State, spec catalog.EffectSpec) []int {
	if len(spec.Area) > 0 {
		return append([]int(nil), spec.Area...)
	}
	out := make([]int, 0, len(s.Slots))
	for _, slot := range s.Slots {
		out = append(out, slot.Index)
	}
	return out
}

func slotIfSingle(targets []int) int {
	if len(targets) == 1 {
		return targets[0]
	}
	return 0
}

func roleOf(p *resolve.Pass, num int) string {
	if pt := p.State.Participant(num); pt != nil {
		return pt.Role
	}
	return ""
}
