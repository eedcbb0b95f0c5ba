package resolve

import (
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/ledger"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
)

// TargetKind says what a window protects.
type TargetKind int

const (
	TargetSlot TargetKind = iota + 1
	TargetParticipant
)

// Target is a slot or participant address.
type Target struct {
	Kind  TargetKind
	Index int
}

// Window is a cancellation window registered by a protective action. It
// applies to actions with a priority strictly greater than From.
type Window struct {
	Target  Target
	From    int
	Reflect bool
	// Source is the participant who registered the window.
	Source   int
	ItemName string
}

// Pass is the mutable context of one resolution.
type Pass struct {
	State   *match.State
	Catalog *catalog.Catalog
	Effects *effect.Engine
	Ledger  *ledger.Ledger
	Log     *auditlog.Emitter

	windows []Window
}

// Protect registers a window.
func (p *Pass) Protect(w Window) {
	p.windows = append(p.windows, w)
}

// Shielded returns the earliest registered window covering t for an action
// at priority.
func (p *Pass) Shielded(t Target, priority int) (Window, bool) {
	for _, w := range p.windows {
		if w.Target == t && w.From < priority {
			return w, true
		}
	}
	return Window{}, false
}

// Consume spends one unit of kind from owner. A missing unit is logged as a
// privileged anomaly and reported as false; resolution continues.
func (p *Pass) Consume(owner int, kind string) (bool, error) {
	outcome, err := p.Ledger.Consume(owner, kind)
	if err != nil {
		return false, err
	}
	if outcome == ledger.NotFound {
		p.Log.Privileged(auditlog.Detail{Entry: auditlog.Entry{
			Key:   auditlog.KeyMissingItem,
			Args:  []string{auditlog.Itoa(owner), kind},
			Actor: owner,
		}})
		return false, nil
	}
	return true, nil
}

// Anomaly records a privileged line for an action the pass ignored.
func (p *Pass) Anomaly(key string, actor int, args ...string) {
	p.Log.Privileged(auditlog.Detail{Entry: auditlog.Entry{Key: key, Args: args, Actor: actor}})
}

// ReportHits logs slot damage from an item effect and any resulting kills.
func (p *Pass) ReportHits(src effect.Source, hits []effect.Hit, effectSourced bool) {
	actor := auditlog.Itoa(src.Participant)
	for _, h := range hits {
		p.Log.Public(auditlog.Entry{
			Key:    auditlog.KeyEffectHit,
			Args:   []string{actor, src.ItemName, auditlog.Itoa(h.Dealt)},
			Actor:  src.Participant,
			Damage: h.Dealt,
		})
		p.Log.Privileged(auditlog.Detail{
			Entry: auditlog.Entry{
				Key:    auditlog.KeyEffectHitDetail,
				Args:   []string{actor, src.ItemName, auditlog.Itoa(h.Slot), h.Entity, auditlog.Itoa(h.Dealt)},
				Actor:  src.Participant,
				Damage: h.Dealt,
			},
			Slot: h.Slot,
		})
		if h.Killed {
			p.ReportKill(src, h, effectSourced)
		}
	}
}

// ReportKill logs one entity kill. Effect-sourced kills use their own key.
func (p *Pass) ReportKill(src effect.Source, h effect.Hit, effectSourced bool) {
	key := auditlog.KeyKill
	if effectSourced {
		key = auditlog.KeyKillEffect
	}
	p.Log.Public(auditlog.Entry{
		Key:   key,
		Args:  []string{auditlog.Itoa(src.Participant), h.Entity},
		Actor: src.Participant,
	})
}

// ReportElimination logs a participant leaving play.
func (p *Pass) ReportElimination(num int) {
	p.Log.Public(auditlog.Entry{Key: auditlog.KeyEliminated, Args: []string{auditlog.Itoa(num)}})
}
