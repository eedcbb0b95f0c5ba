// Package contagion implements the outbreak ruleset: a hidden carrier team
// spreads infection through the town while both sides pledge tokens toward
// sabotage thresholds and everyone votes someone out each round.
package contagion

import (
	"fmt"
	"sort"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/resolve"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
)

const (
	poolCorruption = "corruption"
	poolDefense    = "defense"
)

// Ruleset resolves one outbreak round.
type Ruleset struct {
	// votes maps voter to chosen participant; a later vote replaces an
	// earlier one.
	votes map[int]int
}

var _ resolve.Ruleset = (*Ruleset)(nil)

// New returns a ruleset for a single pass.
func New() *Ruleset {
	return &Ruleset{votes: map[int]int{}}
}

// Apply resolves one action.
func (r *Ruleset) Apply(p *resolve.Pass, a action.Action) error {
	switch a.Kind {
	case action.KindAbility:
		return r.ability(p, a)
	case action.KindCommit:
		r.commit(p, a)
		return nil
	case action.KindAttack, action.KindProtect:
		p.Anomaly(auditlog.KeyNotPermitted, a.Participant, auditlog.Itoa(a.Participant), string(a.Kind), roleOf(p, a.Participant))
		return nil
	default:
		return fmt.Errorf("%w: %q", action.ErrUnknownKind, a.Kind)
	}
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
	if !role.Permits(spec.Kind) {
		p.Anomaly(auditlog.KeyNotPermitted, a.Participant, actor, spec.Kind, caster.Role)
		return nil
	}

	// Every outbreak ability names a living participant.
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

	switch spec.Kind {
	case catalog.AbilityInfect:
		r.infect(p, a, target)
	case catalog.AbilityTest:
		r.test(p, a, target)
	case catalog.AbilityVaccinate:
		r.vaccinate(p, a, target)
	case catalog.AbilityGuard:
		r.guard(p, a, target)
	case catalog.AbilityVote:
		r.votes[a.Participant] = target.Num
		p.Log.Privileged(auditlog.Detail{
			Entry:  auditlog.Entry{Key: auditlog.KeyVoteCast, Args: []string{actor, auditlog.Itoa(target.Num)}, Actor: a.Participant},
			Target: target.Num,
		})
	default:
		p.Anomaly(auditlog.KeyNotPermitted, a.Participant, actor, spec.Kind, caster.Role)
	}
	return nil
}

func (r *Ruleset) infect(p *resolve.Pass, a action.Action, target *match.Participant) {
	actor := auditlog.Itoa(a.Participant)
	reason := ""
	switch {
	case r.guarded(p, target.Num, a.Rank()):
		reason = auditlog.ReasonGuarded
	case target.Caps.Has(match.CapImmune):
		reason = auditlog.ReasonImmune
	case target.Caps.Has(match.CapInfected):
		reason = auditlog.ReasonAlreadyInfected
	}
	if reason != "" {
		p.Log.Privileged(auditlog.Detail{
			Entry: auditlog.Entry{
				Key:       auditlog.KeyInfectBlocked,
				Args:      []string{actor, auditlog.Itoa(target.Num), reason},
				Actor:     a.Participant,
				Cancelled: true,
				Reason:    reason,
			},
			Target: target.Num,
		})
		return
	}
	infect(p.State, target)
	p.Log.Privileged(auditlog.Detail{
		Entry:  auditlog.Entry{Key: auditlog.KeyInfectDetail, Args: []string{actor, auditlog.Itoa(target.Num)}, Actor: a.Participant},
		Target: target.Num,
	})
}

func (r *Ruleset) guarded(p *resolve.Pass, num, priority int) bool {
	_, ok := p.Shielded(resolve.Target{Kind: resolve.TargetParticipant, Index: num}, priority)
	return ok
}

func (r *Ruleset) test(p *resolve.Pass, a action.Action, target *match.Participant) {
	actor := auditlog.Itoa(a.Participant)
	result, key := "negative", auditlog.KeyTestNegative
	if target.Caps.Has(match.CapInfected) {
		result, key = "positive", auditlog.KeyTestPositive
	}
	p.Log.Public(auditlog.Entry{Key: auditlog.KeyTest})
	p.Log.Privileged(auditlog.Detail{
		Entry:  auditlog.Entry{Key: auditlog.KeyTestDetail, Args: []string{actor, auditlog.Itoa(target.Num), result}, Actor: a.Participant},
		Target: target.Num,
	})
	p.Log.Private(a.Participant, auditlog.Entry{Key: key, Args: []string{auditlog.Itoa(target.Num)}})
}

func (r *Ruleset) vaccinate(p *resolve.Pass, a action.Action, target *match.Participant) {
	if !target.Caps.Has(match.CapInfected) {
		target.Caps |= match.CapImmune
	}
	p.Log.Public(auditlog.Entry{Key: auditlog.KeyVaccinate})
	p.Log.Privileged(auditlog.Detail{
		Entry: auditlog.Entry{
			Key:   auditlog.KeyVaccinateDetail,
			Args:  []string{auditlog.Itoa(a.Participant), auditlog.Itoa(target.Num)},
			Actor: a.Participant,
		},
		Target: target.Num,
	})
	p.Log.Private(target.Num, auditlog.Entry{Key: auditlog.KeyVaccinated})
}

func (r *Ruleset) guard(p *resolve.Pass, a action.Action, target *match.Participant) {
	p.Protect(resolve.Window{
		Target:   resolve.Target{Kind: resolve.TargetParticipant, Index: target.Num},
		From:     a.Rank(),
		Source:   a.Participant,
		ItemName: catalog.AbilityGuard,
	})
	p.Log.Privileged(auditlog.Detail{
		Entry:  auditlog.Entry{Key: auditlog.KeyGuardDetail, Args: []string{auditlog.Itoa(a.Participant), auditlog.Itoa(target.Num)}, Actor: a.Participant},
		Target: target.Num,
	})
}

func (r *Ruleset) commit(p *resolve.Pass, a action.Action) {
	pt := p.State.Participant(a.Participant)
	actor := auditlog.Itoa(a.Participant)
	amount := a.Commit.Amount
	if amount > pt.Tokens {
		p.Anomaly(auditlog.KeyCommitClamped, a.Participant, actor, auditlog.Itoa(amount), auditlog.Itoa(pt.Tokens))
		amount = pt.Tokens
	}
	pt.Tokens -= amount

	pool := poolDefense
	if pt.Team == match.TeamCarrier {
		pool = poolCorruption
		p.State.Match.Corruption += amount
	} else {
		p.State.Match.Defense += amount
	}
	p.Log.Public(auditlog.Entry{Key: auditlog.KeyCommit, Args: []string{actor}, Actor: a.Participant})
	p.Log.Privileged(auditlog.Detail{
		Entry: auditlog.Entry{Key: auditlog.KeyCommitDetail, Args: []string{actor, auditlog.Itoa(amount), pool}, Actor: a.Participant},
		Role:  pt.Role,
	})
}

// Settle spreads infection along the neighbor ring and then applies the
// round's vote.
func (r *Ruleset) Settle(p *resolve.Pass) error {
	spread(p)
	r.tally(p)
	return nil
}

func spread(p *resolve.Pass) {
	acting := p.State.Acting()
	n := len(acting)
	if n == 0 {
		return
	}
	round := p.State.Round.Number

	var transmitters []int
	for _, pt := range acting {
		if pt.Caps.Has(match.CapContagious) && pt.TransmitRound == round {
			transmitters = append(transmitters, pt.Num)
		}
	}
	if len(transmitters) == 0 {
		return
	}

	ring := make(map[int]int, n)
	for i, pt := range acting {
		ring[pt.Num] = i
	}
	infected := 0
	for _, num := range transmitters {
		i := ring[num]
		prev, next := acting[(i+n-1)%n].Num, acting[(i+1)%n].Num
		neighbors := []int{prev}
		if next != prev {
			neighbors = append(neighbors, next)
		}
		for _, nb := range neighbors {
			if nb == num {
				continue
			}
			target := p.State.Participant(nb)
			if target.Caps.Has(match.CapInfected) || target.Caps.Has(match.CapImmune) {
				continue
			}
			infect(p.State, target)
			infected++
			p.Log.Privileged(auditlog.Detail{
				Entry:  auditlog.Entry{Key: auditlog.KeySpreadDetail, Args: []string{auditlog.Itoa(num), auditlog.Itoa(nb)}, Actor: num},
				Target: nb,
			})
		}
		p.State.Participant(num).TransmitRound = round + incubation(p.State.Match)
	}
	p.Log.Public(auditlog.Entry{Key: auditlog.KeySpread, Args: []string{auditlog.Itoa(infected)}})
}

func (r *Ruleset) tally(p *resolve.Pass) {
	if len(r.votes) == 0 {
		return
	}
	counts := map[int]int{}
	for voter, target := range r.votes {
		v, t := p.State.Participant(voter), p.State.Participant(target)
		if v == nil || t == nil || !v.CanAct() || !t.CanAct() {
			continue
		}
		counts[target]++
	}
	if len(counts) == 0 {
		p.Log.Public(auditlog.Entry{Key: auditlog.KeyVoteNone})
		return
	}

	best := 0
	var tied []int
	for target, c := range counts {
		switch {
		case c > best:
			best, tied = c, []int{target}
		case c == best:
			tied = append(tied, target)
		}
	}
	sort.Ints(tied)
	chosen := tied[0]
	if len(tied) > 1 {
		chosen = tied[uint64(p.State.Round.TieBreakSeed)%uint64(len(tied))]
		p.Log.Privileged(auditlog.Detail{Entry: auditlog.Entry{
			Key:  auditlog.KeyVoteTie,
			Args: []string{auditlog.Ints(tied), auditlog.Itoa(chosen)},
		}})
	}
	if !p.Effects.Eliminate(chosen, 0) {
		return
	}
	p.Log.Public(auditlog.Entry{Key: auditlog.KeyVoteOut, Args: []string{auditlog.Itoa(chosen), auditlog.Itoa(best)}})
	p.ReportElimination(chosen)
}

// Predicates are evaluated in this order; the first that holds ends the
// match.
func (r *Ruleset) Predicates() []verdict.Predicate {
	return []verdict.Predicate{
		verdict.When("carriers_eliminated", match.TeamTown, func(s match.State) bool {
			for _, pt := range s.Acting() {
				if pt.Team == match.TeamCarrier {
					return false
				}
			}
			return true
		}),
		{Name: "sabotage", Decide: sabotage},
		verdict.When("town_overrun", match.TeamCarrier, func(s match.State) bool {
			for _, pt := range s.Acting() {
				if pt.Team != match.TeamCarrier && !pt.Caps.Has(match.CapInfected) {
					return false
				}
			}
			return true
		}),
		verdict.When("round_limit", match.TeamTown, verdict.RoundLimitReached),
	}
}

func sabotage(s match.State) (string, bool) {
	m := s.Match
	corrupted := m.CorruptionThreshold > 0 && m.Corruption >= m.CorruptionThreshold
	defended := m.DefenseThreshold > 0 && m.Defense >= m.DefenseThreshold
	switch {
	case corrupted && defended:
		if m.SabotageTieBreak != "" {
			return m.SabotageTieBreak, true
		}
		return match.TeamTown, true
	case corrupted:
		return match.TeamCarrier, true
	case defended:
		return match.TeamTown, true
	default:
		return "", false
	}
}

func infect(s *match.State, pt *match.Participant) {
	pt.Caps |= match.CapInfected | match.CapContagious
	pt.TransmitRound = s.Round.Number + incubation(s.Match)
}

func incubation(m match.Match) int {
	if m.Incubation > 0 {
		return m.Incubation
	}
	return 1
}

func roleOf(p *resolve.Pass, num int) string {
	if pt := p.State.Participant(num); pt != nil {
		return pt.Role
	}
	return ""
}
