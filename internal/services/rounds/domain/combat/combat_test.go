package combat

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/resolve"
)

const testCatalogYAML = `
default_weapon: fists
items:
  - {kind: fists, name: Fists, permanent: true, effect: {shape: single, magnitude: 1}}
  - {kind: sword, name: Sword, effect: {shape: single, magnitude: 5}}
  - {kind: axe, name: Axe, effect: {shape: single, magnitude: 8}}
  - {kind: lance, name: Lance, effect: {shape: single, magnitude: 8, ignores_protection: true}}
  - {kind: bomb, name: Bomb, effect: {shape: area, magnitude: 2}}
  - {kind: miasma, name: Miasma, effect: {shape: recurring, magnitude: 3, area: [1, 2, 3], delay: 2, period: 2, cycles: 2}}
  - {kind: hex, name: Hex, effect: {shape: recurring, magnitude: 3, delay: 2, period: 1, cycles: 2}}
  - {kind: shield, name: Shield, protection: {}}
  - {kind: mirror, name: Mirror, protection: {reflect: true}}
  - {kind: salve, name: Salve}
monsters:
  - {id: rat, name: Rat, max_health: 5, reward: 1}
  - {id: goblin, name: Goblin, max_health: 8, reward: 2}
  - {id: ogre, name: Ogre, max_health: 20, reward: 5}
abilities:
  - {kind: mend, targeted: true, consumes: salve, magnitude: 4}
roles:
  - {code: fighter, ruleset: skirmish, team: party, max_health: 20}
  - {code: cleric, ruleset: skirmish, team: party, max_health: 16, abilities: [mend]}
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return c
}

func entity(t *testing.T, cat *catalog.Catalog, id string) *match.Entity {
	t.Helper()
	m, err := cat.Monster(id)
	if err != nil {
		t.Fatalf("monster %s: %v", id, err)
	}
	e := m.Instance(match.EntityActive)
	return &e
}

// newState builds a running skirmish with n fighters and the given board.
func newState(n int, board ...*match.Entity) match.State {
	s := match.State{
		Match: match.Match{ID: "m1", Ruleset: match.RulesetSkirmish, Phase: match.PhaseRunning, SlotCount: len(board)},
		Round: match.Round{MatchID: "m1", Number: 1, Status: match.RoundLocked},
	}
	for i := 1; i <= n; i++ {
		s.Participants = append(s.Participants, match.Participant{
			Num: i, Role: "fighter", Team: match.TeamParty, Alive: true, Health: 20, MaxHealth: 20,
		})
	}
	for i, e := range board {
		s.Slots = append(s.Slots, match.Slot{Index: i + 1, Entity: e})
	}
	return s
}

func give(s *match.State, owner int, kind string, qty int) {
	s.Inventory = append(s.Inventory, match.InventoryItem{Owner: owner, Kind: kind, Quantity: qty, UsableNow: true})
}

func attack(num, priority, slot int, weapons ...string) action.Action {
	return action.Action{Participant: num, Priority: action.At(priority), Kind: action.KindAttack, Attack: &action.Attack{Slot: slot, Weapons: weapons}}
}

func protect(num, priority, slot int, item string) action.Action {
	return action.Action{Participant: num, Priority: action.At(priority), Kind: action.KindProtect, Protect: &action.Protect{Slot: slot, Item: item}}
}

func run(t *testing.T, cat *catalog.Catalog, s match.State, actions ...action.Action) resolve.Outcome {
	t.Helper()
	out, err := resolve.Resolve(resolve.Input{
		State:    s,
		Actions:  actions,
		Catalog:  cat,
		Renderer: auditlog.NewRenderer("en-US"),
	}, New())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return out
}

func publicTexts(out resolve.Outcome) []string {
	var texts []string
	for _, l := range auditlog.Split(out.Lines).Public {
		texts = append(texts, l.Text)
	}
	return texts
}

// assertPublicHidesSlots fails when a public line carries slot, target or
// role detail, or names one of the hidden participants.
func assertPublicHidesSlots(t *testing.T, out resolve.Outcome, hidden ...int) {
	t.Helper()
	for _, l := range auditlog.Split(out.Lines).Public {
		if l.Slot != nil || l.Target != nil || l.Role != "" {
			t.Fatalf("public line leaks detail: %+v", l)
		}
		for _, n := range hidden {
			num := auditlog.Itoa(n)
			for _, arg := range l.Args {
				if arg == num {
					t.Fatalf("public line args name participant %d: %+v", n, l)
				}
			}
			if strings.Contains(l.Text, "participant "+num) {
				t.Fatalf("public text names participant %d: %q", n, l.Text)
			}
		}
	}
}

func TestUnprotectedAttackKillsAndCreditsAttacker(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "rat"), entity(t, cat, "ogre"))
	give(&s, 1, "sword", 1)

	out := run(t, cat, s, attack(1, 1, 1, "sword"), attack(2, 2, 2))

	rat := out.State.Slots[0].Entity
	if rat.Status != match.EntityDefeated || rat.Health != 0 {
		t.Fatalf("rat = %+v", rat)
	}
	if len(out.Terminal) != 1 || out.Terminal[0].CreditedTo != 1 || out.Terminal[0].EffectSourced {
		t.Fatalf("terminal = %+v", out.Terminal)
	}
	pub := auditlog.Split(out.Lines).Public
	if pub[0].Text != "participant 1 dealt 5 damage" || pub[0].Damage != 5 {
		t.Fatalf("first public line = %+v", pub[0])
	}
	for _, text := range publicTexts(out) {
		if strings.Contains(text, "slot") {
			t.Fatalf("public text mentions a slot: %q", text)
		}
	}
	assertPublicHidesSlots(t, out)
	if out.State.Participants[0].Score != 1 || out.State.Match.ObjectiveCount != 1 {
		t.Fatalf("score=%d objective=%d", out.State.Participants[0].Score, out.State.Match.ObjectiveCount)
	}
}

func TestProtectionCancelsLaterAttack(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "ogre"), entity(t, cat, "goblin"))
	give(&s, 1, "shield", 1)
	give(&s, 2, "axe", 1)

	out := run(t, cat, s, protect(1, 1, 2, "shield"), attack(2, 2, 2, "axe"))

	if got := out.State.Slots[1].Entity.Health; got != 8 {
		t.Fatalf("goblin health = %d, want 8", got)
	}
	var cancelled *auditlog.Line
	for _, l := range auditlog.Split(out.Lines).Public {
		if l.Cancelled {
			cancelled = &l
		}
	}
	if cancelled == nil || cancelled.Reason == "" || cancelled.Actor != 2 {
		t.Fatalf("cancelled line = %+v", cancelled)
	}
	assertPublicHidesSlots(t, out)
	if len(out.State.Inventory) != 0 {
		t.Fatalf("inventory = %+v, want shield and axe consumed", out.State.Inventory)
	}
}

func TestCancellationPrecedence(t *testing.T) {
	cat := testCatalog(t)
	s := newState(3, entity(t, cat, "ogre"))
	give(&s, 1, "shield", 1)
	give(&s, 2, "sword", 1)
	give(&s, 3, "sword", 1)

	out := run(t, cat, s,
		attack(2, 3, 1, "sword"),
		protect(1, 5, 1, "shield"),
		attack(3, 7, 1, "sword"),
	)
	if got := out.State.Slots[0].Entity.Health; got != 15 {
		t.Fatalf("ogre health = %d, want 15 (earlier attack lands, later cancelled)", got)
	}
	var cancelledActors []int
	for _, l := range auditlog.Split(out.Lines).Public {
		if l.Cancelled {
			cancelledActors = append(cancelledActors, l.Actor)
		}
	}
	if diff := cmp.Diff([]int{3}, cancelledActors); diff != "" {
		t.Fatalf("cancelled actors (-want +got):\n%s", diff)
	}
}

func TestEqualPriorityIsNotCancelled(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "ogre"))
	give(&s, 1, "shield", 1)
	give(&s, 2, "sword", 1)

	out := run(t, cat, s, protect(1, 4, 1, "shield"), attack(2, 4, 1, "sword"))
	if got := out.State.Slots[0].Entity.Health; got != 15 {
		t.Fatalf("ogre health = %d, want 15", got)
	}
}

func TestExplicitZeroPriorityResolvesBeforeProtection(t *testing.T) {
	cat := testCatalog(t)
	board := func() match.State {
		s := newState(5, entity(t, cat, "goblin"))
		give(&s, 1, "shield", 1)
		give(&s, 5, "axe", 1)
		return s
	}

	out := run(t, cat, board(), protect(1, 3, 1, "shield"), attack(5, 0, 1, "axe"))
	goblin := out.State.Slots[0].Entity
	if goblin.Status != match.EntityDefeated || goblin.Health != 0 {
		t.Fatalf("goblin = %+v, want defeated by the priority 0 attack", goblin)
	}
	for _, l := range out.Lines {
		if l.Cancelled {
			t.Fatalf("unexpected cancellation: %+v", l)
		}
	}

	unset := action.Action{Participant: 5, Kind: action.KindAttack, Attack: &action.Attack{Slot: 1, Weapons: []string{"axe"}}}
	out = run(t, cat, board(), protect(1, 3, 1, "shield"), unset)
	if got := out.State.Slots[0].Entity.Health; got != 8 {
		t.Fatalf("goblin health = %d, want 8 (unset priority defaults to 5)", got)
	}
}

func TestAreaAndPiercingIgnoreProtection(t *testing.T) {
	cat := testCatalog(t)
	s := newState(3, entity(t, cat, "ogre"), entity(t, cat, "ogre"))
	give(&s, 1, "shield", 1)
	give(&s, 2, "bomb", 1)
	give(&s, 3, "lance", 1)

	out := run(t, cat, s, protect(1, 1, 1, "shield"), attack(2, 2, 1, "bomb"), attack(3, 3, 1, "lance"))
	if got := out.State.Slots[0].Entity.Health; got != 10 {
		t.Fatalf("protected ogre health = %d, want 10", got)
	}
	if got := out.State.Slots[1].Entity.Health; got != 18 {
		t.Fatalf("other ogre health = %d, want 18", got)
	}
}

func TestReflectiveProtectionDamagesAttacker(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "ogre"))
	give(&s, 1, "mirror", 1)
	give(&s, 2, "axe", 1)

	out := run(t, cat, s, protect(1, 1, 1, "mirror"), attack(2, 2, 1, "axe"))
	if got := out.State.Participants[1].Health; got != 12 {
		t.Fatalf("attacker health = %d, want 12", got)
	}
	if got := out.State.Slots[0].Entity.Health; got != 20 {
		t.Fatalf("ogre health = %d", got)
	}
}

func TestRecurringAreaEffectFiresAfterNextAction(t *testing.T) {
	cat := testCatalog(t)
	s := newState(3, entity(t, cat, "ogre"), entity(t, cat, "rat"), entity(t, cat, "ogre"))
	s.Slots[1].Entity.Health = 3
	give(&s, 1, "miasma", 1)

	out := run(t, cat, s,
		attack(1, 1, 1, "miasma"),
		attack(2, 2, 1),
		attack(3, 3, 3),
	)

	keys := make([]string, 0)
	actors := make([]int, 0)
	for _, l := range auditlog.Split(out.Lines).Public {
		keys = append(keys, l.Key)
		actors = append(actors, l.Actor)
	}
	want := []string{
		auditlog.KeyEffectCast,
		auditlog.KeyAttackHit, // participant 2
		auditlog.KeyEffectHit, auditlog.KeyEffectHit, auditlog.KeyKillEffect, auditlog.KeyEffectHit,
		auditlog.KeyAttackHit, // participant 3
		auditlog.KeyReward,
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("public keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 1, 1, 1, 1, 3, 1}, actors); diff != "" {
		t.Fatalf("public actors (-want +got):\n%s", diff)
	}
	if len(out.Terminal) != 1 {
		t.Fatalf("terminal = %+v", out.Terminal)
	}
	kill := out.Terminal[0]
	if kill.CreditedTo != 1 || !kill.EffectSourced || kill.Slot != 2 {
		t.Fatalf("kill = %+v", kill)
	}
	if got := out.State.Slots[0].Entity.Health; got != 16 {
		t.Fatalf("slot 1 health = %d, want 16 (fists 1 + miasma 3)", got)
	}
	var fizzled int
	for _, l := range auditlog.Split(out.Lines).Privileged {
		if l.Key == auditlog.KeyEffectFizzled {
			fizzled++
		}
	}
	if fizzled != 1 {
		t.Fatalf("fizzled lines = %d, want 1", fizzled)
	}
}

func TestDelayedKillCreditsOriginalCaster(t *testing.T) {
	cat := testCatalog(t)
	s := newState(3, entity(t, cat, "goblin"))
	give(&s, 1, "hex", 1)

	out := run(t, cat, s,
		attack(1, 1, 1, "hex"),
		attack(2, 2, 1),
		attack(3, 3, 1),
	)
	if len(out.Terminal) != 1 {
		t.Fatalf("terminal = %+v", out.Terminal)
	}
	want := effect.TerminalEvent{Kind: effect.TerminalKill, Slot: 1, Entity: "Goblin", Reward: 2, CreditedTo: 1, EffectSourced: true}
	if diff := cmp.Diff(want, out.Terminal[0]); diff != "" {
		t.Fatalf("kill (-want +got):\n%s", diff)
	}
	if out.State.Participants[0].Score != 2 {
		t.Fatalf("caster score = %d", out.State.Participants[0].Score)
	}
}

func TestSingleTargetPendingEffectIsCancelledAtCast(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "goblin"))
	give(&s, 1, "shield", 1)
	give(&s, 2, "hex", 1)

	out := run(t, cat, s, protect(1, 1, 1, "shield"), attack(2, 2, 1, "hex"), attack(1, 3, 2))
	if got := out.State.Slots[0].Entity.Health; got != 8 {
		t.Fatalf("goblin health = %d, want 8", got)
	}
}

func TestMissingConsumableIsPrivilegedOnly(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "ogre"))
	give(&s, 2, "sword", 1)

	out := run(t, cat, s, attack(1, 1, 1, "bomb"), attack(2, 2, 1, "sword"))

	streams := auditlog.Split(out.Lines)
	var anomalies int
	for _, l := range streams.Privileged {
		if l.Key == auditlog.KeyMissingItem {
			anomalies++
		}
	}
	if anomalies != 1 {
		t.Fatalf("privileged anomalies = %d", anomalies)
	}
	for _, l := range streams.Public {
		if l.Key == auditlog.KeyMissingItem || strings.Contains(l.Text, "bomb") {
			t.Fatalf("public stream leaks anomaly: %+v", l)
		}
	}
	if got := out.State.Slots[0].Entity.Health; got != 15 {
		t.Fatalf("ogre health = %d, want 15", got)
	}
}

func TestUnknownItemAbortsPass(t *testing.T) {
	cat := testCatalog(t)
	s := newState(1, entity(t, cat, "ogre"))
	_, err := resolve.Resolve(resolve.Input{
		State:   s,
		Actions: []action.Action{attack(1, 1, 1, "laser")},
		Catalog: cat,
	}, New())
	if err == nil {
		t.Fatal("expected catalog inconsistency")
	}
}

func TestResolutionIsDeterministic(t *testing.T) {
	cat := testCatalog(t)
	s := newState(3, entity(t, cat, "ogre"), entity(t, cat, "rat"), entity(t, cat, "goblin"))
	s.Queue = []match.Entity{*entity(t, cat, "rat")}
	s.Round.Danger = 2
	give(&s, 1, "miasma", 1)
	give(&s, 2, "shield", 1)
	give(&s, 3, "axe", 1)
	actions := []action.Action{
		attack(1, 1, 1, "miasma"),
		protect(2, 2, 3, "shield"),
		attack(3, 3, 3, "axe"),
		attack(2, 2, 2),
	}

	first := run(t, cat, s, actions...)
	second := run(t, cat, s.Clone(), actions...)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("resolution differs between runs (-first +second):\n%s", diff)
	}
}

func TestSettleRetaliatesRewardsAndRefills(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "ogre"), entity(t, cat, "rat"))
	s.Queue = []match.Entity{*entity(t, cat, "goblin")}
	s.Round.Danger = 3
	give(&s, 1, "sword", 1)
	give(&s, 2, "sword", 1)

	out := run(t, cat, s, attack(1, 1, 1, "sword"), attack(2, 2, 2, "sword"))

	if got := out.State.Participants[0].Health; got != 17 {
		t.Fatalf("participant 1 health = %d, want 17 after retaliation", got)
	}
	if got := out.State.Participants[1].Health; got != 20 {
		t.Fatalf("participant 2 health = %d, want 20", got)
	}
	if got := out.State.Participants[1].Score; got != 1 {
		t.Fatalf("participant 2 score = %d", got)
	}
	slot2 := out.State.Slots[1].Entity
	if slot2 == nil || slot2.Name != "Goblin" || slot2.Status != match.EntityActive {
		t.Fatalf("slot 2 = %+v", slot2)
	}
	if len(out.State.Queue) != 0 {
		t.Fatalf("queue = %+v", out.State.Queue)
	}
	if out.Verdict.Ended {
		t.Fatalf("verdict = %+v", out.Verdict)
	}
}

func TestMendHealsTarget(t *testing.T) {
	cat := testCatalog(t)
	s := newState(2, entity(t, cat, "ogre"))
	s.Participants[1].Role = "cleric"
	s.Participants[0].Health = 5
	give(&s, 2, "salve", 1)

	out := run(t, cat, s, action.Action{
		Participant: 2, Priority: action.At(1), Kind: action.KindAbility,
		Ability: &action.Ability{Ability: catalog.AbilityMend, Target: 1},
	})
	if got := out.State.Participants[0].Health; got != 9 {
		t.Fatalf("health = %d, want 9", got)
	}
	assertPublicHidesSlots(t, out, 1)

	streams := auditlog.Split(out.Lines)
	var mended, detail *auditlog.Line
	for i, l := range streams.Public {
		if l.Key == auditlog.KeyMend {
			mended = &streams.Public[i]
		}
	}
	for i, l := range streams.Privileged {
		if l.Key == auditlog.KeyMendDetail {
			detail = &streams.Privileged[i]
		}
	}
	if mended == nil || mended.Text != "participant 2 restored 4 health" {
		t.Fatalf("public mend = %+v", mended)
	}
	if detail == nil || detail.Target == nil || *detail.Target != 1 {
		t.Fatalf("mend detail = %+v", detail)
	}
	if detail.Text != "participant 2 healed participant 1 for 4" {
		t.Fatalf("mend detail text = %q", detail.Text)
	}
}

func TestVerdicts(t *testing.T) {
	cat := testCatalog(t)

	t.Run("party eliminated", func(t *testing.T) {
		s := newState(1, entity(t, cat, "ogre"))
		s.Participants[0].Health = 2
		s.Round.Danger = 5
		s.Match.ObjectiveTarget = 1
		out := run(t, cat, s, attack(1, 1, 1))
		if out.Verdict.Winner != match.TeamHouse || out.Verdict.Reason != "party_eliminated" {
			t.Fatalf("verdict = %+v", out.Verdict)
		}
		if out.State.Match.Phase != match.PhaseEnded {
			t.Fatal("expected match ended")
		}
	})

	t.Run("objective reached", func(t *testing.T) {
		s := newState(1, entity(t, cat, "rat"), entity(t, cat, "ogre"))
		s.Match.ObjectiveTarget = 1
		give(&s, 1, "sword", 1)
		out := run(t, cat, s, attack(1, 1, 1, "sword"))
		if out.Verdict.Winner != match.TeamParty || out.Verdict.Reason != "objective_reached" {
			t.Fatalf("verdict = %+v", out.Verdict)
		}
	})

	t.Run("board cleared", func(t *testing.T) {
		s := newState(1, entity(t, cat, "rat"))
		give(&s, 1, "sword", 1)
		out := run(t, cat, s, attack(1, 1, 1, "sword"))
		if out.Verdict.Winner != match.TeamParty || out.Verdict.Reason != "board_cleared" {
			t.Fatalf("verdict = %+v", out.Verdict)
		}
	})

	t.Run("round limit", func(t *testing.T) {
		s := newState(1, entity(t, cat, "ogre"))
		s.Match.RoundLimit = 1
		out := run(t, cat, s, attack(1, 1, 1))
		if out.Verdict.Winner != match.TeamHouse || out.Verdict.Reason != "round_limit" {
			t.Fatalf("verdict = %+v", out.Verdict)
		}
	})
}
