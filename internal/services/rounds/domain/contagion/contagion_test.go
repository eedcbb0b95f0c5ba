package contagion

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/resolve"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
)

func defaultCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	return c
}

// town seats one participant per role, numbered from 1.
func town(t *testing.T, cat *catalog.Catalog, roles ...string) match.State {
	t.Helper()
	s := match.State{
		Match: match.Match{ID: "m1", Ruleset: match.RulesetOutbreak, Phase: match.PhaseRunning},
		Round: match.Round{MatchID: "m1", Number: 1, Status: match.RoundLocked},
	}
	for i, code := range roles {
		role, err := cat.Role(code)
		if err != nil {
			t.Fatalf("role %s: %v", code, err)
		}
		s.Participants = append(s.Participants, match.Participant{
			Num: i + 1, Role: code, Team: role.Team, Alive: true,
			Health: role.MaxHealth, MaxHealth: role.MaxHealth,
			Tokens: role.StartingTokens, Caps: role.Caps(),
		})
	}
	return s
}

func ability(num, priority int, kind string, target int) action.Action {
	return action.Action{
		Participant: num, Priority: action.At(priority), Kind: action.KindAbility,
		Ability: &action.Ability{Ability: kind, Target: target},
	}
}

func commit(num, priority, amount int) action.Action {
	return action.Action{Participant: num, Priority: action.At(priority), Kind: action.KindCommit, Commit: &action.Commit{Amount: amount}}
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

func keys(lines []auditlog.Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Key)
	}
	return out
}

func TestSpreadSkipsAlreadyInfectedNeighbor(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "citizen", "citizen", "citizen", "citizen", "carrier")
	s.Round.Number = 2
	s.Participants[2].Caps = match.CapInfected | match.CapContagious
	s.Participants[2].TransmitRound = 2
	s.Participants[3].Caps = match.CapInfected | match.CapContagious
	s.Participants[3].TransmitRound = 4

	out := run(t, cat, s)

	infected := []int{}
	for _, p := range out.State.Participants {
		if p.Team != match.TeamCarrier && p.Caps.Has(match.CapInfected) {
			infected = append(infected, p.Num)
		}
	}
	if diff := cmp.Diff([]int{2, 3, 4}, infected); diff != "" {
		t.Fatalf("infected (-want +got):\n%s", diff)
	}
	if got := out.State.Participants[1].TransmitRound; got != 3 {
		t.Fatalf("newly infected transmit round = %d, want 3", got)
	}
	if got := out.State.Participants[2].TransmitRound; got != 3 {
		t.Fatalf("transmitter re-armed at %d, want 3", got)
	}
	pub := auditlog.Split(out.Lines).Public
	if len(pub) != 1 || pub[0].Key != auditlog.KeySpread || pub[0].Args[0] != "1" {
		t.Fatalf("public = %+v", pub)
	}
	if pub[0].Target != nil {
		t.Fatal("public spread line names a target")
	}
}

func TestSpreadWrapsAroundRing(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "citizen", "citizen", "citizen", "carrier")
	s.Match.Incubation = 2
	s.Participants[0].Caps = match.CapInfected | match.CapContagious
	s.Participants[0].TransmitRound = 1

	out := run(t, cat, s)

	if !out.State.Participants[1].Caps.Has(match.CapInfected) {
		t.Fatal("next neighbor not infected")
	}
	if out.State.Participants[3].Caps.Has(match.CapContagious) {
		t.Fatal("carrier at ring end should already be infected and is skipped")
	}
	if out.State.Participants[2].Caps.Has(match.CapInfected) {
		t.Fatal("non-neighbor infected")
	}
	if got := out.State.Participants[1].TransmitRound; got != 3 {
		t.Fatalf("transmit round = %d, want 3", got)
	}
}

func TestCarrierVotedOutBeatsSabotage(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "carrier", "citizen", "citizen", "citizen")
	s.Match.Corruption = 9
	s.Match.CorruptionThreshold = 10

	out := run(t, cat, s,
		commit(1, 1, 1),
		ability(2, 2, catalog.AbilityVote, 1),
		ability(3, 3, catalog.AbilityVote, 1),
		ability(4, 4, catalog.AbilityVote, 2),
	)

	if out.State.Match.Corruption != 10 {
		t.Fatalf("corruption = %d", out.State.Match.Corruption)
	}
	want := verdict.Verdict{Ended: true, Winner: match.TeamTown, Reason: "carriers_eliminated"}
	if diff := cmp.Diff(want, out.Verdict); diff != "" {
		t.Fatalf("verdict (-want +got):\n%s", diff)
	}
	if out.State.Participants[0].Alive {
		t.Fatal("carrier still alive")
	}
	pub := auditlog.Split(out.Lines).Public
	wantKeys := []string{auditlog.KeyCommit, auditlog.KeyVoteOut, auditlog.KeyEliminated, auditlog.KeyVerdict}
	if diff := cmp.Diff(wantKeys, keys(pub)); diff != "" {
		t.Fatalf("public keys (-want +got):\n%s", diff)
	}
	if pub[1].Text != "participant 1 was voted out with 2 votes" {
		t.Fatalf("vote line = %q", pub[1].Text)
	}
}

func TestGuardBlocksLaterInfection(t *testing.T) {
	cat := defaultCatalog(t)

	t.Run("guard first", func(t *testing.T) {
		s := town(t, cat, "carrier", "guard", "citizen", "citizen")
		out := run(t, cat, s, ability(2, 1, catalog.AbilityGuard, 3), ability(1, 2, catalog.AbilityInfect, 3))
		if out.State.Participants[2].Caps.Has(match.CapInfected) {
			t.Fatal("guarded participant infected")
		}
		var blocked []auditlog.Line
		for _, l := range auditlog.Split(out.Lines).Privileged {
			if l.Key == auditlog.KeyInfectBlocked {
				blocked = append(blocked, l)
			}
		}
		if len(blocked) != 1 || blocked[0].Reason != auditlog.ReasonGuarded || !blocked[0].Cancelled {
			t.Fatalf("blocked = %+v", blocked)
		}
	})

	t.Run("infection first", func(t *testing.T) {
		s := town(t, cat, "carrier", "guard", "citizen", "citizen")
		out := run(t, cat, s, ability(1, 1, catalog.AbilityInfect, 3), ability(2, 2, catalog.AbilityGuard, 3))
		p := out.State.Participants[2]
		if !p.Caps.Has(match.CapInfected | match.CapContagious) {
			t.Fatalf("caps = %b", p.Caps)
		}
		if p.TransmitRound != 2 {
			t.Fatalf("transmit round = %d", p.TransmitRound)
		}
		if len(auditlog.Split(out.Lines).Public) != 0 {
			t.Fatal("infection leaked into the public stream")
		}
	})
}

func TestTestResultIsPrivateToTester(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "carrier", "medic", "citizen")

	out := run(t, cat, s, ability(2, 1, catalog.AbilityTest, 1))

	streams := auditlog.Split(out.Lines)
	if len(streams.Public) != 1 || streams.Public[0].Key != auditlog.KeyTest || streams.Public[0].Actor != 0 {
		t.Fatalf("public = %+v", streams.Public)
	}
	mine := streams.For(2)
	if len(mine) != 1 || mine[0].Text != "participant 1 tested positive" {
		t.Fatalf("private = %+v", mine)
	}
	if len(streams.For(3)) != 0 || len(streams.For(1)) != 0 {
		t.Fatal("test result visible to another participant")
	}
}

func TestVaccinationGrantsImmunity(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "carrier", "medic", "citizen")
	s.Inventory = []match.InventoryItem{{Owner: 2, Kind: "vaccine", Quantity: 1, UsableNow: true}}

	out := run(t, cat, s,
		ability(2, 1, catalog.AbilityVaccinate, 3),
		ability(1, 2, catalog.AbilityInfect, 3),
	)

	p := out.State.Participants[2]
	if !p.Caps.Has(match.CapImmune) || p.Caps.Has(match.CapInfected) {
		t.Fatalf("caps = %b", p.Caps)
	}
	if len(out.State.Inventory) != 0 {
		t.Fatalf("vaccine not consumed: %+v", out.State.Inventory)
	}
	notice := auditlog.Split(out.Lines).For(3)
	if len(notice) != 1 || notice[0].Key != auditlog.KeyVaccinated {
		t.Fatalf("notice = %+v", notice)
	}
}

func TestVaccinationWithoutVaccineIsSkipped(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "carrier", "medic", "citizen")

	out := run(t, cat, s, ability(2, 1, catalog.AbilityVaccinate, 3))

	if out.State.Participants[2].Caps.Has(match.CapImmune) {
		t.Fatal("immunity granted without a vaccine")
	}
	streams := auditlog.Split(out.Lines)
	if len(streams.Public) != 0 {
		t.Fatalf("public = %+v", streams.Public)
	}
	if diff := cmp.Diff([]string{auditlog.KeyMissingItem}, keys(streams.Privileged)); diff != "" {
		t.Fatalf("privileged (-want +got):\n%s", diff)
	}
}

func TestCommitClampsToTokens(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "carrier", "citizen")

	out := run(t, cat, s, commit(2, 1, 5), commit(1, 2, 2))

	if out.State.Match.Defense != 3 || out.State.Match.Corruption != 2 {
		t.Fatalf("defense=%d corruption=%d", out.State.Match.Defense, out.State.Match.Corruption)
	}
	if out.State.Participants[1].Tokens != 0 || out.State.Participants[0].Tokens != 1 {
		t.Fatalf("tokens = %d/%d", out.State.Participants[0].Tokens, out.State.Participants[1].Tokens)
	}
	priv := auditlog.Split(out.Lines).Privileged
	if priv[0].Key != auditlog.KeyCommitClamped {
		t.Fatalf("first privileged line = %+v", priv[0])
	}
}

func TestVoteTieBrokenBySeed(t *testing.T) {
	cat := defaultCatalog(t)
	tests := []struct {
		seed int64
		want int
	}{
		{seed: 0, want: 2},
		{seed: 1, want: 3},
		{seed: 7, want: 3},
	}
	for _, tt := range tests {
		s := town(t, cat, "citizen", "citizen", "citizen", "citizen", "carrier")
		s.Round.TieBreakSeed = tt.seed
		out := run(t, cat, s,
			ability(1, 1, catalog.AbilityVote, 2),
			ability(2, 2, catalog.AbilityVote, 3),
		)
		for _, p := range out.State.Participants {
			if p.Num == tt.want && p.Alive {
				t.Fatalf("seed %d: participant %d still alive", tt.seed, tt.want)
			}
			if p.Num != tt.want && !p.Alive {
				t.Fatalf("seed %d: participant %d eliminated", tt.seed, p.Num)
			}
		}
		if diff := cmp.Diff([]string{auditlog.KeyVoteCast, auditlog.KeyVoteCast, auditlog.KeyVoteTie}, keys(auditlog.Split(out.Lines).Privileged)); diff != "" {
			t.Fatalf("seed %d privileged (-want +got):\n%s", tt.seed, diff)
		}
	}
}

func TestVoteIsLastWriteWins(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "citizen", "citizen", "citizen", "carrier")

	out := run(t, cat, s,
		ability(1, 1, catalog.AbilityVote, 2),
		ability(1, 3, catalog.AbilityVote, 3),
	)
	if !out.State.Participants[1].Alive || out.State.Participants[2].Alive {
		t.Fatal("expected participant 3 voted out")
	}
}

func TestCombatActionsAreNotPermitted(t *testing.T) {
	cat := defaultCatalog(t)
	s := town(t, cat, "citizen", "carrier")

	out := run(t, cat, s, action.Action{Participant: 1, Priority: action.At(1), Kind: action.KindAttack, Attack: &action.Attack{Slot: 1}})
	if diff := cmp.Diff([]string{auditlog.KeyNotPermitted}, keys(auditlog.Split(out.Lines).Privileged)); diff != "" {
		t.Fatalf("privileged (-want +got):\n%s", diff)
	}
}

func TestPredicates(t *testing.T) {
	cat := defaultCatalog(t)
	base := func() match.State {
		s := town(t, cat, "carrier", "citizen", "citizen")
		s.Match.CorruptionThreshold = 10
		s.Match.DefenseThreshold = 10
		return s
	}
	tests := []struct {
		name   string
		mutate func(*match.State)
		want   verdict.Verdict
	}{
		{
			name:   "continuing",
			mutate: func(*match.State) {},
			want:   verdict.Continuing(),
		},
		{
			name:   "carriers eliminated",
			mutate: func(s *match.State) { s.Participants[0].Alive = false },
			want:   verdict.Verdict{Ended: true, Winner: match.TeamTown, Reason: "carriers_eliminated"},
		},
		{
			name:   "corruption only",
			mutate: func(s *match.State) { s.Match.Corruption = 10 },
			want:   verdict.Verdict{Ended: true, Winner: match.TeamCarrier, Reason: "sabotage"},
		},
		{
			name:   "defense only",
			mutate: func(s *match.State) { s.Match.Defense = 12 },
			want:   verdict.Verdict{Ended: true, Winner: match.TeamTown, Reason: "sabotage"},
		},
		{
			name: "both thresholds use tie break",
			mutate: func(s *match.State) {
				s.Match.Corruption, s.Match.Defense = 10, 10
				s.Match.SabotageTieBreak = match.TeamCarrier
			},
			want: verdict.Verdict{Ended: true, Winner: match.TeamCarrier, Reason: "sabotage"},
		},
		{
			name:   "both thresholds default to town",
			mutate: func(s *match.State) { s.Match.Corruption, s.Match.Defense = 10, 10 },
			want:   verdict.Verdict{Ended: true, Winner: match.TeamTown, Reason: "sabotage"},
		},
		{
			name: "town overrun",
			mutate: func(s *match.State) {
				s.Participants[1].Caps |= match.CapInfected
				s.Participants[2].Alive = false
			},
			want: verdict.Verdict{Ended: true, Winner: match.TeamCarrier, Reason: "town_overrun"},
		},
		{
			name: "round limit",
			mutate: func(s *match.State) {
				s.Match.RoundLimit = 3
				s.Round.Number = 3
			},
			want: verdict.Verdict{Ended: true, Winner: match.TeamTown, Reason: "round_limit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(&s)
			got := verdict.Evaluate(New().Predicates(), s)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("verdict (-want +got):\n%s", diff)
			}
		})
	}
}
