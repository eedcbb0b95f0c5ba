package verdict

import (
	"testing"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
)

func TestEvaluateFirstTrueWins(t *testing.T) {
	always := func(match.State) bool { return true }
	never := func(match.State) bool { return false }
	preds := []Predicate{
		When("first", "a", never),
		When("second", "b", always),
		When("third", "c", always),
	}
	v := Evaluate(preds, match.State{})
	if !v.Ended || v.Winner != "b" || v.Reason != "second" {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestEvaluateContinuing(t *testing.T) {
	v := Evaluate([]Predicate{When("never", "a", func(match.State) bool { return false })}, match.State{})
	if v != Continuing() {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestApply(t *testing.T) {
	m := match.Match{Phase: match.PhaseRunning}
	Apply(&m, Continuing())
	if m.Phase != match.PhaseRunning {
		t.Fatal("continuing must not end the match")
	}
	Apply(&m, Verdict{Ended: true, Winner: "town", Reason: "carriers_eliminated"})
	if m.Phase != match.PhaseEnded || m.Winner != "town" {
		t.Fatalf("match = %+v", m)
	}
	Apply(&m, Verdict{Ended: true, Winner: "carrier", Reason: "x"})
	if m.Winner != "town" {
		t.Fatal("ended match must not change winner")
	}
}

func TestRoundLimitReached(t *testing.T) {
	s := match.State{Match: match.Match{RoundLimit: 3}, Round: match.Round{Number: 3}}
	if !RoundLimitReached(s) {
		t.Fatal("expected limit reached")
	}
	s.Match.RoundLimit = 0
	if RoundLimitReached(s) {
		t.Fatal("zero limit is unlimited")
	}
}
