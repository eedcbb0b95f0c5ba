// Package verdict evaluates terminal predicates once a round has settled.
package verdict

import "github.com/louisbranch/partyround/internal/services/rounds/domain/match"

// Verdict is Continuing (Ended false) or Ended with a winner.
type Verdict struct {
	Ended  bool   `json:"ended"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Continuing is the verdict of a match that accepts further rounds.
func Continuing() Verdict {
	return Verdict{}
}

// Predicate is one terminal condition. Decide returns the winner when the
// condition holds.
type Predicate struct {
	Name   string
	Decide func(match.State) (winner string, ok bool)
}

// When builds a predicate with a fixed winner.
func When(name, winner string, cond func(match.State) bool) Predicate {
	return Predicate{
		Name: name,
		Decide: func(s match.State) (string, bool) {
			if cond(s) {
				return winner, true
			}
			return "", false
		},
	}
}

// Evaluate returns the verdict of the first predicate that holds, in slice
// order.
func Evaluate(preds []Predicate, s match.State) Verdict {
	for _, p := range preds {
		if winner, ok := p.Decide(s); ok {
			return Verdict{Ended: true, Winner: winner, Reason: p.Name}
		}
	}
	return Continuing()
}

// Apply moves the match to Ended when v says so. It never reopens a match.
func Apply(m *match.Match, v Verdict) {
	if !v.Ended || m.Phase == match.PhaseEnded {
		return
	}
	m.Phase = match.PhaseEnded
	m.Winner = v.Winner
	m.EndReason = v.Reason
}

// RoundLimitReached is shared by both bundled rulesets.
func RoundLimitReached(s match.State) bool {
	return s.Match.RoundLimit > 0 && s.Round.Number >= s.Match.RoundLimit
}
