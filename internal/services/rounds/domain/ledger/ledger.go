// Package ledger consumes single-use items from a state snapshot's
// inventory.
package ledger

import (
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
)

// Outcome of a consumption attempt.
type Outcome int

const (
	// Consumed means one unit was removed.
	Consumed Outcome = iota + 1
	// NotFound means the owner holds no usable unit. Resolution continues.
	NotFound
	// Exempt means the item is permanent and was not decremented.
	Exempt
)

func (o Outcome) String() string {
	switch o {
	case Consumed:
		return "consumed"
	case NotFound:
		return "not_found"
	case Exempt:
		return "exempt"
	default:
		return "unknown"
	}
}

// Change is one inventory delta applied during a pass.
type Change struct {
	Owner int    `json:"owner"`
	Kind  string `json:"kind"`
	Delta int    `json:"delta"`
}

// Ledger wraps the inventory of one snapshot.
type Ledger struct {
	state   *match.State
	catalog *catalog.Catalog
	changes []Change
}

// New returns a ledger over state.
func New(state *match.State, cat *catalog.Catalog) *Ledger {
	return &Ledger{state: state, catalog: cat}
}

// Consume removes one unit of kind from owner. Rows reaching zero are
// deleted. An item kind missing from the catalog is a catalog
// inconsistency and is returned as an error.
func (l *Ledger) Consume(owner int, kind string) (Outcome, error) {
	item, err := l.catalog.Item(kind)
	if err != nil {
		return 0, err
	}
	if item.Permanent {
		return Exempt, nil
	}
	inv := l.state.Inventory
	for i := range inv {
		if inv[i].Owner != owner || inv[i].Kind != kind || inv[i].Quantity <= 0 || !inv[i].UsableNow {
			continue
		}
		inv[i].Quantity--
		if inv[i].Quantity == 0 {
			l.state.Inventory = append(inv[:i], inv[i+1:]...)
		}
		l.changes = append(l.changes, Change{Owner: owner, Kind: kind, Delta: -1})
		return Consumed, nil
	}
	return NotFound, nil
}

// Holds reports whether owner has a usable unit of kind or kind is permanent.
func Holds(state match.State, cat *catalog.Catalog, owner int, kind string) bool {
	item, err := cat.Item(kind)
	if err != nil {
		return false
	}
	if item.Permanent {
		return true
	}
	for _, row := range state.Inventory {
		if row.Owner == owner && row.Kind == kind && row.Quantity > 0 && row.UsableNow {
			return true
		}
	}
	return false
}

// Changes returns the deltas applied so far.
func (l *Ledger) Changes() []Change {
	return append([]Change(nil), l.changes...)
}
