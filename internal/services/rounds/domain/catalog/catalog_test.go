package catalog

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}
	if got := c.DefaultWeapon().Kind; got != "fists" {
		t.Fatalf("default weapon = %q", got)
	}
	miasma, err := c.Item("miasma")
	if err != nil {
		t.Fatalf("miasma: %v", err)
	}
	if !miasma.Effect.IsArea() || !miasma.Effect.Pending() {
		t.Fatal("expected miasma to be a pending area effect")
	}
	carrier, err := c.Role("carrier")
	if err != nil {
		t.Fatalf("carrier: %v", err)
	}
	if !carrier.Permits(AbilityInfect) || carrier.Permits(AbilityTest) {
		t.Fatal("unexpected carrier abilities")
	}
	if !carrier.Caps().Has(match.CapInfected) {
		t.Fatal("expected carrier to start infected")
	}
}

func TestLookupMissesAreInconsistencies(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}
	if _, err := c.Item("laser"); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("item miss = %v", err)
	}
	if _, err := c.Monster("dragon"); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("monster miss = %v", err)
	}
	if _, err := c.Role("wizard"); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("role miss = %v", err)
	}
	if _, err := c.Ability("teleport"); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("ability miss = %v", err)
	}
	if c.HasItem("laser") {
		t.Fatal("unexpected item")
	}
}

func TestMonsterInstance(t *testing.T) {
	e := MonsterTemplate{ID: "rat", Name: "Rat", MaxHealth: 5, Reward: 1}.Instance(match.EntityQueued)
	if e.Health != 5 || e.MaxHealth != 5 || e.Status != match.EntityQueued || e.TemplateID != "rat" {
		t.Fatalf("instance = %+v", e)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	base := "default_weapon: fists\nitems:\n  - {kind: fists, name: Fists, permanent: true, effect: {shape: single, magnitude: 1}}\n"
	tests := []struct {
		name string
		yaml string
	}{
		{"missing default weapon", "default_weapon: claws\nitems: []\n"},
		{"consumable default weapon", "default_weapon: fists\nitems:\n  - {kind: fists, effect: {shape: single, magnitude: 1}}\n"},
		{"duplicate item", base + "  - {kind: fists, permanent: true, effect: {shape: single, magnitude: 1}}\n"},
		{"unknown shape", base + "  - {kind: orb, effect: {shape: spiral, magnitude: 1}}\n"},
		{"delayed without delay", base + "  - {kind: fuse, effect: {shape: delayed, magnitude: 1}}\n"},
		{"recurring without cycles", base + "  - {kind: rot, effect: {shape: recurring, magnitude: 1, delay: 1, period: 1}}\n"},
		{"negative magnitude", base + "  - {kind: dud, effect: {shape: single, magnitude: -1}}\n"},
		{"bad monster", base + "monsters:\n  - {id: ghost, name: Ghost, max_health: 0}\n"},
		{"ability consumes unknown item", base + "abilities:\n  - {kind: mend, consumes: salve}\n"},
		{"role unknown ability", base + "roles:\n  - {code: mage, ruleset: skirmish, team: party, max_health: 3, abilities: [blink]}\n"},
		{"role unknown ruleset", base + "roles:\n  - {code: mage, ruleset: chess, team: party, max_health: 3}\n"},
		{"role unknown capability", base + "roles:\n  - {code: mage, ruleset: skirmish, team: party, max_health: 3, capabilities: [flying]}\n"},
		{"malformed yaml", "items: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestLoadFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"catalog.yaml": {Data: defaultYAML},
	}
	if _, err := Load(fsys, "catalog.yaml"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := Load(fsys, "missing.yaml"); err == nil {
		t.Fatal("expected missing file error")
	}
}
