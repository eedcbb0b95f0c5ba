// Package catalog holds the static reference data a resolution consults:
// items and their effects, monster templates, role templates and abilities.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
)

// ErrInconsistent marks a reference to data the catalog does not define.
// During resolution it is fatal and must not be retried without a data fix.
var ErrInconsistent = errors.New("catalog inconsistency")

// Shape describes how an item's effect lands.
type Shape string

const (
	ShapeSingle    Shape = "single"
	ShapeArea      Shape = "area"
	ShapeDelayed   Shape = "delayed"
	ShapeRecurring Shape = "recurring"
)

// EffectSpec is the damage an item deals.
type EffectSpec struct {
	Shape     Shape `yaml:"shape"`
	Magnitude int   `yaml:"magnitude"`
	// Area lists the slots hit by area, delayed or recurring effects. An
	// area effect with no list hits every slot.
	Area []int `yaml:"area,omitempty"`
	// Delay is the number of ticks before a delayed or recurring effect
	// first fires.
	Delay int `yaml:"delay,omitempty"`
	// Period is the number of ticks between recurring fires.
	Period int `yaml:"period,omitempty"`
	// Cycles caps how many times a recurring effect fires.
	Cycles            int  `yaml:"cycles,omitempty"`
	IgnoresProtection bool `yaml:"ignores_protection,omitempty"`
}

// IsArea reports whether the effect targets a slot set rather than the
// attacked slot.
func (e EffectSpec) IsArea() bool {
	return e.Shape == ShapeArea || len(e.Area) > 0
}

// Pending reports whether the effect is scheduled instead of applied.
func (e EffectSpec) Pending() bool {
	return e.Shape == ShapeDelayed || e.Shape == ShapeRecurring
}

// ProtectionSpec makes an item usable with a protect action.
type ProtectionSpec struct {
	Reflect bool `yaml:"reflect,omitempty"`
}

// Item is an inventory kind. Non-permanent items are consumed on use.
type Item struct {
	Kind       string          `yaml:"kind"`
	Name       string          `yaml:"name"`
	Permanent  bool            `yaml:"permanent,omitempty"`
	Effect     *EffectSpec     `yaml:"effect,omitempty"`
	Protection *ProtectionSpec `yaml:"protection,omitempty"`
}

// MonsterTemplate seeds entity instances on the board.
type MonsterTemplate struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	MaxHealth int    `yaml:"max_health"`
	Reward    int    `yaml:"reward"`
}

// Instance creates a fresh entity from the template.
func (m MonsterTemplate) Instance(status match.EntityStatus) match.Entity {
	return match.Entity{
		TemplateID: m.ID,
		Name:       m.Name,
		Health:     m.MaxHealth,
		MaxHealth:  m.MaxHealth,
		Reward:     m.Reward,
		Status:     status,
	}
}

// Ability kinds understood by the bundled rulesets.
const (
	AbilityInfect    = "infect"
	AbilityTest      = "test"
	AbilityVaccinate = "vaccinate"
	AbilityGuard     = "guard"
	AbilityVote      = "vote"
	AbilityMend      = "mend"
)

// AbilitySpec describes one castable role ability.
type AbilitySpec struct {
	Kind      string `yaml:"kind"`
	Targeted  bool   `yaml:"targeted,omitempty"`
	Consumes  string `yaml:"consumes,omitempty"`
	Magnitude int    `yaml:"magnitude,omitempty"`
}

// RoleTemplate seeds participants at match start.
type RoleTemplate struct {
	Code           string   `yaml:"code"`
	Ruleset        string   `yaml:"ruleset"`
	Team           string   `yaml:"team"`
	MaxHealth      int      `yaml:"max_health"`
	StartingTokens int      `yaml:"starting_tokens,omitempty"`
	Abilities      []string `yaml:"abilities,omitempty"`
	Capabilities   []string `yaml:"capabilities,omitempty"`
}

// Permits reports whether the role may cast ability.
func (r RoleTemplate) Permits(ability string) bool {
	for _, a := range r.Abilities {
		if a == ability {
			return true
		}
	}
	return false
}

// Caps converts capability names to flags. Unknown names are rejected by
// Validate before this is ever called.
func (r RoleTemplate) Caps() match.Capability {
	var caps match.Capability
	for _, name := range r.Capabilities {
		caps |= capabilityNames[name]
	}
	return caps
}

var capabilityNames = map[string]match.Capability{
	"immune":     match.CapImmune,
	"contagious": match.CapContagious,
	"infected":   match.CapInfected,
}

type file struct {
	DefaultWeapon string            `yaml:"default_weapon"`
	Items         []Item            `yaml:"items"`
	Monsters      []MonsterTemplate `yaml:"monsters"`
	Roles         []RoleTemplate    `yaml:"roles"`
	Abilities     []AbilitySpec     `yaml:"abilities"`
}

// Catalog is immutable after Parse and safe for concurrent readers.
type Catalog struct {
	defaultWeapon string
	items         map[string]Item
	monsters      map[string]MonsterTemplate
	roles         map[string]RoleTemplate
	abilities     map[string]AbilitySpec
}

//go:embed default.yaml
var defaultYAML []byte

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load parses the catalog at path within fsys.
func Load(fsys fs.FS, path string) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c := &Catalog{
		defaultWeapon: strings.TrimSpace(f.DefaultWeapon),
		items:         make(map[string]Item, len(f.Items)),
		monsters:      make(map[string]MonsterTemplate, len(f.Monsters)),
		roles:         make(map[string]RoleTemplate, len(f.Roles)),
		abilities:     make(map[string]AbilitySpec, len(f.Abilities)),
	}
	for _, it := range f.Items {
		if _, dup := c.items[it.Kind]; dup {
			return nil, fmt.Errorf("catalog: duplicate item %q", it.Kind)
		}
		c.items[it.Kind] = it
	}
	for _, m := range f.Monsters {
		if _, dup := c.monsters[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate monster %q", m.ID)
		}
		c.monsters[m.ID] = m
	}
	for _, r := range f.Roles {
		if _, dup := c.roles[r.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate role %q", r.Code)
		}
		c.roles[r.Code] = r
	}
	for _, a := range f.Abilities {
		if _, dup := c.abilities[a.Kind]; dup {
			return nil, fmt.Errorf("catalog: duplicate ability %q", a.Kind)
		}
		c.abilities[a.Kind] = a
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross references between catalog sections.
func (c *Catalog) Validate() error {
	weapon, ok := c.items[c.defaultWeapon]
	if !ok {
		return fmt.Errorf("catalog: default weapon %q is not an item", c.defaultWeapon)
	}
	if !weapon.Permanent || weapon.Effect == nil {
		return fmt.Errorf("catalog: default weapon %q must be permanent and deal damage", c.defaultWeapon)
	}
	for _, kind := range sortedKeys(c.items) {
		if err := validateItem(c.items[kind]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(c.monsters) {
		if m := c.monsters[id]; m.MaxHealth <= 0 || m.Reward < 0 {
			return fmt.Errorf("catalog: monster %q needs positive health and non-negative reward", id)
		}
	}
	for _, kind := range sortedKeys(c.abilities) {
		a := c.abilities[kind]
		if a.Consumes != "" {
			if _, ok := c.items[a.Consumes]; !ok {
				return fmt.Errorf("catalog: ability %q consumes unknown item %q", kind, a.Consumes)
			}
		}
		if a.Magnitude < 0 {
			return fmt.Errorf("catalog: ability %q magnitude must not be negative", kind)
		}
	}
	for _, code := range sortedKeys(c.roles) {
		r := c.roles[code]
		if !match.Ruleset(r.Ruleset).Valid() {
			return fmt.Errorf("catalog: role %q has unknown ruleset %q", code, r.Ruleset)
		}
		if strings.TrimSpace(r.Team) == "" {
			return fmt.Errorf("catalog: role %q needs a team", code)
		}
		if r.MaxHealth <= 0 || r.StartingTokens < 0 {
			return fmt.Errorf("catalog: role %q needs positive health and non-negative tokens", code)
		}
		for _, a := range r.Abilities {
			if _, ok := c.abilities[a]; !ok {
				return fmt.Errorf("catalog: role %q names unknown ability %q", code, a)
			}
		}
		for _, name := range r.Capabilities {
			if _, ok := capabilityNames[name]; !ok {
				return fmt.Errorf("catalog: role %q names unknown capability %q", code, name)
			}
		}
	}
	return nil
}

func validateItem(it Item) error {
	if it.Effect == nil {
		return nil
	}
	e := it.Effect
	if e.Magnitude < 0 {
		return fmt.Errorf("catalog: item %q magnitude must not be negative", it.Kind)
	}
	for _, slot := range e.Area {
		if slot <= 0 {
			return fmt.Errorf("catalog: item %q area slot %d out of range", it.Kind, slot)
		}
	}
	switch e.Shape {
	case ShapeSingle, ShapeArea:
	case ShapeDelayed:
		if e.Delay <= 0 {
			return fmt.Errorf("catalog: delayed item %q needs a positive delay", it.Kind)
		}
	case ShapeRecurring:
		if e.Delay <= 0 || e.Period <= 0 || e.Cycles <= 0 {
			return fmt.Errorf("catalog: recurring item %q needs positive delay, period and cycles", it.Kind)
		}
	default:
		return fmt.Errorf("catalog: item %q has unknown shape %q", it.Kind, e.Shape)
	}
	return nil
}

// DefaultWeapon returns the permanent weapon used when an attack names none.
func (c *Catalog) DefaultWeapon() Item {
	return c.items[c.defaultWeapon]
}

// HasItem reports whether kind is a catalog item.
func (c *Catalog) HasItem(kind string) bool {
	_, ok := c.items[kind]
	return ok
}

// Item returns the item for kind or an ErrInconsistent error.
func (c *Catalog) Item(kind string) (Item, error) {
	it, ok := c.items[kind]
	if !ok {
		return Item{}, fmt.Errorf("%w: item %q", ErrInconsistent, kind)
	}
	return it, nil
}

// Monster returns the template for id or an ErrInconsistent error.
func (c *Catalog) Monster(id string) (MonsterTemplate, error) {
	m, ok := c.monsters[id]
	if !ok {
		return MonsterTemplate{}, fmt.Errorf("%w: monster %q", ErrInconsistent, id)
	}
	return m, nil
}

// Role returns the template for code or an ErrInconsistent error.
func (c *Catalog) Role(code string) (RoleTemplate, error) {
	r, ok := c.roles[code]
	if !ok {
		return RoleTemplate{}, fmt.Errorf("%w: role %q", ErrInconsistent, code)
	}
	return r, nil
}

// Ability returns the spec for kind or an ErrInconsistent error.
func (c *Catalog) Ability(kind string) (AbilitySpec, error) {
	a, ok := c.abilities[kind]
	if !ok {
		return AbilitySpec{}, fmt.Errorf("%w: ability %q", ErrInconsistent, kind)
	}
	return a, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
