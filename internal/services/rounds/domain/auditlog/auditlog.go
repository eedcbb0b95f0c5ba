// Package auditlog records resolution output as lines tagged with their
// audience when they are created.
package auditlog

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	i18ncatalog "github.com/louisbranch/partyround/internal/platform/i18n/catalog"
)

// Visibility is the audience of one line.
type Visibility string

const (
	// Public lines are shown to everyone and never carry hidden information.
	Public Visibility = "public"
	// Privileged lines are shown to hosts and moderators.
	Privileged Visibility = "privileged"
	// Private lines are addressed to exactly one participant.
	Private Visibility = "private"
)

// Line is one rendered audit entry.
type Line struct {
	Seq        int        `json:"seq"`
	Visibility Visibility `json:"visibility"`
	Recipient  int        `json:"recipient,omitempty"`
	Key        string     `json:"key"`
	Args       []string   `json:"args,omitempty"`
	Text       string     `json:"text"`
	Actor      int        `json:"actor,omitempty"`
	Damage     int        `json:"damage,omitempty"`
	Cancelled  bool       `json:"cancelled,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Slot       *int       `json:"slot,omitempty"`
	Target     *int       `json:"target,omitempty"`
	Role       string     `json:"role,omitempty"`
}

// Entry is the payload of a public or private line. It has no fields for
// slots, targets or roles.
type Entry struct {
	Key       string
	Args      []string
	Actor     int
	Damage    int
	Cancelled bool
	Reason    string
}

// Detail is the payload of a privileged line.
type Detail struct {
	Entry
	Slot   int
	Target int
	Role   string
}

// Renderer turns a message key and its arguments into text.
type Renderer interface {
	Render(key string, args ...string) string
}

// Emitter accumulates lines for one resolution pass.
type Emitter struct {
	renderer Renderer
	lines    []Line
}

// NewEmitter returns an emitter rendering with r.
func NewEmitter(r Renderer) *Emitter {
	if r == nil {
		r = NewRenderer(i18ncatalog.BaseLocale)
	}
	return &Emitter{renderer: r}
}

// Public appends a line for every audience.
func (e *Emitter) Public(en Entry) {
	e.append(Public, 0, en, 0, 0, "")
}

// Privileged appends a host and moderator line.
func (e *Emitter) Privileged(d Detail) {
	e.append(Privileged, 0, d.Entry, d.Slot, d.Target, d.Role)
}

// Private appends a line only recipient may read.
func (e *Emitter) Private(recipient int, en Entry) {
	e.append(Private, recipient, en, 0, 0, "")
}

func (e *Emitter) append(v Visibility, recipient int, en Entry, slot, target int, role string) {
	line := Line{
		Seq:        len(e.lines) + 1,
		Visibility: v,
		Recipient:  recipient,
		Key:        en.Key,
		Args:       append([]string(nil), en.Args...),
		Text:       e.renderer.Render(en.Key, en.Args...),
		Actor:      en.Actor,
		Damage:     en.Damage,
		Cancelled:  en.Cancelled,
		Reason:     en.Reason,
		Role:       role,
	}
	if slot > 0 {
		line.Slot = &slot
	}
	if target > 0 {
		line.Target = &target
	}
	e.lines = append(e.lines, line)
}

// Lines returns a copy of every line in emission order.
func (e *Emitter) Lines() []Line {
	return append([]Line(nil), e.lines...)
}

// Streams holds the three disjoint views of one resolution.
type Streams struct {
	Public     []Line `json:"public"`
	Privileged []Line `json:"privileged"`
	Private    []Line `json:"private"`
}

// Split partitions lines by visibility, preserving order.
func Split(lines []Line) Streams {
	var s Streams
	for _, l := range lines {
		switch l.Visibility {
		case Public:
			s.Public = append(s.Public, l)
		case Privileged:
			s.Privileged = append(s.Privileged, l)
		case Private:
			s.Private = append(s.Private, l)
		}
	}
	return s
}

// Moderator interleaves public and privileged lines by sequence.
func (s Streams) Moderator() []Line {
	out := make([]Line, 0, len(s.Public)+len(s.Privileged))
	out = append(out, s.Public...)
	out = append(out, s.Privileged...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// For returns the private lines addressed to recipient.
func (s Streams) For(recipient int) []Line {
	var out []Line
	for _, l := range s.Private {
		if l.Recipient == recipient {
			out = append(out, l)
		}
	}
	return out
}

// MessageRenderer renders keys through x/text/message using the embedded
// message catalog.
type MessageRenderer struct {
	locale  string
	printer *message.Printer
	bundle  *i18ncatalog.Bundle
}

// NewRenderer returns a renderer for locale, falling back to en-US.
func NewRenderer(locale string) *MessageRenderer {
	bundle := i18ncatalog.Default()
	if !bundle.HasLocale(locale) {
		locale = i18ncatalog.BaseLocale
	}
	return &MessageRenderer{
		locale:  locale,
		printer: message.NewPrinter(language.Make(locale)),
		bundle:  bundle,
	}
}

// Render formats key with args. Unknown keys render as the key followed by
// the arguments so nothing is silently dropped.
func (r *MessageRenderer) Render(key string, args ...string) string {
	if _, ok := r.bundle.Message(r.locale, key); !ok {
		if len(args) == 0 {
			return key
		}
		return key + " " + strings.Join(args, " ")
	}
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = a
	}
	return r.printer.Sprintf(key, values...)
}

// Itoa is shorthand for line arguments.
func Itoa(n int) string {
	return strconv.Itoa(n)
}

// Ints joins numbers for line arguments, e.g. "1,2,3".
func Ints(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
