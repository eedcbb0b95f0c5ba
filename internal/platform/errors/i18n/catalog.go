// Package i18n renders localized messages for platform error codes.
package i18n

import (
	"strings"
	"sync"
	"text/template"

	i18ncatalog "github.com/louisbranch/partyround/internal/platform/i18n/catalog"
)

const namespace = "errors"

// Catalog holds the parsed message templates of one locale. Templates that
// fail to parse render as their source text.
type Catalog struct {
	locale    string
	templates map[string]*template.Template
	sources   map[string]string
}

// catalogs caches one *Catalog per resolved locale.
var catalogs sync.Map

// GetCatalog returns the catalog for locale, falling back to the base
// locale when it has no messages.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = i18ncatalog.BaseLocale
	}
	if c, ok := catalogs.Load(requested); ok {
		return c.(*Catalog)
	}

	resolved, messages := i18ncatalog.Default().NamespaceMessagesWithFallback(requested, namespace)
	c, _ := catalogs.LoadOrStore(resolved, NewCatalog(resolved, trimNamespace(messages)))
	if resolved != requested {
		catalogs.LoadOrStore(requested, c)
	}
	return c.(*Catalog)
}

// NewCatalog parses messages, keyed by error code, for locale.
func NewCatalog(locale string, messages map[string]string) *Catalog {
	c := &Catalog{
		locale:    locale,
		templates: make(map[string]*template.Template, len(messages)),
		sources:   make(map[string]string, len(messages)),
	}
	for code, text := range messages {
		c.sources[code] = text
		if t, err := template.New(code).Option("missingkey=zero").Parse(text); err == nil {
			c.templates[code] = t
		}
	}
	return c
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message for code with metadata. Unknown codes render as
// the code itself; a template that fails to execute renders as its source.
func (c *Catalog) Format(code string, metadata map[string]string) string {
	source, ok := c.sources[code]
	if !ok {
		return code
	}
	t, ok := c.templates[code]
	if !ok {
		return source
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var b strings.Builder
	if err := t.Execute(&b, metadata); err != nil {
		return source
	}
	return b.String()
}

func trimNamespace(messages map[string]string) map[string]string {
	out := make(map[string]string, len(messages))
	for key, value := range messages {
		out[strings.TrimPrefix(key, namespace+".")] = value
	}
	return out
}
