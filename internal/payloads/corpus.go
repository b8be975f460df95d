package payloads

import (
	"sort"
	"strings"
)

// Context is the injection context a payload is designed for
type Context string

const (
	ContextScript    Context = "script"
	ContextHTML      Context = "html"
	ContextAttribute Context = "attribute"
	ContextURL       Context = "url"
	ContextStyle     Context = "style"
	ContextGeneric   Context = "generic"
)

// Contexts lists every context in a stable order
var Contexts = []Context{
	ContextScript,
	ContextHTML,
	ContextAttribute,
	ContextURL,
	ContextStyle,
	ContextGeneric,
}

// Valid reports whether c is one of the known contexts
func (c Context) Valid() bool {
	for _, known := range Contexts {
		if c == known {
			return true
		}
	}
	return false
}

// Entry is a single payload tagged with its intended context
type Entry struct {
	Text    string  `json:"text" yaml:"text"`
	Context Context `json:"context" yaml:"context"`
}

// Corpus answers payload lookups. It is immutable after construction and
// safe for concurrent use.
type Corpus struct {
	tables map[Context][]string
	bypass map[string]map[Context][]string
	custom []string
}

// Option configures a Corpus
type Option func(*Corpus)

// WithCustomPayloads replaces every context table with the given list
func WithCustomPayloads(list []string) Option {
	return func(c *Corpus) {
		if len(list) == 0 {
			return
		}
		c.custom = append([]string(nil), list...)
	}
}

// NewCorpus builds a corpus from the built-in tables
func NewCorpus(opts ...Option) *Corpus {
	c := &Corpus{
		tables: defaultPayloads,
		bypass: bypassPayloads,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasCustom reports whether a custom payload list overrides the built-ins
func (c *Corpus) HasCustom() bool {
	return len(c.custom) > 0
}

// PayloadsFor returns the payloads for ctx in table order. An unknown context
// falls back to the generic table. A custom list wins for every context.
func (c *Corpus) PayloadsFor(ctx Context) []Entry {
	if c.HasCustom() {
		return entries(c.custom, ctx)
	}
	list, ok := c.tables[ctx]
	if !ok {
		list = c.tables[ContextGeneric]
	}
	return entries(list, ctx)
}

// BypassPayloadsFor returns vendor specific payloads for ctx. Lookup order is
// the vendor's table for ctx, the vendor's generic table, then PayloadsFor.
func (c *Corpus) BypassPayloadsFor(vendor string, ctx Context) []Entry {
	if c.HasCustom() {
		return entries(c.custom, ctx)
	}
	vendorTables, ok := c.bypass[normalizeVendor(vendor)]
	if !ok {
		return c.PayloadsFor(ctx)
	}
	if list, ok := vendorTables[ctx]; ok {
		return entries(list, ctx)
	}
	if list, ok := vendorTables[ContextGeneric]; ok {
		return entries(list, ctx)
	}
	return c.PayloadsFor(ctx)
}

// Vendors returns the vendors that have bypass tables, sorted
func (c *Corpus) Vendors() []string {
	out := make([]string, 0, len(c.bypass))
	for v := range c.bypass {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func normalizeVendor(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "-", "_")
	return v
}

func entries(list []string, ctx Context) []Entry {
	out := make([]Entry, len(list))
	for i, p := range list {
		out[i] = Entry{Text: p, Context: ctx}
	}
	return out
}
