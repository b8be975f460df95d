package testplan

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/cybertron10/xssed/internal/payloads"
)

// keyword groups are checked in order; the first group with a substring
// match decides the context
var contextKeywords = []struct {
	context  payloads.Context
	keywords []string
}{
	{payloads.ContextURL, []string{"url", "redirect", "link", "href"}},
	{payloads.ContextStyle, []string{"style", "css", "color"}},
	{payloads.ContextAttribute, []string{"id", "class", "name", "data"}},
	{payloads.ContextScript, []string{"callback", "jsonp", "js"}},
}

// Classify maps a parameter name to its likely injection context
func Classify(param string) payloads.Context {
	lower := strings.ToLower(param)
	for _, group := range contextKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.context
			}
		}
	}
	return payloads.ContextHTML
}

// TestCase is one payload injected into one parameter of one URL
type TestCase struct {
	OriginalURL string           `json:"original_url" yaml:"original_url"`
	TestURL     string           `json:"url" yaml:"url"`
	Parameter   string           `json:"parameter" yaml:"parameter"`
	Payload     string           `json:"payload" yaml:"payload"`
	Context     payloads.Context `json:"context" yaml:"context"`
}

// Generator expands URLs into test cases
type Generator struct {
	corpus       *payloads.Corpus
	mutations    []payloads.Mutation
	bypassVendor string
	log          zerolog.Logger
}

// Option configures a Generator
type Option func(*Generator)

// WithMutations appends mutated variants of every payload
func WithMutations(ms ...payloads.Mutation) Option {
	return func(g *Generator) {
		for _, m := range ms {
			if m != payloads.MutationIdentity {
				g.mutations = append(g.mutations, m)
			}
		}
	}
}

// WithBypassVendor appends the vendor's bypass payloads after the regular ones
func WithBypassVendor(vendor string) Option {
	return func(g *Generator) {
		g.bypassVendor = vendor
	}
}

// WithLogger sets the generator logger
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) {
		g.log = l
	}
}

// NewGenerator creates a generator backed by corpus
func NewGenerator(corpus *payloads.Corpus, opts ...Option) *Generator {
	g := &Generator{corpus: corpus, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// payloadsFor returns the corpus payloads for ctx followed by any opted-in
// extras (bypass payloads, mutated variants) not already present.
func (g *Generator) payloadsFor(ctx payloads.Context) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range g.corpus.PayloadsFor(ctx) {
		out = append(out, e.Text)
		seen[e.Text] = true
	}
	base := append([]string(nil), out...)
	if g.bypassVendor != "" && !g.corpus.HasCustom() {
		for _, e := range g.corpus.BypassPayloadsFor(g.bypassVendor, ctx) {
			if !seen[e.Text] {
				seen[e.Text] = true
				out = append(out, e.Text)
				base = append(base, e.Text)
			}
		}
	}
	if len(g.mutations) == 0 {
		return out
	}
	for _, p := range base {
		for _, v := range payloads.Variants(p, g.mutations)[1:] {
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Expand produces one TestCase per URL, parameter and payload, in input
// order. URLs that cannot be parsed are skipped.
func (g *Generator) Expand(urls []string) []TestCase {
	var cases []TestCase
	cache := map[payloads.Context][]string{}

	for _, rawURL := range urls {
		params, err := ExtractParameters(rawURL)
		if err != nil {
			g.log.Warn().Err(err).Str("url", rawURL).Msg("skipping malformed url")
			continue
		}
		for _, p := range params {
			ctx := Classify(p.Name)
			list, ok := cache[ctx]
			if !ok {
				list = g.payloadsFor(ctx)
				cache[ctx] = list
			}
			for _, payload := range list {
				testURL, err := InjectPayload(rawURL, p.Name, payload)
				if err != nil {
					g.log.Warn().Err(err).Str("url", rawURL).Msg("payload injection failed")
					continue
				}
				cases = append(cases, TestCase{
					OriginalURL: rawURL,
					TestURL:     testURL,
					Parameter:   p.Name,
					Payload:     payload,
					Context:     ctx,
				})
			}
		}
	}

	g.log.Debug().Int("urls", len(urls)).Int("cases", len(cases)).Msg("test plan generated")
	return cases
}
