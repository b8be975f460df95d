// Package corpus collects the parameterized URLs a scan starts from.
package corpus

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cybertron10/xssed/internal/testplan"
)

// ErrNoURLs is returned when no source produced a usable URL
var ErrNoURLs = errors.New("no parameterized urls collected")

// Source yields candidate URLs
type Source interface {
	Name() string
	URLs(ctx context.Context) ([]string, error)
}

// Provider merges sources into a filtered, deduplicated, capped list
type Provider struct {
	sources []Source
	maxURLs int
	log     zerolog.Logger
}

// NewProvider creates a provider. maxURLs <= 0 disables the cap.
func NewProvider(maxURLs int, log zerolog.Logger, sources ...Source) *Provider {
	return &Provider{sources: sources, maxURLs: maxURLs, log: log}
}

// Collect queries every source in order. A failing source is logged and
// skipped unless ctx is done. The result keeps the first URL of every
// structure and is truncated to the cap.
func (p *Provider) Collect(ctx context.Context) ([]string, error) {
	var all []string
	for _, src := range p.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		urls, err := src.URLs(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.log.Warn().Err(err).Str("source", src.Name()).Msg("url source failed")
			continue
		}
		p.log.Info().Str("source", src.Name()).Int("urls", len(urls)).Msg("collected urls")
		all = append(all, urls...)
	}

	unique := Deduplicate(Filter(all))
	if p.maxURLs > 0 && len(unique) > p.maxURLs {
		unique = unique[:p.maxURLs]
	}
	if len(unique) == 0 {
		return nil, ErrNoURLs
	}
	p.log.Info().Int("urls", len(unique)).Msg("url corpus ready")
	return unique, nil
}

// Filter keeps absolute http(s) URLs that carry at least one parameter
func Filter(urls []string) []string {
	var out []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		if !strings.Contains(u, "?") || !strings.Contains(u, "=") {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Deduplicate keeps the first URL of each host, path and parameter-name set
func Deduplicate(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var out []string
	for _, u := range urls {
		sig, ok := Signature(u)
		if !ok || seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, u)
	}
	return out
}

// Signature describes the structure of u ignoring parameter values and order
func Signature(u string) (string, bool) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", false
	}
	params, err := testplan.ExtractParameters(u)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return parsed.Host + parsed.Path + "?" + strings.Join(names, ","), true
}

// HostOf returns the bare host of a target given as a domain or a URL
func HostOf(target string) string {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			return u.Hostname()
		}
	}
	target = strings.TrimSuffix(target, "/")
	if i := strings.IndexAny(target, "/?"); i >= 0 {
		target = target[:i]
	}
	return target
}

// SeedOf returns an absolute URL for a target given as a domain or a URL
func SeedOf(target string) string {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return "https://" + target
}
