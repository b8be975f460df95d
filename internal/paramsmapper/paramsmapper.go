// Package paramsmapper finds query parameters a page accepts but never links
// to. Candidate names are sent in chunks carrying unique tokens; chunks that
// change the response are bisected down to the responsible names.
package paramsmapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cybertron10/xssed/internal/parser"
	"github.com/cybertron10/xssed/internal/reflection"
	"github.com/cybertron10/xssed/internal/waf"
)

const (
	numBaselines = 3
	// baselines less alike than this make the page too dynamic to map
	minBaselineSimilarity = 0.9
	similarityMargin      = 0.05
	maxBodySize           = 2 << 20
	tokenPrefix           = "xsd"
)

// Result is the outcome of mapping one URL
type Result struct {
	URL         string   `json:"url"`
	Params      []string `json:"params"`
	FormParams  []string `json:"form_params"`
	Requests    int      `json:"total_requests"`
	Aborted     bool     `json:"aborted"`
	AbortReason string   `json:"abort_reason,omitempty"`
}

// URLs returns the mapped URL with every discovered parameter appended, or
// nothing when no parameter was found
func (r Result) URLs() []string {
	if r.Aborted || len(r.Params) == 0 {
		return nil
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil
	}
	q := u.Query()
	for _, p := range r.Params {
		if !q.Has(p) {
			q.Set(p, "1")
		}
	}
	u.RawQuery = q.Encode()
	return []string{u.String()}
}

// Mapper discovers hidden parameters
type Mapper struct {
	client    *http.Client
	wordlist  []string
	chunkSize int
	workers   int
	maxParams int
	parser    *parser.HTMLParser
	log       zerolog.Logger
}

// Option configures a Mapper
type Option func(*Mapper)

// WithClient overrides the HTTP client
func WithClient(c *http.Client) Option {
	return func(m *Mapper) { m.client = c }
}

// WithWordlist replaces the built-in candidate names
func WithWordlist(names []string) Option {
	return func(m *Mapper) {
		if len(names) > 0 {
			m.wordlist = names
		}
	}
}

// WithChunkSize sets how many names are sent per request
func WithChunkSize(n int) Option {
	return func(m *Mapper) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithWorkers bounds concurrent requests
func WithWorkers(n int) Option {
	return func(m *Mapper) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithMaxParams aborts mapping when more names than this respond. Pages that
// react to everything would otherwise flood the test plan.
func WithMaxParams(n int) Option {
	return func(m *Mapper) {
		if n > 0 {
			m.maxParams = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Mapper) { m.log = l }
}

// New creates a Mapper
func New(timeout time.Duration, opts ...Option) *Mapper {
	m := &Mapper{
		client:    reflection.NewHTTPClient(timeout),
		wordlist:  DefaultWordlist,
		chunkSize: 100,
		workers:   10,
		maxParams: 10,
		parser:    parser.NewHTMLParser(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type response struct {
	status      int
	body        string
	reflections int
}

type baseline struct {
	first    response
	sameBody bool
	// lowest similarity between the first baseline and the others
	floor float64
}

func (b baseline) consistent(others []response) bool {
	for _, r := range others {
		if r.status != b.first.status {
			return false
		}
	}
	return b.floor >= minBaselineSimilarity
}

// changed reports whether r differs from the baseline enough to attribute
// the difference to the parameters sent
func (b baseline) changed(r response) bool {
	if r.status != b.first.status || r.reflections > 0 {
		return true
	}
	if b.sameBody {
		return r.body != b.first.body
	}
	return waf.Similarity(b.first.body, r.body) < b.floor-similarityMargin
}

// run holds the state of one Discover call
type run struct {
	m        *Mapper
	target   *url.URL
	requests atomic.Int64
}

// Discover maps target. Names come from the wordlist, the page's form
// fields and the parameters used by links on the page.
func (m *Mapper) Discover(ctx context.Context, target string) (res Result, err error) {
	res = Result{URL: target}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return res, fmt.Errorf("invalid target %q", target)
	}
	r := &run{m: m, target: u}
	defer func() { res.Requests = int(r.requests.Load()) }()

	responses := make([]response, 0, numBaselines)
	for range numBaselines {
		resp, err := r.send(ctx, nil)
		if err != nil {
			return res, fmt.Errorf("baseline request: %w", err)
		}
		responses = append(responses, resp)
	}
	base := newBaseline(responses)
	if !base.consistent(responses[1:]) {
		m.log.Warn().Str("url", target).Float64("similarity", base.floor).Msg("baseline responses differ significantly, page too dynamic to map")
		res.Aborted = true
		res.AbortReason = "baseline responses differ significantly"
		return res, nil
	}

	res.FormParams = m.parser.ExtractFormParameters(base.first.body)
	var linked []string
	if page, err := m.parser.Parse(base.first.body, u); err == nil {
		linked = ParamNames(page.Links, page.FormURLs, page.ScriptURLs)
	}
	names := Candidates(u.Query(), m.wordlist, res.FormParams, linked)
	m.log.Debug().Str("url", target).Int("candidates", len(names)).Int("form_params", len(res.FormParams)).Msg("mapping parameters")

	chunks := chunk(names, m.chunkSize)
	live := make([]bool, len(chunks))
	g := new(errgroup.Group)
	g.SetLimit(m.workers)
	for i, c := range chunks {
		g.Go(func() error {
			resp, err := r.send(ctx, c)
			live[i] = err == nil && base.changed(resp)
			return nil
		})
	}
	_ = g.Wait()

	var (
		mu    sync.Mutex
		found []string
	)
	g = new(errgroup.Group)
	g.SetLimit(m.workers)
	for i, c := range chunks {
		if !live[i] {
			continue
		}
		g.Go(func() error {
			params := r.bisect(ctx, base, c)
			mu.Lock()
			found = append(found, params...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	slices.Sort(found)
	found = slices.Compact(found)
	if len(found) > m.maxParams {
		m.log.Warn().Str("url", target).Int("discovered", len(found)).Msg("too many parameters responded, likely false positive")
		res.Aborted = true
		res.AbortReason = fmt.Sprintf("%d parameters responded, limit is %d", len(found), m.maxParams)
		return res, nil
	}
	res.Params = found
	for _, p := range found {
		m.log.Info().Str("url", target).Str("param", p).Msg("hidden parameter discovered")
	}
	return res, nil
}

func newBaseline(responses []response) baseline {
	b := baseline{first: responses[0], sameBody: true, floor: 1}
	for _, r := range responses[1:] {
		if r.body != b.first.body {
			b.sameBody = false
		}
		b.floor = min(b.floor, waf.Similarity(b.first.body, r.body))
	}
	return b
}

// bisect narrows a responsive chunk down to the names that change the
// response on their own
func (r *run) bisect(ctx context.Context, base baseline, params []string) []string {
	if ctx.Err() != nil {
		return nil
	}
	if len(params) == 1 {
		return params
	}
	mid := len(params) / 2
	var out []string
	for _, half := range [][]string{params[:mid], params[mid:]} {
		resp, err := r.send(ctx, half)
		if err != nil || !base.changed(resp) {
			continue
		}
		out = append(out, r.bisect(ctx, base, half)...)
	}
	return out
}

// send requests the target with a fresh token for each name added to its
// existing query
func (r *run) send(ctx context.Context, names []string) (response, error) {
	u := *r.target
	q := u.Query()
	tokens := make([]string, 0, len(names))
	for _, name := range names {
		tok := scopedToken(name)
		q.Add(name, tok)
		tokens = append(tokens, tok)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("User-Agent", reflection.UserAgent)

	r.requests.Add(1)
	resp, err := r.m.client.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.m.log.Debug().Err(err).Str("url", u.String()).Msg("mapping request failed")
		}
		return response{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return response{}, err
	}

	out := response{status: resp.StatusCode, body: string(raw)}
	for _, tok := range tokens {
		if strings.Contains(out.body, tok) {
			out.reflections++
		}
	}
	return out, nil
}

// scopedToken embeds the sanitized name so a reflection can be attributed
// to the parameter that caused it
func scopedToken(name string) string {
	s := sanitizeName(name)
	if s == "" {
		s = "p"
	}
	return tokenPrefix + s + randomString(8)
}

// sanitizeName keeps up to 32 ASCII letters and digits
func sanitizeName(name string) string {
	const maxLen = 32
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= maxLen {
				break
			}
		}
	}
	return b.String()
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

func chunk(names []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(names); i += size {
		out = append(out, names[i:min(i+size, len(names))])
	}
	return out
}
