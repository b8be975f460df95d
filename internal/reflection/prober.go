package reflection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cybertron10/xssed/internal/metrics"
	"github.com/cybertron10/xssed/internal/testplan"
)

// Candidate is a test case whose payload was reflected
type Candidate struct {
	testplan.TestCase `yaml:",inline"`
	Evidence []Evidence `json:"reflection_evidence" yaml:"reflection_evidence"`
}

// Outcome is the result of probing a single test case
type Outcome struct {
	Reflected bool
	Blocked   bool
	Skipped   bool
	Evidence  []Evidence
	Err       error
}

// Stats summarises one probing phase
type Stats struct {
	Total     int `json:"total"`
	Batches   int `json:"batches"`
	Requests  int `json:"requests"`
	Skipped   int `json:"skipped"`
	Blocked   int `json:"blocked"`
	Reflected int `json:"reflected"`
	Errors    int `json:"errors"`
}

// Prober sends test cases over plain HTTP and keeps the ones whose payload
// comes back in the response.
type Prober struct {
	concurrency int
	timeout     time.Duration
	limiter     *rate.Limiter
	blocked     *BlockedDomains
	metrics     *metrics.Metrics
	log         zerolog.Logger
	newClient   func(time.Duration) *http.Client
}

// Option configures a Prober
type Option func(*Prober)

// WithConcurrency sets the batch size
func WithConcurrency(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRateLimit caps the request rate across all probes. Zero disables it.
func WithRateLimit(perSecond float64) Option {
	return func(p *Prober) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger sets the prober logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *Prober) {
		p.log = l
	}
}

// WithMetrics records probe outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Prober) {
		p.metrics = m
	}
}

// WithHTTPClientFactory overrides how the phase client is built
func WithHTTPClientFactory(fn func(time.Duration) *http.Client) Option {
	return func(p *Prober) {
		if fn != nil {
			p.newClient = fn
		}
	}
}

// NewProber creates a prober that records blocks into blocked
func NewProber(blocked *BlockedDomains, opts ...Option) *Prober {
	if blocked == nil {
		blocked = NewBlockedDomains()
	}
	p := &Prober{
		concurrency: 10,
		timeout:     15 * time.Second,
		blocked:     blocked,
		log:         zerolog.Nop(),
		newClient:   NewHTTPClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Blocked returns the prober's blocked-domain set
func (p *Prober) Blocked() *BlockedDomains {
	return p.blocked
}

// Probe runs cases in fixed batches of size concurrency. Every probe of a
// batch finishes before the next batch starts. The returned candidates keep
// input order. On cancellation the candidates found so far are returned
// together with the context error.
func (p *Prober) Probe(ctx context.Context, cases []testplan.TestCase) ([]Candidate, Stats, error) {
	stats := Stats{Total: len(cases)}
	if len(cases) == 0 {
		return nil, stats, nil
	}

	client := p.newClient(p.timeout)
	defer client.CloseIdleConnections()

	outcomes := make([]Outcome, len(cases))
	batches := chunk(len(cases), p.concurrency)
	var requests atomic.Int64

	var runErr error
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		p.log.Debug().Int("batch", i+1).Int("of", len(batches)).Msg("probing batch")

		var g errgroup.Group
		for idx := b.start; idx < b.end; idx++ {
			idx := idx
			g.Go(func() error {
				outcomes[idx] = p.safeCheck(ctx, client, cases[idx], &requests)
				return nil
			})
		}
		_ = g.Wait()
		stats.Batches++
		p.metrics.Batch()
	}

	var candidates []Candidate
	for i, o := range outcomes {
		switch {
		case o.Skipped:
			stats.Skipped++
		case o.Blocked:
			stats.Blocked++
		case o.Err != nil:
			stats.Errors++
		case o.Reflected:
			stats.Reflected++
			candidates = append(candidates, Candidate{TestCase: cases[i], Evidence: o.Evidence})
		}
	}
	stats.Requests = int(requests.Load())

	p.log.Info().
		Int("tested", stats.Total).
		Int("reflected", stats.Reflected).
		Int("blocked", stats.Blocked).
		Int("skipped", stats.Skipped).
		Int("batches", stats.Batches).
		Msg("reflection phase complete")

	return candidates, stats, runErr
}

// safeCheck runs check and turns a panic into a logged, non-reflected outcome
func (p *Prober) safeCheck(ctx context.Context, client *http.Client, tc testplan.TestCase, requests *atomic.Int64) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("url", tc.TestURL).Msg("recovered from probe panic")
			out = Outcome{Err: fmt.Errorf("probe panic: %v", r)}
		}
	}()
	return p.check(ctx, client, tc, requests)
}

// check probes a single test case, counting sent requests in requests
func (p *Prober) check(ctx context.Context, client *http.Client, tc testplan.TestCase, requests *atomic.Int64) Outcome {
	u, err := url.Parse(tc.TestURL)
	if err != nil {
		p.log.Warn().Err(err).Str("url", tc.TestURL).Msg("reflection check error")
		p.metrics.Probe("error", 0)
		return Outcome{Err: err}
	}
	if isScriptResource(u.Path) {
		p.metrics.Probe("skipped", 0)
		return Outcome{Skipped: true}
	}
	domain := u.Host
	if p.blocked.Contains(domain) {
		p.metrics.Probe("skipped", 0)
		return Outcome{Skipped: true}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Outcome{}
		}
	}

	started := time.Now()
	requests.Add(1)
	resp, body, err := fetch(ctx, client, tc.TestURL)
	if err != nil {
		if isTransient(err) {
			p.log.Debug().Err(err).Str("url", tc.TestURL).Msg("probe failed")
			p.metrics.Probe("network_error", time.Since(started))
			return Outcome{}
		}
		p.log.Warn().Err(err).Str("url", tc.TestURL).Msg("reflection check error")
		p.metrics.Probe("error", time.Since(started))
		return Outcome{Err: err}
	}

	lowerBody := strings.ToLower(body)
	if isBlocked(resp.StatusCode, lowerBody) {
		if p.blocked.Add(domain) {
			p.log.Warn().Str("domain", domain).Int("status", resp.StatusCode).Msg("domain blocked, skipping remaining tests")
			p.metrics.BlockedDomain()
		}
		p.metrics.Probe("blocked", time.Since(started))
		return Outcome{Blocked: true}
	}

	var out Outcome
	if ev, ok := matchBody(body, tc.Payload); ok {
		out.Reflected = true
		out.Evidence = append(out.Evidence, ev)
	}
	if ev, ok := matchHeaders(resp.Header, tc.Payload); ok {
		out.Reflected = true
		out.Evidence = append(out.Evidence, ev)
	}
	if !out.Reflected {
		if ev, ok := matchDangerous(lowerBody); ok {
			out.Reflected = true
			out.Evidence = append(out.Evidence, ev)
		}
	}

	outcome := "clean"
	if out.Reflected {
		outcome = "reflected"
		p.log.Debug().Str("url", tc.TestURL).Str("param", tc.Parameter).Msg("payload reflected")
	}
	p.metrics.Probe(outcome, time.Since(started))
	return out
}

// isScriptResource reports whether any path segment names a .js file
func isScriptResource(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if strings.HasSuffix(strings.ToLower(seg), ".js") {
			return true
		}
	}
	return false
}

// isTransient reports timeouts and connection level failures
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type span struct{ start, end int }

// chunk splits n items into consecutive spans of at most size
func chunk(n, size int) []span {
	if size < 1 {
		size = 1
	}
	var spans []span
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		spans = append(spans, span{i, end})
	}
	return spans
}
