// Package scanner runs a scan: URL intake, optional WAF fingerprinting,
// test-plan expansion, reflection probing and browser verification.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cybertron10/xssed/internal/config"
	"github.com/cybertron10/xssed/internal/corpus"
	"github.com/cybertron10/xssed/internal/crawler"
	"github.com/cybertron10/xssed/internal/headless"
	"github.com/cybertron10/xssed/internal/logger"
	"github.com/cybertron10/xssed/internal/metrics"
	"github.com/cybertron10/xssed/internal/paramsmapper"
	"github.com/cybertron10/xssed/internal/payloads"
	"github.com/cybertron10/xssed/internal/reflection"
	"github.com/cybertron10/xssed/internal/testplan"
	"github.com/cybertron10/xssed/internal/verifier"
	"github.com/cybertron10/xssed/internal/waf"
)

// ErrInterrupted is returned when the scan context is cancelled. The
// partial result is returned alongside it.
var ErrInterrupted = errors.New("scan interrupted")

// URLCollector supplies the parameterized URLs to test
type URLCollector interface {
	Collect(ctx context.Context) ([]string, error)
}

// Fingerprinter identifies a WAF in front of a target
type Fingerprinter interface {
	Detect(ctx context.Context, target string) (*waf.Result, error)
}

// Scanner runs scans for one configuration
type Scanner struct {
	cfg        config.Options
	payloads   *payloads.Corpus
	urls       URLCollector
	waf        Fingerprinter
	newBrowser verifier.BrowserFactory
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Scanner
type Option func(*Scanner)

// WithPayloadCorpus replaces the payload corpus built from the config
func WithPayloadCorpus(c *payloads.Corpus) Option {
	return func(s *Scanner) { s.payloads = c }
}

// WithURLCollector replaces the URL sources built from the config
func WithURLCollector(c URLCollector) Option {
	return func(s *Scanner) { s.urls = c }
}

// WithFingerprinter replaces the WAF detector
func WithFingerprinter(f Fingerprinter) Option {
	return func(s *Scanner) { s.waf = f }
}

// WithBrowserFactory replaces the browser launcher
func WithBrowserFactory(f verifier.BrowserFactory) Option {
	return func(s *Scanner) { s.newBrowser = f }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// WithMetrics records scan metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// NewScanner validates cfg and wires the default collaborators for anything
// not supplied through opts
func NewScanner(cfg config.Options, opts ...Option) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scanner{
		cfg: cfg,
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.payloads == nil {
		c, err := loadPayloads(cfg.PayloadFile)
		if err != nil {
			return nil, err
		}
		s.payloads = c
	}
	if s.urls == nil {
		c, err := defaultCollector(cfg, s.log)
		if err != nil {
			return nil, err
		}
		s.urls = c
	}
	if s.waf == nil && cfg.WAFCheck {
		s.waf = waf.NewDetector(cfg.Timeout, waf.WithLogger(logger.Component(s.log, "waf")))
	}
	if s.newBrowser == nil {
		f, err := headless.Factory(cfg.Engine, logger.Component(s.log, "browser"))
		if err != nil {
			return nil, err
		}
		s.newBrowser = f
	}
	return s, nil
}

func loadPayloads(path string) (*payloads.Corpus, error) {
	if path == "" {
		return payloads.NewCorpus(), nil
	}
	custom, err := payloads.LoadCustomPayloads(path)
	if err != nil {
		return nil, fmt.Errorf("load payloads: %w", err)
	}
	return payloads.NewCorpus(payloads.WithCustomPayloads(custom)), nil
}

// defaultCollector builds the URL sources the configuration enables
func defaultCollector(cfg config.Options, log zerolog.Logger) (URLCollector, error) {
	clog := logger.Component(log, "corpus")
	var sources []corpus.Source
	if cfg.URLsFile != "" {
		sources = append(sources, corpus.FileSource{Path: cfg.URLsFile, Log: clog})
	}
	if cfg.Target != "" {
		if strings.Contains(cfg.Target, "?") {
			sources = append(sources, corpus.StaticSource{corpus.SeedOf(cfg.Target)})
		}
		if cfg.Wayback {
			sources = append(sources, corpus.WaybackSource{
				Domain: corpus.HostOf(cfg.Target),
				Limit:  cfg.MaxURLs,
				Log:    clog,
			})
		}
		if cfg.Harvest {
			sources = append(sources, corpus.HarvestSource{
				Seed: corpus.SeedOf(cfg.Target),
				Crawler: crawler.New(
					crawler.WithDepth(cfg.HarvestDepth),
					crawler.WithWorkers(cfg.Concurrency),
					crawler.WithLogger(logger.Component(log, "crawler")),
				),
			})
		}
		if cfg.Discover {
			opts := []paramsmapper.Option{
				paramsmapper.WithWorkers(cfg.Concurrency),
				paramsmapper.WithLogger(logger.Component(log, "paramsmapper")),
			}
			if cfg.Wordlist != "" {
				names, err := paramsmapper.LoadWordlist(cfg.Wordlist)
				if err != nil {
					return nil, err
				}
				opts = append(opts, paramsmapper.WithWordlist(names))
			}
			sources = append(sources, corpus.DiscoverySource{
				Seed:   corpus.SeedOf(cfg.Target),
				Mapper: paramsmapper.New(cfg.Timeout, opts...),
				Log:    clog,
			})
		}
	}
	return corpus.NewProvider(cfg.MaxURLs, clog, sources...), nil
}

// Scan runs every phase once. A scan without URLs or without reflections
// finishes early with a nil error. Cancellation returns ErrInterrupted with
// whatever was gathered so far.
func (s *Scanner) Scan(ctx context.Context) (res *ScanResult, err error) {
	res = &ScanResult{
		ID:              uuid.NewString(),
		Target:          s.cfg.Target,
		StartTime:       s.now(),
		Vulnerabilities: []Vulnerability{},
	}
	defer func() { res.EndTime = s.now() }()
	log := s.log.With().Str("scan", res.ID).Logger()

	log.Info().Msg("collecting urls")
	urls, err := s.urls.Collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, interrupted(ctx)
		}
		log.Warn().Err(err).Msg("no urls to test, scan complete")
		return res, nil
	}
	res.URLsCollected = len(urls)
	log.Info().Int("urls", len(urls)).Msg("found unique urls with parameters")

	if s.cfg.WAFCheck && s.waf != nil {
		s.fingerprint(ctx, log, res, urls)
		if ctx.Err() != nil {
			return res, interrupted(ctx)
		}
	}

	gen := testplan.NewGenerator(s.payloads, s.generatorOptions(log)...)
	cases := gen.Expand(urls)
	res.TotalTested = len(cases)
	log.Info().Int("test_cases", len(cases)).Msg("testing reflection")

	blocked := reflection.NewBlockedDomains()
	prober := reflection.NewProber(blocked,
		reflection.WithConcurrency(s.cfg.Concurrency),
		reflection.WithTimeout(s.cfg.Timeout),
		reflection.WithRateLimit(s.cfg.RateLimit),
		reflection.WithLogger(logger.Component(log, "prober")),
		reflection.WithMetrics(s.metrics),
	)
	candidates, stats, err := prober.Probe(ctx, cases)
	res.Reflected = len(candidates)
	res.Blocked = stats.Blocked
	res.Skipped = stats.Skipped
	res.BlockedDomains = blocked.List()
	s.metrics.Candidates(len(candidates))
	if err != nil {
		return res, interrupted(ctx)
	}

	if len(candidates) == 0 {
		log.Info().Msg("no reflections found, scan complete")
		return res, nil
	}

	log.Info().Int("candidates", len(candidates)).Msg("verifying execution")
	return res, s.verify(ctx, log, res, candidates)
}

func (s *Scanner) generatorOptions(log zerolog.Logger) []testplan.Option {
	opts := []testplan.Option{testplan.WithLogger(logger.Component(log, "testplan"))}
	if ms := s.cfg.ParsedMutations(); len(ms) > 0 {
		opts = append(opts, testplan.WithMutations(ms...))
	}
	if s.cfg.WAFBypass != "" {
		opts = append(opts, testplan.WithBypassVendor(s.cfg.WAFBypass))
	}
	return opts
}

// fingerprint records the WAF result. Failures are only logged.
func (s *Scanner) fingerprint(ctx context.Context, log zerolog.Logger, res *ScanResult, urls []string) {
	target := wafTarget(s.cfg.Target, urls)
	if target == "" {
		return
	}
	log.Info().Str("target", target).Msg("detecting WAF protection")
	w, err := s.waf.Detect(ctx, target)
	if err != nil {
		log.Warn().Err(err).Msg("WAF detection failed")
		return
	}
	res.WAF = w
	if w.Detected {
		log.Warn().Str("waf", w.Name).Float64("confidence", w.Confidence).Msg("WAF detected")
	} else {
		log.Info().Msg("no WAF detected")
	}
}

// verify launches the browser and turns executed candidates into
// vulnerabilities. A launch failure is recorded on res, not returned.
func (s *Scanner) verify(ctx context.Context, log zerolog.Logger, res *ScanResult, candidates []reflection.Candidate) error {
	log.Info().Str("engine", s.cfg.Engine).Msg("initializing browser for execution verification")
	browser, err := s.newBrowser(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		log.Error().Err(err).Msg("browser launch failed")
		res.VerificationError = err.Error()
		res.Unverified = len(candidates)
		return nil
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.Debug().Err(err).Msg("browser close failed")
		}
	}()

	opts := []verifier.Option{
		verifier.WithTimeout(s.cfg.Timeout),
		verifier.WithHold(s.cfg.Hold),
		verifier.WithConcurrency(s.cfg.VerifyConcurrency),
		verifier.WithLogger(logger.Component(log, "verifier")),
		verifier.WithMetrics(s.metrics),
	}
	if s.cfg.Screenshots {
		opts = append(opts, verifier.WithScreenshots(s.cfg.ScreenshotDir))
	}
	v, err := verifier.New(browser, opts...)
	if err != nil {
		res.VerificationError = err.Error()
		res.Unverified = len(candidates)
		return nil
	}

	results, verr := v.VerifyAll(ctx, candidates)
	for i, r := range results {
		c := candidates[i]
		switch {
		case r == nil:
			res.Unverified++
		case r.Executed:
			res.Vulnerabilities = append(res.Vulnerabilities, Vulnerability{
				URL:         c.TestURL,
				OriginalURL: c.OriginalURL,
				Parameter:   c.Parameter,
				Payload:     c.Payload,
				Context:     c.Context,
				Reflection:  c.Evidence,
				Evidence:    r.Evidence,
				Screenshot:  r.Screenshot,
				Severity:    SeverityFor(c.Context),
				VerifiedAt:  s.now(),
			})
			log.Warn().
				Str("param", c.Parameter).
				Str("url", c.OriginalURL).
				Str("payload", c.Payload).
				Msg("verified XSS")
		default:
			res.FalsePositives++
		}
	}
	res.Verified = len(res.Vulnerabilities)
	log.Info().
		Int("confirmed", res.Verified).
		Int("false_positives", res.FalsePositives).
		Msg("execution verification complete")

	if verr != nil {
		return interrupted(ctx)
	}
	return nil
}

func interrupted(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}
	return ErrInterrupted
}

// wafTarget picks the URL to fingerprint: the configured target, or the
// origin of the first collected URL
func wafTarget(target string, urls []string) string {
	if target != "" {
		return corpus.SeedOf(target)
	}
	if len(urls) == 0 {
		return ""
	}
	u, err := url.Parse(urls[0])
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
