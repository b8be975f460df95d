package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertron10/xssed/internal/config"
	"github.com/cybertron10/xssed/internal/corpus"
	"github.com/cybertron10/xssed/internal/payloads"
	"github.com/cybertron10/xssed/internal/verifier"
	"github.com/cybertron10/xssed/internal/verifier/verifiertest"
	"github.com/cybertron10/xssed/internal/waf"
)

const imgPayload = "<img src=x onerror=alert(1)>"

func reflectingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body>results for %s</body></html>", r.URL.Query().Get("q"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(target string) config.Options {
	cfg := config.Default()
	cfg.Target = target
	cfg.WAFCheck = false
	cfg.Wayback = false
	cfg.Hold = 0
	cfg.Timeout = 5 * time.Second
	return cfg
}

func factoryFor(b verifier.Browser, calls *atomic.Int32) verifier.BrowserFactory {
	return func(context.Context) (verifier.Browser, error) {
		if calls != nil {
			calls.Add(1)
		}
		return b, nil
	}
}

func newTestScanner(t *testing.T, cfg config.Options, urls []string, list []string, opts ...Option) *Scanner {
	t.Helper()
	opts = append([]Option{
		WithPayloadCorpus(payloads.NewCorpus(payloads.WithCustomPayloads(list))),
		WithURLCollector(corpus.NewProvider(0, zerolog.Nop(), corpus.StaticSource(urls))),
	}, opts...)
	s, err := NewScanner(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestScan_EndToEnd(t *testing.T) {
	srv := reflectingServer(t)
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		return verifiertest.Page{Dialog: "alert"}
	}}
	s := newTestScanner(t, testConfig(srv.URL), []string{srv.URL + "/s?q=1"}, []string{imgPayload},
		WithBrowserFactory(factoryFor(b, nil)))

	res, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Found())
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 1, res.URLsCollected)
	assert.Equal(t, 1, res.TotalTested)
	assert.Equal(t, 1, res.Reflected)
	assert.Equal(t, 1, res.Verified)
	assert.Zero(t, res.FalsePositives)
	assert.Zero(t, res.Unverified)
	assert.False(t, res.EndTime.Before(res.StartTime))

	require.Len(t, res.Vulnerabilities, 1)
	v := res.Vulnerabilities[0]
	assert.Equal(t, "q", v.Parameter)
	assert.Equal(t, imgPayload, v.Payload)
	assert.Equal(t, srv.URL+"/s?q=1", v.OriginalURL)
	assert.Equal(t, payloads.ContextHTML, v.Context)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.NotEmpty(t, v.Reflection)
	require.Len(t, v.Evidence, 1)
	assert.Equal(t, verifier.EvidenceDialogTriggered, v.Evidence[0].Type)
	assert.True(t, b.Closed())
	assert.Equal(t, []string{v.URL}, b.Navigated())
}

func TestScan_FalsePositive(t *testing.T) {
	srv := reflectingServer(t)
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page { return verifiertest.Page{} }}
	s := newTestScanner(t, testConfig(srv.URL), []string{srv.URL + "/s?q=1"}, []string{imgPayload},
		WithBrowserFactory(factoryFor(b, nil)))

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, 1, res.Reflected)
	assert.Equal(t, 1, res.FalsePositives)
	assert.Empty(t, res.Vulnerabilities)
}

func TestScan_NoReflectionSkipsBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>nothing here</body></html>"))
	}))
	defer srv.Close()

	var calls atomic.Int32
	s := newTestScanner(t, testConfig(srv.URL), []string{srv.URL + "/s?q=1&page=2"}, []string{imgPayload},
		WithBrowserFactory(factoryFor(&verifiertest.Browser{}, &calls)))

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalTested)
	assert.Zero(t, res.Reflected)
	assert.Zero(t, calls.Load())
	assert.False(t, res.Found())
	assert.NotNil(t, res.Vulnerabilities)
}

func TestScan_EmptyCorpus(t *testing.T) {
	var calls atomic.Int32
	s := newTestScanner(t, testConfig("example.test"), nil, []string{imgPayload},
		WithBrowserFactory(factoryFor(&verifiertest.Browser{}, &calls)))

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.URLsCollected)
	assert.Zero(t, res.TotalTested)
	assert.Zero(t, calls.Load())
}

func TestScan_BrowserLaunchFailure(t *testing.T) {
	srv := reflectingServer(t)
	s := newTestScanner(t, testConfig(srv.URL), []string{srv.URL + "/s?q=1"}, []string{imgPayload, "<svg onload=alert(1)>"},
		WithBrowserFactory(func(context.Context) (verifier.Browser, error) {
			return nil, errors.New("no chromium installed")
		}))

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no chromium installed", res.VerificationError)
	assert.Equal(t, 2, res.Reflected)
	assert.Equal(t, 2, res.Unverified)
	assert.Zero(t, res.Verified)
	assert.False(t, res.Found())
}

func TestScan_InterruptedBeforeCollection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScanner(t, testConfig("example.test"), []string{"https://example.test/?q=1"}, []string{imgPayload},
		WithBrowserFactory(factoryFor(&verifiertest.Browser{}, nil)))

	res, err := s.Scan(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.False(t, res.EndTime.IsZero())
}

func TestScan_InterruptedDuringVerification(t *testing.T) {
	srv := reflectingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		cancel()
		return verifiertest.Page{Dialog: "alert"}
	}}
	s := newTestScanner(t, testConfig(srv.URL), []string{srv.URL + "/s?q=1"}, []string{imgPayload, "<svg onload=alert(1)>"},
		WithBrowserFactory(factoryFor(b, nil)))

	res, err := s.Scan(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 2, res.Reflected)
	assert.Equal(t, 1, res.Verified)
	assert.Equal(t, 1, res.Unverified)
	assert.True(t, res.Found())
	assert.True(t, b.Closed())
}

func TestScan_InterruptedNavigationIsUnverified(t *testing.T) {
	srv := reflectingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		cancel()
		return verifiertest.Page{NavigateErr: errors.New("net::ERR_ABORTED")}
	}}
	s := newTestScanner(t, testConfig(srv.URL), []string{srv.URL + "/s?q=1"}, []string{imgPayload},
		WithBrowserFactory(factoryFor(b, nil)))

	res, err := s.Scan(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 1, res.Reflected)
	assert.Equal(t, 1, res.Unverified)
	assert.Zero(t, res.FalsePositives)
	assert.False(t, res.Found())
}

type stubFingerprinter struct {
	target string
	result *waf.Result
	err    error
}

func (f *stubFingerprinter) Detect(_ context.Context, target string) (*waf.Result, error) {
	f.target = target
	return f.result, f.err
}

func TestScan_RecordsWAF(t *testing.T) {
	srv := reflectingServer(t)
	fp := &stubFingerprinter{result: &waf.Result{Detected: true, Type: "cloudflare", Name: "Cloudflare", Confidence: 0.8}}

	cfg := testConfig(srv.URL)
	cfg.WAFCheck = true
	s := newTestScanner(t, cfg, []string{srv.URL + "/s?q=1"}, []string{imgPayload},
		WithFingerprinter(fp),
		WithBrowserFactory(factoryFor(&verifiertest.Browser{}, nil)))

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.WAF)
	assert.Equal(t, "Cloudflare", res.WAF.Name)
	assert.Equal(t, srv.URL, fp.target)
}

func TestScan_WAFFailureIsNotFatal(t *testing.T) {
	srv := reflectingServer(t)
	fp := &stubFingerprinter{err: errors.New("baseline request failed")}

	cfg := testConfig(srv.URL)
	cfg.WAFCheck = true
	s := newTestScanner(t, cfg, []string{srv.URL + "/s?q=1"}, []string{imgPayload},
		WithFingerprinter(fp),
		WithBrowserFactory(factoryFor(&verifiertest.Browser{}, nil)))

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.WAF)
	assert.Equal(t, 1, res.Reflected)
}

func TestNewScanner_RejectsInvalidConfig(t *testing.T) {
	_, err := NewScanner(config.Default())
	assert.ErrorContains(t, err, "a target or a urls file is required")
}

func TestSeverityFor(t *testing.T) {
	cases := map[payloads.Context]Severity{
		payloads.ContextScript:    SeverityHigh,
		payloads.ContextHTML:      SeverityHigh,
		payloads.ContextAttribute: SeverityMedium,
		payloads.ContextURL:       SeverityMedium,
		payloads.ContextStyle:     SeverityLow,
		payloads.ContextGeneric:   SeverityMedium,
	}
	for ctx, want := range cases {
		assert.Equal(t, want, SeverityFor(ctx), ctx)
	}
}

func TestWAFTarget(t *testing.T) {
	assert.Equal(t, "https://example.test", wafTarget("example.test", nil))
	assert.Equal(t, "http://a.test:8080/", wafTarget("", []string{"http://a.test:8080/x?y=1"}))
	assert.Empty(t, wafTarget("", nil))
}

func TestDefaultCollector_Discovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html>%s</html>", r.URL.Query().Get("msg"))
	}))
	defer srv.Close()

	words := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(words, []byte("q\nmsg\n"), 0o644))
	cfg := testConfig(srv.URL)
	cfg.Discover = true
	cfg.Wordlist = words

	c, err := defaultCollector(cfg, zerolog.Nop())
	require.NoError(t, err)
	urls, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.True(t, strings.HasSuffix(urls[0], "?msg=1"), urls[0])
}

func TestDefaultCollector_EmptyWordlist(t *testing.T) {
	words := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(words, []byte("# none\n"), 0o644))
	cfg := testConfig("example.test")
	cfg.Discover = true
	cfg.Wordlist = words

	_, err := NewScanner(cfg, WithBrowserFactory(factoryFor(&verifiertest.Browser{}, nil)))
	assert.ErrorContains(t, err, "has no names")
}
