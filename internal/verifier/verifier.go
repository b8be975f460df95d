package verifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/cybertron10/xssed/internal/metrics"
	"github.com/cybertron10/xssed/internal/reflection"
)

// EvidenceType classifies execution evidence
type EvidenceType string

const (
	EvidenceJavaScriptExecution EvidenceType = "javascript_execution"
	EvidenceDialogTriggered     EvidenceType = "dialog_triggered"
	EvidenceConsoleLog          EvidenceType = "console_log"
	EvidenceDOMInjection        EvidenceType = "dom_injection"
	EvidencePageError           EvidenceType = "page_error"
	EvidenceError               EvidenceType = "error"
)

// Evidence is one observation made in the browser
type Evidence struct {
	Type    EvidenceType `json:"type" yaml:"type"`
	Method  string       `json:"method,omitempty" yaml:"method,omitempty"`
	Details string       `json:"details" yaml:"details"`
}

// Result is the verdict for one candidate
type Result struct {
	Executed   bool       `json:"executed"`
	Evidence   []Evidence `json:"evidence"`
	Screenshot string     `json:"screenshot,omitempty"`
}

// Verifier loads reflected candidates in a real browser and decides
// whether the payload executed
type Verifier struct {
	browser       Browser
	timeout       time.Duration
	hold          time.Duration
	concurrency   int
	screenshots   bool
	screenshotDir string
	log           zerolog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithTimeout sets the navigation timeout
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithHold sets how long to wait after DOMContentLoaded for scripts to run
func WithHold(d time.Duration) Option {
	return func(v *Verifier) {
		if d >= 0 {
			v.hold = d
		}
	}
}

// WithConcurrency sets the number of sessions verified at once
func WithConcurrency(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithScreenshots enables screenshots of confirmed executions into dir
func WithScreenshots(dir string) Option {
	return func(v *Verifier) {
		v.screenshots = true
		if dir != "" {
			v.screenshotDir = dir
		}
	}
}

// WithLogger sets the verifier logger
func WithLogger(l zerolog.Logger) Option {
	return func(v *Verifier) {
		v.log = l
	}
}

// WithMetrics records verdicts
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// New creates a verifier on an already launched browser
func New(browser Browser, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		browser:       browser,
		timeout:       15 * time.Second,
		hold:          2 * time.Second,
		concurrency:   1,
		screenshotDir: "xss_screenshots",
		log:           zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.screenshots {
		if err := os.MkdirAll(v.screenshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("create screenshot dir: %w", err)
		}
	}
	return v, nil
}

// VerifyAll verifies candidates with at most concurrency sessions open.
// Results are indexed like candidates; an entry is nil when the candidate
// was not attempted, or was cut short without executing, because ctx was
// cancelled.
func (v *Verifier) VerifyAll(ctx context.Context, candidates []reflection.Candidate) ([]*Result, error) {
	results := make([]*Result, len(candidates))
	sem := semaphore.NewWeighted(int64(v.concurrency))

	var wg sync.WaitGroup
	for i := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			r := v.Verify(ctx, candidates[i])
			if ctx.Err() != nil && !r.Executed {
				v.log.Debug().Str("url", candidates[i].TestURL).Msg("verification cut short by cancellation")
				return
			}
			results[i] = &r
			v.log.Info().
				Int("n", i+1).
				Int("of", len(candidates)).
				Bool("executed", r.Executed).
				Str("param", candidates[i].Parameter).
				Msg("verified candidate")
		}(i)
	}
	wg.Wait()

	return results, ctx.Err()
}

// Verify runs the execution protocol for one candidate. It never returns an
// error: unexpected failures become error evidence.
func (v *Verifier) Verify(ctx context.Context, c reflection.Candidate) (res Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			v.log.Error().Interface("panic", r).Str("url", c.TestURL).Msg("recovered from verification panic")
			res = Result{Evidence: []Evidence{{Type: EvidenceError, Details: fmt.Sprint(r)}}}
		}
		v.metrics.Verdict(res.Executed, time.Since(started))
	}()

	sess, err := v.browser.NewSession(ctx)
	if err != nil {
		return v.unexpected(res, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			v.log.Debug().Err(err).Msg("session close failed")
		}
	}()

	var (
		mu          sync.Mutex
		dialogFired bool
		dialogType  string
		consoleLogs []string
	)
	sess.OnDialog(func(t string) {
		mu.Lock()
		defer mu.Unlock()
		if !dialogFired {
			dialogFired = true
			dialogType = t
		}
	})
	sess.OnConsole(func(text string) {
		mu.Lock()
		defer mu.Unlock()
		consoleLogs = append(consoleLogs, text)
	})

	if err := sess.AddInitScript(hookScript); err != nil {
		return v.unexpected(res, err)
	}

	if err := sess.Navigate(ctx, c.TestURL, v.timeout); err != nil {
		if !strings.Contains(err.Error(), "ERR_BLOCKED_BY_RESPONSE") {
			res.Evidence = append(res.Evidence, Evidence{
				Type:    EvidencePageError,
				Details: "Page navigation error: " + err.Error(),
			})
		}
	} else if v.hold > 0 {
		select {
		case <-time.After(v.hold):
		case <-ctx.Done():
		}
	}

	if flag, err := sess.Evaluate(ctx, flagExpr); err == nil && truthy(flag) {
		method := "unknown"
		if m, err := sess.Evaluate(ctx, methodExpr); err == nil {
			if s, ok := m.(string); ok && s != "" {
				method = s
			}
		}
		res.Executed = true
		res.Evidence = append(res.Evidence, Evidence{
			Type:    EvidenceJavaScriptExecution,
			Method:  method,
			Details: "XSS executed via " + method,
		})
	}

	mu.Lock()
	fired, dType := dialogFired, dialogType
	logs := append([]string(nil), consoleLogs...)
	mu.Unlock()

	if fired {
		res.Executed = true
		res.Evidence = append(res.Evidence, Evidence{
			Type:    EvidenceDialogTriggered,
			Method:  dType,
			Details: dType + " dialog was triggered",
		})
	}

	if line, ok := matchConsole(logs); ok {
		res.Executed = true
		res.Evidence = append(res.Evidence, Evidence{
			Type:    EvidenceConsoleLog,
			Details: "Console: " + truncate(line, consoleDetailLimit),
		})
	}

	if texts, err := sess.QueryTexts(ctx, "script"); err == nil {
		for _, text := range texts {
			if strings.Contains(text, c.Payload) {
				res.Executed = true
				res.Evidence = append(res.Evidence, Evidence{
					Type:    EvidenceDOMInjection,
					Details: "Payload injected into script tag",
				})
				break
			}
		}
	}

	if res.Executed && v.screenshots {
		path := v.screenshotPath()
		if err := sess.Screenshot(ctx, path); err != nil {
			v.log.Warn().Err(err).Str("url", c.TestURL).Msg("screenshot failed")
		} else {
			res.Screenshot = path
		}
	}

	return res
}

// unexpected records err as error evidence unless it is a navigation or
// timeout failure, which on its own says nothing about execution
func (v *Verifier) unexpected(res Result, err error) Result {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "navigation") || strings.Contains(msg, "timeout") {
		v.log.Debug().Err(err).Msg("verification aborted")
		return res
	}
	v.log.Warn().Err(err).Msg("verification error")
	res.Evidence = append(res.Evidence, Evidence{Type: EvidenceError, Details: err.Error()})
	return res
}

func (v *Verifier) screenshotPath() string {
	name := fmt.Sprintf("xss_%s_%s.png", v.now().Format("20060102_150405"), uuid.NewString()[:8])
	return filepath.Join(v.screenshotDir, name)
}

func matchConsole(logs []string) (string, bool) {
	for _, line := range logs {
		lower := strings.ToLower(line)
		for _, p := range consolePatterns {
			if strings.Contains(lower, p) {
				return line, true
			}
		}
	}
	return "", false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	default:
		return false
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
