// Package verifiertest provides an in-memory browser for tests
package verifiertest

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cybertron10/xssed/internal/verifier"
)

// Page describes what the fake browser observes when loading a URL
type Page struct {
	Dialog      string
	Console     []string
	Flag        bool
	Method      string
	Scripts     []string
	NavigateErr error
	EvaluateErr error
}

// Browser is a verifier.Browser whose pages are produced by Render
type Browser struct {
	Render        func(url string) Page
	NewSessionErr error

	sessions atomic.Int64
	open     atomic.Int64
	maxOpen  atomic.Int64
	closed   atomic.Bool

	mu        sync.Mutex
	navigated []string
}

var _ verifier.Browser = (*Browser)(nil)

// NewSession implements verifier.Browser
func (b *Browser) NewSession(ctx context.Context) (verifier.Session, error) {
	if b.NewSessionErr != nil {
		return nil, b.NewSessionErr
	}
	b.sessions.Add(1)
	n := b.open.Add(1)
	for {
		max := b.maxOpen.Load()
		if n <= max || b.maxOpen.CompareAndSwap(max, n) {
			break
		}
	}
	return &Session{browser: b}, nil
}

// Close implements verifier.Browser
func (b *Browser) Close() error {
	b.closed.Store(true)
	return nil
}

// Sessions returns how many sessions were opened
func (b *Browser) Sessions() int { return int(b.sessions.Load()) }

// OpenSessions returns how many sessions are still open
func (b *Browser) OpenSessions() int { return int(b.open.Load()) }

// MaxOpen returns the highest number of simultaneously open sessions
func (b *Browser) MaxOpen() int { return int(b.maxOpen.Load()) }

// Closed reports whether Close was called
func (b *Browser) Closed() bool { return b.closed.Load() }

// Navigated returns the URLs loaded so far
func (b *Browser) Navigated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigated...)
}

// Session is a fake verifier.Session
type Session struct {
	browser   *Browser
	page      Page
	init      []string
	onDialog  func(string)
	onConsole func(string)
	closed    bool
}

// AddInitScript implements verifier.Session
func (s *Session) AddInitScript(script string) error {
	s.init = append(s.init, script)
	return nil
}

// OnDialog implements verifier.Session
func (s *Session) OnDialog(fn func(string)) { s.onDialog = fn }

// OnConsole implements verifier.Session
func (s *Session) OnConsole(fn func(string)) { s.onConsole = fn }

// Navigate implements verifier.Session
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.browser.mu.Lock()
	s.browser.navigated = append(s.browser.navigated, url)
	s.browser.mu.Unlock()

	if s.browser.Render != nil {
		s.page = s.browser.Render(url)
	}
	if len(s.init) == 0 {
		return errors.New("hooks not installed before navigation")
	}
	if s.page.Dialog != "" && s.onDialog != nil {
		s.onDialog(s.page.Dialog)
	}
	for _, line := range s.page.Console {
		if s.onConsole != nil {
			s.onConsole(line)
		}
	}
	return s.page.NavigateErr
}

// Evaluate implements verifier.Session
func (s *Session) Evaluate(ctx context.Context, expr string) (any, error) {
	if s.page.EvaluateErr != nil {
		return nil, s.page.EvaluateErr
	}
	switch expr {
	case "window.xssDetected || false":
		return s.page.Flag, nil
	case "window.xssMethod || null":
		if s.page.Method == "" {
			return nil, nil
		}
		return s.page.Method, nil
	}
	return nil, nil
}

// QueryTexts implements verifier.Session
func (s *Session) QueryTexts(ctx context.Context, selector string) ([]string, error) {
	if selector != "script" {
		return nil, nil
	}
	return s.page.Scripts, nil
}

// Screenshot implements verifier.Session by writing an empty file
func (s *Session) Screenshot(ctx context.Context, path string) error {
	return os.WriteFile(path, nil, 0o644)
}

// Close implements verifier.Session
func (s *Session) Close() error {
	if !s.closed {
		s.closed = true
		s.browser.open.Add(-1)
	}
	return nil
}
