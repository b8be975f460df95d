package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/cybertron10/xssed/internal/verifier"
)

// launchArgs are passed to Chromium by both engines
var launchArgs = []string{
	"--disable-gpu",
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
	"--disable-extensions",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-background-networking",
	"--disable-default-apps",
	"--disable-sync",
	"--disable-translate",
	"--hide-scrollbars",
	"--mute-audio",
	"--no-first-run",
	"--disable-hang-monitor",
	"--disable-prompt-on-repost",
	"--disable-domain-reliability",
}

// Browser is a Playwright driven Chromium instance
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	log     zerolog.Logger
	mu      sync.Mutex
	closed  bool
}

var _ verifier.Browser = (*Browser)(nil)

// NewBrowser starts the Playwright driver and launches headless Chromium
func NewBrowser(log zerolog.Logger) (b *Browser, err error) {
	// the driver can panic when browsers are not installed
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from playwright initialization panic")
			b, err = nil, fmt.Errorf("playwright initialization panic: %v", r)
		}
	}()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     launchArgs,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	return &Browser{pw: pw, browser: browser, log: log}, nil
}

// NewSession opens an isolated browser context with one page
func (b *Browser) NewSession(ctx context.Context) (verifier.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("browser closed")
	}

	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  1280,
			Height: 720,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	s := &session{context: bctx, page: page, log: b.log}
	page.On("dialog", func(dialog playwright.Dialog) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Debug().Interface("panic", r).Msg("recovered from dialog handler panic")
			}
		}()
		s.mu.Lock()
		fn := s.onDialog
		s.mu.Unlock()
		if fn != nil {
			fn(dialog.Type())
		}
		_ = dialog.Dismiss()
	})
	page.On("console", func(msg playwright.ConsoleMessage) {
		s.mu.Lock()
		fn := s.onConsole
		s.mu.Unlock()
		if fn != nil {
			fn(msg.Text())
		}
	})
	return s, nil
}

// Close shuts down Chromium and the driver
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("recovered from browser cleanup panic")
		}
	}()

	var firstErr error
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			firstErr = err
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type session struct {
	context playwright.BrowserContext
	page    playwright.Page
	log     zerolog.Logger

	mu        sync.Mutex
	onDialog  func(string)
	onConsole func(string)
}

func (s *session) AddInitScript(script string) error {
	return s.page.AddInitScript(playwright.Script{Content: playwright.String(script)})
}

func (s *session) OnDialog(fn func(string)) {
	s.mu.Lock()
	s.onDialog = fn
	s.mu.Unlock()
}

func (s *session) OnConsole(fn func(string)) {
	s.mu.Lock()
	s.onConsole = fn
	s.mu.Unlock()
}

func (s *session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (s *session) Evaluate(ctx context.Context, expr string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.page.Evaluate(expr)
}

func (s *session) QueryTexts(ctx context.Context, selector string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.page.Locator(selector).AllInnerTexts()
}

func (s *session) Screenshot(ctx context.Context, path string) error {
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	return err
}

func (s *session) Close() error {
	return s.context.Close()
}
