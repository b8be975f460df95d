package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/cybertron10/xssed/internal/verifier"
)

const evalTimeout = 5 * time.Second

// ChromeBrowser drives Chromium over the DevTools protocol
type ChromeBrowser struct {
	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	log           zerolog.Logger
}

var _ verifier.Browser = (*ChromeBrowser)(nil)

// NewChromeBrowser launches headless Chromium through chromedp
func NewChromeBrowser(ctx context.Context, log zerolog.Logger) (*ChromeBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.NoSandbox,
		chromedp.IgnoreCertErrors,
		chromedp.WindowSize(1280, 720),
	)
	for _, arg := range launchArgs {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// the browser outlives individual scan phases; Close tears it down
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
	case <-ctx.Done():
		cancelBrowser()
		cancelAlloc()
		return nil, ctx.Err()
	}

	return &ChromeBrowser{
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		log:           log,
	}, nil
}

// NewSession opens a tab in a fresh browser context
func (b *ChromeBrowser) NewSession(ctx context.Context) (verifier.Session, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	s := &chromeSession{ctx: tabCtx, cancel: cancel}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			s.mu.Lock()
			fn := s.onDialog
			s.mu.Unlock()
			if fn != nil {
				fn(string(e.Type))
			}
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(false)); err != nil {
					b.log.Debug().Err(err).Msg("dismiss dialog failed")
				}
			}()
		case *runtime.EventConsoleAPICalled:
			s.mu.Lock()
			fn := s.onConsole
			s.mu.Unlock()
			if fn != nil {
				fn(consoleText(e.Args))
			}
		}
	})

	// first Run creates the target
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("create tab: %w", err)
	}
	return s, nil
}

// Close shuts the browser down
func (b *ChromeBrowser) Close() error {
	if b == nil {
		return nil
	}
	err := chromedp.Cancel(b.browserCtx)
	b.cancelBrowser()
	b.cancelAlloc()
	return err
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	onDialog  func(string)
	onConsole func(string)
}

func (s *chromeSession) AddInitScript(script string) error {
	return chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

func (s *chromeSession) OnDialog(fn func(string)) {
	s.mu.Lock()
	s.onDialog = fn
	s.mu.Unlock()
}

func (s *chromeSession) OnConsole(fn func(string)) {
	s.mu.Lock()
	s.onConsole = fn
	s.mu.Unlock()
}

// scoped derives a timeout context from the tab that also ends with parent
func (s *chromeSession) scoped(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := s.scoped(ctx, timeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errorText, _, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("page load error %s", errorText)
			}
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("navigation timeout %s exceeded: %w", timeout, err)
	}
	return err
}

func (s *chromeSession) Evaluate(ctx context.Context, expr string) (any, error) {
	evalCtx, cancel := s.scoped(ctx, evalTimeout)
	defer cancel()

	var res any
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, &res)); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *chromeSession) QueryTexts(ctx context.Context, selector string) ([]string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("Array.from(document.querySelectorAll(%s)).map(e => e.innerText)", quoted)

	evalCtx, cancel := s.scoped(ctx, evalTimeout)
	defer cancel()

	var texts []string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (s *chromeSession) Screenshot(ctx context.Context, path string) error {
	shotCtx, cancel := s.scoped(ctx, evalTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}

// consoleText joins console arguments the way DevTools prints them
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			raw := string(arg.Value)
			if unquoted, err := strconv.Unquote(raw); err == nil {
				raw = unquoted
			}
			parts = append(parts, raw)
			continue
		}
		if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}
