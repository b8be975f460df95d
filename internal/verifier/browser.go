package verifier

import (
	"context"
	"time"
)

// Browser is a launched headless browser able to open isolated sessions
type Browser interface {
	// NewSession opens a fresh context with its own cookies and storage.
	// TLS errors must be tolerated.
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is one isolated browsing context with a single page
type Session interface {
	// AddInitScript installs script to run before any page script
	AddInitScript(script string) error
	// OnDialog registers a dialog listener. The engine dismisses every dialog.
	OnDialog(fn func(dialogType string))
	// OnConsole registers a console message listener
	OnConsole(fn func(text string))
	// Navigate loads url and waits for DOMContentLoaded only
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Evaluate(ctx context.Context, expr string) (any, error)
	// QueryTexts returns the inner text of every element matching selector
	QueryTexts(ctx context.Context, selector string) ([]string, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// BrowserFactory launches a browser on demand
type BrowserFactory func(ctx context.Context) (Browser, error)
