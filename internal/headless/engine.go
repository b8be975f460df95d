package headless

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cybertron10/xssed/internal/verifier"
)

// Engine names accepted by Factory
const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"
)

// Factory returns a launcher for the named engine
func Factory(engine string, log zerolog.Logger) (verifier.BrowserFactory, error) {
	switch strings.ToLower(engine) {
	case "", EnginePlaywright:
		return func(ctx context.Context) (verifier.Browser, error) {
			return NewBrowser(log)
		}, nil
	case EngineChromedp:
		return func(ctx context.Context) (verifier.Browser, error) {
			return NewChromeBrowser(ctx, log)
		}, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", engine)
	}
}
