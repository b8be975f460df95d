package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cybertron10/xssed/internal/config"
	"github.com/cybertron10/xssed/internal/logger"
	"github.com/cybertron10/xssed/internal/metrics"
	"github.com/cybertron10/xssed/internal/report"
	"github.com/cybertron10/xssed/internal/scanner"
)

// Process exit codes
const (
	ExitFound       = 0
	ExitNotFound    = 1
	ExitError       = 2
	ExitInterrupted = 130
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// flag name -> config key, for flags whose names differ from their key
var flagKeys = map[string]string{
	"urls-file":          "urls_file",
	"payloads":           "payload_file",
	"rate-limit":         "rate_limit",
	"max-urls":           "max_urls",
	"waf-check":          "waf_check",
	"waf-bypass":         "waf_bypass",
	"harvest-depth":      "harvest_depth",
	"verify-concurrency": "verify_concurrency",
	"screenshot-dir":     "screenshot_dir",
	"metrics-addr":       "metrics_addr",
	"json-logs":          "json_logs",
}

// NewRootCommand builds the xssed command with its own viper instance
func NewRootCommand() *cobra.Command {
	v := viper.New()
	d := config.Default()

	root := &cobra.Command{
		Use:   "xssed [target]",
		Short: "Two-phase XSS scanner: reflection probing then browser verification",
		Long: `xssed collects parameterized URLs for a target, injects context-aware
payloads, keeps the ones reflected in responses and confirms execution in a
headless browser. Only executed payloads are reported.

Exit status is 0 when a vulnerability is confirmed, 1 when none is, 2 on
error and 130 when interrupted.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("target", args[0])
			}
			if cmd.Flags().Changed("no-waf-check") {
				off, _ := cmd.Flags().GetBool("no-waf-check")
				v.Set("waf_check", !off)
			}
			return run(cmd, v)
		},
	}

	f := root.Flags()
	f.String("config", "", "YAML config file")
	f.StringP("target", "t", "", "target domain or URL")
	f.StringP("urls-file", "f", "", "file with URLs to test, one per line (- for stdin)")
	f.StringP("payloads", "p", "", "custom payload file, replaces the built-in payloads")
	f.IntP("concurrency", "c", d.Concurrency, "reflection probes per batch")
	f.Duration("timeout", d.Timeout, "request and navigation timeout")
	f.Float64("rate-limit", d.RateLimit, "max reflection requests per second (0 = unlimited)")
	f.Int("max-urls", d.MaxURLs, "max URLs to test")
	f.Bool("waf-check", d.WAFCheck, "fingerprint the target's WAF")
	f.Bool("no-waf-check", false, "skip WAF fingerprinting")
	f.String("waf-bypass", d.WAFBypass, "append bypass payloads for this WAF vendor")
	f.StringSlice("mutations", nil, "payload mutations to add (case_variation, encoding, whitespace, comment_injection)")
	f.Bool("wayback", d.Wayback, "collect URLs from the Wayback Machine")
	f.Bool("harvest", d.Harvest, "crawl the target for parameterized links and forms")
	f.Int("harvest-depth", d.HarvestDepth, "crawl depth for --harvest")
	f.Bool("discover", d.Discover, "map hidden parameters on the target page")
	f.StringP("wordlist", "w", d.Wordlist, "parameter names for --discover, one per line")
	f.String("engine", d.Engine, "browser engine: playwright or chromedp")
	f.Int("verify-concurrency", d.VerifyConcurrency, "concurrent browser sessions")
	f.Duration("hold", d.Hold, "time to wait after page load before inspecting it")
	f.Bool("screenshots", d.Screenshots, "save a screenshot of each confirmed execution")
	f.String("screenshot-dir", d.ScreenshotDir, "screenshot directory")
	f.StringP("output", "o", d.Output, "report file")
	f.String("format", d.Format, "report format: json, yaml or markdown")
	f.String("metrics-addr", d.MetricsAddr, "serve Prometheus metrics on this address")
	f.BoolP("verbose", "v", d.Verbose, "debug logging")
	f.BoolP("quiet", "q", d.Quiet, "warnings and findings only")
	f.Bool("json-logs", d.JSONLogs, "log as JSON")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	f.VisitAll(func(fl *pflag.Flag) {
		if fl.Name == "no-waf-check" {
			return
		}
		key := fl.Name
		if k, ok := flagKeys[fl.Name]; ok {
			key = k
		}
		_ = v.BindPFlag(key, fl)
	})

	return root
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	opts, err := config.Load(v)
	if err != nil {
		return &exitError{code: ExitError, err: fmt.Errorf("invalid configuration: %w", err)}
	}

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	log := logger.New(logger.Options{
		Verbose: opts.Verbose,
		Quiet:   opts.Quiet,
		JSON:    opts.JSONLogs,
		Writer:  stderr,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if opts.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, opts.MetricsAddr); err != nil {
				log.Error().Err(err).Str("addr", opts.MetricsAddr).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", opts.MetricsAddr).Msg("serving metrics")
	}

	if !opts.Quiet {
		target := opts.Target
		if target == "" {
			target = opts.URLsFile
		}
		report.Banner(stderr, target, opts.Concurrency, opts.WAFCheck)
	}

	s, err := scanner.NewScanner(opts, scanner.WithLogger(log), scanner.WithMetrics(m))
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}

	res, scanErr := s.Scan(ctx)
	if scanErr != nil && !errors.Is(scanErr, scanner.ErrInterrupted) {
		return &exitError{code: ExitError, err: scanErr}
	}

	report.PrintSummary(stdout, res)
	if opts.Output != "" {
		if err := report.WriteFile(opts.Output, opts.Format, res); err != nil {
			return &exitError{code: ExitError, err: err}
		}
		log.Info().Str("path", opts.Output).Str("format", opts.Format).Msg("report saved")
	}

	switch {
	case scanErr != nil:
		log.Warn().Msg("scan interrupted by user")
		return &exitError{code: ExitInterrupted}
	case res.Found():
		return nil
	default:
		return &exitError{code: ExitNotFound}
	}
}

// Run executes the command line in args and returns the process exit code
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitFound
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = color.New(color.FgRed).Fprintf(stderr, "[!] Error: %v\n", ee.err)
		}
		return ee.code
	}
	_, _ = color.New(color.FgRed).Fprintf(stderr, "[!] Error: %v\n", err)
	return ExitError
}

// Execute runs the command with the process arguments
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
