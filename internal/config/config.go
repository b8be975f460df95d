// Package config holds scan options and loads them through viper from
// flags, XSSED_ environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cybertron10/xssed/internal/payloads"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "XSSED"

// Report formats
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

// Options is the complete scan configuration
type Options struct {
	Target      string `mapstructure:"target"`
	URLsFile    string `mapstructure:"urls_file"`
	PayloadFile string `mapstructure:"payload_file"`

	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	MaxURLs     int           `mapstructure:"max_urls"`

	WAFCheck  bool     `mapstructure:"waf_check"`
	WAFBypass string   `mapstructure:"waf_bypass"`
	Mutations []string `mapstructure:"mutations"`

	Wayback      bool `mapstructure:"wayback"`
	Harvest      bool `mapstructure:"harvest"`
	HarvestDepth int  `mapstructure:"harvest_depth"`

	// Discover maps hidden parameters on the target page
	Discover bool   `mapstructure:"discover"`
	Wordlist string `mapstructure:"wordlist"`

	Engine            string        `mapstructure:"engine"`
	VerifyConcurrency int           `mapstructure:"verify_concurrency"`
	Hold              time.Duration `mapstructure:"hold"`
	Screenshots       bool          `mapstructure:"screenshots"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir"`

	Output      string `mapstructure:"output"`
	Format      string `mapstructure:"format"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Verbose  bool `mapstructure:"verbose"`
	Quiet    bool `mapstructure:"quiet"`
	JSONLogs bool `mapstructure:"json_logs"`
}

// Default returns the options used when nothing overrides them
func Default() Options {
	return Options{
		Concurrency:       10,
		Timeout:           15 * time.Second,
		MaxURLs:           1000,
		WAFCheck:          true,
		Wayback:           true,
		HarvestDepth:      1,
		Engine:            "playwright",
		VerifyConcurrency: 1,
		Hold:              2 * time.Second,
		ScreenshotDir:     "xss_screenshots",
		Format:            FormatJSON,
	}
}

// SetDefaults registers every default on v so environment variables and
// config files can override them
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("target", d.Target)
	v.SetDefault("urls_file", d.URLsFile)
	v.SetDefault("payload_file", d.PayloadFile)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("max_urls", d.MaxURLs)
	v.SetDefault("waf_check", d.WAFCheck)
	v.SetDefault("waf_bypass", d.WAFBypass)
	v.SetDefault("mutations", []string{})
	v.SetDefault("wayback", d.Wayback)
	v.SetDefault("harvest", d.Harvest)
	v.SetDefault("harvest_depth", d.HarvestDepth)
	v.SetDefault("discover", d.Discover)
	v.SetDefault("wordlist", d.Wordlist)
	v.SetDefault("engine", d.Engine)
	v.SetDefault("verify_concurrency", d.VerifyConcurrency)
	v.SetDefault("hold", d.Hold)
	v.SetDefault("screenshots", d.Screenshots)
	v.SetDefault("screenshot_dir", d.ScreenshotDir)
	v.SetDefault("output", d.Output)
	v.SetDefault("format", d.Format)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("json_logs", d.JSONLogs)
}

// Load reads options from v. A non-empty "config" key names a YAML file
// that is merged below flags and environment variables.
func Load(v *viper.Viper) (Options, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("decode config: %w", err)
	}
	opts.Format = strings.ToLower(opts.Format)
	opts.Engine = strings.ToLower(opts.Engine)
	return opts, opts.Validate()
}

// Validate checks option ranges and combinations
func (o Options) Validate() error {
	var errs []error
	if o.Target == "" && o.URLsFile == "" {
		errs = append(errs, errors.New("a target or a urls file is required"))
	}
	if o.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", o.Concurrency))
	}
	if o.VerifyConcurrency < 1 {
		errs = append(errs, fmt.Errorf("verify_concurrency must be at least 1, got %d", o.VerifyConcurrency))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", o.Timeout))
	}
	if o.Hold < 0 {
		errs = append(errs, fmt.Errorf("hold must not be negative, got %s", o.Hold))
	}
	if o.MaxURLs < 0 {
		errs = append(errs, fmt.Errorf("max_urls must not be negative, got %d", o.MaxURLs))
	}
	if o.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %g", o.RateLimit))
	}
	if o.HarvestDepth < 0 {
		errs = append(errs, fmt.Errorf("harvest_depth must not be negative, got %d", o.HarvestDepth))
	}
	switch o.Engine {
	case "playwright", "chromedp":
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q (playwright or chromedp)", o.Engine))
	}
	switch o.Format {
	case FormatJSON, FormatYAML, FormatMarkdown:
	default:
		errs = append(errs, fmt.Errorf("unknown report format %q (json, yaml or markdown)", o.Format))
	}
	if o.PayloadFile != "" {
		if _, err := os.Stat(o.PayloadFile); err != nil {
			errs = append(errs, fmt.Errorf("payload file: %w", err))
		}
	}
	if o.Wordlist != "" {
		if _, err := os.Stat(o.Wordlist); err != nil {
			errs = append(errs, fmt.Errorf("wordlist: %w", err))
		}
	}
	if o.URLsFile != "" && o.URLsFile != "-" {
		if _, err := os.Stat(o.URLsFile); err != nil {
			errs = append(errs, fmt.Errorf("urls file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ParsedMutations converts the configured mutation names. Unknown names map
// to identity and are dropped.
func (o Options) ParsedMutations() []payloads.Mutation {
	var out []payloads.Mutation
	for _, name := range o.Mutations {
		for _, part := range strings.Split(name, ",") {
			if m := payloads.ParseMutation(strings.TrimSpace(part)); m != payloads.MutationIdentity {
				out = append(out, m)
			}
		}
	}
	return out
}
