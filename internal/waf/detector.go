// Package waf fingerprints the web application firewall in front of a
// target. Results are informational and never change probing behavior.
package waf

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	probeParam   = "xssed_probe"
	probePayload = "<script>alert(1)</script>"

	maxBodyBytes = 64 << 10
	// bodies are truncated before diffing to keep the comparison cheap
	maxDiffBytes = 8 << 10

	headerConfidence = 0.8
	cookieConfidence = 0.6
	bodyConfidence   = 0.5
	probeBoost       = 1.2
	blockConfidence  = 0.6

	// probe bodies below this similarity to the baseline look like a block page
	blockPageSimilarity = 0.5
)

var blockStatusCodes = map[int]bool{403: true, 406: true, 418: true, 429: true, 501: true, 503: true}

// Result is the fingerprint of one target
type Result struct {
	Detected   bool     `json:"detected" yaml:"detected"`
	Type       string   `json:"type,omitempty" yaml:"type,omitempty"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Indicators []string `json:"indicators,omitempty" yaml:"indicators,omitempty"`
}

type evidence struct {
	key        string
	detail     string
	confidence float64
}

// Detector runs passive signature checks against a benign request and a
// request carrying a canned XSS probe
type Detector struct {
	client     *http.Client
	userAgent  string
	signatures []Signature
	log        zerolog.Logger
}

// Option configures a Detector
type Option func(*Detector)

// WithClient replaces the HTTP client
func WithClient(c *http.Client) Option {
	return func(d *Detector) { d.client = c }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithSignatures replaces the built-in signatures
func WithSignatures(sigs []Signature) Option {
	return func(d *Detector) { d.signatures = sigs }
}

// NewDetector creates a detector with the given request timeout
func NewDetector(timeout time.Duration, opts ...Option) *Detector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Detector{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				MaxIdleConns:    10,
				MaxConnsPerHost: 5,
			},
		},
		userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		signatures: defaultSignatures,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type response struct {
	status  int
	header  http.Header
	cookies []*http.Cookie
	body    string
}

// Detect fingerprints target. An unreachable target is an error; a failed
// probe request only loses the active evidence.
func (d *Detector) Detect(ctx context.Context, target string) (*Result, error) {
	baseline, err := d.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("baseline request failed: %w", err)
	}

	var found []evidence
	found = append(found, d.match(baseline, 1)...)

	probe, err := d.get(ctx, probeURL(target))
	if err != nil {
		d.log.Debug().Err(err).Msg("probe request failed")
	} else {
		found = append(found, d.match(probe, probeBoost)...)
		found = append(found, blockBehavior(baseline, probe)...)
	}

	return consolidate(found, d.signatures), nil
}

func (d *Detector) get(ctx context.Context, target string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &response{
		status:  resp.StatusCode,
		header:  resp.Header,
		cookies: resp.Cookies(),
		body:    string(body),
	}, nil
}

// match checks every signature against resp, scaling confidence by boost
func (d *Detector) match(resp *response, boost float64) []evidence {
	var found []evidence
	for _, sig := range d.signatures {
		for name, pattern := range sig.Headers {
			if v := resp.header.Get(name); v != "" && pattern.MatchString(v) {
				found = append(found, evidence{sig.Key, fmt.Sprintf("header %s: %s", name, truncate(v, 60)), headerConfidence * boost})
			}
		}
		for _, pattern := range sig.Cookies {
			for _, c := range resp.cookies {
				if pattern.MatchString(c.Name) {
					found = append(found, evidence{sig.Key, "cookie " + c.Name, cookieConfidence * boost})
				}
			}
		}
		for _, pattern := range sig.Body {
			if m := pattern.FindString(resp.body); m != "" {
				found = append(found, evidence{sig.Key, "body: " + truncate(m, 60), bodyConfidence * boost})
			}
		}
	}
	return found
}

// blockBehavior compares the probe response against the baseline
func blockBehavior(baseline, probe *response) []evidence {
	if !blockStatusCodes[probe.status] || blockStatusCodes[baseline.status] {
		return nil
	}
	found := []evidence{{"", fmt.Sprintf("probe blocked with status %d (baseline %d)", probe.status, baseline.status), blockConfidence}}
	if sim := Similarity(baseline.body, probe.body); sim < blockPageSimilarity {
		found = append(found, evidence{"", fmt.Sprintf("block page differs from baseline (similarity %.0f%%)", sim*100), blockConfidence / 2})
	}
	return found
}

// Similarity returns how alike two bodies are, from 0 (disjoint) to 1 (equal)
func Similarity(a, b string) float64 {
	a = truncate(a, maxDiffBytes)
	b = truncate(b, maxDiffBytes)
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)
	return 1 - float64(distance)/float64(longest)
}

// consolidate picks the vendor with the most evidence. Block behavior alone
// yields a generic detection.
func consolidate(found []evidence, sigs []Signature) *Result {
	res := &Result{}
	scores := map[string]float64{}
	var generic float64
	for _, ev := range found {
		res.Indicators = append(res.Indicators, ev.detail)
		if ev.key == "" {
			generic += ev.confidence
			continue
		}
		scores[ev.key] += ev.confidence
	}
	res.Indicators = dedupe(res.Indicators)

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})

	switch {
	case len(keys) > 0:
		res.Detected = true
		res.Type = keys[0]
		res.Confidence = min(scores[keys[0]]+generic, 1)
		for _, sig := range sigs {
			if sig.Key == res.Type {
				res.Name = sig.Name
				break
			}
		}
	case generic > 0:
		res.Detected = true
		res.Type = "generic"
		res.Name = "Unknown WAF"
		res.Confidence = min(generic, 1)
	}
	return res
}

func probeURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(probeParam, probePayload)
	u.RawQuery = q.Encode()
	return u.String()
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// String renders the result for terminal output
func (r *Result) String() string {
	if r == nil || !r.Detected {
		return "no WAF detected"
	}
	return fmt.Sprintf("%s (confidence %.0f%%)", r.Name, r.Confidence*100)
}
