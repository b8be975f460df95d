package scanner

import (
	"time"

	"github.com/cybertron10/xssed/internal/payloads"
	"github.com/cybertron10/xssed/internal/reflection"
	"github.com/cybertron10/xssed/internal/verifier"
	"github.com/cybertron10/xssed/internal/waf"
)

// Severity ranks a confirmed vulnerability
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// SeverityFor derives severity from the injection context
func SeverityFor(ctx payloads.Context) Severity {
	switch ctx {
	case payloads.ContextScript, payloads.ContextHTML:
		return SeverityHigh
	case payloads.ContextAttribute, payloads.ContextURL:
		return SeverityMedium
	case payloads.ContextStyle:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Vulnerability is a reflected candidate whose payload executed in the
// browser. It is never modified after it is appended to a ScanResult.
type Vulnerability struct {
	URL         string                `json:"url" yaml:"url"`
	OriginalURL string                `json:"original_url" yaml:"original_url"`
	Parameter   string                `json:"parameter" yaml:"parameter"`
	Payload     string                `json:"payload" yaml:"payload"`
	Context     payloads.Context      `json:"context" yaml:"context"`
	Reflection  []reflection.Evidence `json:"reflection_evidence,omitempty" yaml:"reflection_evidence,omitempty"`
	Evidence    []verifier.Evidence   `json:"evidence" yaml:"evidence"`
	Screenshot  string                `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	Severity    Severity              `json:"severity" yaml:"severity"`
	VerifiedAt  time.Time             `json:"verified_at" yaml:"verified_at"`
}

// ScanResult is the outcome of one scan
type ScanResult struct {
	ID        string    `json:"id" yaml:"id"`
	Target    string    `json:"target" yaml:"target"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	EndTime   time.Time `json:"end_time" yaml:"end_time"`

	URLsCollected  int `json:"urls_collected" yaml:"urls_collected"`
	TotalTested    int `json:"total_tested" yaml:"total_tested"`
	Reflected      int `json:"reflected" yaml:"reflected"`
	Verified       int `json:"verified" yaml:"verified"`
	FalsePositives int `json:"false_positives" yaml:"false_positives"`
	// Unverified counts candidates that never reached a verdict
	Unverified int `json:"unverified" yaml:"unverified"`
	Blocked    int `json:"blocked" yaml:"blocked"`
	Skipped    int `json:"skipped" yaml:"skipped"`

	BlockedDomains    []string        `json:"blocked_domains,omitempty" yaml:"blocked_domains,omitempty"`
	WAF               *waf.Result     `json:"waf_detection,omitempty" yaml:"waf_detection,omitempty"`
	VerificationError string          `json:"verification_error,omitempty" yaml:"verification_error,omitempty"`
	Vulnerabilities   []Vulnerability `json:"vulnerabilities" yaml:"vulnerabilities"`
}

// Found reports whether at least one vulnerability was confirmed
func (r *ScanResult) Found() bool {
	return r != nil && len(r.Vulnerabilities) > 0
}

// Duration is the wall time of the scan
func (r *ScanResult) Duration() time.Duration {
	if r == nil || r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
