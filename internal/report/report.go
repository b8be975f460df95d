// Package report renders scan results as JSON, YAML or Markdown files and as
// a colored terminal summary.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cybertron10/xssed/internal/config"
	"github.com/cybertron10/xssed/internal/scanner"
	"github.com/cybertron10/xssed/internal/waf"
)

// ScanInfo identifies the scan
type ScanInfo struct {
	ID        string    `json:"id" yaml:"id"`
	Target    string    `json:"target" yaml:"target"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	EndTime   time.Time `json:"end_time" yaml:"end_time"`
	Duration  string    `json:"duration" yaml:"duration"`
}

// Statistics are the scan counters plus the derived accuracy rate
type Statistics struct {
	URLsCollected  int    `json:"urls_collected" yaml:"urls_collected"`
	TotalTested    int    `json:"total_urls_tested" yaml:"total_urls_tested"`
	Reflected      int    `json:"reflected_urls" yaml:"reflected_urls"`
	Verified       int    `json:"verified_vulnerabilities" yaml:"verified_vulnerabilities"`
	FalsePositives int    `json:"false_positives_filtered" yaml:"false_positives_filtered"`
	Unverified     int    `json:"unverified" yaml:"unverified"`
	Blocked        int    `json:"blocked" yaml:"blocked"`
	Skipped        int    `json:"skipped" yaml:"skipped"`
	AccuracyRate   string `json:"accuracy_rate" yaml:"accuracy_rate"`
}

// Report is the document written to disk
type Report struct {
	ScanInfo          ScanInfo                `json:"scan_info" yaml:"scan_info"`
	Statistics        Statistics              `json:"statistics" yaml:"statistics"`
	WAF               *waf.Result             `json:"waf_detection" yaml:"waf_detection"`
	BlockedDomains    []string                `json:"blocked_domains,omitempty" yaml:"blocked_domains,omitempty"`
	VerificationError string                  `json:"verification_error,omitempty" yaml:"verification_error,omitempty"`
	Vulnerabilities   []scanner.Vulnerability `json:"vulnerabilities" yaml:"vulnerabilities"`
}

// Build derives the report document from res
func Build(res *scanner.ScanResult) Report {
	vulns := res.Vulnerabilities
	if vulns == nil {
		vulns = []scanner.Vulnerability{}
	}
	return Report{
		ScanInfo: ScanInfo{
			ID:        res.ID,
			Target:    res.Target,
			StartTime: res.StartTime,
			EndTime:   res.EndTime,
			Duration:  Duration(res),
		},
		Statistics: Statistics{
			URLsCollected:  res.URLsCollected,
			TotalTested:    res.TotalTested,
			Reflected:      res.Reflected,
			Verified:       len(res.Vulnerabilities),
			FalsePositives: res.FalsePositives,
			Unverified:     res.Unverified,
			Blocked:        res.Blocked,
			Skipped:        res.Skipped,
			AccuracyRate:   Accuracy(res),
		},
		WAF:               res.WAF,
		BlockedDomains:    res.BlockedDomains,
		VerificationError: res.VerificationError,
		Vulnerabilities:   vulns,
	}
}

// Accuracy is verified over reflected as a percentage, or N/A when nothing
// reflected
func Accuracy(res *scanner.ScanResult) string {
	if res.Reflected == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(len(res.Vulnerabilities))/float64(res.Reflected)*100)
}

// Duration formats the scan wall time as "Xm Ys"
func Duration(res *scanner.ScanResult) string {
	if res.StartTime.IsZero() || res.EndTime.IsZero() {
		return "Unknown"
	}
	secs := int(res.Duration() / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// Write renders res to w in the given format
func Write(w io.Writer, format string, res *scanner.ScanResult) error {
	rep := Build(res)
	switch strings.ToLower(format) {
	case config.FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(rep)
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	case config.FormatMarkdown:
		return writeMarkdown(w, rep)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteFile renders res into path, creating the parent directory
func WriteFile(path, format string, res *scanner.ScanResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := Write(&buf, format, res); err != nil {
		return fmt.Errorf("render %s report: %w", format, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeMarkdown(w io.Writer, rep Report) error {
	var b strings.Builder
	fmt.Fprintln(&b, "# XSS Scan Report")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "## Scan Information")
	fmt.Fprintf(&b, "- **Target**: %s\n", rep.ScanInfo.Target)
	fmt.Fprintf(&b, "- **Scan ID**: %s\n", rep.ScanInfo.ID)
	fmt.Fprintf(&b, "- **Start Time**: %s\n", timestamp(rep.ScanInfo.StartTime))
	fmt.Fprintf(&b, "- **End Time**: %s\n", timestamp(rep.ScanInfo.EndTime))
	fmt.Fprintf(&b, "- **Duration**: %s\n", rep.ScanInfo.Duration)
	fmt.Fprintln(&b)

	st := rep.Statistics
	fmt.Fprintln(&b, "## Statistics")
	fmt.Fprintf(&b, "- **Total URLs Tested**: %d\n", st.TotalTested)
	fmt.Fprintf(&b, "- **Reflected URLs**: %d\n", st.Reflected)
	fmt.Fprintf(&b, "- **Verified Vulnerabilities**: %d\n", st.Verified)
	fmt.Fprintf(&b, "- **False Positives Filtered**: %d\n", st.FalsePositives)
	if st.Unverified > 0 {
		fmt.Fprintf(&b, "- **Unverified**: %d\n", st.Unverified)
	}
	fmt.Fprintf(&b, "- **Accuracy Rate**: %s\n", st.AccuracyRate)
	fmt.Fprintln(&b)

	if rep.WAF != nil && rep.WAF.Detected {
		fmt.Fprintln(&b, "## WAF Detection")
		fmt.Fprintln(&b, "- **Detected**: Yes")
		fmt.Fprintf(&b, "- **Type**: %s\n", rep.WAF.Name)
		fmt.Fprintf(&b, "- **Confidence**: %.0f%%\n", rep.WAF.Confidence*100)
		fmt.Fprintf(&b, "- **Indicators**: %s\n", strings.Join(rep.WAF.Indicators, ", "))
		fmt.Fprintln(&b)
	}

	if len(rep.BlockedDomains) > 0 {
		fmt.Fprintln(&b, "## Blocked Domains")
		for _, d := range rep.BlockedDomains {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		fmt.Fprintln(&b)
	}

	if rep.VerificationError != "" {
		fmt.Fprintln(&b, "## Verification Error")
		fmt.Fprintln(&b, rep.VerificationError)
		fmt.Fprintln(&b)
	}

	if len(rep.Vulnerabilities) > 0 {
		fmt.Fprintln(&b, "## Vulnerabilities")
		fmt.Fprintln(&b)
		for i, v := range rep.Vulnerabilities {
			fmt.Fprintf(&b, "### [%d] %s - %s\n\n", i+1, v.Severity, v.Parameter)
			fmt.Fprintf(&b, "- **URL**: `%s`\n", v.URL)
			fmt.Fprintf(&b, "- **Payload**: `%s`\n", v.Payload)
			fmt.Fprintf(&b, "- **Context**: %s\n", v.Context)
			fmt.Fprintf(&b, "- **Verified At**: %s\n", timestamp(v.VerifiedAt))
			if v.Screenshot != "" {
				fmt.Fprintf(&b, "- **Screenshot**: %s\n", v.Screenshot)
			}
			fmt.Fprintln(&b)
			if len(v.Evidence) > 0 {
				fmt.Fprintln(&b, "**Evidence:**")
				for _, e := range v.Evidence {
					fmt.Fprintf(&b, "- %s: %s\n", e.Type, detailsOr(e.Details))
				}
				fmt.Fprintln(&b)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.Format(time.RFC3339)
}

func detailsOr(details string) string {
	if details == "" {
		return "Detected"
	}
	return details
}
