package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/cybertron10/xssed/internal/scanner"
)

const (
	summaryEvidence = 2
	summaryPayload  = 60
	rule            = "════════════════════════════════════════════════════════════"
)

// Banner prints the tool banner with the effective target
func Banner(w io.Writer, target string, concurrency int, wafCheck bool) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	_, _ = cyan.Fprintln(w, rule)
	_, _ = green.Fprintln(w, "  xssed - high-accuracy XSS detection")
	_, _ = cyan.Fprintln(w, rule)
	fmt.Fprintf(w, "[*] Target: %s\n", target)
	fmt.Fprintf(w, "[*] Concurrency: %d\n", concurrency)
	waf := "Enabled"
	if !wafCheck {
		waf = "Disabled"
	}
	fmt.Fprintf(w, "[*] WAF Detection: %s\n\n", waf)
}

// PrintSummary writes the human readable scan summary
func PrintSummary(w io.Writer, res *scanner.ScanResult) {
	cyan := color.New(color.FgCyan)
	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Fprintln(w, rule)
	_, _ = bold.Fprintln(w, "  SCAN SUMMARY")
	_, _ = cyan.Fprintln(w, rule)
	row := func(label string, value any) {
		fmt.Fprintf(w, "  %-22s %v\n", label+":", value)
	}
	row("Target", res.Target)
	row("URLs Tested", res.TotalTested)
	row("Reflected", res.Reflected)
	row("Verified XSS", len(res.Vulnerabilities))
	row("False Positives", res.FalsePositives)
	if res.Unverified > 0 {
		row("Unverified", res.Unverified)
	}
	row("Accuracy Rate", Accuracy(res))
	row("Duration", Duration(res))
	_, _ = cyan.Fprintln(w, rule)

	if res.WAF != nil && res.WAF.Detected {
		_, _ = yellow.Fprintf(w, "\n[!] WAF Detected: %s (Confidence: %.0f%%)\n", res.WAF.Name, res.WAF.Confidence*100)
	}
	if len(res.BlockedDomains) > 0 {
		_, _ = yellow.Fprintf(w, "[!] Blocked domains: %s\n", strings.Join(res.BlockedDomains, ", "))
	}
	if res.VerificationError != "" {
		_, _ = yellow.Fprintf(w, "[!] Verification failed: %s\n", res.VerificationError)
	}

	if len(res.Vulnerabilities) == 0 {
		fmt.Fprintln(w, "\n[*] No verified XSS vulnerabilities found.")
		return
	}

	fmt.Fprintln(w)
	_, _ = red.Fprintln(w, "VERIFIED VULNERABILITIES:")
	for i, v := range res.Vulnerabilities {
		_, _ = red.Fprintf(w, "\n[%d] %s - %s\n", i+1, v.Severity, v.Parameter)
		fmt.Fprintf(w, "    URL: %s\n", v.URL)
		fmt.Fprintf(w, "    Payload: %s\n", shorten(v.Payload, summaryPayload))
		fmt.Fprintf(w, "    Context: %s\n", v.Context)
		if len(v.Evidence) > 0 {
			fmt.Fprintln(w, "    Evidence:")
			for _, e := range v.Evidence[:min(len(v.Evidence), summaryEvidence)] {
				_, _ = green.Fprintf(w, "      - %s: %s\n", e.Type, detailsOr(e.Details))
			}
		}
		if v.Screenshot != "" {
			fmt.Fprintf(w, "    Screenshot: %s\n", v.Screenshot)
		}
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
