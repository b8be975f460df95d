package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cybertron10/xssed/internal/config"
	"github.com/cybertron10/xssed/internal/payloads"
	"github.com/cybertron10/xssed/internal/scanner"
	"github.com/cybertron10/xssed/internal/verifier"
	"github.com/cybertron10/xssed/internal/waf"
)

func init() {
	color.NoColor = true
}

func sampleResult() *scanner.ScanResult {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &scanner.ScanResult{
		ID:             "scan-1",
		Target:         "example.test",
		StartTime:      start,
		EndTime:        start.Add(2*time.Minute + 5*time.Second),
		URLsCollected:  3,
		TotalTested:    40,
		Reflected:      3,
		FalsePositives: 2,
		WAF: &waf.Result{
			Detected:   true,
			Type:       "cloudflare",
			Name:       "Cloudflare",
			Confidence: 0.8,
			Indicators: []string{"header Server: cloudflare"},
		},
		Vulnerabilities: []scanner.Vulnerability{{
			URL:         "https://example.test/s?q=%3Csvg%20onload%3Dalert%281%29%3E",
			OriginalURL: "https://example.test/s?q=1",
			Parameter:   "q",
			Payload:     "<svg onload=alert(1)>" + strings.Repeat("A", 80),
			Context:     payloads.ContextHTML,
			Severity:    scanner.SeverityHigh,
			VerifiedAt:  start.Add(time.Minute),
			Evidence: []verifier.Evidence{
				{Type: verifier.EvidenceJavaScriptExecution, Method: "alert", Details: "XSS executed via alert"},
				{Type: verifier.EvidenceDialogTriggered, Method: "alert", Details: "alert dialog was triggered"},
				{Type: verifier.EvidenceDOMInjection, Details: "Payload injected into script tag"},
			},
		}},
	}
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, "33.3%", Accuracy(sampleResult()))
	assert.Equal(t, "N/A", Accuracy(&scanner.ScanResult{}))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "2m 5s", Duration(sampleResult()))
	assert.Equal(t, "Unknown", Duration(&scanner.ScanResult{}))
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, config.FormatJSON, sampleResult()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	stats := got["statistics"].(map[string]any)
	assert.Equal(t, "33.3%", stats["accuracy_rate"])
	assert.EqualValues(t, 1, stats["verified_vulnerabilities"])
	assert.EqualValues(t, 2, stats["false_positives_filtered"])
	assert.Equal(t, "2m 5s", got["scan_info"].(map[string]any)["duration"])
	assert.Equal(t, "cloudflare", got["waf_detection"].(map[string]any)["type"])
	assert.Contains(t, buf.String(), "<svg onload=alert(1)>")
}

func TestWrite_JSONEmptyVulnerabilities(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, config.FormatJSON, &scanner.ScanResult{Target: "a.test"}))
	assert.Contains(t, buf.String(), `"vulnerabilities": []`)
	assert.Contains(t, buf.String(), `"waf_detection": null`)
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, config.FormatYAML, sampleResult()))

	var got Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "example.test", got.ScanInfo.Target)
	assert.Equal(t, 40, got.Statistics.TotalTested)
	require.Len(t, got.Vulnerabilities, 1)
	assert.Equal(t, scanner.SeverityHigh, got.Vulnerabilities[0].Severity)
	assert.Len(t, got.Vulnerabilities[0].Evidence, 3)
}

func TestWrite_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, config.FormatMarkdown, sampleResult()))
	md := buf.String()

	assert.True(t, strings.HasPrefix(md, "# XSS Scan Report\n"))
	for _, want := range []string{
		"- **Accuracy Rate**: 33.3%",
		"- **Duration**: 2m 5s",
		"## WAF Detection",
		"- **Confidence**: 80%",
		"### [1] HIGH - q",
		"- dialog_triggered: alert dialog was triggered",
		"- dom_injection: Payload injected into script tag",
		"- **Verified At**: 2026-03-01T12:01:00Z",
	} {
		assert.Contains(t, md, want)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "csv", sampleResult()))
}

func TestWriteFile_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.md")
	require.NoError(t, WriteFile(path, config.FormatMarkdown, sampleResult()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### [1] HIGH - q")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, sampleResult())
	out := buf.String()

	assert.Contains(t, out, "Verified XSS:")
	assert.Contains(t, out, "[!] WAF Detected: Cloudflare (Confidence: 80%)")
	assert.Contains(t, out, "[1] HIGH - q")
	assert.Contains(t, out, "Payload: <svg onload=alert(1)>"+strings.Repeat("A", 39)+"...")
	assert.Contains(t, out, "javascript_execution: XSS executed via alert")
	assert.Contains(t, out, "dialog_triggered: alert dialog was triggered")
	assert.NotContains(t, out, "dom_injection")
}

func TestPrintSummary_NoFindings(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, &scanner.ScanResult{Target: "a.test", VerificationError: "no browser"})
	out := buf.String()
	assert.Contains(t, out, "No verified XSS vulnerabilities found.")
	assert.Contains(t, out, "Accuracy Rate:         N/A")
	assert.Contains(t, out, "[!] Verification failed: no browser")
}
