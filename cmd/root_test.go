package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_MissingTarget(t *testing.T) {
	code, _, stderr := execute(t)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "a target or a urls file is required")
}

func TestRun_InvalidFormat(t *testing.T) {
	code, _, stderr := execute(t, "--target", "example.test", "--format", "csv")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown report format")
}

func TestRun_VerboseAndQuietConflict(t *testing.T) {
	code, _, _ := execute(t, "-v", "-q", "example.test")
	assert.Equal(t, ExitError, code)
}

func TestRun_NothingToTest(t *testing.T) {
	dir := t.TempDir()
	urls := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(urls, []byte("# nothing parameterized\nhttps://example.test/about\n"), 0o644))
	out := filepath.Join(dir, "reports", "scan.json")

	code, stdout, _ := execute(t, "--urls-file", urls, "--quiet", "-o", out)
	assert.Equal(t, ExitNotFound, code)
	assert.Contains(t, stdout, "No verified XSS vulnerabilities found.")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"vulnerabilities": []`)
}
