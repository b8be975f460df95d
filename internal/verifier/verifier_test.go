package verifier_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertron10/xssed/internal/reflection"
	"github.com/cybertron10/xssed/internal/testplan"
	"github.com/cybertron10/xssed/internal/verifier"
	"github.com/cybertron10/xssed/internal/verifier/verifiertest"
)

func candidate(url, payload string) reflection.Candidate {
	return reflection.Candidate{TestCase: testplan.TestCase{
		OriginalURL: url,
		TestURL:     url,
		Parameter:   "q",
		Payload:     payload,
		Context:     "html",
	}}
}

func newVerifier(t *testing.T, b verifier.Browser, opts ...verifier.Option) *verifier.Verifier {
	t.Helper()
	opts = append([]verifier.Option{verifier.WithHold(0)}, opts...)
	v, err := verifier.New(b, opts...)
	require.NoError(t, err)
	return v
}

func evidenceTypes(r verifier.Result) []verifier.EvidenceType {
	var out []verifier.EvidenceType
	for _, e := range r.Evidence {
		out = append(out, e.Type)
	}
	return out
}

func TestVerify_DialogAndFlag(t *testing.T) {
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		return verifiertest.Page{Dialog: "alert", Flag: true, Method: "alert"}
	}}
	v := newVerifier(t, b)

	r := v.Verify(context.Background(), candidate("http://t/?q=x", "<script>alert(1)</script>"))
	assert.True(t, r.Executed)
	assert.Equal(t, []verifier.EvidenceType{
		verifier.EvidenceJavaScriptExecution,
		verifier.EvidenceDialogTriggered,
	}, evidenceTypes(r))
	assert.Equal(t, "alert", r.Evidence[0].Method)
	assert.Equal(t, "XSS executed via alert", r.Evidence[0].Details)
	assert.Equal(t, "alert dialog was triggered", r.Evidence[1].Details)
	assert.Equal(t, 0, b.OpenSessions())
}

func TestVerify_NoExecution(t *testing.T) {
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		return verifiertest.Page{Console: []string{"page loaded"}, Scripts: []string{"var a = 1;"}}
	}}
	v := newVerifier(t, b)

	r := v.Verify(context.Background(), candidate("http://t/?q=x", "<img src=x onerror=alert(1)>"))
	assert.False(t, r.Executed)
	assert.Empty(t, r.Evidence)
	assert.Equal(t, 0, b.OpenSessions())
}

func TestVerify_ConsoleFirstMatchTruncated(t *testing.T) {
	long := "XSS " + strings.Repeat("z", 200)
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		return verifiertest.Page{Console: []string{"hello", long, "script again"}}
	}}
	v := newVerifier(t, b)

	r := v.Verify(context.Background(), candidate("http://t/?q=x", "p"))
	assert.True(t, r.Executed)
	require.Len(t, r.Evidence, 1)
	assert.Equal(t, verifier.EvidenceConsoleLog, r.Evidence[0].Type)
	assert.Equal(t, "Console: "+long[:100], r.Evidence[0].Details)
}

func TestVerify_DOMInjection(t *testing.T) {
	payload := "';alert(1);//"
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		return verifiertest.Page{Scripts: []string{"var x = 1;", "var q = '" + payload + "';"}}
	}}
	v := newVerifier(t, b)

	r := v.Verify(context.Background(), candidate("http://t/?q=x", payload))
	assert.True(t, r.Executed)
	assert.Equal(t, []verifier.EvidenceType{verifier.EvidenceDOMInjection}, evidenceTypes(r))
}

func TestVerify_NavigationErrors(t *testing.T) {
	b := &verifiertest.Browser{Render: func(url string) verifiertest.Page {
		if strings.Contains(url, "blocked") {
			return verifiertest.Page{NavigateErr: errors.New("net::ERR_BLOCKED_BY_RESPONSE at http://t/blocked")}
		}
		return verifiertest.Page{NavigateErr: errors.New("net::ERR_CONNECTION_RESET")}
	}}
	v := newVerifier(t, b)

	r := v.Verify(context.Background(), candidate("http://t/blocked?q=x", "p"))
	assert.False(t, r.Executed)
	assert.Empty(t, r.Evidence)

	r = v.Verify(context.Background(), candidate("http://t/reset?q=x", "p"))
	assert.False(t, r.Executed)
	require.Len(t, r.Evidence, 1)
	assert.Equal(t, verifier.EvidencePageError, r.Evidence[0].Type)
	assert.Contains(t, r.Evidence[0].Details, "Page navigation error: net::ERR_CONNECTION_RESET")
}

func TestVerify_PageErrorDoesNotHideExecution(t *testing.T) {
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		return verifiertest.Page{Dialog: "confirm", NavigateErr: errors.New("Timeout 15000ms exceeded")}
	}}
	v := newVerifier(t, b)

	r := v.Verify(context.Background(), candidate("http://t/?q=x", "p"))
	assert.True(t, r.Executed)
	assert.Equal(t, []verifier.EvidenceType{
		verifier.EvidencePageError,
		verifier.EvidenceDialogTriggered,
	}, evidenceTypes(r))
}

func TestVerify_SessionErrors(t *testing.T) {
	b := &verifiertest.Browser{NewSessionErr: errors.New("browser has been closed")}
	v := newVerifier(t, b)
	r := v.Verify(context.Background(), candidate("http://t/?q=x", "p"))
	assert.False(t, r.Executed)
	require.Len(t, r.Evidence, 1)
	assert.Equal(t, verifier.EvidenceError, r.Evidence[0].Type)

	b = &verifiertest.Browser{NewSessionErr: errors.New("Timeout while creating context")}
	v = newVerifier(t, b)
	r = v.Verify(context.Background(), candidate("http://t/?q=x", "p"))
	assert.False(t, r.Executed)
	assert.Empty(t, r.Evidence)
}

func TestVerify_Screenshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	b := &verifiertest.Browser{Render: func(string) verifiertest.Page {
		return verifiertest.Page{Dialog: "alert"}
	}}
	v := newVerifier(t, b, verifier.WithScreenshots(dir))

	r := v.Verify(context.Background(), candidate("http://t/?q=x", "p"))
	require.True(t, r.Executed)
	require.NotEmpty(t, r.Screenshot)
	assert.Equal(t, dir, filepath.Dir(r.Screenshot))
	assert.True(t, strings.HasPrefix(filepath.Base(r.Screenshot), "xss_"))
	assert.True(t, strings.HasSuffix(r.Screenshot, ".png"))
	_, err := os.Stat(r.Screenshot)
	assert.NoError(t, err)
}

func TestVerifyAll_OrderAndLimit(t *testing.T) {
	b := &verifiertest.Browser{Render: func(url string) verifiertest.Page {
		if strings.Contains(url, "hit") {
			return verifiertest.Page{Dialog: "alert"}
		}
		return verifiertest.Page{}
	}}
	v := newVerifier(t, b, verifier.WithConcurrency(2), verifier.WithHold(20*time.Millisecond))

	cands := []reflection.Candidate{
		candidate("http://t/hit1?q=x", "p"),
		candidate("http://t/miss?q=x", "p"),
		candidate("http://t/hit2?q=x", "p"),
		candidate("http://t/miss2?q=x", "p"),
	}
	results, err := v.VerifyAll(context.Background(), cands)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, want := range []bool{true, false, true, false} {
		require.NotNil(t, results[i])
		assert.Equal(t, want, results[i].Executed, "candidate %d", i)
	}
	assert.LessOrEqual(t, b.MaxOpen(), 2)
	assert.Equal(t, 4, b.Sessions())
	assert.Equal(t, 0, b.OpenSessions())
}

func TestVerifyAll_SequentialByDefault(t *testing.T) {
	b := &verifiertest.Browser{}
	v := newVerifier(t, b, verifier.WithHold(5*time.Millisecond))

	cands := []reflection.Candidate{
		candidate("http://t/1?q=x", "p"),
		candidate("http://t/2?q=x", "p"),
		candidate("http://t/3?q=x", "p"),
	}
	_, err := v.VerifyAll(context.Background(), cands)
	require.NoError(t, err)
	assert.Equal(t, 1, b.MaxOpen())
	assert.Equal(t, []string{"http://t/1?q=x", "http://t/2?q=x", "http://t/3?q=x"}, b.Navigated())
}

func TestVerifyAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &verifiertest.Browser{}
	v := newVerifier(t, b)
	results, err := v.VerifyAll(ctx, []reflection.Candidate{candidate("http://t/?q=x", "p")})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Nil(t, results[0])
	assert.Equal(t, 0, b.Sessions())
}

func TestVerifyAll_CancelledMidNavigation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &verifiertest.Browser{Render: func(url string) verifiertest.Page {
		if strings.Contains(url, "/done") {
			cancel()
			return verifiertest.Page{Dialog: "alert"}
		}
		cancel()
		return verifiertest.Page{NavigateErr: errors.New("navigation interrupted")}
	}}
	v := newVerifier(t, b)

	results, err := v.VerifyAll(ctx, []reflection.Candidate{candidate("http://t/cut?q=x", "p")})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Nil(t, results[0])

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	results, err = v.VerifyAll(ctx, []reflection.Candidate{candidate("http://t/done?q=x", "p")})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, results[0])
	assert.True(t, results[0].Executed)
}
