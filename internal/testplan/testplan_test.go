package testplan

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertron10/xssed/internal/payloads"
)

func TestClassify(t *testing.T) {
	cases := map[string]payloads.Context{
		"redirect_url": payloads.ContextURL,
		"returnUrl":    payloads.ContextURL,
		"HREF":         payloads.ContextURL,
		"callback_url": payloads.ContextURL,
		"bgcolor":      payloads.ContextStyle,
		"css":          payloads.ContextStyle,
		"user_id":      payloads.ContextAttribute,
		"classname":    payloads.ContextAttribute,
		"callback":     payloads.ContextScript,
		"jsonp":        payloads.ContextScript,
		"q":            payloads.ContextHTML,
		"search":       payloads.ContextHTML,
		"":             payloads.ContextHTML,
	}
	for name, want := range cases {
		assert.Equal(t, want, Classify(name), "param %q", name)
	}
}

func TestClassifyIsTotal(t *testing.T) {
	for _, name := range []string{"x", "ÄÖÜ", "%%%", "a b", "q=1"} {
		assert.True(t, Classify(name).Valid(), "param %q", name)
	}
}

func TestExtractParameters(t *testing.T) {
	params, err := ExtractParameters("https://example.com/p?b=2&a=&b=3&c=x%20y")
	require.NoError(t, err)
	assert.Equal(t, []Parameter{
		{Name: "b", Value: "2"},
		{Name: "a", Value: ""},
		{Name: "c", Value: "x y"},
	}, params)

	params, err = ExtractParameters("https://example.com/")
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestInjectPayload(t *testing.T) {
	got, err := InjectPayload("https://example.com/s?a=1&q=test&z=9#frag", "q", "<script>alert(1)</script>")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/s", u.Path)
	assert.Equal(t, "frag", u.Fragment)
	assert.Equal(t, "a=1&q=%3Cscript%3Ealert%281%29%3C%2Fscript%3E&z=9", u.RawQuery)
	assert.Equal(t, "<script>alert(1)</script>", u.Query().Get("q"))
}

func TestInjectPayload_SpacesAndMultiValues(t *testing.T) {
	got, err := InjectPayload("http://h/?q=1&q=2&k=v", "q", "a b")
	require.NoError(t, err)
	assert.Equal(t, "http://h/?q=a%20b&k=v", got)

	got, err = InjectPayload("http://h/?k=v&k=w", "new", "x")
	require.NoError(t, err)
	assert.Equal(t, "http://h/?k=v&k=w&new=x", got)
}

func TestExpand(t *testing.T) {
	corpus := payloads.NewCorpus(payloads.WithCustomPayloads([]string{"P1", "P2"}))
	g := NewGenerator(corpus)

	cases := g.Expand([]string{
		"https://a.test/x?q=1&redirect=2",
		"://bad url",
		"https://b.test/y?id=3",
	})
	require.Len(t, cases, 6)

	assert.Equal(t, "q", cases[0].Parameter)
	assert.Equal(t, "P1", cases[0].Payload)
	assert.Equal(t, payloads.ContextHTML, cases[0].Context)
	assert.Equal(t, "https://a.test/x?q=P1&redirect=2", cases[0].TestURL)
	assert.Equal(t, "https://a.test/x?q=1&redirect=2", cases[0].OriginalURL)

	assert.Equal(t, "P2", cases[1].Payload)
	assert.Equal(t, "redirect", cases[2].Parameter)
	assert.Equal(t, payloads.ContextURL, cases[2].Context)
	assert.Equal(t, "https://b.test/y?id=P2", cases[5].TestURL)
	assert.Equal(t, payloads.ContextAttribute, cases[5].Context)
}

func TestExpand_CountMatchesCorpus(t *testing.T) {
	corpus := payloads.NewCorpus()
	g := NewGenerator(corpus)
	cases := g.Expand([]string{"https://a.test/?q=1&style=2"})
	want := len(corpus.PayloadsFor(payloads.ContextHTML)) + len(corpus.PayloadsFor(payloads.ContextStyle))
	assert.Len(t, cases, want)
}

func TestExpand_MutationsAndBypass(t *testing.T) {
	corpus := payloads.NewCorpus()
	plain := NewGenerator(corpus).Expand([]string{"https://a.test/?q=1"})

	g := NewGenerator(corpus,
		WithBypassVendor("cloudflare"),
		WithMutations(payloads.MutationIdentity, payloads.MutationEncoding),
	)
	extended := g.Expand([]string{"https://a.test/?q=1"})
	require.Greater(t, len(extended), len(plain))

	// regular payloads come first, unchanged
	for i := range plain {
		assert.Equal(t, plain[i].Payload, extended[i].Payload)
	}
	var texts []string
	for _, c := range extended {
		texts = append(texts, c.Payload)
	}
	assert.Contains(t, texts, "<img src=x:alert(alt) onerror=eval(src) alt=1>")
	assert.Contains(t, texts, "&lt;svg/onload=alert(1)&gt;")
}
