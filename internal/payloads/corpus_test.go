package payloads

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadsFor_KnownContexts(t *testing.T) {
	c := NewCorpus()
	for _, ctx := range Contexts {
		got := c.PayloadsFor(ctx)
		require.NotEmpty(t, got, "context %s", ctx)
		for _, e := range got {
			assert.Equal(t, ctx, e.Context)
		}
	}
}

func TestPayloadsFor_OrderIsStable(t *testing.T) {
	c := NewCorpus()
	got := c.PayloadsFor(ContextScript)
	assert.Equal(t, "</script><script>alert(1)</script>", got[0].Text)
	assert.Equal(t, "{{alert(1)}}", got[len(got)-1].Text)
}

func TestPayloadsFor_UnknownFallsBackToGeneric(t *testing.T) {
	c := NewCorpus()
	got := c.PayloadsFor(Context("json"))
	generic := c.PayloadsFor(ContextGeneric)
	require.Len(t, got, len(generic))
	for i := range got {
		assert.Equal(t, generic[i].Text, got[i].Text)
	}
}

func TestCustomPayloadsOverrideEveryContext(t *testing.T) {
	custom := []string{"<x>", "<y>"}
	c := NewCorpus(WithCustomPayloads(custom))

	all := append([]Context{}, Contexts...)
	all = append(all, Context("unknown"))
	for _, ctx := range all {
		got := c.PayloadsFor(ctx)
		require.Len(t, got, 2, "context %s", ctx)
		assert.Equal(t, "<x>", got[0].Text)
		assert.Equal(t, "<y>", got[1].Text)
	}

	for _, vendor := range []string{"cloudflare", "nope"} {
		got := c.BypassPayloadsFor(vendor, ContextHTML)
		require.Len(t, got, 2)
		assert.Equal(t, "<x>", got[0].Text)
	}
}

func TestEmptyCustomListKeepsDefaults(t *testing.T) {
	c := NewCorpus(WithCustomPayloads(nil))
	assert.False(t, c.HasCustom())
	assert.Equal(t, NewCorpus().PayloadsFor(ContextHTML), c.PayloadsFor(ContextHTML))
}

func TestBypassPayloadsFor(t *testing.T) {
	c := NewCorpus()

	got := c.BypassPayloadsFor("Cloudflare", ContextScript)
	require.NotEmpty(t, got)
	assert.Equal(t, "<ScRiPt>alert(1)</sCrIpT>", got[0].Text)

	got = c.BypassPayloadsFor("aws-waf", ContextHTML)
	require.NotEmpty(t, got)
	assert.Equal(t, "<img src=x onerror=alert`1`>", got[0].Text)

	// vendor without a url table falls back to the plain table
	got = c.BypassPayloadsFor("imperva", ContextURL)
	assert.Equal(t, c.PayloadsFor(ContextURL), got)

	got = c.BypassPayloadsFor("unknown", ContextStyle)
	assert.Equal(t, c.PayloadsFor(ContextStyle), got)
}

func TestVendors(t *testing.T) {
	assert.Equal(t, []string{"akamai", "aws_waf", "cloudflare", "imperva"}, NewCorpus().Vendors())
}

func TestReadPayloads(t *testing.T) {
	in := "# comment\n\n  <script>alert(1)</script>  \n\t\n<img src=x>\n"
	list, err := ReadPayloads(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"<script>alert(1)</script>", "<img src=x>"}, list)
}

func TestReadPayloads_IndentedHashIsPayload(t *testing.T) {
	list, err := ReadPayloads(strings.NewReader("#comment\n  #<svg onload=alert(1)>\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"#<svg onload=alert(1)>"}, list)
}

func TestReadPayloads_Empty(t *testing.T) {
	_, err := ReadPayloads(strings.NewReader("# only comments\n\n"))
	assert.ErrorIs(t, err, ErrEmptyPayloadFile)
}

func TestLoadCustomPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payloads.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o644))

	list, err := LoadCustomPayloads(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)

	_, err = LoadCustomPayloads(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestMutate(t *testing.T) {
	cases := []struct {
		m    Mutation
		in   string
		want string
	}{
		{MutationIdentity, "<script>", "<script>"},
		{MutationCaseVariation, "<ScRipt>", "<sCrIPT>"},
		{MutationEncoding, "<b>", "&lt;b&gt;"},
		{MutationWhitespace, "<b>", "<\tb\n>"},
		{MutationCommentInjection, "<script>alert(1)</script>", "<script><!--alert(1)</script>"},
		{Mutation(99), "<b>", "<b>"},
	}
	for _, tc := range cases {
		t.Run(tc.m.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, Mutate(tc.in, tc.m))
		})
	}
}

func TestParseMutation(t *testing.T) {
	assert.Equal(t, MutationCaseVariation, ParseMutation("case_variation"))
	assert.Equal(t, MutationCommentInjection, ParseMutation(" Comment_Injection "))
	assert.Equal(t, MutationIdentity, ParseMutation("rot13"))
	assert.Equal(t, MutationIdentity, ParseMutation(""))
	assert.Equal(t, "identity", Mutation(42).String())
}

func TestVariants(t *testing.T) {
	got := Variants("abc", []Mutation{MutationEncoding, MutationCaseVariation})
	// encoding is a no-op without angle brackets
	assert.Equal(t, []string{"abc", "ABC"}, got)
}
