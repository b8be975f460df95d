package reflection

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Location is where a reflection was observed
type Location string

const (
	LocationBody    Location = "body"
	LocationHeaders Location = "headers"
)

// Evidence describes one observed reflection
type Evidence struct {
	Location Location `json:"location" yaml:"location"`
	Snippet  string   `json:"snippet" yaml:"snippet"`
}

const (
	snippetContext    = 50
	noPositionSnippet = "Payload reflected (no exact position)"
	headerSnippet     = "Payload reflected in response headers"
	dangerousPrefix   = "Dangerous pattern detected: "
)

var blockStatusCodes = map[int]bool{
	http.StatusForbidden:          true,
	http.StatusNotAcceptable:      true,
	419:                           true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

var blockIndicators = []string{
	"cloudflare", "access denied", "forbidden",
	"blocked", "ray id", "security", "incapsula",
	"imperva", "captcha", "challenge",
}

var dangerousPatterns = []string{
	"<script", "onerror=", "onload=", "javascript:",
	"eval(", "settimeout(", "setinterval(",
}

// isBlocked reports whether the response looks like a WAF block page.
// lowerBody must already be lowercased.
func isBlocked(status int, lowerBody string) bool {
	if blockStatusCodes[status] {
		return true
	}
	for _, indicator := range blockIndicators {
		if strings.Contains(lowerBody, indicator) {
			return true
		}
	}
	return false
}

// payloadVariants returns the lowercased forms of payload that count as a
// reflection: raw, percent-decoded and percent-encoded.
func payloadVariants(payload string) []string {
	lower := strings.ToLower(payload)
	variants := []string{lower}
	add := func(v string) {
		v = strings.ToLower(v)
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}
	if decoded, err := url.QueryUnescape(payload); err == nil {
		add(decoded)
	}
	add(url.QueryEscape(payload))
	add(strings.ReplaceAll(url.QueryEscape(payload), "+", "%20"))
	return variants
}

// matchBody looks for payload in body. The body is compared both as is and
// percent-decoded so that encoded reflections are found.
func matchBody(body, payload string) (Evidence, bool) {
	lowerBody := strings.ToLower(body)
	decodedBody := lenientUnescape(body)
	lowerDecoded := strings.ToLower(decodedBody)

	for _, variant := range payloadVariants(payload) {
		if variant == "" {
			continue
		}
		if strings.Contains(lowerBody, variant) {
			return Evidence{Location: LocationBody, Snippet: extractSnippet(body, variant)}, true
		}
		if decodedBody != body && strings.Contains(lowerDecoded, variant) {
			return Evidence{Location: LocationBody, Snippet: extractSnippet(decodedBody, variant)}, true
		}
	}
	return Evidence{}, false
}

// matchHeaders looks for the raw payload in the serialized headers
func matchHeaders(h http.Header, payload string) (Evidence, bool) {
	if payload == "" {
		return Evidence{}, false
	}
	if strings.Contains(serializeHeaders(h), strings.ToLower(payload)) {
		return Evidence{Location: LocationHeaders, Snippet: headerSnippet}, true
	}
	return Evidence{}, false
}

// matchDangerous reports the first dangerous sink present in the body
func matchDangerous(lowerBody string) (Evidence, bool) {
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lowerBody, pattern) {
			return Evidence{Location: LocationBody, Snippet: dangerousPrefix + pattern}, true
		}
	}
	return Evidence{}, false
}

func serializeHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strings.Join(h[k], ", "))
		b.WriteByte('\n')
	}
	return strings.ToLower(b.String())
}

// extractSnippet returns up to 50 characters of context around the first
// case-insensitive occurrence of needle in text
func extractSnippet(text, needle string) string {
	lower := strings.ToLower(text)
	src := text
	if len(lower) != len(text) {
		// lowercasing changed byte offsets
		src = lower
	}
	idx := strings.Index(lower, strings.ToLower(needle))
	if idx == -1 {
		return noPositionSnippet
	}
	start := max(0, idx-snippetContext)
	end := min(len(src), idx+len(needle)+snippetContext)
	start, end = runeAlign(src, start, end)
	return "..." + src[start:end] + "..."
}

// runeAlign widens [start,end) so it does not split a UTF-8 sequence
func runeAlign(s string, start, end int) (int, int) {
	for start > 0 && start < len(s) && !isRuneStart(s[start]) {
		start--
	}
	for end < len(s) && !isRuneStart(s[end]) {
		end++
	}
	return start, end
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// lenientUnescape decodes valid %XX sequences and leaves everything else
// untouched, unlike url.PathUnescape which rejects the whole input
func lenientUnescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
