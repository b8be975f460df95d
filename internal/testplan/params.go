package testplan

import (
	"fmt"
	"net/url"
	"strings"
)

// Parameter is a query parameter with its first value
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type queryPair struct {
	name   string
	values []string
}

// parseQuery splits a raw query into pairs keeping first-appearance order.
// Repeated names collapse into one pair holding every value.
func parseQuery(raw string) []queryPair {
	var pairs []queryPair
	index := map[string]int{}
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = unescape(name)
		value = unescape(value)
		if name == "" {
			continue
		}
		if i, ok := index[name]; ok {
			pairs[i].values = append(pairs[i].values, value)
			continue
		}
		index[name] = len(pairs)
		pairs = append(pairs, queryPair{name: name, values: []string{value}})
	}
	return pairs
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// quote percent-encodes s for a query component, spaces as %20
func quote(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func encodeQuery(pairs []queryPair) string {
	var b strings.Builder
	for _, p := range pairs {
		for _, v := range p.values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(quote(p.name))
			b.WriteByte('=')
			b.WriteString(quote(v))
		}
	}
	return b.String()
}

// ExtractParameters returns the URL's query parameters in first-appearance
// order. Blank values are kept and repeated names keep their first value.
func ExtractParameters(rawURL string) ([]Parameter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	pairs := parseQuery(u.RawQuery)
	params := make([]Parameter, 0, len(pairs))
	for _, p := range pairs {
		params = append(params, Parameter{Name: p.name, Value: p.values[0]})
	}
	return params, nil
}

// InjectPayload returns rawURL with param's value replaced by payload. Other
// parameters keep their order and values. A missing param is appended.
func InjectPayload(rawURL, param, payload string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	pairs := parseQuery(u.RawQuery)
	found := false
	for i := range pairs {
		if pairs[i].name == param {
			pairs[i].values = []string{payload}
			found = true
		}
	}
	if !found {
		pairs = append(pairs, queryPair{name: param, values: []string{payload}})
	}
	u.RawQuery = encodeQuery(pairs)
	u.ForceQuery = false
	return u.String(), nil
}
