package paramsmapper

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
)

const maxNameLength = 100

// DefaultWordlist holds names commonly reflected by search, navigation and
// error pages
var DefaultWordlist = []string{
	"q", "s", "search", "query", "keyword", "keywords", "term", "k",
	"id", "page", "p", "lang", "locale", "view", "type", "category", "cat",
	"name", "title", "message", "msg", "text", "comment", "error", "err",
	"callback", "jsonp", "redirect", "redirect_uri", "return", "returnUrl",
	"next", "url", "ref", "from", "to", "email", "user", "username",
	"sort", "order", "filter", "tab", "action", "mode", "debug", "preview",
	"template", "theme", "style", "format", "lang_code", "utm_source",
	"utm_campaign", "utm_medium",
}

// LoadWordlist reads one candidate name per line. Blank lines and lines
// starting with # are skipped.
func LoadWordlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wordlist: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name := cleanName(line); name != "" {
			names = append(names, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("wordlist %s has no names", path)
	}
	return names, nil
}

// ParamNames collects the query and fragment parameter names used by urls,
// sorted and without duplicates
func ParamNames(lists ...[]string) []string {
	set := map[string]bool{}
	for _, list := range lists {
		for _, raw := range list {
			u, err := url.Parse(raw)
			if err != nil {
				continue
			}
			for name := range u.Query() {
				if n := cleanName(name); n != "" {
					set[n] = true
				}
			}
			for _, name := range fragmentNames(u.Fragment) {
				if n := cleanName(name); n != "" {
					set[n] = true
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Candidates merges name lists in order, dropping duplicates, unusable
// names and names already present in existing
func Candidates(existing url.Values, lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, name := range list {
			name = cleanName(name)
			if name == "" || seen[name] || existing.Has(name) {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// fragmentNames reads key=value pairs from SPA style fragments
func fragmentNames(fragment string) []string {
	if !strings.Contains(fragment, "=") {
		return nil
	}
	if i := strings.Index(fragment, "?"); i >= 0 {
		fragment = fragment[i+1:]
	}
	var names []string
	for _, part := range strings.Split(fragment, "&") {
		if name, _, ok := strings.Cut(part, "="); ok {
			names = append(names, name)
		}
	}
	return names
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength || strings.ContainsAny(name, "<>\"'& ") {
		return ""
	}
	return name
}
