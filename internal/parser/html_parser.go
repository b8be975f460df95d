package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser extracts candidate URLs from HTML pages
type HTMLParser struct {
	// URLs with a query string assigned inside inline scripts
	jsURLRegex *regexp.Regexp
}

// Page holds what was extracted from one document
type Page struct {
	Links      []string
	FormURLs   []string
	ScriptURLs []string
	FormParams []string
}

// NewHTMLParser creates a parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		jsURLRegex: regexp.MustCompile(`(?:url|href|src|action)\s*[:=]\s*["']([^"']*\?[^"']*=[^"']*)["']`),
	}
}

// Parse extracts links, GET form targets and script URLs from content.
// Relative references are resolved against base.
func (p *HTMLParser) Parse(content string, base *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{}
	seen := map[string]bool{}
	add := func(list *[]string, raw string) {
		resolved := resolve(raw, base)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		*list = append(*list, resolved)
	}

	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(&page.Links, href)
	})
	doc.Find("iframe[src], frame[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(&page.Links, src)
	})

	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		method, _ := form.Attr("method")
		names := formFieldNames(form)
		page.FormParams = append(page.FormParams, names...)
		if method != "" && !strings.EqualFold(method, "get") {
			return
		}
		if formURL := buildFormURL(form, base); formURL != "" {
			add(&page.FormURLs, formURL)
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		for _, m := range p.jsURLRegex.FindAllStringSubmatch(s.Text(), -1) {
			add(&page.ScriptURLs, m[1])
		}
	})

	return page, nil
}

// ExtractFormParameters returns the names of every input, select and
// textarea in content
func (p *HTMLParser) ExtractFormParameters(content string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}
	return formFieldNames(doc.Selection)
}

func formFieldNames(sel *goquery.Selection) []string {
	var names []string
	sel.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok && name != "" {
			names = append(names, name)
		}
	})
	return names
}

// buildFormURL turns a GET form into the URL a browser would submit
func buildFormURL(form *goquery.Selection, base *url.URL) string {
	action, _ := form.Attr("action")
	target := resolve(action, base)
	if action == "" && base != nil {
		target = base.String()
	}
	if target == "" {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}

	var pairs []string
	form.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		if t, _ := s.Attr("type"); strings.EqualFold(t, "submit") || strings.EqualFold(t, "button") || strings.EqualFold(t, "file") {
			return
		}
		value, _ := s.Attr("value")
		pairs = append(pairs, url.QueryEscape(name)+"="+url.QueryEscape(value))
	})
	if len(pairs) == 0 {
		return ""
	}
	u.RawQuery = strings.Join(pairs, "&")
	u.Fragment = ""
	return u.String()
}

// resolve makes raw absolute against base and drops non-http references
func resolve(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return ""
	}
	lower := strings.ToLower(raw)
	for _, scheme := range []string{"javascript:", "data:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}
