// Package crawler harvests parameterized URLs from a seed page and the
// same-host pages it links to.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cybertron10/xssed/internal/parser"
)

const maxPageBytes = 2 << 20

var skipExtensions = []string{".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".woff", ".woff2", ".ttf", ".eot", ".pdf", ".zip"}

// Crawler is a bounded same-host link harvester
type Crawler struct {
	client     *http.Client
	parser     *parser.HTMLParser
	maxDepth   int
	maxPages   int
	maxWorkers int
	log        zerolog.Logger

	mu         sync.Mutex
	visited    map[string]bool
	discovered []string
	seen       map[string]bool
	baseHost   string
	basePath   string
}

// Option configures a Crawler
type Option func(*Crawler)

// WithDepth sets how many link hops away from the seed are fetched
func WithDepth(depth int) Option {
	return func(c *Crawler) {
		if depth >= 0 {
			c.maxDepth = depth
		}
	}
}

// WithMaxPages bounds the number of pages fetched
func WithMaxPages(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithWorkers sets how many pages of one level are fetched at once
func WithWorkers(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithClient replaces the HTTP client
func WithClient(client *http.Client) Option {
	return func(c *Crawler) { c.client = client }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Crawler) { c.log = l }
}

// New creates a crawler. Defaults: depth 1, 100 pages, 10 workers.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		parser:     parser.NewHTMLParser(),
		maxDepth:   1,
		maxPages:   100,
		maxWorkers: 10,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl fetches seed and follows same-host links level by level up to the
// configured depth. It returns every discovered URL that carries a query
// string, in discovery order. Fetch failures of individual pages are logged
// and skipped.
func (c *Crawler) Crawl(ctx context.Context, seed string) ([]string, error) {
	start, err := url.Parse(seed)
	if err != nil || start.Host == "" {
		return nil, fmt.Errorf("invalid seed url %q", seed)
	}
	if start.Scheme == "" {
		start.Scheme = "https"
	}

	c.mu.Lock()
	c.visited = make(map[string]bool)
	c.seen = make(map[string]bool)
	c.discovered = nil
	c.baseHost = start.Host
	c.basePath = start.Path
	if i := strings.LastIndex(c.basePath, "/"); i >= 0 {
		c.basePath = c.basePath[:i+1]
	} else {
		c.basePath = "/"
	}
	c.mu.Unlock()

	startTime := time.Now()
	c.record(start.String())

	level := []string{start.String()}
	for depth := 0; depth <= c.maxDepth && len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return c.results(), err
		}
		next, err := c.crawlLevel(ctx, level, depth < c.maxDepth)
		if err != nil {
			return c.results(), err
		}
		level = next
	}

	urls := c.results()
	c.log.Info().
		Str("seed", start.String()).
		Int("pages", len(c.visited)).
		Int("urls", len(urls)).
		Dur("elapsed", time.Since(startTime)).
		Msg("harvest completed")
	return urls, nil
}

// crawlLevel fetches one level of pages and returns the links to follow next
func (c *Crawler) crawlLevel(ctx context.Context, pages []string, follow bool) ([]string, error) {
	var (
		mu   sync.Mutex
		next []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)

	for _, pageURL := range pages {
		if !c.claim(pageURL) {
			continue
		}
		g.Go(func() error {
			links := c.crawlPage(gctx, pageURL)
			if !follow {
				return nil
			}
			mu.Lock()
			next = append(next, links...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return next, ctx.Err()
}

// claim marks pageURL visited and reports whether it may be fetched
func (c *Crawler) claim(pageURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visited[pageURL] || len(c.visited) >= c.maxPages {
		return false
	}
	c.visited[pageURL] = true
	return true
}

// crawlPage fetches one page, records its URLs and returns crawlable links
func (c *Crawler) crawlPage(ctx context.Context, pageURL string) []string {
	content, err := c.fetchPageContent(ctx, pageURL)
	if err != nil {
		c.log.Debug().Err(err).Str("url", pageURL).Msg("fetch page failed")
		return nil
	}

	base, _ := url.Parse(pageURL)
	page, err := c.parser.Parse(content, base)
	if err != nil {
		c.log.Debug().Err(err).Str("url", pageURL).Msg("parse page failed")
		return nil
	}

	for _, list := range [][]string{page.Links, page.FormURLs, page.ScriptURLs} {
		for _, u := range list {
			if c.isSameHost(u) {
				c.record(u)
			}
		}
	}

	var links []string
	for _, link := range page.Links {
		if c.isCrawlable(link) {
			links = append(links, link)
		}
	}
	return links
}

func (c *Crawler) fetchPageContent(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("HTTP 404: Not Found")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return "", fmt.Errorf("skipping non-html content %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// record keeps u if it carries parameters and was not seen before
func (c *Crawler) record(u string) {
	if !strings.Contains(u, "?") || !strings.Contains(u, "=") {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[u] {
		return
	}
	c.seen[u] = true
	c.discovered = append(c.discovered, u)
}

func (c *Crawler) results() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.discovered...)
}

func (c *Crawler) isSameHost(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return parsed.Host == c.baseHost
}

// isCrawlable checks if a link should be fetched as a page
func (c *Crawler) isCrawlable(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host != c.baseHost {
		return false
	}
	if c.basePath != "/" && !strings.HasPrefix(parsed.Path, c.basePath) {
		return false
	}
	path := strings.ToLower(parsed.Path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}
