package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cybertron10/xssed/internal/crawler"
	"github.com/cybertron10/xssed/internal/paramsmapper"
)

// DefaultCDXEndpoint is the web.archive.org CDX search API
const DefaultCDXEndpoint = "https://web.archive.org/cdx/search/cdx"

// FileSource reads one URL per line from a file, or stdin when Path is "-".
// Blank lines and lines starting with # are skipped.
type FileSource struct {
	Path  string
	Stdin io.Reader
	Log   zerolog.Logger
}

func (s FileSource) Name() string { return "file" }

func (s FileSource) URLs(ctx context.Context) ([]string, error) {
	var r io.Reader
	if s.Path == "-" {
		r = s.Stdin
		if r == nil {
			r = os.Stdin
		}
	} else {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer f.Close()
		r = f
	}
	return readURLs(r, s.Log)
}

func readURLs(r io.Reader, log zerolog.Logger) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			log.Debug().Str("line", line).Msg("skipping invalid url format")
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// WaybackSource collects archived URLs for a domain. It runs the
// waybackurls tool when it is installed and queries the CDX API otherwise.
type WaybackSource struct {
	Domain string
	// Limit stops reading once this many parameterized URLs were seen; 0 means no limit
	Limit int

	Binary      string
	CDXEndpoint string
	Client      *http.Client
	Log         zerolog.Logger
}

func (s WaybackSource) Name() string { return "wayback" }

func (s WaybackSource) URLs(ctx context.Context) ([]string, error) {
	if s.Domain == "" {
		return nil, errors.New("wayback: empty domain")
	}
	bin := s.Binary
	if bin == "" {
		bin = "waybackurls"
	}
	if path, err := exec.LookPath(bin); err == nil {
		return s.fromTool(ctx, path)
	}
	s.Log.Debug().Str("tool", bin).Msg("tool not installed, using CDX API")
	return s.fromCDX(ctx)
}

func (s WaybackSource) fromTool(ctx context.Context, path string) ([]string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, s.Domain)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("waybackurls failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return s.limit(strings.Split(stdout.String(), "\n")), nil
}

func (s WaybackSource) fromCDX(ctx context.Context) ([]string, error) {
	endpoint := s.CDXEndpoint
	if endpoint == "" {
		endpoint = DefaultCDXEndpoint
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	q := url.Values{}
	q.Set("url", "*."+s.Domain+"/*")
	q.Set("output", "json")
	q.Set("fl", "original")
	q.Set("collapse", "urlkey")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wayback request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wayback HTTP %d", resp.StatusCode)
	}

	var rows [][]string
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("wayback json parse failed: %w", err)
	}
	lines := make([]string, 0, len(rows))
	for i, r := range rows {
		// first row is the header
		if i == 0 || len(r) == 0 {
			continue
		}
		lines = append(lines, r[0])
	}
	return s.limit(lines), nil
}

// limit keeps parameterized http(s) lines, stopping at twice the limit to
// leave room for deduplication
func (s WaybackSource) limit(lines []string) []string {
	var out []string
	for _, line := range Filter(lines) {
		out = append(out, line)
		if s.Limit > 0 && len(out) >= s.Limit*2 {
			break
		}
	}
	return out
}

// HarvestSource crawls a seed page for parameterized same-host URLs
type HarvestSource struct {
	Seed    string
	Crawler *crawler.Crawler
}

func (s HarvestSource) Name() string { return "harvest" }

func (s HarvestSource) URLs(ctx context.Context) ([]string, error) {
	c := s.Crawler
	if c == nil {
		c = crawler.New()
	}
	return c.Crawl(ctx, s.Seed)
}

// DiscoverySource maps hidden parameters on a seed page and returns the
// seed with the ones found added
type DiscoverySource struct {
	Seed   string
	Mapper *paramsmapper.Mapper
	Log    zerolog.Logger
}

func (s DiscoverySource) Name() string { return "discovery" }

func (s DiscoverySource) URLs(ctx context.Context) ([]string, error) {
	m := s.Mapper
	if m == nil {
		m = paramsmapper.New(15 * time.Second)
	}
	res, err := m.Discover(ctx, s.Seed)
	if err != nil {
		return nil, err
	}
	if res.Aborted {
		s.Log.Info().Str("reason", res.AbortReason).Int("requests", res.Requests).Msg("parameter discovery aborted")
		return nil, nil
	}
	s.Log.Info().Strs("params", res.Params).Int("requests", res.Requests).Msg("parameter discovery complete")
	return res.URLs(), nil
}

// StaticSource returns a fixed list
type StaticSource []string

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) URLs(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}
