package reflection

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// UserAgent is sent with every probe
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	maxBodySize = 5 << 20
)

// NewHTTPClient builds the pooled client used for one probing phase.
// Redirects are followed with the default policy.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		// gzip is handled in readBody
		DisableCompression:  true,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     30 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// fetch performs the probe request and returns the decoded body
func fetch(ctx context.Context, client *http.Client, rawURL string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return resp, "", err
	}
	return resp, body, nil
}

// readBody reads up to maxBodySize bytes and transparently inflates gzip
// content, including servers that compress without saying so.
func readBody(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}

	if resp.Header.Get("Content-Encoding") == "gzip" || isGzipContent(raw) {
		reader, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return string(raw), nil
		}
		defer reader.Close()
		inflated, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
		if err != nil {
			return string(raw), nil
		}
		return string(inflated), nil
	}
	return string(raw), nil
}

// isGzipContent checks for the gzip magic number
func isGzipContent(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
