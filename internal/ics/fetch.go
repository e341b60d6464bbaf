package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "calpresence/internal/log"
)

const defaultFetchTimeout = 15 * time.Second

// Fetcher retrieves the raw calendar document behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPClient is the subset of *http.Client used by HTTPFetcher.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// validator holds HTTP cache metadata for a single feed URL. It lives in
// memory only; nothing survives a restart.
type validator struct {
	etag         string
	lastModified string
	body         []byte
}

// HTTPFetcher fetches ICS feeds over HTTP, honoring ETag / Last-Modified
// so an unchanged feed costs a 304 instead of a full download.
type HTTPFetcher struct {
	client    HTTPClient
	userAgent string

	mu    sync.Mutex
	cache map[string]validator
}

// NewHTTPFetcher creates a fetcher. A nil client gets a default one with a
// 15 second timeout.
func NewHTTPFetcher(client HTTPClient, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Timeout: defaultFetchTimeout,
		}
	}
	if userAgent == "" {
		userAgent = "calpresence"
	}
	return &HTTPFetcher{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]validator),
	}
}

// Fetch implements Fetcher. Any transport failure or non-2xx status is
// returned as *NetworkError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	f.mu.Lock()
	meta, haveMeta := f.cache[url]
	f.mu.Unlock()

	// Conditional headers from cache metadata.
	if haveMeta {
		if meta.etag != "" {
			req.Header.Set("If-None-Match", meta.etag)
		}
		if meta.lastModified != "" {
			req.Header.Set("If-Modified-Since", meta.lastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if !haveMeta || len(meta.body) == 0 {
			return nil, &NetworkError{
				URL:        url,
				StatusCode: resp.StatusCode,
				Err:        errors.New("received 304 Not Modified but no cached body available"),
			}
		}
		appLog.Debug("ics fetch not modified; reusing body", "url", redactURL(url))
		return meta.body, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: readErr}
		}

		etag := resp.Header.Get("ETag")
		lastModified := resp.Header.Get("Last-Modified")
		f.mu.Lock()
		if etag != "" || lastModified != "" {
			f.cache[url] = validator{etag: etag, lastModified: lastModified, body: body}
		} else {
			delete(f.cache, url)
		}
		f.mu.Unlock()

		appLog.Debug("ics fetch success", "url", redactURL(url), "status", resp.StatusCode, "bytes", len(body))
		return body, nil

	default:
		return nil, &NetworkError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
// Private calendar links usually carry their secret in the path or query:
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	// Find scheme separator.
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}

	return u[:j] + redactedSuffix
}

// RedactURL exposes redactURL for callers that log feed URLs.
func RedactURL(u string) string {
	return redactURL(u)
}
