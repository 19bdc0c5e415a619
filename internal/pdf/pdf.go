// Package pdf downloads the scheduled document from its fixed URL.
package pdf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// StatusError is returned when the source answers with a status other than
// 200.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

// Fetcher downloads documents over HTTP.
type Fetcher struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewFetcher creates a Fetcher. A nil client selects one with a 30 second
// timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{httpClient: client, now: time.Now}
}

// Fetch GETs rawURL with the current Unix time appended as a bare query
// value so intermediate caches cannot serve a stale copy. Any status other
// than 200 yields a *StatusError and no bytes.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := CacheBusted(rawURL, f.now())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PDF request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF body: %w", err)
	}
	return body, nil
}

// CacheBusted returns rawURL with the Unix timestamp of t appended to its
// query string.
func CacheBusted(rawURL string, t time.Time) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid PDF URL %q: %w", rawURL, err)
	}

	stamp := strconv.FormatInt(t.Unix(), 10)
	if u.RawQuery == "" {
		u.RawQuery = stamp
	} else {
		u.RawQuery += "&" + stamp
	}
	return u.String(), nil
}

// Filename returns the last path segment of rawURL, ignoring any query.
func Filename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "document.pdf"
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "document.pdf"
	}
	return name
}
