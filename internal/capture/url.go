package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/util"
)

const (
	// UserAgent identifies page fetches
	UserAgent = "bsmeter/1.0 (+https://github.com/ppiankov/bsmeter)"

	fetchAttempts = 3
	maxRedirects  = 3
)

// fetchSleep waits between retries; tests replace it
var fetchSleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrDisallowed is returned when robots.txt forbids fetching the page
var ErrDisallowed = errors.New("fetching disallowed by robots.txt")

// StatusError is a non-2xx page response
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// FetcherConfig configures page fetches
type FetcherConfig struct {
	Timeout       time.Duration
	MaxBytes      int64
	RespectRobots bool
	HTTPProxy     string
	HTTPSProxy    string
}

// Fetcher downloads web pages for capture
type Fetcher struct {
	httpClient *http.Client
	robots     *util.RobotsChecker
	maxBytes   int64
}

// NewFetcher creates a Fetcher
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: util.NewTransport(cfg.HTTPProxy, cfg.HTTPSProxy),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	f := &Fetcher{httpClient: client, maxBytes: maxBytes(cfg.MaxBytes)}
	if cfg.RespectRobots {
		f.robots = util.NewRobotsChecker(UserAgent, client)
	}
	return f
}

// Page is a fetched HTML document
type Page struct {
	HTML     string
	FinalURL string
}

// Fetch retrieves a page, retrying transient failures
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &model.ValidationError{Field: "url", Reason: fmt.Sprintf("not an http(s) URL: %q", rawURL)}
	}

	if f.robots != nil {
		allowed, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, ErrDisallowed
		}
	}

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			if err := fetchSleep(ctx, time.Duration(1<<(attempt-1))*500*time.Millisecond); err != nil {
				return nil, err
			}
		}

		page, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryableFetchError(ctx, err) {
			break
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Page{HTML: string(body), FinalURL: resp.Request.URL.String()}, nil
}

// retryableFetchError reports whether another attempt may succeed
func retryableFetchError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return strings.HasPrefix(err.Error(), "fetch: ")
}

// URL captures the visible text of a web page
type URL struct {
	Fetcher *Fetcher
	Address string
}

// Capture fetches the page and extracts its text
func (u URL) Capture(ctx context.Context) (*Fragment, error) {
	page, err := u.Fetcher.Fetch(ctx, u.Address)
	if err != nil {
		return nil, err
	}
	return HTML{
		R:        strings.NewReader(page.HTML),
		Kind:     model.SourceSelection,
		Origin:   page.FinalURL,
		MaxBytes: u.Fetcher.maxBytes,
	}.Capture(ctx)
}
