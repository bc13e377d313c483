package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

var (
	ErrDisallowed         = errors.New("disallowed by robots.txt")
	ErrTooManyRedirects   = errors.New("too many redirects")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad response status %d for %s", e.Code, e.URL)
}

type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	// decoded to UTF-8
	Body      []byte
	Truncated bool
	Duration  time.Duration
}

// Fetcher downloads pages politely: one rate limiter per host and robots.txt
// checked before the first request to a host.
type Fetcher struct {
	client  *http.Client
	headers http.Header
	cfg     config.FetcherConfig
	logger  *zap.Logger
	robots  *robotsCache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewFetcher(cfg config.FetcherConfig, logger *zap.Logger) (*Fetcher, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   10,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
	headers := http.Header{
		"User-Agent":      []string{cfg.UserAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": []string{"en-US,en;q=0.5"},
	}

	logger = common.OrNop(logger).Named("fetcher")
	f := &Fetcher{
		client:   client,
		headers:  headers,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	if cfg.RespectRobots {
		f.robots = newRobotsCache(f, cfg.UserAgent, logger)
	}
	return f, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	if f.cfg.RateLimitPerHost <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RateLimitPerHost), 1)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) wait(ctx context.Context, host string) error {
	if l := f.limiter(host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", host, err)
		}
	}
	return nil
}

// Fetch downloads an HTML page. Bodies longer than MaxBodyBytes are cut off
// and reported as Truncated.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if f.robots != nil && !f.robots.allowed(ctx, u) {
		return nil, ErrDisallowed
	}
	if err := f.wait(ctx, u.Host); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContent, contentType)
	}

	reader, err := charset.NewReader(resp.Body, contentType)
	if err != nil {
		f.logger.Debug("unknown charset, reading raw body", zap.String("url", rawURL), zap.Error(err))
		reader = resp.Body
	}
	body, err := io.ReadAll(io.LimitReader(reader, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > f.cfg.MaxBodyBytes
	if truncated {
		body = body[:f.cfg.MaxBodyBytes]
	}

	return &FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		Truncated:   truncated,
		Duration:    time.Since(start),
	}, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, vals := range f.headers {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}
	return f.client.Do(req)
}

// an empty content type is accepted, many small servers omit it
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Retryable reports whether a failed fetch is worth another attempt. Every
// non-2xx status counts, including 4xx; the scheduler's retry budget bounds it.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDisallowed), errors.Is(err, ErrUnsupportedContent), errors.Is(err, context.Canceled):
		return false
	}
	return true
}
