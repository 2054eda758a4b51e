// Package fetch is the evidence tool handed to workers: polite HTTP
// retrieval of cited pages with robots.txt compliance, per-domain rate
// limiting, and a layered result cache.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"veridict/internal/cache"
	"veridict/internal/model"
	"veridict/internal/util"
	"veridict/internal/worker"
)

// Result is a retrieved evidence page.
type Result struct {
	Body       string    `json:"body"`
	Subject    string    `json:"subject"`
	Host       string    `json:"host"`
	FinalURL   string    `json:"final_url"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Fetcher retrieves evidence pages for worker citations.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *RobotsChecker
	limiter    *worker.Limiter
	store      cache.Cache // nil when caching is disabled
}

// New creates a fetcher from the session configuration. store may be nil.
func New(httpCfg model.HTTPConfig, rateCfg model.RateLimitConfig, store cache.Cache) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: httpCfg.Timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpCfg.HTTPProxy, httpCfg.HTTPSProxy, httpCfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: httpCfg.UserAgent,
		maxBytes:  httpCfg.MaxBodyBytes,
		robots:    NewRobotsChecker(httpCfg.UserAgent, httpCfg.Timeout),
		limiter:   worker.NewLimiter(rateCfg.RequestsPerSecond, rateCfg.BurstSize),
		store:     store,
	}
}

// Fetch retrieves one page, honoring robots.txt, crawl delays, the
// per-domain rate limit, and the cache.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if f.store != nil {
		if data, ok := f.store.Get(cache.Key(rawURL)); ok {
			var cached Result
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("robots check: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("blocked by robots.txt: %s", rawURL)
	}
	if crawlDelay > 0 {
		if host, err := hostOf(rawURL); err == nil {
			f.limiter.SetDomainRate(host, 1/crawlDelay.Seconds(), 1)
		}
	}
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	finalURL := resp.Request.URL.String()
	host, _ := hostOf(finalURL)
	result := &Result{
		Body:       string(body),
		Subject:    extractSubject(finalURL),
		Host:       host,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}

	if f.store != nil {
		if data, err := json.Marshal(result); err == nil {
			_ = f.store.Set(cache.Key(rawURL), data, 0)
		}
	}
	return result, nil
}

func hostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}

// extractSubject derives a human-readable page title from the URL path.
func extractSubject(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return parsed.Host
	}

	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	last = strings.ReplaceAll(last, "_", " ")
	last = strings.ReplaceAll(last, "-", " ")
	if idx := strings.LastIndex(last, "."); idx > 0 {
		last = last[:idx]
	}
	return last
}
