// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/jskoetsier/nzbindexer/internal/binary"
	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/metrics"
)

// Provider is one external name database. Lookup returns the resolved name,
// or "" when the key is unknown. Timeouts and non-2xx responses are routine
// misses, not fatal errors.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, key string) (string, error)
}

// maxErrorBodySize bounds how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// ErrProviderUnavailable wraps circuit-open and rate-limit conditions.
var ErrProviderUnavailable = errors.New("resolve: provider unavailable")

// httpProvider is the shared transport for HTTP JSON name databases: one
// rate limiter and one circuit breaker per provider, so a slow or failing
// service is backed off without affecting the others.
type httpProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// ProviderOptions configures one HTTP provider.
type ProviderOptions struct {
	Name          string
	URL           string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
}

func newHTTPProvider(opts ProviderOptions) *httpProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	p := &httpProvider{
		name:    opts.Name,
		baseURL: opts.URL,
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
	}
	p.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ProviderBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			logging.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit breaker state changed")
		},
	})
	return p
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// get performs a rate-limited, breaker-guarded GET and returns the body.
func (p *httpProvider) get(ctx context.Context, u string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	body, err := p.breaker.Execute(func() ([]byte, error) {
		return p.doRequest(ctx, u)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open for %s", ErrProviderUnavailable, p.name)
	}
	return body, err
}

// doRequest issues one GET, honoring 429 Retry-After with a bounded wait.
func (p *httpProvider) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 && secs <= 60 {
				delay = time.Duration(secs) * time.Second
			}
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			return nil, fmt.Errorf("%w: rate limited by %s", ErrProviderUnavailable, p.name)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("resolve: %s returned %d: %s", p.name, resp.StatusCode, truncate(string(snippet), 200))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// PredbProvider queries a pre-database style service:
//
//	GET <base>?q=<key> -> {"status":"success","rowCount":1,"data":[{"name":"..."}]}
type PredbProvider struct {
	*httpProvider
}

// NewPredbProvider builds a predb-style provider.
func NewPredbProvider(opts ProviderOptions) *PredbProvider {
	return &PredbProvider{newHTTPProvider(opts)}
}

func (p *PredbProvider) Name() string { return p.name }

func (p *PredbProvider) Lookup(ctx context.Context, key string) (string, error) {
	u := fmt.Sprintf("%s?q=%s&count=1", p.baseURL, url.QueryEscape(key))
	body, err := p.get(ctx, u)
	if err != nil {
		return "", err
	}
	var payload struct {
		Status   string `json:"status"`
		RowCount int    `json:"rowCount"`
		Data     []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("resolve: %s: decode response: %w", p.name, err)
	}
	if payload.Status != "success" || payload.RowCount < 1 || len(payload.Data) == 0 {
		return "", nil
	}
	return payload.Data[0].Name, nil
}

// HydraProvider queries an aggregated meta-search indexer:
//
//	GET <base>/api?apikey=<k>&t=search&q=<key>&o=json -> {"items":[{"title":"..."}]}
type HydraProvider struct {
	*httpProvider
}

// NewHydraProvider builds a meta-search provider.
func NewHydraProvider(opts ProviderOptions) *HydraProvider {
	return &HydraProvider{newHTTPProvider(opts)}
}

func (p *HydraProvider) Name() string { return p.name }

func (p *HydraProvider) Lookup(ctx context.Context, key string) (string, error) {
	u := fmt.Sprintf("%s/api?apikey=%s&t=search&q=%s&o=json",
		p.baseURL, url.QueryEscape(p.apiKey), url.QueryEscape(key))
	body, err := p.get(ctx, u)
	if err != nil {
		return "", err
	}
	var payload struct {
		Items []struct {
			Title string `json:"title"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("resolve: %s: decode response: %w", p.name, err)
	}
	if len(payload.Items) == 0 {
		return "", nil
	}
	return payload.Items[0].Title, nil
}

// LookupStrategy queries all providers concurrently and takes the first
// valid answer. Providers are independent: one timing out or erroring never
// blocks the others, and the whole step is bounded by Timeout.
type LookupStrategy struct {
	providers []Provider
	timeout   time.Duration
}

// NewLookupStrategy builds the external-lookup chain step.
func NewLookupStrategy(timeout time.Duration, providers ...Provider) *LookupStrategy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LookupStrategy{providers: providers, timeout: timeout}
}

func (s *LookupStrategy) Name() string { return StrategyLookup }

func (s *LookupStrategy) Attempt(ctx context.Context, b *binary.Binary) (Outcome, bool, error) {
	if len(s.providers) == 0 {
		return Outcome{}, false, nil
	}
	key := b.Fingerprint()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		provider string
		name     string
		err      error
	}
	results := make(chan result, len(s.providers))
	for _, p := range s.providers {
		go func(p Provider) {
			name, err := p.Lookup(ctx, key)
			results <- result{provider: p.Name(), name: name, err: err}
		}(p)
	}

	var firstErr error
	for range s.providers {
		select {
		case <-ctx.Done():
			return Outcome{}, false, firstErr
		case res := <-results:
			if res.err != nil {
				logging.Debug().Err(res.err).
					Str("provider", res.provider).
					Str("key", key).
					Msg("provider lookup failed")
				if firstErr == nil {
					firstErr = res.err
				}
				continue
			}
			if res.name == "" || !binary.ValidName(res.name) {
				continue
			}
			return Outcome{
				Name:       res.name,
				Confidence: ConfidenceProvider,
				Source:     res.provider,
			}, true, nil
		}
	}
	return Outcome{}, false, firstErr
}
