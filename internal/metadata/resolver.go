// Package metadata resolves poster art, canonical titles and deep links for
// the media being played.
//
// Lookups go to {api}/api/metadata/{kind}?q={query}. The [Resolver] never
// returns an error: every failure is reported as a not-found [Result]. Found
// results are cached in a bounded LRU keyed by (kind, query); not-found
// results are never cached so they are retried on later ticks.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"tools.zach/dev/plexcord/internal/logger"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Kind selects the lookup endpoint.
type Kind string

const (
	KindMovie Kind = "movie"
	KindTV    Kind = "tv"
	KindMusic Kind = "music"
	KindBook  Kind = "book"
)

// Valid reports whether k names a known endpoint.
func (k Kind) Valid() bool {
	switch k {
	case KindMovie, KindTV, KindMusic, KindBook:
		return true
	}
	return false
}

// Result is the lookup service's answer. Only Found results carry data.
type Result struct {
	Found bool   `json:"found"`
	Image string `json:"image,omitempty"`
	Title string `json:"title,omitempty"`
	Line1 string `json:"line1,omitempty"`
	Line2 string `json:"line2,omitempty"`
	URL   string `json:"url,omitempty"`
}

type cacheKey struct {
	kind  Kind
	query string
}

// errNotFound marks a well-formed found=false answer so it does not count
// against the circuit breaker.
var errNotFound = errors.New("not found")

// ///////////////////////////////////////////////
// Resolver
// ///////////////////////////////////////////////

// Options configures a [Resolver].
type Options struct {
	// BaseURL is the service root. An empty BaseURL disables lookups.
	BaseURL string
	// ClientUUID and AppVersion identify this install to the service.
	ClientUUID string
	AppVersion string
	// Timeout bounds each lookup. Defaults to 3s.
	Timeout time.Duration
	// CacheSize bounds the number of cached results. Defaults to 2048.
	CacheSize int
	// FailureThreshold is the number of consecutive transport failures that
	// open the breaker. Defaults to 5.
	FailureThreshold uint32
	// OpenFor is how long the breaker stays open. Defaults to 1m.
	OpenFor time.Duration
	Logger  *slog.Logger
}

// Resolver performs cached metadata lookups.
type Resolver struct {
	opts    Options
	log     *slog.Logger
	http    *retryablehttp.Client
	cache   *lru.Cache[cacheKey, Result]
	breaker *gobreaker.CircuitBreaker[Result]
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 2048
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("component", "metadata")

	cache, err := lru.New[cacheKey, Result](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 0
	hc.HTTPClient.Timeout = opts.Timeout
	hc.Logger = nil

	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "metadata-api",
		MaxRequests: 1,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Resolver{
		opts:    opts,
		log:     log,
		http:    hc,
		cache:   cache,
		breaker: breaker,
	}, nil
}

// Enabled reports whether a service URL is configured.
func (r *Resolver) Enabled() bool {
	return r.opts.BaseURL != ""
}

// Cached returns the number of cached results.
func (r *Resolver) Cached() int {
	return r.cache.Len()
}

// Resolve looks up query for kind, serving from cache when possible.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, query string) Result {
	query = strings.TrimSpace(query)
	if query == "" || !kind.Valid() || !r.Enabled() {
		return Result{}
	}

	key := cacheKey{kind: kind, query: query}
	if res, ok := r.cache.Get(key); ok {
		logger.Trace(r.log, "metadata cache hit", "kind", kind, "query", query)
		return res
	}

	res, err := r.breaker.Execute(func() (Result, error) {
		return r.fetch(ctx, kind, query)
	})
	switch {
	case err == nil:
		r.cache.Add(key, res)
		return res
	case errors.Is(err, errNotFound):
		r.log.Debug("metadata not found", "kind", kind, "query", query)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		logger.Trace(r.log, "metadata lookup skipped", "kind", kind, "reason", err)
	default:
		r.log.Warn("metadata lookup failed", "kind", kind, "query", query, "error", err)
	}
	return Result{}
}

// fetch performs one lookup request.
func (r *Resolver) fetch(ctx context.Context, kind Kind, query string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	endpoint := r.opts.BaseURL + "/api/metadata/" + string(kind) + "?" + url.Values{"q": {query}}.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-UUID", r.opts.ClientUUID)
	req.Header.Set("X-App-Version", r.opts.AppVersion)

	resp, err := r.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if !res.Found {
		return Result{}, errNotFound
	}
	return res, nil
}
