// Package remote fetches the application's remote configuration: the Discord
// client id to present as and the latest released version.
//
// The first successful response is cached for the lifetime of the [Fetcher];
// failures are not cached, so later calls retry.
package remote

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"tools.zach/dev/plexcord/internal/logger"
)

var (
	// ErrNotConfigured is returned when no API URL is set.
	ErrNotConfigured = errors.New("remote config URL not configured")
	// ErrNoClientID is returned when the service answers without a client id.
	ErrNoClientID = errors.New("remote config has no client id")
)

// DefaultLatestVersion is reported when the service omits latest_version.
const DefaultLatestVersion = "0.0.0"

// Config is the remote configuration document.
type Config struct {
	ClientID      string `json:"client_id"`
	LatestVersion string `json:"latest_version"`
}

// Options configures a [Fetcher].
type Options struct {
	BaseURL    string
	ClientUUID string
	AppVersion string
	// Timeout bounds each attempt. Defaults to 5s.
	Timeout time.Duration
	// RetryMax is the number of retries per Fetch. Defaults to 2.
	RetryMax int
	Logger   *slog.Logger
}

// Fetcher retrieves and caches the remote configuration.
type Fetcher struct {
	opts Options
	log  *slog.Logger
	http *retryablehttp.Client

	mu     sync.Mutex
	cached *Config
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 2
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = opts.RetryMax
	hc.RetryWaitMin = 250 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.HTTPClient.Timeout = opts.Timeout
	hc.Logger = nil

	return &Fetcher{opts: opts, log: log.With("component", "remote"), http: hc}
}

// Fetch returns the cached configuration, fetching it on first use.
func (f *Fetcher) Fetch(ctx context.Context) (Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil {
		return *f.cached, nil
	}
	if f.opts.BaseURL == "" {
		return Config{}, ErrNotConfigured
	}

	cfg, err := f.fetch(ctx)
	if err != nil {
		return Config{}, err
	}
	f.cached = &cfg
	f.log.Info("remote config loaded", "client_id", cfg.ClientID, "latest_version", cfg.LatestVersion)
	return cfg, nil
}

func (f *Fetcher) fetch(ctx context.Context) (Config, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout*time.Duration(f.opts.RetryMax+1))
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.opts.BaseURL+"/api/config/discord-id", nil)
	if err != nil {
		return Config{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-UUID", f.opts.ClientUUID)
	req.Header.Set("X-App-Version", f.opts.AppVersion)

	resp, err := f.http.Do(req)
	if err != nil {
		return Config{}, fmt.Errorf("fetch remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Config{}, fmt.Errorf("fetch remote config: unexpected status: %s", resp.Status)
	}

	var cfg Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode remote config: %w", err)
	}
	if cfg.ClientID == "" {
		return Config{}, ErrNoClientID
	}
	cfg.LatestVersion = cmp.Or(cfg.LatestVersion, DefaultLatestVersion)
	return cfg, nil
}
