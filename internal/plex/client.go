// Package plex is the session source: it locates the configured Plex Media
// Server through the plex.tv resource list (or a fixed URL), then reads the
// server's active playback sessions.
//
// A [Client] is owned by a single goroutine. Any failed read leaves the
// client disconnected until [Client.Connect] succeeds again.
package plex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"
	"tools.zach/dev/plexcord/internal/logger"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrNotConnected is returned by Sessions before a successful Connect.
	ErrNotConnected = errors.New("plex server not connected")
	// ErrUnauthorized is returned when plex.tv or the server rejects the token.
	ErrUnauthorized = errors.New("plex token rejected")
	// ErrServerNotFound is returned when the account lists no server by the
	// configured name.
	ErrServerNotFound = errors.New("plex server not found")
	// ErrUnreachable is returned when none of the server's addresses answer.
	ErrUnreachable = errors.New("plex server unreachable")
)

// DefaultResourcesURL lists the servers an account can reach.
const DefaultResourcesURL = "https://plex.tv/api/v2/resources?includeHttps=1&includeRelay=1"

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Options configures a [Client].
type Options struct {
	// Token is the plex.tv account token.
	Token string
	// ServerName selects the resource to connect to during discovery.
	ServerName string
	// ServerURL, when set, is probed directly and discovery is skipped.
	ServerURL string
	// ClientID is sent as X-Plex-Client-Identifier.
	ClientID string
	// Product and Version are sent as X-Plex-Product and X-Plex-Version.
	Product string
	Version string
	// Timeout bounds each request. Defaults to 5s.
	Timeout time.Duration
	// ResourcesURL overrides DefaultResourcesURL.
	ResourcesURL string
	Logger       *slog.Logger
}

// Client reads sessions from one Plex Media Server.
type Client struct {
	opts      Options
	log       *slog.Logger
	http      *retryablehttp.Client
	discovery *retryablehttp.Client

	baseURL string
	token   string
}

// NewClient creates a disconnected client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ResourcesURL == "" {
		opts.ResourcesURL = DefaultResourcesURL
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	// Session reads are retried by the reconciliation loop, not here.
	sessions := retryablehttp.NewClient()
	sessions.RetryMax = 0
	sessions.HTTPClient.Timeout = opts.Timeout
	sessions.Logger = nil

	discovery := retryablehttp.NewClient()
	discovery.RetryMax = 2
	discovery.RetryWaitMin = 250 * time.Millisecond
	discovery.RetryWaitMax = 2 * time.Second
	discovery.HTTPClient.Timeout = opts.Timeout
	discovery.Logger = nil

	return &Client{
		opts:      opts,
		log:       log.With("component", "plex"),
		http:      sessions,
		discovery: discovery,
	}
}

// Connected reports whether a server address is known.
func (c *Client) Connected() bool {
	return c.baseURL != ""
}

// BaseURL returns the address of the connected server, or "".
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Reset forgets the connected server.
func (c *Client) Reset() {
	c.baseURL = ""
	c.token = ""
}

// Connect resolves and probes the server address.
func (c *Client) Connect(ctx context.Context) error {
	c.Reset()

	if c.opts.ServerURL != "" {
		base := strings.TrimRight(c.opts.ServerURL, "/")
		if err := c.probe(ctx, base, c.opts.Token); err != nil {
			return err
		}
		c.baseURL, c.token = base, c.opts.Token
		c.log.Info("connected to plex server", "url", base)
		return nil
	}

	res, err := c.findResource(ctx)
	if err != nil {
		return err
	}
	token := cmp.Or(res.AccessToken, c.opts.Token)

	candidates := res.orderedConnections()
	if len(candidates) == 0 {
		return fmt.Errorf("%w: %q lists no connections", ErrUnreachable, res.Name)
	}

	// All candidates are checked at once. The first success in rank order wins.
	errs := make([]error, len(candidates))
	var g errgroup.Group
	for i, conn := range candidates {
		g.Go(func() error {
			errs[i] = c.probe(ctx, conn.URI, token)
			return nil
		})
	}
	_ = g.Wait()

	for i, conn := range candidates {
		if errs[i] != nil {
			c.log.Debug("plex connection candidate failed", "uri", conn.URI, "error", errs[i])
			continue
		}
		c.baseURL, c.token = strings.TrimRight(conn.URI, "/"), token
		c.log.Info("connected to plex server", "server", res.Name, "url", c.baseURL, "local", conn.Local, "relay", conn.Relay)
		return nil
	}
	for _, err := range errs {
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
	}
	return fmt.Errorf("%w: %q: %w", ErrUnreachable, res.Name, errors.Join(errs...))
}

// Sessions returns the server's active playback sessions. Any error resets
// the client.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	var body sessionsResponse
	if err := c.getJSON(ctx, c.http, c.baseURL+"/status/sessions", c.token, &body); err != nil {
		c.Reset()
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}

	out := make([]Session, 0, len(body.MediaContainer.Metadata))
	for _, w := range body.MediaContainer.Metadata {
		out = append(out, w.session())
	}
	return out, nil
}

// ///////////////////////////////////////////////
// Discovery
// ///////////////////////////////////////////////

type resource struct {
	Name        string       `json:"name"`
	Provides    string       `json:"provides"`
	AccessToken string       `json:"accessToken"`
	Connections []connection `json:"connections"`
}

type connection struct {
	URI   string `json:"uri"`
	Local bool   `json:"local"`
	Relay bool   `json:"relay"`
}

// orderedConnections returns connections ordered local, remote, relay.
func (r resource) orderedConnections() []connection {
	rank := func(c connection) int {
		switch {
		case c.Relay:
			return 2
		case c.Local:
			return 0
		default:
			return 1
		}
	}
	out := slices.Clone(r.Connections)
	slices.SortStableFunc(out, func(a, b connection) int { return cmp.Compare(rank(a), rank(b)) })
	return out
}

// findResource returns the server resource named by Options.ServerName.
func (c *Client) findResource(ctx context.Context) (*resource, error) {
	var resources []resource
	if err := c.getJSON(ctx, c.discovery, c.opts.ResourcesURL, c.opts.Token, &resources); err != nil {
		return nil, fmt.Errorf("list plex resources: %w", err)
	}
	for i := range resources {
		r := &resources[i]
		if !strings.Contains(r.Provides, "server") {
			continue
		}
		if strings.EqualFold(r.Name, c.opts.ServerName) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrServerNotFound, c.opts.ServerName)
}

// probe checks that base answers /identity with the token.
func (c *Client) probe(ctx context.Context, base, token string) error {
	return c.getJSON(ctx, c.http, strings.TrimRight(base, "/")+"/identity", token, nil)
}

// ///////////////////////////////////////////////
// Requests
// ///////////////////////////////////////////////

// getJSON performs an authenticated GET and decodes the body into out when
// out is non-nil.
func (c *Client) getJSON(ctx context.Context, hc *retryablehttp.Client, url, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout*time.Duration(hc.RetryMax+1))
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", token)
	if c.opts.ClientID != "" {
		req.Header.Set("X-Plex-Client-Identifier", c.opts.ClientID)
	}
	if c.opts.Product != "" {
		req.Header.Set("X-Plex-Product", c.opts.Product)
	}
	if c.opts.Version != "" {
		req.Header.Set("X-Plex-Version", c.opts.Version)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
