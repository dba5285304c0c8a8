// Package engine runs the reconciliation loop that keeps Discord Rich Presence
// in step with Plex playback.
//
// One goroutine calls [Engine.Run] and owns every connection, the metadata
// cache and the change-detection state. Other goroutines may only flip the
// pause and stop switches and read [Engine.Status].
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tools.zach/dev/plexcord/internal/activity"
	"tools.zach/dev/plexcord/internal/logger"
	"tools.zach/dev/plexcord/internal/metadata"
	"tools.zach/dev/plexcord/internal/plex"
	"tools.zach/dev/plexcord/internal/remote"
	"tools.zach/dev/plexcord/internal/update"
)

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("engine already running")

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// SessionSource reads active playback sessions.
type SessionSource interface {
	Connected() bool
	Connect(ctx context.Context) error
	Sessions(ctx context.Context) ([]plex.Session, error)
	Reset()
}

// Resolver performs metadata lookups. It never fails.
type Resolver interface {
	Resolve(ctx context.Context, kind metadata.Kind, query string) metadata.Result
}

// Broadcaster publishes activities.
type Broadcaster interface {
	Connect(clientID string) error
	Connected() bool
	Publish(e *activity.Enriched) error
	Clear()
	Close() error
}

// ConfigFetcher supplies the remote client id and latest version.
type ConfigFetcher interface {
	Fetch(ctx context.Context) (remote.Config, error)
}

// Clock abstracts time for the loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ///////////////////////////////////////////////
// Engine
// ///////////////////////////////////////////////

// Options configures an [Engine].
type Options struct {
	// UserFilter selects whose sessions are broadcast.
	UserFilter string
	Library    activity.Options
	Enrich     activity.EnrichOptions
	// ClientID overrides the remotely fetched Discord application id.
	ClientID string
	// Version is the running build, compared against the remote latest.
	Version string

	PollInterval      time.Duration
	ReconnectInterval time.Duration
	PauseCheck        time.Duration

	Clock  Clock
	Logger *slog.Logger
	// OnStatus is called from the loop goroutine after every tick.
	OnStatus func(Status)
}

// Engine is the reconciliation loop.
type Engine struct {
	source      SessionSource
	resolver    Resolver
	broadcaster Broadcaster
	remote      ConfigFetcher
	opts        Options
	clock       Clock
	log         *slog.Logger

	running  atomic.Bool
	paused   atomic.Bool
	status   atomic.Pointer[Status]
	stop     chan struct{}
	stopOnce sync.Once
	wake     chan struct{}

	// Owned by the loop goroutine.
	state        State
	lastSig      activity.Signature
	broadcasting bool
	lastPrint    uint64
	lastKind     ErrorKind
	updateSeen   bool
	updateAvail  bool
	latest       string
}

// New creates an Engine. fetcher may be nil when Options.ClientID is set.
func New(source SessionSource, resolver Resolver, broadcaster Broadcaster, fetcher ConfigFetcher, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 30 * time.Second
	}
	if opts.PauseCheck <= 0 {
		opts.PauseCheck = 2 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	e := &Engine{
		source:      source,
		resolver:    resolver,
		broadcaster: broadcaster,
		remote:      fetcher,
		opts:        opts,
		clock:       clock,
		log:         log.With("component", "engine"),
		stop:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		state:       DisconnectedSource,
	}
	e.status.Store(&Status{Text: TextPlexDisconnected, Color: ColorError, State: DisconnectedSource, UpdatedAt: clock.Now()})
	return e
}

// Status returns the most recent status snapshot.
func (e *Engine) Status() Status {
	return *e.status.Load()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Paused reports whether the operator has paused broadcasting.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// SetPaused flips the operator pause switch and wakes the loop.
func (e *Engine) SetPaused(paused bool) {
	if e.paused.Swap(paused) != paused {
		e.log.Info("operator pause changed", "paused", paused)
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// Stop asks Run to return after the current tick.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// Run ticks until ctx is done or Stop is called, then closes the broadcaster.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.log.Info("starting update loop")
	for ctx.Err() == nil && !e.stopped() {
		wait := e.Tick(ctx)
		select {
		case <-ctx.Done():
		case <-e.stop:
		case <-e.wake:
		case <-e.clock.After(wait):
		}
	}

	if err := e.broadcaster.Close(); err != nil {
		e.log.Debug("closing broadcaster", "error", err)
	}
	e.log.Info("update loop stopped")
	return nil
}

// ///////////////////////////////////////////////
// Tick
// ///////////////////////////////////////////////

// Tick runs one reconciliation pass and returns how long to wait before the
// next one.
func (e *Engine) Tick(ctx context.Context) time.Duration {
	wait := e.tick(ctx)
	if e.opts.OnStatus != nil {
		e.opts.OnStatus(e.Status())
	}
	return wait
}

func (e *Engine) tick(ctx context.Context) time.Duration {
	if e.paused.Load() {
		e.state = PausedByOperator
		e.clear()
		e.report(TextPresencePaused, ColorDisabled, ErrNone, nil)
		return e.opts.PauseCheck
	}

	if !e.source.Connected() {
		e.state = DisconnectedSource
		if err := e.source.Connect(ctx); err != nil {
			e.report(TextPlexDisconnected, ColorError, SourceConnectivity, err)
			return e.opts.ReconnectInterval
		}
	}

	var broadcastErr error
	if !e.broadcaster.Connected() {
		e.broadcasting = false
		if err := e.connectBroadcast(ctx); err != nil {
			broadcastErr = err
		}
	}

	sessions, err := e.source.Sessions(ctx)
	if err != nil {
		e.source.Reset()
		e.clear()
		e.lastSig = activity.Signature{}
		e.state = DisconnectedSource
		e.report(TextPlexError, ColorError, SourceConnectivity, err)
		return e.opts.ReconnectInterval
	}

	current := activity.SelectCurrent(sessions, e.opts.UserFilter)
	if current != nil && activity.Hidden(current, e.opts.Library) {
		logger.Trace(e.log, "session hidden by privacy filter", "library", current.LibrarySectionTitle)
		current = nil
	}

	if current == nil {
		e.transition(activity.Signature{})
		e.clear()
		e.settle(broadcastErr, TextIdle, ColorIdle, "")
		return e.opts.PollInterval
	}

	a := activity.Normalize(current, e.opts.Library, e.clock.Now())
	res := e.resolver.Resolve(ctx, a.Kind.LookupKind(), a.LookupQuery)
	enriched := activity.Enrich(a, res, e.opts.Enrich)
	sig := enriched.Signature()
	e.transition(sig)

	if broadcastErr == nil {
		if err := e.publish(&enriched); err != nil {
			broadcastErr = err
		}
	}

	text, color := TextPlaying, ColorPlaying
	if a.Paused {
		text, color = TextPaused, ColorPaused
	}
	e.settle(broadcastErr, text, color, sig.String())
	return e.opts.PollInterval
}

// connectBroadcast resolves the client id and connects the broadcaster.
func (e *Engine) connectBroadcast(ctx context.Context) error {
	e.state = DisconnectedBroadcast

	clientID := e.opts.ClientID
	if e.remote != nil && (clientID == "" || !e.updateSeen) {
		cfg, err := e.remote.Fetch(ctx)
		switch {
		case err == nil:
			if !e.updateSeen {
				e.updateSeen = true
				e.latest = cfg.LatestVersion
				e.updateAvail = update.Check(e.opts.Version, cfg.LatestVersion, e.log)
			}
			if clientID == "" {
				clientID = cfg.ClientID
			}
		case clientID == "":
			return fmt.Errorf("resolve discord client id: %w", err)
		default:
			logger.Trace(e.log, "remote config unavailable", "error", err)
		}
	}
	if clientID == "" {
		return fmt.Errorf("resolve discord client id: %w", remote.ErrNotConfigured)
	}

	return e.broadcaster.Connect(clientID)
}

// publish sends enriched unless the identical payload is already showing.
func (e *Engine) publish(enriched *activity.Enriched) error {
	fp := enriched.Fingerprint()
	if e.broadcasting && fp == e.lastPrint {
		logger.Trace(e.log, "activity unchanged, skipping publish")
		return nil
	}
	if err := e.broadcaster.Publish(enriched); err != nil {
		e.broadcasting = false
		return err
	}
	e.broadcasting = true
	e.lastPrint = fp
	return nil
}

// clear removes the published activity once per idle period.
func (e *Engine) clear() {
	if !e.broadcasting {
		return
	}
	e.broadcasting = false
	e.lastPrint = 0
	if e.broadcaster.Connected() {
		e.broadcaster.Clear()
	}
}

// transition logs one line per signature change.
func (e *Engine) transition(sig activity.Signature) {
	if sig == e.lastSig {
		return
	}
	e.lastSig = sig
	e.log.Info("Update: " + sig.String())
}

// settle records the outcome of a reconciling tick.
func (e *Engine) settle(broadcastErr error, text string, color Color, act string) {
	if broadcastErr != nil {
		e.state = DisconnectedBroadcast
		e.reportActivity(TextDiscordDisconnected, ColorWarning, BroadcastConnectivity, broadcastErr, act)
		return
	}
	e.state = Reconciling
	e.reportActivity(text, color, ErrNone, nil, act)
}

func (e *Engine) report(text string, color Color, kind ErrorKind, err error) {
	e.reportActivity(text, color, kind, err, "")
}

// reportActivity stores a status snapshot and logs a failure the first time
// its kind is seen in a row.
func (e *Engine) reportActivity(text string, color Color, kind ErrorKind, err error, act string) {
	st := &Status{
		Text:            text,
		Color:           color,
		State:           e.state,
		LastError:       kind,
		Activity:        act,
		UpdateAvailable: e.updateAvail,
		LatestVersion:   e.latest,
		UpdatedAt:       e.clock.Now(),
	}
	if err != nil {
		st.Error = err.Error()
		if kind != e.lastKind {
			e.log.Warn(text, "kind", kind.String(), "error", err)
		} else {
			e.log.Debug(text, "kind", kind.String(), "error", err)
		}
	}
	if kind == ErrNone && e.lastKind != ErrNone {
		e.log.Info("recovered", "from", e.lastKind.String())
	}
	e.lastKind = kind
	e.status.Store(st)
}
