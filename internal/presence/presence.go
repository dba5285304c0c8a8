// Package presence publishes activities to Discord Rich Presence.
//
// A [Broadcaster] owns at most one Discord IPC connection. A publish that
// fails on the wire tears the connection down so the caller reconnects before
// publishing again. A payload Discord rejects leaves the connection open.
// Clears are best effort.
package presence

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"tools.zach/dev/plexcord/internal/activity"
	"tools.zach/dev/plexcord/internal/discord"
	"tools.zach/dev/plexcord/internal/logger"
)

// ErrNotConnected is returned by Publish before a successful Connect.
var ErrNotConnected = errors.New("presence not connected")

// ErrNoClientID is returned by Connect when the client id is empty.
var ErrNoClientID = errors.New("no discord client id")

// Options configures a [Broadcaster].
type Options struct {
	// SmallImage is the asset key of the status badge.
	SmallImage string
	// Dial overrides Discord socket discovery.
	Dial   discord.Dialer
	Logger *slog.Logger
}

// Broadcaster is the presence adapter used by the reconciliation loop.
type Broadcaster struct {
	opts   Options
	log    *slog.Logger
	client *discord.Client
}

// New creates a disconnected Broadcaster.
func New(opts Options) *Broadcaster {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Broadcaster{opts: opts, log: log.With("component", "presence")}
}

// Connect opens the IPC connection for clientID. A different clientID than
// the previous call replaces the underlying client.
func (b *Broadcaster) Connect(clientID string) error {
	if clientID == "" {
		return ErrNoClientID
	}
	if b.client != nil && b.client.AppID() != clientID {
		b.client.Disconnect()
		b.client = nil
	}
	if b.client == nil {
		if b.opts.Dial != nil {
			b.client = discord.NewClientWithDialer(clientID, b.opts.Dial)
		} else {
			b.client = discord.NewClient(clientID)
		}
	}
	if err := b.client.Connect(); err != nil {
		return fmt.Errorf("connect to discord: %w", err)
	}
	b.log.Info("connected to discord", "client_id", clientID)
	return nil
}

// Connected reports whether an IPC connection is open.
func (b *Broadcaster) Connected() bool {
	return b.client != nil && b.client.Connected()
}

// Publish replaces the displayed activity with e. An I/O failure drops the
// connection; a [discord.CommandError] does not.
func (b *Broadcaster) Publish(e *activity.Enriched) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	if err := b.client.SetActivity(ToDiscord(e, b.opts.SmallImage)); err != nil {
		var cmdErr *discord.CommandError
		if !errors.As(err, &cmdErr) {
			b.client.Disconnect()
		}
		return fmt.Errorf("publish activity: %w", err)
	}
	return nil
}

// Clear removes the displayed activity. Errors are logged and dropped.
func (b *Broadcaster) Clear() {
	if !b.Connected() {
		return
	}
	if err := b.client.ClearActivity(); err != nil {
		b.log.Debug("clear activity failed", "error", err)
	}
}

// Close clears the activity and closes the connection.
func (b *Broadcaster) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// ///////////////////////////////////////////////
// Mapping
// ///////////////////////////////////////////////

// Discord rejects activity strings outside these bounds.
const (
	minTextRunes  = 2
	maxTextRunes  = 128
	maxLabelRunes = 32
)

// fitText clamps s to Discord's length bounds. Empty strings are omitted from
// the payload and stay empty.
func fitText(s string, limit int) string {
	n := utf8.RuneCountInString(s)
	switch {
	case n == 0:
		return s
	case n < minTextRunes:
		return s + strings.Repeat("\u200b", minTextRunes-n)
	case n > limit:
		return string([]rune(s)[:limit-1]) + "…"
	}
	return s
}

// ToDiscord builds the SET_ACTIVITY payload for e.
func ToDiscord(e *activity.Enriched, smallImage string) *discord.Activity {
	out := &discord.Activity{
		Type:    discord.ActivityWatching,
		Details: fitText(e.Details, maxTextRunes),
		State:   fitText(e.State, maxTextRunes),
		Assets: &discord.Assets{
			LargeImage: e.ImageRef,
			LargeText:  fitText(e.DisplayTitle, maxTextRunes),
			SmallImage: smallImage,
			SmallText:  "Playing",
		},
	}
	if e.Kind == activity.Music || e.Kind == activity.Audiobook {
		out.Type = discord.ActivityListening
	}
	if e.Paused {
		out.Assets.SmallText = "Paused"
	}
	if e.Window != nil {
		out.Timestamps = &discord.Timestamps{
			Start: e.Window.Start.Unix(),
			End:   e.Window.End.Unix(),
		}
	}
	for _, btn := range e.Buttons() {
		out.Buttons = append(out.Buttons, discord.Button{Label: fitText(btn.Label, maxLabelRunes), URL: btn.URL})
	}
	return out
}
