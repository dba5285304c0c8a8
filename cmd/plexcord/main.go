// Package main implements the Plexcord daemon, which mirrors Plex playback to
// Discord Rich Presence.
//
// Besides running the daemon, the binary doubles as the control surface for
// tray or script integrations: -pause and -resume flip the operator pause
// marker, -status prints the last status snapshot, -tail prints the end of the
// log, and -reset removes the setup blob so the wizard runs again.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"

	rootpkg "tools.zach/dev/plexcord"
	"tools.zach/dev/plexcord/internal/activity"
	"tools.zach/dev/plexcord/internal/atomicfile"
	"tools.zach/dev/plexcord/internal/config"
	"tools.zach/dev/plexcord/internal/engine"
	"tools.zach/dev/plexcord/internal/logger"
	"tools.zach/dev/plexcord/internal/metadata"
	"tools.zach/dev/plexcord/internal/paths"
	"tools.zach/dev/plexcord/internal/plex"
	"tools.zach/dev/plexcord/internal/presence"
	"tools.zach/dev/plexcord/internal/remote"
	"tools.zach/dev/plexcord/internal/setup"
	"tools.zach/dev/plexcord/internal/toggle"

	"github.com/goccy/go-json"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//
//	-X main.version=2.3.0
//
// Builds from a modified tree are tagged "+dirty".
var version = "2.3.0"

// appName is sent to Plex as X-Plex-Product.
const appName = "Plexcord"

func resolveVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.modified" && s.Value == "true" {
			return version + "+dirty"
		}
	}
	return version
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args and dispatches to an operator action or the daemon. It
// returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(paths.BinaryName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", "", "Data directory for config, setup, status and logs (default: user config dir)")
	pause := fs.Bool("pause", false, "Pause presence broadcasting (ghost mode) and exit")
	resume := fs.Bool("resume", false, "Resume presence broadcasting and exit")
	status := fs.Bool("status", false, "Print the daemon status and exit")
	tail := fs.Int("tail", 0, "Print the last N log lines and exit")
	reset := fs.Bool("reset", false, "Delete the setup blob so the setup wizard runs again, and exit")
	showVersion := fs.Bool("version", false, "Print the version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dirs, err := resolveDataDir(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return 1
	}

	switch {
	case *showVersion:
		fmt.Fprintf(stdout, "%s %s\n", paths.BinaryName, resolveVersion())
		return 0
	case *pause && *resume:
		fmt.Fprintln(stderr, "-pause and -resume are mutually exclusive")
		return 2
	case *pause, *resume:
		if err := toggle.Set(dirs.Paused(), *pause); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		if *pause {
			fmt.Fprintln(stdout, "presence paused")
		} else {
			fmt.Fprintln(stdout, "presence resumed")
		}
		return 0
	case *status:
		if err := printStatus(dirs, stdout); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		return 0
	case *tail > 0:
		out, err := logger.ReadTail(dirs.Log(), *tail)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
		return 0
	case *reset:
		if err := setup.Reset(dirs.Setup()); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "setup removed; run the setup wizard to configure Plexcord again")
		return 0
	}

	return daemon(dirs, stderr)
}

// resolveDataDir returns the data directory from the flag or the platform
// default.
func resolveDataDir(flagValue string) (paths.DataDir, error) {
	if flagValue != "" {
		return paths.DataDir{Root: flagValue}, nil
	}
	dirs, err := paths.Default()
	if err != nil {
		return paths.DataDir{}, fmt.Errorf("locate data directory: %w", err)
	}
	return dirs, nil
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// daemon runs the reconciliation loop until a shutdown signal arrives.
func daemon(dirs paths.DataDir, stderr io.Writer) int {
	if err := os.MkdirAll(dirs.Root, 0o755); err != nil {
		fmt.Fprintf(stderr, "fatal: create data dir: %v\n", err)
		return 1
	}

	if alive, pid := checkStalePID(dirs); alive {
		fmt.Fprintf(stderr, "daemon already running (pid %d)\n", pid)
		return 1
	}

	if _, err := config.Seed(dirs.Config(), rootpkg.DefaultConfigTOML); err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	cfg, err := config.Load(dirs.Config(), nil)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: load config: %v\n", err)
		writeStatus(dirs, configurationStatus(err), nil)
		return 1
	}

	logOpts := logger.Options{
		Path:      dirs.Log(),
		Level:     logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB: cfg.Log.MaxSizeMB,
	}
	if cfg.Log.Console {
		logOpts.Console = stderr
	}
	log, logCloser, err := logger.NewLogger(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: init logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	log.Info("plexcord starting", "version", ver, "data_dir", dirs.Root)

	token := pidToken()
	pidFile, err := writePID(dirs, token)
	if err != nil {
		log.Error("failed to write PID file", "error", err)
		return 1
	}
	defer removePID(dirs, token, pidFile)

	if err := cfg.CheckClientSource(); err != nil {
		logger.Fail(log, "configuration error", "error", err)
		writeStatus(dirs, configurationStatus(err), log)
		return 1
	}
	blob, err := setup.Load(dirs.Setup(), log)
	if err != nil {
		if errors.Is(err, setup.ErrNotConfigured) {
			err = fmt.Errorf("%w: run the setup wizard first", err)
		}
		logger.Fail(log, "configuration error", "error", err)
		writeStatus(dirs, configurationStatus(err), log)
		return 1
	}

	eng, err := buildEngine(cfg, blob, dirs, ver, log)
	if err != nil {
		logger.Fail(log, "startup failed", "error", err)
		return 1
	}

	watcher, err := toggle.NewWatcher(dirs.Paused(), cfg.PauseCheck(), log)
	if err != nil {
		log.Error("failed to watch pause marker", "error", err)
		return 1
	}
	defer watcher.Close()
	if watcher.Polling() {
		log.Info("using polling mode for the pause marker")
	}
	eng.SetPaused(watcher.Paused())

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	go forwardPause(ctx, watcher, eng)

	if err := eng.Run(ctx); err != nil {
		log.Error("update loop failed", "error", err)
		return 1
	}
	log.Info("plexcord stopped")
	return 0
}

// buildEngine wires the adapters described by cfg and blob into an engine.
func buildEngine(cfg *config.Config, blob *setup.Setup, dirs paths.DataDir, ver string, log *slog.Logger) (*engine.Engine, error) {
	source := plex.NewClient(plex.Options{
		Token:      blob.AuthToken,
		ServerName: blob.ServerName,
		ServerURL:  cfg.Plex.ServerURL,
		ClientID:   blob.ClientUUID,
		Product:    appName,
		Version:    ver,
		Timeout:    cfg.PlexTimeout(),
		Logger:     log,
	})

	resolver, err := metadata.New(metadata.Options{
		BaseURL:    cfg.API.URL,
		ClientUUID: blob.ClientUUID,
		AppVersion: ver,
		Timeout:    cfg.APITimeout(),
		CacheSize:  cfg.Behavior.MetadataCacheSize,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	broadcaster := presence.New(presence.Options{
		SmallImage: cfg.Display.SmallImage,
		Logger:     log,
	})

	fetcher := remote.New(remote.Options{
		BaseURL:    cfg.API.URL,
		ClientUUID: blob.ClientUUID,
		AppVersion: ver,
		Logger:     log,
	})

	return engine.New(source, resolver, broadcaster, fetcher, engine.Options{
		UserFilter: blob.UserFilter,
		Library: activity.Options{
			AudiobookLibraries: blob.AudiobookLibraries,
			IgnoredLibraries:   cfg.Privacy.IgnoreLibraries,
		},
		Enrich: activity.EnrichOptions{
			DefaultImage: cfg.Display.LargeImage,
			BookImage:    cfg.Display.BookImage,
			StaticButton: activity.Button{Label: cfg.Display.Button.Label, URL: cfg.Display.Button.URL},
		},
		ClientID:          cfg.Discord.AppID,
		Version:           ver,
		PollInterval:      cfg.PollInterval(),
		ReconnectInterval: cfg.ReconnectInterval(),
		PauseCheck:        cfg.PauseCheck(),
		Logger:            log,
		OnStatus:          func(st engine.Status) { writeStatus(dirs, st, log) },
	}), nil
}

// forwardPause mirrors the pause marker into the engine until ctx is done.
func forwardPause(ctx context.Context, w *toggle.Watcher, eng *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Events():
			eng.SetPaused(w.Paused())
		}
	}
}

// ///////////////////////////////////////////////
// Status File
// ///////////////////////////////////////////////

func configurationStatus(err error) engine.Status {
	return engine.Status{
		Text:      engine.TextConfigurationError,
		Color:     engine.ColorError,
		State:     engine.DisconnectedSource,
		LastError: engine.Configuration,
		Error:     err.Error(),
	}
}

// writeStatus replaces the status file. Failures are logged when log is
// non-nil and otherwise ignored.
func writeStatus(dirs paths.DataDir, st engine.Status, log *slog.Logger) {
	if err := atomicfile.WriteJSON(dirs.Status(), st, 0o644); err != nil && log != nil {
		log.Debug("failed to write status file", "error", err)
	}
}

// printStatus writes a human-readable summary of the status file to w.
func printStatus(dirs paths.DataDir, w io.Writer) error {
	running, pid := checkStalePID(dirs)
	if running {
		fmt.Fprintf(w, "daemon:   running (pid %d)\n", pid)
	} else {
		fmt.Fprintln(w, "daemon:   not running")
	}

	data, err := os.ReadFile(dirs.Status())
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, "status:   unknown (no status file)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	var st engine.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	fmt.Fprintf(w, "status:   %s (%s)\n", st.Text, st.Color)
	if st.Activity != "" {
		fmt.Fprintf(w, "activity: %s\n", st.Activity)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "error:    %s: %s\n", st.LastError, st.Error)
	}
	if st.UpdateAvailable {
		fmt.Fprintf(w, "update:   %s available\n", st.LatestVersion)
	}
	if toggle.Present(dirs.Paused()) {
		fmt.Fprintln(w, "paused:   yes")
	}
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "updated:  %s\n", st.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
