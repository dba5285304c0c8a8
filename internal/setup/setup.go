// Package setup loads the persisted setup blob written by the first-run
// wizard: the Plex account token, the chosen server and user, the libraries
// holding audiobooks, and the client instance identifier.
//
// The daemon treats the blob as read-only apart from the client_uuid
// backfill performed by the version 2 migration.
package setup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"tools.zach/dev/plexcord/internal/atomicfile"
	"tools.zach/dev/plexcord/internal/logger"
	"tools.zach/dev/plexcord/internal/migrate"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrNotConfigured is returned when no setup blob exists yet.
	ErrNotConfigured = errors.New("setup has not been completed")
	// ErrIncomplete is returned when a required field is empty.
	ErrIncomplete = errors.New("setup is incomplete")
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Setup is the persisted first-run configuration.
type Setup struct {
	Version            int      `json:"version"`
	AuthToken          string   `json:"auth_token"`
	ServerName         string   `json:"server_name"`
	UserFilter         string   `json:"user_filter"`
	AudiobookLibraries []string `json:"audiobook_libraries"`
	ClientUUID         string   `json:"client_uuid"`
}

func init() {
	migrate.Setup.Register(migrate.Migration{
		Version:     2,
		Description: "backfill client_uuid",
		Upgrade:     backfillClientUUID,
	})
}

// backfillClientUUID assigns a random client_uuid when the blob has none.
// Unknown fields are preserved.
func backfillClientUUID(data []byte) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse setup: %w", err)
	}
	if id, _ := raw["client_uuid"].(string); id == "" {
		raw["client_uuid"] = uuid.NewString()
	}
	raw["version"] = 2
	return json.Marshal(raw)
}

// peekVersion returns the blob's version field, treating a missing field as
// version 1 (the wizard's original format).
func peekVersion(data []byte) int {
	var v struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &v); err != nil || v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

// Load reads the setup blob at path, migrating and re-saving it when it
// predates the current format. A missing file returns [ErrNotConfigured].
func Load(path string, log *slog.Logger) (*Setup, error) {
	if log == nil {
		log = logger.Discard()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("read setup: %w", err)
	}

	version := peekVersion(data)
	migrated := migrate.Setup.NeedsMigration(version)
	if migrated {
		if data, _, err = migrate.Setup.Run(data, version, log); err != nil {
			return nil, fmt.Errorf("migrate setup: %w", err)
		}
	}

	var s Setup
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse setup: %w", err)
	}
	if s.ClientUUID == "" {
		// A current-version blob the wizard wrote without an identifier.
		if data, err = backfillClientUUID(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse setup: %w", err)
		}
		migrated = true
	}
	s.Version = migrate.Setup.CurrentVersion

	if err := s.Validate(); err != nil {
		return nil, err
	}

	// Saves the raw document, including fields Setup does not model.
	if migrated {
		if err := atomicfile.Write(path, data, 0o600); err != nil {
			log.Warn("failed to save migrated setup", "error", err)
		}
	}
	return &s, nil
}

// Validate reports the first missing required field.
func (s *Setup) Validate() error {
	switch {
	case strings.TrimSpace(s.AuthToken) == "":
		return fmt.Errorf("%w: auth_token is empty", ErrIncomplete)
	case strings.TrimSpace(s.ServerName) == "":
		return fmt.Errorf("%w: server_name is empty", ErrIncomplete)
	case strings.TrimSpace(s.UserFilter) == "":
		return fmt.Errorf("%w: user_filter is empty", ErrIncomplete)
	}
	return nil
}

// Reset removes the setup blob so the wizard runs again on next launch.
// A missing file is not an error.
func Reset(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove setup: %w", err)
	}
	return nil
}
