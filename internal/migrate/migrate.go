// Package migrate applies sequential schema migrations to on-disk data,
// upgrading from one version to the next.
package migrate

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Migration upgrades on-disk data from the previous schema version to Version.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a short human-readable label for log output.
	Description string
	// Upgrade transforms data from the prior version to [Migration.Version].
	Upgrade func(data []byte) ([]byte, error)
}

// Registry holds the current version and migrations for a single file
// format. Each format gets its own instance so version numbers are
// independent.
type Registry struct {
	// Name identifies the file format in log output.
	Name string
	// CurrentVersion is the latest schema version this registry produces.
	CurrentVersion int

	mu         sync.Mutex
	migrations []Migration
}

// ///////////////////////////////////////////////
// Registries
// ///////////////////////////////////////////////

// Config is the migration registry for config.toml.
var Config = &Registry{Name: "config", CurrentVersion: 1}

// Setup is the migration registry for setup.json. Version 2 introduced the
// client_uuid field.
var Setup = &Registry{Name: "setup", CurrentVersion: 2}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Register adds a migration. It panics if the version is already registered
// or lies beyond CurrentVersion.
func (r *Registry) Register(m Migration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Version > r.CurrentVersion {
		panic(fmt.Sprintf("migrate: %s migration v%d exceeds current version %d", r.Name, m.Version, r.CurrentVersion))
	}
	for _, existing := range r.migrations {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrate: duplicate %s migration version %d (description: %q)", r.Name, m.Version, m.Description))
		}
	}
	r.migrations = append(r.migrations, m)
	slices.SortFunc(r.migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
}

// NeedsMigration reports whether a file at fileVersion is older than the
// registry's current version.
func (r *Registry) NeedsMigration(fileVersion int) bool {
	return fileVersion < r.CurrentVersion
}

// Run applies every registered migration whose Version exceeds fromVersion,
// in ascending order. It returns the transformed data and the version reached,
// which is CurrentVersion when every step succeeds.
func (r *Registry) Run(data []byte, fromVersion int, logger *slog.Logger) ([]byte, int, error) {
	r.mu.Lock()
	steps := slices.Clone(r.migrations)
	r.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	version := fromVersion
	for _, m := range steps {
		if version >= m.Version {
			continue
		}
		logger.Info("applying migration", "file", r.Name, "version", m.Version, "description", m.Description)
		out, err := m.Upgrade(data)
		if err != nil {
			return nil, version, fmt.Errorf("%s migration to v%d failed: %w", r.Name, m.Version, err)
		}
		data = out
		version = m.Version
	}
	if version < r.CurrentVersion {
		version = r.CurrentVersion
	}
	return data, version, nil
}
