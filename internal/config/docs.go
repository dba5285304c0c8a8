package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc annotates one entry of the generated config.default.toml.
type FieldDoc struct {
	// Comment is written above the field or section header.
	Comment string

	// Examples are written as commented-out lines below the active value.
	Examples []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// Docs maps dotted TOML paths (sections and fields) to their documentation.
// cmd/genconfig renders DefaultConfig with these comments.
var Docs = map[string]FieldDoc{
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	"discord": {
		Comment: "Discord application used for Rich Presence.",
	},
	"discord.app_id": {
		Comment: "Application ID. When empty, the ID is fetched once from\n{api.url}/api/config/discord-id.",
		Examples: []string{
			`app_id = "123456789012345678"`,
		},
	},

	"api": {
		Comment: "Metadata and remote config service.",
	},
	"api.url": {
		Comment: "Base URL. When empty, posters and links are never looked up.",
	},
	"api.timeout_seconds": {
		Comment: "Per-request timeout for metadata lookups.",
	},

	"plex": {
		Comment: "The Plex account token, server name and user filter are written to\nsetup.json by the setup wizard. These settings only tune the connection.",
	},
	"plex.server_url": {
		Comment: "Direct server URL. When empty, the server named in setup.json is\ndiscovered through plex.tv.",
		Examples: []string{
			`server_url = "http://192.168.1.10:32400"`,
		},
	},
	"plex.timeout_seconds": {},

	"display": {
		Comment: "Discord asset keys used when no poster art was found.",
	},
	"display.large_image": {},
	"display.book_image": {
		Comment: "Replaces large_image for audiobooks.",
	},
	"display.small_image": {
		Comment: "Playback indicator shown over the large image.",
	},
	"display.button": {
		Comment: "Static button shown after any deep link. Leave either field empty to hide it.",
	},
	"display.button.label": {},
	"display.button.url":   {},

	"privacy": {},
	"privacy.ignore_libraries": {
		Comment: "Library section titles (glob patterns) whose sessions are never shown.",
		Examples: []string{
			`ignore_libraries = ["Home Videos", "Private*"]`,
		},
	},

	"behavior": {
		Comment: "Reconciliation loop timing, in seconds.",
	},
	"behavior.poll_interval_seconds":      {},
	"behavior.reconnect_interval_seconds": {Comment: "Wait after Plex is unreachable."},
	"behavior.pause_check_seconds":        {Comment: "How often the pause marker is re-checked while paused."},
	"behavior.metadata_cache_size":        {Comment: "Maximum number of cached metadata lookups."},

	"log": {},
	"log.level": {
		Comment: "trace, debug, info, warn or error",
	},
	"log.max_size_mb": {
		Comment: "The log file is rotated when it reaches this size.",
	},
	"log.console": {
		Comment: "Mirror log output to stderr.",
	},
}
