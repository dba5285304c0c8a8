package setup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// writeBlob writes content to setup.json in a fresh temp dir and returns its path.
func writeBlob(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setup.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write setup: %v", err)
	}
	return path
}

func readRaw(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("parse saved setup: %v", err)
	}
	return m
}

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

func TestLoad_Current(t *testing.T) {
	path := writeBlob(t, `{
		"version": 2,
		"auth_token": "tok",
		"server_name": "Home",
		"user_filter": "alice",
		"audiobook_libraries": ["Audiobooks"],
		"client_uuid": "11111111-2222-3333-4444-555555555555"
	}`)
	before, _ := os.ReadFile(path)

	got, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &Setup{
		Version:            2,
		AuthToken:          "tok",
		ServerName:         "Home",
		UserFilter:         "alice",
		AudiobookLibraries: []string{"Audiobooks"},
		ClientUUID:         "11111111-2222-3333-4444-555555555555",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("current blob should not be rewritten")
	}
}

func TestLoad_BackfillsClientUUID(t *testing.T) {
	path := writeBlob(t, `{"auth_token":"tok","server_name":"Home","user_filter":"alice","extra":"kept"}`)

	got, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := uuid.Parse(got.ClientUUID); err != nil {
		t.Fatalf("ClientUUID %q is not a uuid: %v", got.ClientUUID, err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	saved := readRaw(t, path)
	if saved["client_uuid"] != got.ClientUUID {
		t.Errorf("saved client_uuid = %v, want %q", saved["client_uuid"], got.ClientUUID)
	}
	if saved["extra"] != "kept" {
		t.Errorf("saved extra = %v, want wizard field preserved", saved["extra"])
	}
	if _, ok := saved["audiobook_libraries"]; ok {
		t.Errorf("saved blob gained audiobook_libraries = %v", saved["audiobook_libraries"])
	}

	// A second load must keep the same identifier.
	again, err := Load(path, nil)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again.ClientUUID != got.ClientUUID {
		t.Errorf("client_uuid changed across loads: %q -> %q", got.ClientUUID, again.ClientUUID)
	}
}

func TestLoad_CurrentVersionWithoutUUIDKeepsWizardFields(t *testing.T) {
	path := writeBlob(t, `{"version":2,"auth_token":"tok","server_name":"Home","user_filter":"alice","wizard":{"theme":"dark"}}`)

	got, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := uuid.Parse(got.ClientUUID); err != nil {
		t.Fatalf("ClientUUID %q is not a uuid: %v", got.ClientUUID, err)
	}

	saved := readRaw(t, path)
	want := map[string]any{
		"version":     float64(2),
		"auth_token":  "tok",
		"server_name": "Home",
		"user_filter": "alice",
		"wizard":      map[string]any{"theme": "dark"},
		"client_uuid": got.ClientUUID,
	}
	if diff := cmp.Diff(want, saved); diff != "" {
		t.Errorf("saved blob mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_BackfillKeepsExistingUUID(t *testing.T) {
	path := writeBlob(t, `{"auth_token":"tok","server_name":"Home","user_filter":"alice","client_uuid":"keep-me"}`)

	got, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ClientUUID != "keep-me" {
		t.Errorf("ClientUUID = %q, want keep-me", got.ClientUUID)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
		wantIs  error
	}{
		{name: "missing file", missing: true, wantIs: ErrNotConfigured},
		{name: "no token", content: `{"version":2,"server_name":"Home","user_filter":"a","client_uuid":"x"}`, wantIs: ErrIncomplete},
		{name: "no server", content: `{"version":2,"auth_token":"t","user_filter":"a","client_uuid":"x"}`, wantIs: ErrIncomplete},
		{name: "no user", content: `{"version":2,"auth_token":"t","server_name":"Home","client_uuid":"x"}`, wantIs: ErrIncomplete},
		{name: "malformed", content: `{"auth_token":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "setup.json")
			if !tt.missing {
				path = writeBlob(t, tt.content)
			}
			_, err := Load(path, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Reset
// ///////////////////////////////////////////////

func TestReset(t *testing.T) {
	path := writeBlob(t, `{}`)
	if err := Reset(path); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("setup file still exists")
	}
	if err := Reset(path); err != nil {
		t.Errorf("Reset of missing file: %v", err)
	}
}
