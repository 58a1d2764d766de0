package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every REELREC_* override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	path := writeTempConfig(t, `{}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/xdg-data/reelrec" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Auth.CredentialScheme != "plain" || cfg.Auth.RequireCaptcha {
		t.Errorf("Auth = %+v, want plain without captcha", cfg.Auth)
	}
	if d, _ := cfg.Session.Duration(); d != 24*time.Hour {
		t.Errorf("Session TTL = %v, want 24h", d)
	}
	if cfg.CatalogPath() != "/tmp/xdg-data/reelrec/movies.json" {
		t.Errorf("CatalogPath = %q", cfg.CatalogPath())
	}
	if cfg.SimilarityPath() != "/tmp/xdg-data/reelrec/similarity.bin" {
		t.Errorf("SimilarityPath = %q", cfg.SimilarityPath())
	}
}

// TestFileParsing verifies that all fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "server.port": 5000,
  "storage.data_dir": "/tmp/reelrec-test",
  "storage.backend": "file",
  "catalog.path": "/srv/movies.json",
  "catalog.similarity_path": "/srv/sim.bin",
  "retrieval.top_k": 8,
  "auth.credential_scheme": "bcrypt",
  "auth.require_captcha": true,
  "session.ttl": "30m",
  "log.level": "DEBUG"
}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/reelrec-test" || cfg.Storage.Backend != "file" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.CatalogPath() != "/srv/movies.json" || cfg.SimilarityPath() != "/srv/sim.bin" {
		t.Errorf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.Retrieval.TopK != 8 {
		t.Errorf("Retrieval.TopK = %d", cfg.Retrieval.TopK)
	}
	if cfg.Auth.CredentialScheme != "bcrypt" || !cfg.Auth.RequireCaptcha {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Session.TTL != "30m" {
		t.Errorf("Session.TTL = %q", cfg.Session.TTL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.UsersFilePath() != "/tmp/reelrec-test/users.json" {
		t.Errorf("UsersFilePath = %q", cfg.UsersFilePath())
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 5000, "storage.backend": "sqlite"}`)

	t.Setenv("REELREC_SERVER_PORT", "6000")
	t.Setenv("REELREC_STORAGE_BACKEND", "file")
	t.Setenv("REELREC_AUTH_REQUIRE_CAPTCHA", "true")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if !cfg.Auth.RequireCaptcha {
		t.Error("RequireCaptcha not overridden")
	}
}

// TestEnvOverride_Unparseable keeps the previous value when an env var is malformed.
func TestEnvOverride_Unparseable(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"retrieval.top_k": 7}`)
	t.Setenv("REELREC_RETRIEVAL_TOP_K", "many")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("Retrieval.TopK = %d, want 7", cfg.Retrieval.TopK)
	}
}

// TestValidation verifies out-of-range values are rejected with a clear error.
func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad backend", `{"storage.backend": "postgres"}`, "Backend"},
		{"bad scheme", `{"auth.credential_scheme": "md5"}`, "CredentialScheme"},
		{"bad port", `{"server.port": 70000}`, "Port"},
		{"bad top k", `{"retrieval.top_k": 0}`, "TopK"},
		{"bad ttl", `{"session.ttl": "soon"}`, "session.ttl"},
		{"negative ttl", `{"session.ttl": "-1m"}`, "session.ttl"},
		{"bad level", `{"log.level": "loud"}`, "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := loadWith(newFileBackend(writeTempConfig(t, tt.content)))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

// TestCorruptFileFallsBackToDefaults verifies a broken file does not stop startup.
func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{not json`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	b := newFileBackend(path)

	if err := setKeyWith(b, "server.port", "4100"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := setKeyWith(b, "auth.require_captcha", "true"); err != nil {
		t.Fatalf("set captcha: %v", err)
	}
	if err := setKeyWith(b, "storage.backend", "file"); err != nil {
		t.Fatalf("set backend: %v", err)
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "auth.require_captcha", "maybe"); err == nil {
		t.Error("expected error for non-bool captcha flag")
	}
	if err := setKeyWith(b, "nope.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 4100 || !cfg.Auth.RequireCaptcha || cfg.Storage.Backend != "file" {
		t.Errorf("reloaded cfg = %+v", cfg)
	}
}

func TestShowAllAndValidKeys(t *testing.T) {
	cfg := defaults()
	infos := ShowAll(cfg)
	keys := ValidKeys()
	if len(infos) != len(keys) {
		t.Fatalf("ShowAll has %d entries, ValidKeys %d", len(infos), len(keys))
	}
	for i, info := range infos {
		if info.Key != keys[i] {
			t.Errorf("entry %d key = %q, want %q", i, info.Key, keys[i])
		}
		if !strings.HasPrefix(info.EnvVar, "REELREC_") {
			t.Errorf("%s env = %q, want REELREC_ prefix", info.Key, info.EnvVar)
		}
	}
}
