package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the config file is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 0 {
		t.Errorf("Server.Port = %d, want 0", cfg.Server.Port)
	}
	if cfg.Session.TimeoutSeconds != 600 {
		t.Errorf("Session.TimeoutSeconds = %d, want 600", cfg.Session.TimeoutSeconds)
	}
	if cfg.Session.AutoSave {
		t.Errorf("Session.AutoSave = true, want false")
	}
	if !cfg.Session.OpenBrowser {
		t.Errorf("Session.OpenBrowser = false, want true")
	}
	if cfg.Storage.DataDir != filepath.Join("/xdg/data", "interview") {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

// TestFileParsing verifies that every key is read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
		"server.port": 7100,
		"session.timeout_seconds": 90,
		"session.auto_save": true,
		"session.open_browser": "false",
		"storage.data_dir": "/tmp/interview-test",
		"storage.snapshot_dir": "/tmp/snaps",
		"log.level": "debug"
	}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7100 {
		t.Errorf("Server.Port = %d, want 7100", cfg.Server.Port)
	}
	if cfg.Session.TimeoutSeconds != 90 {
		t.Errorf("Session.TimeoutSeconds = %d, want 90", cfg.Session.TimeoutSeconds)
	}
	if !cfg.Session.AutoSave {
		t.Errorf("Session.AutoSave = false, want true")
	}
	if cfg.Session.OpenBrowser {
		t.Errorf("Session.OpenBrowser = true, want false")
	}
	if cfg.Storage.DataDir != "/tmp/interview-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SnapshotDir != "/tmp/snaps" {
		t.Errorf("Storage.SnapshotDir = %q", cfg.Storage.SnapshotDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 7100, "session.auto_save": false}`)

	t.Setenv("INTERVIEW_SERVER_PORT", "7200")
	t.Setenv("INTERVIEW_SESSION_AUTO_SAVE", "true")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7200 {
		t.Errorf("Server.Port = %d, want 7200", cfg.Server.Port)
	}
	if !cfg.Session.AutoSave {
		t.Errorf("Session.AutoSave = false, want true")
	}
}

func TestInvalidValues(t *testing.T) {
	clearEnv(t)

	if _, err := loadWith(newFileBackend(writeTempConfig(t, `{"server.port": 1.5}`))); err == nil {
		t.Errorf("fractional port accepted")
	}
	if _, err := loadWith(newFileBackend(writeTempConfig(t, `{"session.timeout_seconds": 0}`))); err == nil {
		t.Errorf("zero timeout accepted")
	}
	_, err := loadWith(newFileBackend(writeTempConfig(t, `{"server.port": 70000}`)))
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Errorf("err = %v, want out-of-range port", err)
	}
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{not json`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.TimeoutSeconds != 600 {
		t.Errorf("Session.TimeoutSeconds = %d, want default", cfg.Session.TimeoutSeconds)
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	if err := setKeyWith(newFileBackend(path), "session.timeout_seconds", "120"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), "session.auto_save", "yes"); err == nil {
		t.Errorf("invalid bool accepted")
	}
	if err := setKeyWith(newFileBackend(path), "session.auto_save", "1"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), "nope", "1"); err == nil {
		t.Errorf("unknown key accepted")
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if cfg.Session.TimeoutSeconds != 120 || !cfg.Session.AutoSave {
		t.Errorf("cfg.Session = %+v", cfg.Session)
	}
}

func TestPathsFor(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	cfg := Config{Storage: StorageConfig{DataDir: "/data"}}

	p := PathsFor(cfg)
	if p.Registry != filepath.Join("/xdg/state", "interview", "sessions.json") {
		t.Errorf("Registry = %q", p.Registry)
	}
	if p.Recovery != filepath.Join("/data", "recovery") || p.Uploads != filepath.Join("/data", "uploads") {
		t.Errorf("paths = %+v", p)
	}
	if p.Snapshots != filepath.Join("/data", "snapshots") {
		t.Errorf("Snapshots = %q", p.Snapshots)
	}

	cfg.Storage.SnapshotDir = "/elsewhere"
	if got := PathsFor(cfg).Snapshots; got != "/elsewhere" {
		t.Errorf("Snapshots = %q, want override", got)
	}
}

func TestShowAllCoversEveryKey(t *testing.T) {
	infos := ShowAll(defaults())
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, want %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if !strings.HasPrefix(info.EnvVar, "INTERVIEW_") {
			t.Errorf("%s: env var %q lacks prefix", info.Key, info.EnvVar)
		}
	}
}
