package config

import (
	"fmt"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	// Port is the loopback port for the form; 0 picks a free one.
	Port int
}

type SessionConfig struct {
	TimeoutSeconds int
	AutoSave       bool
	OpenBrowser    bool
}

type StorageConfig struct {
	DataDir string
	// SnapshotDir defaults to <DataDir>/snapshots when empty.
	SnapshotDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Session: SessionConfig{
			TimeoutSeconds: 600,
			OpenBrowser:    true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/interview/config.json. Environment variables
// (INTERVIEW_*) override file values; command-line flags are applied by the
// caller on top of the result.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings no session could run with.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d is out of range", c.Server.Port)
	}
	if c.Session.TimeoutSeconds <= 0 {
		return fmt.Errorf("invalid config: session.timeout_seconds must be positive, got %d", c.Session.TimeoutSeconds)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("invalid config: storage.data_dir is empty")
	}
	return nil
}

// Paths are the on-disk locations derived from a Config.
type Paths struct {
	Registry  string
	Recovery  string
	Uploads   string
	Snapshots string
	DataDir   string
}

// PathsFor derives storage locations from cfg. The registry lives under the
// XDG state directory so every data dir shares one ledger.
func PathsFor(cfg Config) Paths {
	snapshots := cfg.Storage.SnapshotDir
	if snapshots == "" {
		snapshots = filepath.Join(cfg.Storage.DataDir, "snapshots")
	}
	return Paths{
		Registry:  filepath.Join(defaultStateDir(), "sessions.json"),
		Recovery:  filepath.Join(cfg.Storage.DataDir, "recovery"),
		Uploads:   filepath.Join(cfg.Storage.DataDir, "uploads"),
		Snapshots: snapshots,
		DataDir:   cfg.Storage.DataDir,
	}
}
