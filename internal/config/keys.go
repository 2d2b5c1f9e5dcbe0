package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTERVIEW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "session.timeout_seconds", typ: kInt, env: "INTERVIEW_SESSION_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Session.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.TimeoutSeconds },
	},
	{
		key: "session.auto_save", typ: kBool, env: "INTERVIEW_SESSION_AUTO_SAVE",
		apply:   func(cfg *Config, v any) { cfg.Session.AutoSave = v.(bool) },
		extract: func(cfg Config) any { return cfg.Session.AutoSave },
	},
	{
		key: "session.open_browser", typ: kBool, env: "INTERVIEW_SESSION_OPEN_BROWSER",
		apply:   func(cfg *Config, v any) { cfg.Session.OpenBrowser = v.(bool) },
		extract: func(cfg Config) any { return cfg.Session.OpenBrowser },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTERVIEW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.snapshot_dir", typ: kString, env: "INTERVIEW_STORAGE_SNAPSHOT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.SnapshotDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SnapshotDir },
	},
	{
		key: "log.level", typ: kString, env: "INTERVIEW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
