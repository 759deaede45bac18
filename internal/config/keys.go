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
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NUDGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "NUDGE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "backend.base_url", typ: kString, env: "NUDGE_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.api_key", typ: kString, env: "NUDGE_BACKEND_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NUDGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "trigger.global_cooldown_seconds", typ: kInt, env: "NUDGE_TRIGGER_GLOBAL_COOLDOWN_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Trigger.GlobalCooldownSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Trigger.GlobalCooldownSeconds },
	},
	{
		key: "trigger.dwell_seconds", typ: kInt, env: "NUDGE_TRIGGER_DWELL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Trigger.DwellSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Trigger.DwellSeconds },
	},
	{
		key: "retention.days", typ: kInt, env: "NUDGE_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Retention.Days = v.(int) },
		extract: func(cfg Config) any { return cfg.Retention.Days },
	},
	{
		key: "log.level", typ: kString, env: "NUDGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
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
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
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
		}
	}
}
