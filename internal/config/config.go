// Package config loads daemon configuration from the platform-native
// backend with environment overrides, and manages the locally minted
// extension API token.
package config

import "strings"

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Storage   StorageConfig
	Trigger   TriggerConfig
	Retention RetentionConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

// BackendConfig points at the remote suggestion service.
type BackendConfig struct {
	BaseURL string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type TriggerConfig struct {
	GlobalCooldownSeconds int
	DwellSeconds          int
}

type RetentionConfig struct {
	Days int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Backend: BackendConfig{
			BaseURL: "https://api.nudge.dev",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Trigger: TriggerConfig{
			GlobalCooldownSeconds: 30,
			DwellSeconds:          45,
		},
		Retention: RetentionConfig{
			Days: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.nudge.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/nudge/config.json
// and secrets live in a file next to the data directory.
//
// Environment variables (NUDGE_*) override backend values on all platforms.
// The suggestion backend API key is optional; without one the daemon talks
// to the backend unauthenticated.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the backend API key if still empty.
	if cfg.Backend.APIKey == "" {
		if key, err := kc.Get(keychainService, "backend_api_key"); err == nil && key != "" {
			cfg.Backend.APIKey = key
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
