package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are tried in order when CONFIG_PATH is not set.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/whiteboard/config.yaml",
}

// ConfigPathEnvVar names an explicit config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load reads .env (if present) into the environment, then builds the config
// from defaults, the first config file found and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFile(findConfigFile())
}

// LoadFile is Load without .env handling and with an explicit file path.
// An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.allowed_origins",
}

// processSliceFields splits comma separated env values into lists.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps environment variables to config keys. Unmapped
// variables are ignored.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"server_host":      "server.host",
		"port":             "server.port",
		"static_dir":       "server.static_dir",
		"domains":          "server.allowed_origins",
		"shutdown_timeout": "server.shutdown_timeout",
		"check_rate_limit": "server.check_requests_per_minute",

		"store_driver":           "store.driver",
		"store_path":             "store.path",
		"store_sync_writes":      "store.sync_writes",
		"store_breaker_failures": "store.breaker_failures",
		"store_breaker_timeout":  "store.breaker_timeout",

		"debounce_interval": "sync.debounce",

		"max_message_size":       "limits.max_message_size",
		"messages_per_second":    "limits.messages_per_second",
		"message_burst":          "limits.burst",
		"max_object_depth":       "limits.max_object_depth",
		"max_object_elements":    "limits.max_object_elements",
		"max_objects_per_slide":  "limits.max_objects_per_slide",
		"cursor_interval":        "limits.cursor_interval",
		"connections_per_minute": "limits.connections_per_minute",
		"connection_burst":       "limits.connection_burst",
		"sanitize_objects":       "limits.sanitize",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
