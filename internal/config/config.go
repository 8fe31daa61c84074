package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App      AppConfig      `toml:"app"`
	Logging  LoggingConfig  `toml:"logging"`
	Persist  PersistConfig  `toml:"persist"`
	Devtools DevtoolsConfig `toml:"devtools"`
	Effects  EffectsConfig  `toml:"effects"`
}

type AppConfig struct {
	Name    string `toml:"name"`
	DataDir string `toml:"data_dir"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// PersistConfig controls snapshot persistence. File is relative to
// App.DataDir unless absolute.
type PersistConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`
}

type DevtoolsConfig struct {
	Listen     string  `toml:"listen"`
	History    int     `toml:"history"`
	RatePerSec float64 `toml:"rate_per_sec"` // 0 disables rate limiting
}

type EffectsConfig struct {
	MaxWorkers int `toml:"max_workers"`
}

const defaultPath = "~/.fluxstore/config.toml"

// Defaults returns a Config usable without any file.
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:    "fluxstore",
			DataDir: "~/.fluxstore",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Persist: PersistConfig{
			Enabled: true,
			File:    "state.db",
		},
		Devtools: DevtoolsConfig{
			Listen:     "127.0.0.1:7070",
			History:    256,
			RatePerSec: 20,
		},
		Effects: EffectsConfig{
			MaxWorkers: 16,
		},
	}
}

// Load reads a TOML file over Defaults. An empty path tries the default
// location and silently falls back to defaults when nothing is there.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(defaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing config: unknown keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// StatePath is the absolute path of the persistence database.
func (c *Config) StatePath() string {
	file := expandHome(c.Persist.File)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(expandHome(c.App.DataDir), file)
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
