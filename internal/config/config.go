// Package config loads taskdeck configuration from layered JSONC files
// with environment and inline overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/taskdeck/taskdeck/pkg/types"
)

// Config is the daemon's effective configuration after all layers are
// merged.
type Config struct {
	Schema string `json:"$schema,omitempty"`

	// Host and Port are the HTTP listen address.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// DataDir holds the sqlite database and other mutable state.
	DataDir string `json:"dataDir,omitempty"`

	// Backend is the default backend type for new tasks.
	Backend string `json:"backend,omitempty"`

	// Model is the default model preference passed to backends.
	Model string `json:"model,omitempty"`

	// Mode is the default interaction mode for new tasks.
	Mode types.InteractionMode `json:"mode,omitempty"`

	Log LogConfig `json:"log,omitempty"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:    "127.0.0.1",
		Port:    4810,
		DataDir: GetPaths().Data,
		Backend: "claude",
		Mode:    types.ModeDefault,
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the effective configuration. Later sources win:
//  1. built-in defaults
//  2. global config (~/.config/taskdeck/)
//  3. project config (<directory>/.taskdeck/)
//  4. TASKDECK_CONFIG file
//  5. TASKDECK_CONFIG_CONTENT inline JSON
//  6. environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalDir := GetPaths().Config
	loadOnce(filepath.Join(globalDir, "taskdeck.json"), globalDir)
	loadOnce(filepath.Join(globalDir, "taskdeck.jsonc"), globalDir)

	if directory != "" {
		projectDir := filepath.Join(directory, ".taskdeck")
		loadOnce(filepath.Join(projectDir, "taskdeck.json"), projectDir)
		loadOnce(filepath.Join(projectDir, "taskdeck.jsonc"), projectDir)
	}

	if path := os.Getenv("TASKDECK_CONFIG"); path != "" {
		loadOnce(path, filepath.Dir(path))
	}

	if content := os.Getenv("TASKDECK_CONFIG_CONTENT"); content != "" {
		var inline Config
		if err := json.Unmarshal([]byte(content), &inline); err == nil {
			merge(config, &inline)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// loadConfigFile reads one config layer. Missing files are skipped.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var layer Config
	if err := json.Unmarshal(data, &layer); err != nil {
		return err
	}
	merge(config, &layer)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(path, "~/") {
			path = filepath.Join(os.Getenv("HOME"), path[2:])
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return match
		}

		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// merge overlays non-zero fields of source onto target.
func merge(target, source *Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Host != "" {
		target.Host = source.Host
	}
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.Backend != "" {
		target.Backend = source.Backend
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.Mode != "" {
		target.Mode = source.Mode
	}
	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}
}

// applyEnvOverrides applies environment variables, the highest layer.
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("TASKDECK_HOST"); host != "" {
		config.Host = host
	}
	if port := os.Getenv("TASKDECK_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			config.Port = n
		}
	}
	if dir := os.Getenv("TASKDECK_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if backend := os.Getenv("TASKDECK_BACKEND"); backend != "" {
		config.Backend = backend
	}
	if model := os.Getenv("TASKDECK_MODEL"); model != "" {
		config.Model = model
	}
	if level := os.Getenv("TASKDECK_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

// DatabasePath returns the sqlite database location under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "taskdeck.db")
}

// Save writes the configuration to a file, creating parent directories.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
