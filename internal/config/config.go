// Package config loads the optional polybem.toml project file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the project configuration file looked up in the project root.
const FileName = "polybem.toml"

// Config is the project configuration. Paths are relative to the project
// root.
type Config struct {
	Assets   string         `toml:"assets"`
	Dist     string         `toml:"dist"`
	Server   ServerConfig   `toml:"server"`
	Template TemplateConfig `toml:"template"`
	Runner   RunnerConfig   `toml:"runner"`

	// File is the path the configuration was read from, empty for defaults.
	File string `toml:"-"`
}

type ServerConfig struct {
	Port    int    `toml:"port"`
	BaseDir string `toml:"base_dir"`
	Notify  bool   `toml:"notify"`
}

type TemplateConfig struct {
	Layout   string         `toml:"layout"`   // relative to Assets
	Partials string         `toml:"partials"` // relative to Assets
	Data     map[string]any `toml:"data"`
	DataFile string         `toml:"data_file"`
	Helpers  string         `toml:"helpers"` // Lua script
}

type RunnerConfig struct {
	MaxParallel int `toml:"max_parallel"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Assets: "assets",
		Dist:   "dist",
		Server: ServerConfig{
			Port:    3000,
			BaseDir: "dist",
			Notify:  false,
		},
		Template: TemplateConfig{
			Layout:   "layout.hbs",
			Partials: "section",
			Data:     map[string]any{"firstName": "Poly-Bem.js"},
		},
		Runner: RunnerConfig{MaxParallel: 4},
	}
}

// Load reads dir/polybem.toml over the defaults. A missing file is not an
// error. A [template.data] table replaces the default data entirely.
func Load(dir string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	defaults := cfg.Template.Data
	cfg.Template.Data = nil

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parsing %s:%d:%d: %w", path, row, col, err)
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Template.Data == nil {
		cfg.Template.Data = defaults
	}
	cfg.File = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Runner.MaxParallel < 1 {
		return fmt.Errorf("runner.max_parallel must be at least 1, got %d", c.Runner.MaxParallel)
	}
	if c.Assets == "" || c.Dist == "" {
		return errors.New("assets and dist must not be empty")
	}
	return nil
}

// Abs resolves a project-relative path against root. Absolute paths and
// the empty string are returned unchanged.
func Abs(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, filepath.FromSlash(p))
}
