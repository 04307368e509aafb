// Package config loads fpt's settings file.
//
// Settings live in ~/.fpt/config.yaml unless --config names another file.
// Every key is optional; unknown keys are rejected so typos surface early.
// Command-line flags override file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DirName is the per-user state directory under $HOME.
const DirName = ".fpt"

// Config holds resolved settings.
type Config struct {
	// ComponentsDir holds one checkout per component repository.
	ComponentsDir string `yaml:"components_dir"`
	// FixturesDir is searched for fixture directories.
	FixturesDir string `yaml:"fixtures_dir"`
	// ScratchDir is where per-unit working directories are created.
	// Empty uses the system temp directory.
	ScratchDir string `yaml:"scratch_dir"`
	// Ledger is the build ledger database.
	Ledger string `yaml:"ledger"`
	// Workers bounds concurrent fixture and unit work. Zero uses the
	// pipeline default.
	Workers int `yaml:"workers"`
	// Registry replaces the built-in component registry.
	Registry string `yaml:"registry"`
}

// Home returns the per-user state directory.
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// DefaultPath is the settings file used when none is named.
func DefaultPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.yaml"), nil
}

// Default returns the settings used when no file exists.
func Default() (Config, error) {
	home, err := Home()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ComponentsDir: filepath.Join(home, "components"),
		FixturesDir:   "tests",
		Ledger:        filepath.Join(home, "builds.db"),
	}, nil
}

// Load reads settings from path, or from DefaultPath when path is empty.
// A missing default file yields Default; a missing explicit file is an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return Default()
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a settings document over the defaults.
func Parse(data []byte) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Workers < 0 {
		return Config{}, fmt.Errorf("invalid config: workers must be >= 0, got %d", cfg.Workers)
	}
	for _, p := range []*string{&cfg.ComponentsDir, &cfg.FixturesDir, &cfg.ScratchDir, &cfg.Ledger, &cfg.Registry} {
		if *p, err = expandHome(*p); err != nil {
			return Config{}, err
		}
	}
	if cfg.ComponentsDir == "" {
		return Config{}, errors.New("invalid config: components_dir is empty")
	}
	return cfg, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
