package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Repository modes.
const (
	// ModeBare stores loose objects uncompressed.
	ModeBare = "bare"
	// ModeArchive stores every loose object zstd-compressed.
	ModeArchive = "archive"
)

const currentRepoVersion = 1

// Config is the repository configuration stored as TOML in <repo>/config.
type Config struct {
	Core CoreConfig `toml:"core"`
}

// CoreConfig holds settings that shape the on-disk object store.
type CoreConfig struct {
	RepoVersion      int    `toml:"repo_version"`
	Mode             string `toml:"mode"`
	CompressionLevel int    `toml:"compression_level,omitempty"` // zstd level for archive mode; 0 = library default
}

// DefaultConfig returns the configuration written by Init for the given mode.
// An empty mode means ModeBare.
func DefaultConfig(mode string) *Config {
	if mode == "" {
		mode = ModeBare
	}
	return &Config{Core: CoreConfig{RepoVersion: currentRepoVersion, Mode: mode}}
}

// Validate rejects configurations this version cannot serve.
func (c *Config) Validate() error {
	if c.Core.RepoVersion != currentRepoVersion {
		return fmt.Errorf("config: unsupported repo_version %d", c.Core.RepoVersion)
	}
	switch c.Core.Mode {
	case ModeBare, ModeArchive:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Core.Mode)
	}
	if c.Core.CompressionLevel < 0 || c.Core.CompressionLevel > 22 {
		return fmt.Errorf("config: compression_level %d out of range 0..22", c.Core.CompressionLevel)
	}
	return nil
}

func (r *Repo) configPath() string {
	return filepath.Join(r.Path, "config")
}

// ReadConfig reads <repo>/config.
func (r *Repo) ReadConfig() (*Config, error) {
	return readConfigFile(r.configPath())
}

func readConfigFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return nil, fmt.Errorf("read config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteConfig atomically writes <repo>/config.
func (r *Repo) WriteConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := writeConfigFile(r.configPath(), cfg); err != nil {
		return err
	}
	r.Config = cfg
	r.applyConfig()
	return nil
}

func writeConfigFile(path string, cfg *Config) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
