// Package config handles stackvm.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/stackvm/chain"
)

// DefaultStorePath is used when no store path is configured.
const DefaultStorePath = "stackvm.db"

// Config represents a stackvm.toml configuration.
type Config struct {
	Store StoreConfig `toml:"store"`
	Log   LogConfig   `toml:"log"`
	Chain ChainConfig `toml:"chain"`

	// Dir is the directory containing the stackvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// StoreConfig configures the persistent key-value store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// ChainConfig holds genesis defaults for the chain collaborator.
type ChainConfig struct {
	Difficulty uint64 `toml:"difficulty"`
	GasLimit   uint64 `toml:"gas-limit"`
	Timestamp  uint64 `toml:"timestamp"`
}

// Default returns the built-in configuration.
func Default() *Config {
	params := chain.DefaultGenesisParams()
	return &Config{
		Store: StoreConfig{Path: DefaultStorePath},
		Chain: ChainConfig{
			Difficulty: params.Difficulty,
			GasLimit:   params.GasLimit,
			Timestamp:  params.Timestamp,
		},
	}
}

// Genesis converts the configured chain section to genesis parameters.
func (c ChainConfig) Genesis() chain.GenesisParams {
	return chain.GenesisParams{
		Difficulty: c.Difficulty,
		GasLimit:   c.GasLimit,
		Timestamp:  c.Timestamp,
	}
}

// StorePath returns the configured store path, resolved against the config
// file's directory when it is relative.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) || c.Dir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.Dir, c.Store.Path)
}

// Load parses a stackvm.toml file from the given directory. A missing file
// yields the defaults, not an error.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "stackvm.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Chain.GasLimit == 0 {
		c.Chain.GasLimit = chain.DefaultGenesisParams().GasLimit
	}
	if c.Chain.Difficulty == 0 {
		c.Chain.Difficulty = chain.DefaultGenesisParams().Difficulty
	}

	return &c, nil
}

// FindAndLoad walks up from startDir to find a stackvm.toml file, then
// loads and returns the configuration. Returns the defaults if no file is
// found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "stackvm.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}
