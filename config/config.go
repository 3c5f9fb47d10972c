// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package config loads the indexer configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/clob-indexer/storage"
)

// Defaults
const (
	DefaultBatchSize    = 500
	DefaultPollInterval = 2 * time.Second
	DefaultCacheSize    = 1024
	DefaultPort         = 42069
	DefaultLogLevel     = "info"
	DefaultDataDir      = "data"
)

// Config is the full indexer configuration.
type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Storage StorageConfig `yaml:"storage"`
	Tokens  TokensConfig  `yaml:"tokens"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// ChainConfig selects the chain and the BookManager to index.
type ChainConfig struct {
	Name          string `yaml:"name"`
	ChainID       uint64 `yaml:"chain_id"`
	RPC           string `yaml:"rpc"`
	BookManager   string `yaml:"book_manager"`
	StartBlock    uint64 `yaml:"start_block"`
	BatchSize     uint64 `yaml:"batch_size"`
	Confirmations uint64 `yaml:"confirmations"`
	PollInterval  string `yaml:"poll_interval"`
}

// Poll returns the parsed poll interval.
func (c ChainConfig) Poll() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return DefaultPollInterval
	}
	return d
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	DataDir string `yaml:"data_dir"`
}

// Store converts the section to a storage.Config.
func (c StorageConfig) Store() (storage.Config, error) {
	backend, err := storage.ParseBackend(c.Backend)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Backend: backend, URL: c.URL, DataDir: c.DataDir}, nil
}

// TokensConfig controls token metadata resolution.
type TokensConfig struct {
	Dir       string `yaml:"dir"`
	CacheSize int    `yaml:"cache_size"`
}

// APIConfig controls the read API. Port 0 disables it.
type APIConfig struct {
	Port *int `yaml:"port"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Preset is a known chain deployment.
type Preset struct {
	ChainID     uint64
	RPC         string
	RPCEnv      string
	BookManager string
	StartBlock  uint64
}

// Presets fill unset chain fields when chain.name matches.
var Presets = map[string]Preset{
	"monad-testnet": {
		ChainID:     10143,
		RPC:         "https://testnet-rpc.monad.xyz",
		RPCEnv:      "MONAD_TESTNET_RPC",
		BookManager: "0xAA9575d63dFC224b9583fC303dB3188C08d5C85A",
		StartBlock:  3196033,
	},
	"rise-sepolia": {
		ChainID: 11155931,
		RPC:     "https://testnet.riselabs.xyz",
		RPCEnv:  "RISE_SEPOLIA_RPC",
	},
}

// Load reads a YAML file, expanding environment variables, and applies
// presets and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expanding environment variables, and applies
// presets and defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns the configuration of a preset chain, or an empty chain
// section when name is not a preset.
func Default(name string) *Config {
	cfg := &Config{Chain: ChainConfig{Name: name}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields from the chain preset and the defaults.
func (c *Config) ApplyDefaults() {
	if p, ok := Presets[strings.ToLower(c.Chain.Name)]; ok {
		if c.Chain.ChainID == 0 {
			c.Chain.ChainID = p.ChainID
		}
		if c.Chain.RPC == "" {
			c.Chain.RPC = p.RPC
			if env := os.Getenv(p.RPCEnv); env != "" {
				c.Chain.RPC = env
			}
		}
		if c.Chain.BookManager == "" {
			c.Chain.BookManager = p.BookManager
		}
		if c.Chain.StartBlock == 0 {
			c.Chain.StartBlock = p.StartBlock
		}
	}
	if c.Chain.BatchSize == 0 {
		c.Chain.BatchSize = DefaultBatchSize
	}
	if c.Chain.PollInterval == "" {
		c.Chain.PollInterval = DefaultPollInterval.String()
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = string(storage.BackendSQLite)
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Tokens.CacheSize <= 0 {
		c.Tokens.CacheSize = DefaultCacheSize
	}
	if c.API.Port == nil {
		port := DefaultPort
		c.API.Port = &port
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate reports the first missing required field.
func (c *Config) Validate() error {
	switch {
	case c.Chain.ChainID == 0:
		return fmt.Errorf("chain.chain_id is required")
	case c.Chain.RPC == "":
		return fmt.Errorf("chain.rpc is required")
	case c.Chain.BookManager == "":
		return fmt.Errorf("chain.book_manager is required")
	}
	if _, err := storage.ParseBackend(c.Storage.Backend); err != nil {
		return fmt.Errorf("storage.backend: %w", err)
	}
	return nil
}
