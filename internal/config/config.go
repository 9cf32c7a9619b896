// Package config loads the watcher's TOML configuration file into an
// ethmonitor.Options, the way the rest of the pack's cmd entrypoints load
// their settings via BurntSushi/toml.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hillstreetlabs/ethstream/ethmonitor"
)

// Config is the on-disk shape of the watcher's configuration file.
type Config struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`

	StreamSize       uint64 `toml:"stream_size"`
	NumConfirmations uint64 `toml:"num_confirmations"`
	MaxBackfills     uint64 `toml:"max_backfills"`
	BatchSize        int    `toml:"batch_size"`

	PollDelayMS    int64 `toml:"poll_delay_ms"`
	FetchTimeoutMS int64 `toml:"fetch_timeout_ms"`
	BatchTimeoutMS int64 `toml:"batch_timeout_ms"`

	AnchorBlockHash   string `toml:"anchor_block_hash"`
	AnchorBlockNumber uint64 `toml:"anchor_block_number"`

	MetricsAddr string `toml:"metrics_addr"`
}

// Load decodes path as TOML into a Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("config: rpc_url is required")
	}
	return &cfg, nil
}

// ToOptions builds an ethmonitor.Options from the decoded config, layered
// on top of ethmonitor.DefaultOptions.
func (c *Config) ToOptions() ethmonitor.Options {
	opts := ethmonitor.DefaultOptions

	if c.StreamSize != 0 {
		opts.StreamSize = c.StreamSize
	}
	if c.NumConfirmations != 0 {
		opts.NumConfirmations = c.NumConfirmations
	}
	if c.MaxBackfills != 0 {
		opts.MaxBackfills = c.MaxBackfills
	}
	if c.BatchSize != 0 {
		opts.BatchSize = c.BatchSize
	}
	if c.PollDelayMS != 0 {
		opts.PollDelay = time.Duration(c.PollDelayMS) * time.Millisecond
	}
	if c.FetchTimeoutMS != 0 {
		opts.FetchTimeout = time.Duration(c.FetchTimeoutMS) * time.Millisecond
	}
	if c.BatchTimeoutMS != 0 {
		opts.BatchTimeout = time.Duration(c.BatchTimeoutMS) * time.Millisecond
	}

	switch {
	case c.AnchorBlockHash != "":
		opts.Anchor = ethmonitor.WithBlockHash(ethmonitor.Hash(c.AnchorBlockHash))
	case c.AnchorBlockNumber != 0:
		opts.Anchor = ethmonitor.WithBlockNumber(c.AnchorBlockNumber)
	}

	return opts
}
