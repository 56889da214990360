// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads below's TOML configuration file (spec §6) and
// applies its defaults, following the teacher's CollectionConfig.ApplyDefaults
// pattern.
package config

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	belowerrors "github.com/antimetal/below/pkg/errors"
)

// Config is the decoded contents of below.conf (spec §6's external
// interface table).
type Config struct {
	LogDir           string        `toml:"log_dir"`
	StoreDir         string        `toml:"store_dir"`
	CgroupFilterOut  string        `toml:"cgroup_filter_out"`
	CgroupRoot       string        `toml:"cgroup_root"`
	TickInterval     time.Duration `toml:"-"`
	TickIntervalSecs int64         `toml:"tick_interval_secs"`
}

// Defaults per spec §6's table; TickInterval has no spec-mandated value, so
// 5s is chosen to match the original below's sampling cadence.
const (
	DefaultLogDir       = "/var/log/below"
	DefaultStoreDir     = "/var/log/below/store"
	DefaultCgroupRoot   = "/sys/fs/cgroup"
	DefaultTickInterval = 5 * time.Second
)

// Default returns a Config populated entirely with defaults.
func Default() *Config {
	c := &Config{
		LogDir:     DefaultLogDir,
		StoreDir:   DefaultStoreDir,
		CgroupRoot: DefaultCgroupRoot,
	}
	c.TickInterval = DefaultTickInterval
	return c
}

// ApplyDefaults fills zero-valued fields with defaults, mirroring the
// teacher's CollectionConfig.ApplyDefaults idiom.
func (c *Config) ApplyDefaults() {
	defaults := Default()
	if c.LogDir == "" {
		c.LogDir = defaults.LogDir
	}
	if c.StoreDir == "" {
		c.StoreDir = defaults.StoreDir
	}
	if c.CgroupRoot == "" {
		c.CgroupRoot = defaults.CgroupRoot
	}
	if c.TickIntervalSecs == 0 {
		c.TickInterval = defaults.TickInterval
	} else {
		c.TickInterval = time.Duration(c.TickIntervalSecs) * time.Second
	}
}

// Validate compiles CgroupFilterOut (if set) and rejects a non-positive
// tick interval. A config failing Validate is fatal at startup (spec §7).
func (c *Config) Validate() error {
	if c.CgroupFilterOut != "" {
		if _, err := regexp.Compile(c.CgroupFilterOut); err != nil {
			return fmt.Errorf("%w: cgroup_filter_out: %v", belowerrors.ErrConfigInvalid, err)
		}
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", belowerrors.ErrConfigInvalid)
	}
	return nil
}

// Load decodes path as TOML, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", belowerrors.ErrConfigInvalid, err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Manager holds the active Config and replaces it on SIGHUP (spec
// §2.3/§4.8). A reload installs a new *Config rather than mutating the old
// one, so code that captured a *Config earlier keeps the old values; callers
// that need the reloaded values must call Current again.
type Manager struct {
	path string

	mu  sync.RWMutex
	cur *Config
}

// NewManager loads path once and returns a Manager wrapping the result.
func NewManager(path string) (*Manager, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cur: c}, nil
}

// Current returns the most recently (re)loaded Config.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Reload re-reads the config file from disk and swaps it in atomically. A
// parse or validation failure leaves the previous Config in place and
// returns the error for the caller to log — a bad SIGHUP reload must not
// crash a running collector.
func (m *Manager) Reload() error {
	c, err := Load(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cur = c
	m.mu.Unlock()
	return nil
}
