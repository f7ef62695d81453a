// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the deployment configuration for cloak tooling.
package config

import (
	"fmt"

	"github.com/cloakmsg/cloak"
)

// Flag and config file keys.
const (
	ConfigFileKey   = "config-file"
	LogLevelKey     = "log-level"
	WidthBytesKey   = "width-bytes"
	ValidityDaysKey = "validity-days"
	RedisURIKey     = "redis-uri"
)

// Defaults.
const (
	DefaultLogLevel     = "info"
	DefaultWidthBytes   = cloak.Width256
	DefaultValidityDays = cloak.DefaultValidityDays
)

// Config is the tooling configuration. Width and validity are deployment
// constants, never negotiated per message.
type Config struct {
	LogLevel     string `mapstructure:"log-level"`
	WidthBytes   int    `mapstructure:"width-bytes"`
	ValidityDays uint64 `mapstructure:"validity-days"`
	RedisURI     string `mapstructure:"redis-uri"`
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if !cloak.ValidWidth(c.WidthBytes) {
		return fmt.Errorf("%w: %d bytes", cloak.ErrInvalidWidth, c.WidthBytes)
	}
	if c.ValidityDays == 0 {
		return fmt.Errorf("validity-days must be positive")
	}
	return nil
}
