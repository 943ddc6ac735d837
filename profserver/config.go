/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package profserver

import (
	"errors"
	"time"

	"github.com/acronis/watchtower/config"
)

const cfgDefaultKeyPrefix = "profServer"

const (
	cfgKeyEnabled         = "enabled"
	cfgKeyAddress         = "address"
	cfgKeyShutdownTimeout = "shutdownTimeout"
)

const (
	defaultAddress         = "127.0.0.1:6060"
	defaultShutdownTimeout = 5 * time.Second
)

// Config represents a set of configuration parameters for the profiling server.
// The server is disabled by default since pprof endpoints should never be exposed publicly.
type Config struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Address         string        `mapstructure:"address" yaml:"address" json:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout" json:"shutdownTimeout"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix, Address: defaultAddress, ShutdownTimeout: defaultShutdownTimeout}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for profiling server in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, false)
	dp.SetDefault(cfgKeyAddress, defaultAddress)
	dp.SetDefault(cfgKeyShutdownTimeout, defaultShutdownTimeout.String())
}

// Set sets profiling server configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}
	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}
	if c.Enabled && c.Address == "" {
		return dp.WrapKeyErr(cfgKeyAddress, errors.New("cannot be empty"))
	}
	if c.ShutdownTimeout, err = dp.GetDuration(cfgKeyShutdownTimeout); err != nil {
		return err
	}
	return nil
}
