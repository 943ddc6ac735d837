/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package oversight

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/watchtower/config"
)

const cfgDefaultKeyPrefix = "upstream"

const (
	cfgKeyIdentityURL      = "identityURL"
	cfgKeyDataURL          = "dataURL"
	cfgKeyAPIToken         = "apiToken" // nolint:gosec // false positive
	cfgKeyWSAllowedOrigins = "websocket.allowedOrigins"
	cfgKeyWSPingInterval   = "websocket.pingInterval"
	cfgKeyWSWriteTimeout   = "websocket.writeTimeout"
)

const (
	defaultIdentityURL    = "http://localhost:9001"
	defaultDataURL        = "http://localhost:9002"
	defaultWSPingInterval = 30 * time.Second
	defaultWSWriteTimeout = 10 * time.Second
)

// Config represents addresses of the upstream collaborators and the options of the activity stream.
type Config struct {
	// IdentityURL is the base URL of the identity collaborator which verifies credentials.
	IdentityURL string `mapstructure:"identityURL" yaml:"identityURL" json:"identityURL"`
	// DataURL is the base URL of the data collaborator which serves politicians, contracts, cases and posts.
	DataURL     string `mapstructure:"dataURL" yaml:"dataURL" json:"dataURL"`
	// APIToken (if set) is sent to collaborators as a bearer token.
	APIToken    string `mapstructure:"apiToken" yaml:"apiToken" json:"apiToken"`

	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket" json:"websocket"`

	keyPrefix string
}

// WebSocketConfig represents options of the activity stream.
type WebSocketConfig struct {
	// AllowedOrigins are checked against the Origin header. Same-origin requests are allowed if empty.
	AllowedOrigins []string      `mapstructure:"allowedOrigins" yaml:"allowedOrigins" json:"allowedOrigins"`
	PingInterval   time.Duration `mapstructure:"pingInterval" yaml:"pingInterval" json:"pingInterval"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout" json:"writeTimeout"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix:   cfgDefaultKeyPrefix,
		IdentityURL: defaultIdentityURL,
		DataURL:     defaultDataURL,
		WebSocket:   WebSocketConfig{PingInterval: defaultWSPingInterval, WriteTimeout: defaultWSWriteTimeout},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyIdentityURL, defaultIdentityURL)
	dp.SetDefault(cfgKeyDataURL, defaultDataURL)
	dp.SetDefault(cfgKeyWSPingInterval, defaultWSPingInterval)
	dp.SetDefault(cfgKeyWSWriteTimeout, defaultWSWriteTimeout)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.IdentityURL, err = getBaseURL(dp, cfgKeyIdentityURL); err != nil {
		return err
	}
	if c.DataURL, err = getBaseURL(dp, cfgKeyDataURL); err != nil {
		return err
	}
	if c.APIToken, err = dp.GetString(cfgKeyAPIToken); err != nil {
		return err
	}
	if c.WebSocket.AllowedOrigins, err = dp.GetStringSlice(cfgKeyWSAllowedOrigins); err != nil {
		return err
	}
	for _, item := range []struct {
		key string
		dst *time.Duration
	}{
		{cfgKeyWSPingInterval, &c.WebSocket.PingInterval},
		{cfgKeyWSWriteTimeout, &c.WebSocket.WriteTimeout},
	} {
		if *item.dst, err = dp.GetDuration(item.key); err != nil {
			return err
		}
		if *item.dst <= 0 {
			return dp.WrapKeyErr(item.key, fmt.Errorf("should be positive"))
		}
	}
	return nil
}

func getBaseURL(dp config.DataProvider, key string) (string, error) {
	s, err := dp.GetString(key)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", dp.WrapKeyErr(key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", dp.WrapKeyErr(key, fmt.Errorf("absolute http(s) URL is expected, got %q", s))
	}
	return strings.TrimRight(s, "/"), nil
}
