/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"time"

	"github.com/acronis/watchtower/config"
	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/internal/ratelimit"
)

const cfgDefaultKeyPrefix = "rateLimit"

// Policy names.
const (
	PolicyAPI  = "api"
	PolicyAuth = "auth"
)

// Storage types.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

const (
	cfgKeyWindowSuffix      = ".window"
	cfgKeyMaxRequestsSuffix = ".maxRequests"
	cfgKeyMessageSuffix     = ".message"

	cfgKeyAlg           = "alg"
	cfgKeyMaxKeys       = "maxKeys"
	cfgKeyStorage       = "storage"
	cfgKeyRedisAddr     = "redis.addr"
	cfgKeyRedisPassword = "redis.password" // nolint:gosec // false positive
	cfgKeyRedisDB       = "redis.db"
	cfgKeyHeadersMode   = "headersMode"
	cfgKeyDryRun        = "dryRun"
	cfgKeySweepInterval = "sweepInterval"
)

// Default policies.
const (
	DefaultAPIWindow      = 15 * time.Minute
	DefaultAPIMaxRequests = 300
	DefaultAPIMessage     = "Too many requests from this IP, please try again later."

	DefaultAuthWindow      = 60 * time.Minute
	DefaultAuthMaxRequests = 10
	DefaultAuthMessage     = "Too many failed login attempts from this IP, account temporarily locked. " +
		"Please try again in an hour."

	DefaultSweepInterval = time.Minute
)

// PolicyConfig describes a single fixed-window admission policy.
type PolicyConfig struct {
	Window      time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	MaxRequests int           `mapstructure:"maxRequests" yaml:"maxRequests" json:"maxRequests"`
	Message     string        `mapstructure:"message" yaml:"message" json:"message"`
}

// Rate returns the policy as ratelimit.Rate.
func (p PolicyConfig) Rate() ratelimit.Rate {
	return ratelimit.Rate{Count: p.MaxRequests, Duration: p.Window}
}

// RedisConfig contains parameters of the Redis connection used when Storage is "redis".
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
}

// Config represents a set of configuration parameters for admission policies.
type Config struct {
	API  PolicyConfig `mapstructure:"api" yaml:"api" json:"api"`
	Auth PolicyConfig `mapstructure:"auth" yaml:"auth" json:"auth"`

	Alg           ratelimit.Alg                   `mapstructure:"alg" yaml:"alg" json:"alg"`
	MaxKeys       int                             `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
	Storage       string                          `mapstructure:"storage" yaml:"storage" json:"storage"`
	Redis         RedisConfig                     `mapstructure:"redis" yaml:"redis" json:"redis"`
	HeadersMode   middleware.RateLimitHeadersMode `mapstructure:"headersMode" yaml:"headersMode" json:"headersMode"`
	DryRun        bool                            `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`
	SweepInterval time.Duration                   `mapstructure:"sweepInterval" yaml:"sweepInterval" json:"sweepInterval"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix(cfgDefaultKeyPrefix)
}

// NewConfigWithKeyPrefix creates a new instance of the Config with a key prefix.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix:     cfgDefaultKeyPrefix,
		API:           PolicyConfig{Window: DefaultAPIWindow, MaxRequests: DefaultAPIMaxRequests, Message: DefaultAPIMessage},
		Auth:          PolicyConfig{Window: DefaultAuthWindow, MaxRequests: DefaultAuthMaxRequests, Message: DefaultAuthMessage},
		Alg:           ratelimit.AlgFixedWindow,
		MaxKeys:       ratelimit.DefaultMaxKeys,
		Storage:       StorageMemory,
		HeadersMode:   middleware.RateLimitHeadersStandard,
		SweepInterval: DefaultSweepInterval,
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for admission policies in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(PolicyAPI+cfgKeyWindowSuffix, DefaultAPIWindow)
	dp.SetDefault(PolicyAPI+cfgKeyMaxRequestsSuffix, DefaultAPIMaxRequests)
	dp.SetDefault(PolicyAPI+cfgKeyMessageSuffix, DefaultAPIMessage)

	dp.SetDefault(PolicyAuth+cfgKeyWindowSuffix, DefaultAuthWindow)
	dp.SetDefault(PolicyAuth+cfgKeyMaxRequestsSuffix, DefaultAuthMaxRequests)
	dp.SetDefault(PolicyAuth+cfgKeyMessageSuffix, DefaultAuthMessage)

	dp.SetDefault(cfgKeyAlg, string(ratelimit.AlgFixedWindow))
	dp.SetDefault(cfgKeyMaxKeys, ratelimit.DefaultMaxKeys)
	dp.SetDefault(cfgKeyStorage, StorageMemory)
	dp.SetDefault(cfgKeyHeadersMode, string(middleware.RateLimitHeadersStandard))
	dp.SetDefault(cfgKeyDryRun, false)
	dp.SetDefault(cfgKeySweepInterval, DefaultSweepInterval)
}

// Set sets admission configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if err = c.API.set(dp, PolicyAPI); err != nil {
		return err
	}
	if err = c.Auth.set(dp, PolicyAuth); err != nil {
		return err
	}

	alg, err := dp.GetStringFromSet(cfgKeyAlg, []string{
		string(ratelimit.AlgFixedWindow), string(ratelimit.AlgLeakyBucket), string(ratelimit.AlgSlidingWindow),
	}, false)
	if err != nil {
		return err
	}
	c.Alg = ratelimit.Alg(alg)

	if c.MaxKeys, err = dp.GetInt(cfgKeyMaxKeys); err != nil {
		return err
	}
	if c.MaxKeys <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxKeys, fmt.Errorf("should be positive"))
	}

	if c.Storage, err = dp.GetStringFromSet(cfgKeyStorage, []string{StorageMemory, StorageRedis}, false); err != nil {
		return err
	}
	if err = c.setRedis(dp); err != nil {
		return err
	}

	headersMode, err := dp.GetString(cfgKeyHeadersMode)
	if err != nil {
		return err
	}
	if c.HeadersMode, err = middleware.ParseRateLimitHeadersMode(headersMode); err != nil {
		return dp.WrapKeyErr(cfgKeyHeadersMode, err)
	}

	if c.DryRun, err = dp.GetBool(cfgKeyDryRun); err != nil {
		return err
	}

	if c.SweepInterval, err = dp.GetDuration(cfgKeySweepInterval); err != nil {
		return err
	}
	if c.SweepInterval <= 0 {
		return dp.WrapKeyErr(cfgKeySweepInterval, fmt.Errorf("should be positive"))
	}
	return nil
}

func (c *Config) setRedis(dp config.DataProvider) error {
	var err error
	if c.Redis.Addr, err = dp.GetString(cfgKeyRedisAddr); err != nil {
		return err
	}
	if c.Redis.Password, err = dp.GetString(cfgKeyRedisPassword); err != nil {
		return err
	}
	if c.Redis.DB, err = dp.GetInt(cfgKeyRedisDB); err != nil {
		return err
	}
	if c.Storage != StorageRedis {
		return nil
	}
	if c.Redis.Addr == "" {
		return dp.WrapKeyErr(cfgKeyRedisAddr, fmt.Errorf("should be set for %q storage", StorageRedis))
	}
	if c.Alg != ratelimit.AlgFixedWindow {
		return dp.WrapKeyErr(cfgKeyAlg, fmt.Errorf("only %q is supported by %q storage", ratelimit.AlgFixedWindow, StorageRedis))
	}
	return nil
}

func (p *PolicyConfig) set(dp config.DataProvider, policy string) error {
	var err error
	windowKey := policy + cfgKeyWindowSuffix
	if p.Window, err = dp.GetDuration(windowKey); err != nil {
		return err
	}
	if p.Window <= 0 {
		return dp.WrapKeyErr(windowKey, fmt.Errorf("should be positive"))
	}
	maxRequestsKey := policy + cfgKeyMaxRequestsSuffix
	if p.MaxRequests, err = dp.GetInt(maxRequestsKey); err != nil {
		return err
	}
	if p.MaxRequests <= 0 {
		return dp.WrapKeyErr(maxRequestsKey, fmt.Errorf("should be positive"))
	}
	if p.Message, err = dp.GetString(policy + cfgKeyMessageSuffix); err != nil {
		return err
	}
	return nil
}
