/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cast"

	"github.com/acronis/watchtower/config"
	"github.com/acronis/watchtower/retry"
)

const cfgDefaultKeyPrefix = "upstream.client"

// DefaultClientTimeout is the default overall timeout of a single upstream call (retries included).
const DefaultClientTimeout = 10 * time.Second

// Retry strategies.
const (
	RetryPolicyExponential = "exponential"
	RetryPolicyConstant    = "constant"
)

const (
	cfgKeyTimeout                                 = "timeout"
	cfgKeyRetriesEnabled                          = "retries.enabled"
	cfgKeyRetriesMaxAttempts                      = "retries.maxAttempts"
	cfgKeyRetriesPolicyStrategy                   = "retries.policy.strategy"
	cfgKeyRetriesPolicyExponentialInitialInterval = "retries.policy.exponentialBackoffInitialInterval"
	cfgKeyRetriesPolicyExponentialMultiplier      = "retries.policy.exponentialBackoffMultiplier"
	cfgKeyRetriesPolicyConstantInterval           = "retries.policy.constantBackoffInterval"
	cfgKeyRateLimitsEnabled                       = "rateLimits.enabled"
	cfgKeyRateLimitsLimit                         = "rateLimits.limit"
	cfgKeyRateLimitsBurst                         = "rateLimits.burst"
	cfgKeyRateLimitsWaitTimeout                   = "rateLimits.waitTimeout"
	cfgKeyLogEnabled                              = "log.enabled"
	cfgKeyLogMode                                 = "log.mode"
	cfgKeyLogSlowRequestThreshold                 = "log.slowRequestThreshold"
	cfgKeyMetricsEnabled                          = "metrics.enabled"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// Config represents options of the HTTP client used for calls to upstream collaborators.
type Config struct {
	Timeout    time.Duration   `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Retries    RetriesConfig   `mapstructure:"retries" yaml:"retries" json:"retries"`
	RateLimits RateLimitConfig `mapstructure:"rateLimits" yaml:"rateLimits" json:"rateLimits"`
	Log        LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
	Metrics    MetricsConfig   `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	keyPrefix string
}

// RetriesConfig represents retry options.
type RetriesConfig struct {
	Enabled     bool         `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxAttempts int          `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	Policy      PolicyConfig `mapstructure:"policy" yaml:"policy" json:"policy"`
}

// PolicyConfig represents a backoff policy between retry attempts.
type PolicyConfig struct {
	Strategy                          string        `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	ExponentialBackoffInitialInterval time.Duration `mapstructure:"exponentialBackoffInitialInterval" yaml:"exponentialBackoffInitialInterval" json:"exponentialBackoffInitialInterval"` //nolint:lll
	ExponentialBackoffMultiplier      float64       `mapstructure:"exponentialBackoffMultiplier" yaml:"exponentialBackoffMultiplier" json:"exponentialBackoffMultiplier"`                //nolint:lll
	ConstantBackoffInterval           time.Duration `mapstructure:"constantBackoffInterval" yaml:"constantBackoffInterval" json:"constantBackoffInterval"`
}

// RateLimitConfig represents client-side rate limiting options.
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Limit       int           `mapstructure:"limit" yaml:"limit" json:"limit"`
	Burst       int           `mapstructure:"burst" yaml:"burst" json:"burst"`
	WaitTimeout time.Duration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`
}

// LogConfig represents logging options for outgoing requests.
type LogConfig struct {
	Enabled              bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Mode                 LoggingMode   `mapstructure:"mode" yaml:"mode" json:"mode"`
	SlowRequestThreshold time.Duration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// MetricsConfig represents metrics options for outgoing requests.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix(cfgDefaultKeyPrefix)
}

// NewConfigWithKeyPrefix creates a new instance of the Config with the given key prefix.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Timeout:   DefaultClientTimeout,
		Retries: RetriesConfig{
			Enabled:     true,
			MaxAttempts: DefaultMaxRetryAttempts,
			Policy: PolicyConfig{
				Strategy:                          RetryPolicyExponential,
				ExponentialBackoffInitialInterval: DefaultExponentialBackoffInitialInterval,
				ExponentialBackoffMultiplier:      DefaultExponentialBackoffMultiplier,
			},
		},
		Log:     LogConfig{Enabled: true, Mode: LoggingModeFailed},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyTimeout, DefaultClientTimeout.String())
	dp.SetDefault(cfgKeyRetriesEnabled, true)
	dp.SetDefault(cfgKeyRetriesMaxAttempts, DefaultMaxRetryAttempts)
	dp.SetDefault(cfgKeyRetriesPolicyStrategy, RetryPolicyExponential)
	dp.SetDefault(cfgKeyRetriesPolicyExponentialInitialInterval, DefaultExponentialBackoffInitialInterval.String())
	dp.SetDefault(cfgKeyRetriesPolicyExponentialMultiplier, DefaultExponentialBackoffMultiplier)
	dp.SetDefault(cfgKeyRetriesPolicyConstantInterval, DefaultExponentialBackoffInitialInterval.String())
	dp.SetDefault(cfgKeyRateLimitsBurst, DefaultRateLimitingBurst)
	dp.SetDefault(cfgKeyRateLimitsWaitTimeout, DefaultRateLimitingWaitTimeout.String())
	dp.SetDefault(cfgKeyLogEnabled, true)
	dp.SetDefault(cfgKeyLogMode, string(LoggingModeFailed))
	dp.SetDefault(cfgKeyMetricsEnabled, true)
}

// Set sets the client configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Timeout, err = dp.GetDuration(cfgKeyTimeout); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, fmt.Errorf("cannot be negative"))
	}
	if err = c.setRetries(dp); err != nil {
		return err
	}
	if err = c.setRateLimits(dp); err != nil {
		return err
	}
	if err = c.setLog(dp); err != nil {
		return err
	}
	c.Metrics.Enabled, err = dp.GetBool(cfgKeyMetricsEnabled)
	return err
}

func (c *Config) setRetries(dp config.DataProvider) error {
	var err error
	if c.Retries.Enabled, err = dp.GetBool(cfgKeyRetriesEnabled); err != nil {
		return err
	}
	if !c.Retries.Enabled {
		return nil
	}
	if c.Retries.MaxAttempts, err = dp.GetInt(cfgKeyRetriesMaxAttempts); err != nil {
		return err
	}
	if c.Retries.MaxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyRetriesMaxAttempts, fmt.Errorf("cannot be negative"))
	}

	policy := &c.Retries.Policy
	if policy.Strategy, err = dp.GetStringFromSet(
		cfgKeyRetriesPolicyStrategy, []string{RetryPolicyExponential, RetryPolicyConstant}, true,
	); err != nil {
		return err
	}
	policy.Strategy = strings.ToLower(policy.Strategy)
	switch policy.Strategy {
	case RetryPolicyExponential:
		if policy.ExponentialBackoffInitialInterval, err = dp.GetDuration(
			cfgKeyRetriesPolicyExponentialInitialInterval); err != nil {
			return err
		}
		if policy.ExponentialBackoffMultiplier, err = cast.ToFloat64E(
			dp.Get(cfgKeyRetriesPolicyExponentialMultiplier)); err != nil {
			return dp.WrapKeyErr(cfgKeyRetriesPolicyExponentialMultiplier, err)
		}
		if policy.ExponentialBackoffMultiplier <= 1 {
			return dp.WrapKeyErr(cfgKeyRetriesPolicyExponentialMultiplier, fmt.Errorf("should be greater than 1"))
		}
	case RetryPolicyConstant:
		if policy.ConstantBackoffInterval, err = dp.GetDuration(cfgKeyRetriesPolicyConstantInterval); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) setRateLimits(dp config.DataProvider) error {
	var err error
	if c.RateLimits.Enabled, err = dp.GetBool(cfgKeyRateLimitsEnabled); err != nil {
		return err
	}
	if !c.RateLimits.Enabled {
		return nil
	}
	if c.RateLimits.Limit, err = dp.GetInt(cfgKeyRateLimitsLimit); err != nil {
		return err
	}
	if c.RateLimits.Limit <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsLimit, fmt.Errorf("should be positive"))
	}
	if c.RateLimits.Burst, err = dp.GetInt(cfgKeyRateLimitsBurst); err != nil {
		return err
	}
	if c.RateLimits.Burst < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsBurst, fmt.Errorf("cannot be negative"))
	}
	if c.RateLimits.WaitTimeout, err = dp.GetDuration(cfgKeyRateLimitsWaitTimeout); err != nil {
		return err
	}
	return nil
}

func (c *Config) setLog(dp config.DataProvider) error {
	var err error
	if c.Log.Enabled, err = dp.GetBool(cfgKeyLogEnabled); err != nil {
		return err
	}
	if !c.Log.Enabled {
		return nil
	}
	var mode string
	if mode, err = dp.GetStringFromSet(cfgKeyLogMode, []string{
		string(LoggingModeNone), string(LoggingModeAll), string(LoggingModeFailed)}, true); err != nil {
		return err
	}
	c.Log.Mode = LoggingMode(strings.ToLower(mode))
	if c.Log.SlowRequestThreshold, err = dp.GetDuration(cfgKeyLogSlowRequestThreshold); err != nil {
		return err
	}
	return nil
}

// BackoffPolicy returns the retry policy configured by the strategy.
func (c *RetriesConfig) BackoffPolicy() retry.Policy {
	switch c.Policy.Strategy {
	case RetryPolicyConstant:
		return retry.PolicyFunc(func() backoff.BackOff {
			return backoff.NewConstantBackOff(c.Policy.ConstantBackoffInterval)
		})
	default:
		return retry.ExponentialBackoffPolicy{
			InitialInterval: c.Policy.ExponentialBackoffInitialInterval,
			Multiplier:      c.Policy.ExponentialBackoffMultiplier,
		}
	}
}

// TransportOpts returns options for RetryableRoundTripper.
func (c *RetriesConfig) TransportOpts() RetryableRoundTripperOpts {
	return RetryableRoundTripperOpts{MaxRetryAttempts: c.MaxAttempts, BackoffPolicy: c.BackoffPolicy()}
}

// TransportOpts returns options for RateLimitingRoundTripper.
func (c *RateLimitConfig) TransportOpts() RateLimitingRoundTripperOpts {
	return RateLimitingRoundTripperOpts{Burst: c.Burst, WaitTimeout: c.WaitTimeout}
}

// TransportOpts returns options for LoggingRoundTripper.
func (c *LogConfig) TransportOpts() LoggingRoundTripperOpts {
	return LoggingRoundTripperOpts{Mode: c.Mode, SlowRequestThreshold: c.SlowRequestThreshold}
}
