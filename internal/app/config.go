/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"github.com/acronis/watchtower/config"
	"github.com/acronis/watchtower/httpclient"
	"github.com/acronis/watchtower/httpserver"
	"github.com/acronis/watchtower/internal/admission"
	"github.com/acronis/watchtower/internal/oversight"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/profserver"
)

// EnvVarsPrefix is the prefix of environment variables that override configuration values,
// e.g. WATCHTOWER_RATELIMIT_AUTH_MAXREQUESTS.
const EnvVarsPrefix = "WATCHTOWER"

// Config is the configuration of the whole service.
type Config struct {
	Log        *log.Config
	Server     *httpserver.Config
	RateLimit  *admission.Config
	Upstream   *oversight.Config
	Client     *httpclient.Config
	ProfServer *profserver.Config
}

// NewConfig creates a new Config whose sections are ready to be loaded.
func NewConfig() *Config {
	return &Config{
		Log:        log.NewConfig(),
		Server:     httpserver.NewConfig(),
		RateLimit:  admission.NewConfig(),
		Upstream:   oversight.NewConfig(),
		Client:     httpclient.NewConfig(),
		ProfServer: profserver.NewConfig(),
	}
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Log:        log.NewDefaultConfig(),
		Server:     httpserver.NewDefaultConfig(),
		RateLimit:  admission.NewDefaultConfig(),
		Upstream:   oversight.NewDefaultConfig(),
		Client:     httpclient.NewDefaultConfig(),
		ProfServer: profserver.NewDefaultConfig(),
	}
}

// LoadConfig loads the configuration from the file (if path is not empty) and from environment variables.
// The format of the file is determined by its extension (.yaml, .yml or .json).
func LoadConfig(path string, envVarsPrefix string) (*Config, error) {
	cfg := NewConfig()
	sections := make([]config.Config, 0, len(cfg.sections()))
	for _, section := range cfg.sections() {
		sections = append(sections, section)
	}
	if err := config.NewDefaultLoader(envVarsPrefix).LoadFromPath(path, sections...); err != nil {
		return nil, err
	}
	return cfg, nil
}
