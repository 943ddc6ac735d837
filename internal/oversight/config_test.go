/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package oversight

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/config"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfgData     string
		expectedCfg func() *Config
		wantErr     string
	}{
		{
			name:        "defaults",
			expectedCfg: NewDefaultConfig,
		},
		{
			name: "custom collaborators",
			cfgData: `
upstream:
  identityURL: "https://identity.internal/api/"
  dataURL: "http://data.internal:8080"
  apiToken: "s3cr3t"
  websocket:
    allowedOrigins: ["https://dashboard.example.org"]
    pingInterval: 15s
    writeTimeout: 2s
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.IdentityURL = "https://identity.internal/api"
				cfg.DataURL = "http://data.internal:8080"
				cfg.APIToken = "s3cr3t"
				cfg.WebSocket = WebSocketConfig{
					AllowedOrigins: []string{"https://dashboard.example.org"},
					PingInterval:   15 * time.Second,
					WriteTimeout:   2 * time.Second,
				}
				return cfg
			},
		},
		{
			name:    "relative URL",
			cfgData: `upstream: {dataURL: "/data"}`,
			wantErr: "upstream.dataURL: absolute http(s) URL is expected",
		},
		{
			name:    "zero ping interval",
			cfgData: `upstream: {websocket: {pingInterval: 0s}}`,
			wantErr: "upstream.websocket.pingInterval: should be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("WATCHTOWER_OVERSIGHTTEST").LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expectedCfg(), cfg)
		})
	}
}
