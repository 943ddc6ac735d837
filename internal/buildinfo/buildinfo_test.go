/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package buildinfo

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name        string
		buildInfo   *debug.BuildInfo
		expectedVer string
	}{
		{
			name:        "tagged module",
			buildInfo:   &debug.BuildInfo{Main: debug.Module{Path: "github.com/acronis/watchtower", Version: "v1.4.0"}},
			expectedVer: "v1.4.0",
		},
		{
			name:        "built from working tree",
			buildInfo:   &debug.BuildInfo{Main: debug.Module{Path: "github.com/acronis/watchtower", Version: "(devel)"}},
			expectedVer: "",
		},
		{
			name:        "nil build info",
			expectedVer: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectedVer, extractVersion(tt.buildInfo))
		})
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	require.NotEmpty(t, v)
	require.Equal(t, v, GetVersion())
	require.True(t, strings.HasPrefix(UserAgent(), "watchtower/"))
}

func TestNewPrometheusCollector(t *testing.T) {
	c := NewPrometheusCollector("watchtower_buildinfo_test")
	expected := `
# HELP watchtower_buildinfo_test_build_info Build information of the service.
# TYPE watchtower_buildinfo_test_build_info gauge
watchtower_buildinfo_test_build_info{go_version="` + runtime.Version() + `",version="` + GetVersion() + `"} 1
`
	require.NoError(t, promtestutil.CollectAndCompare(c, strings.NewReader(expected)))
}
