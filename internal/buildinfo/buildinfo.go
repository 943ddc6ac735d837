/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package buildinfo provides the version of the service binary.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultVersion = "v0.0.0-dev"

// Version may be set at link time:
//
//	go build -ldflags "-X github.com/acronis/watchtower/internal/buildinfo.Version=v1.2.3" ./cmd/watchtower
var Version string

var version string
var versionOnce sync.Once

// GetVersion returns the version set at link time, or the main module version recorded by the Go toolchain.
func GetVersion() string {
	versionOnce.Do(func() {
		if Version != "" {
			version = Version
			return
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			version = extractVersion(bi)
		}
		if version == "" {
			version = defaultVersion
		}
	})
	return version
}

// extractVersion returns the main module version. Binaries built from a working tree report "(devel)".
func extractVersion(bi *debug.BuildInfo) string {
	if bi == nil || bi.Main.Version == "(devel)" {
		return ""
	}
	return bi.Main.Version
}

// UserAgent returns the User-Agent used in calls to the upstream collaborators.
func UserAgent() string {
	return "watchtower/" + GetVersion()
}

// NewPrometheusCollector creates a gauge that is always 1 and carries the version and the Go version as labels.
func NewPrometheusCollector(namespace string) prometheus.Collector {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information of the service.",
	}, []string{"version", "go_version"})
	gauge.WithLabelValues(GetVersion(), runtime.Version()).Set(1)
	return gauge
}
