// Package version resolves the application version once per process.
package version

import (
	"runtime/debug"
	"sync"
)

// Fallback is reported when no build metadata is available
const Fallback = "development"

// Override may be set at link time:
//
//	go build -ldflags "-X github.com/fsu-schubert-battery/echem-data-tool/internal/version.Override=v0.1.0"
var Override string

var (
	once     sync.Once
	resolved string
)

// Get returns the application version. The first call resolves it; later
// calls return the cached value.
func Get() string {
	once.Do(func() {
		resolved = resolve(Override, debug.ReadBuildInfo)
	})
	return resolved
}

// resolve picks the version from the link-time override, then the main
// module's build info, falling back to Fallback on any gap.
func resolve(override string, readBuildInfo func() (*debug.BuildInfo, bool)) (v string) {
	if override != "" {
		return override
	}

	defer func() {
		if recover() != nil {
			v = Fallback
		}
	}()

	if readBuildInfo == nil {
		return Fallback
	}
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return Fallback
	}
	switch info.Main.Version {
	case "", "(devel)":
		return Fallback
	}
	return info.Main.Version
}
