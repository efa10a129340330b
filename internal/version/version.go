// Package version reports the version of wazi a binary was built with.
package version

import (
	"runtime/debug"
	"strings"
)

// Default is the default version value used when none was found.
const Default = "dev"

// version is set by ldflags. Ex.
//
//	-ldflags '-X github.com/tetratelabs/wazi/internal/version.version=v1.0.0'
var version string

// GetWaziVersion returns the version set by ldflags, the version of the wazi module a program depends on, or Default.
func GetWaziVersion() string {
	if version != "" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Default
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) string {
	ret := info.Main.Version
	if info.Main.Path != modulePath {
		ret = ""
		for _, dep := range info.Deps {
			if dep.Path == modulePath {
				ret = dep.Version
				if dep.Replace != nil && dep.Replace.Version != "" {
					ret = dep.Replace.Version
				}
				break
			}
		}
	}
	// (devel) is reported when the main module is built from a working directory.
	if ret == "" || strings.Contains(ret, "(devel)") {
		return Default
	}
	return ret
}

const modulePath = "github.com/tetratelabs/wazi"
