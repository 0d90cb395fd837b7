// Package target describes the native application build under test.
package target

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform is the operating system the target runs on.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformAndroid Platform = "android"
)

// Framework is the build tool family that produced the target.
type Framework string

const (
	FrameworkTauri    Framework = "tauri"
	FrameworkFlutter  Framework = "flutter"
	FrameworkElectron Framework = "electron"
)

// BuildMode selects release or debug build outputs.
type BuildMode string

const (
	BuildRelease BuildMode = "release"
	BuildDebug   BuildMode = "debug"
)

// Descriptor identifies one target build. It is a value type; copies never
// share state.
type Descriptor struct {
	Platform     Platform
	Framework    Framework
	ProjectRoot  string
	BuildMode    BuildMode
	ExplicitPath string
	// AppName overrides the name read from project metadata.
	AppName string
	// Arch is a Go architecture name (amd64, arm64). Empty means the host.
	Arch   string
	Flavor string
}

// HostPlatform maps GOOS onto a desktop platform.
func HostPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOS
	default:
		return PlatformLinux
	}
}

// Normalize fills defaults and cleans paths. It never mutates d.
func (d Descriptor) Normalize() Descriptor {
	out := d
	if out.Platform == "" {
		out.Platform = HostPlatform()
	}
	out.Platform = Platform(strings.ToLower(string(out.Platform)))
	out.Framework = Framework(strings.ToLower(string(out.Framework)))
	if out.BuildMode == "" {
		out.BuildMode = BuildRelease
	}
	out.BuildMode = BuildMode(strings.ToLower(string(out.BuildMode)))
	if out.Arch == "" {
		out.Arch = runtime.GOARCH
	}
	if out.ProjectRoot != "" {
		if abs, err := filepath.Abs(out.ProjectRoot); err == nil {
			out.ProjectRoot = abs
		}
	}
	out.AppName = strings.TrimSpace(out.AppName)
	out.Flavor = strings.TrimSpace(out.Flavor)
	return out
}

// Validate reports unknown enum values.
func (d Descriptor) Validate() error {
	switch d.Platform {
	case PlatformLinux, PlatformWindows, PlatformMacOS, PlatformAndroid:
	default:
		return fmt.Errorf("unknown platform %q", d.Platform)
	}
	switch d.Framework {
	case FrameworkTauri, FrameworkFlutter, FrameworkElectron:
	case "":
		if d.ExplicitPath == "" {
			return fmt.Errorf("framework is required without an explicit path")
		}
	default:
		return fmt.Errorf("unknown framework %q", d.Framework)
	}
	switch d.BuildMode {
	case BuildRelease, BuildDebug:
	default:
		return fmt.Errorf("unknown build mode %q", d.BuildMode)
	}
	if d.ExplicitPath == "" && d.ProjectRoot == "" {
		return fmt.Errorf("project root is required without an explicit path")
	}
	return nil
}

// IsDesktop reports whether the platform is a desktop OS.
func (p Platform) IsDesktop() bool {
	return p == PlatformLinux || p == PlatformWindows || p == PlatformMacOS
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	name := d.AppName
	if name == "" {
		name = filepath.Base(d.ProjectRoot)
	}
	return fmt.Sprintf("%s/%s/%s:%s", d.Framework, d.Platform, d.BuildMode, name)
}
