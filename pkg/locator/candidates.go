package locator

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/odvcencio/appbridge/pkg/target"
)

// candidates returns the ordered, de-duplicated list of paths to check,
// most common build output first.
func candidates(d target.Descriptor, names []string) []string {
	var paths []string
	switch d.Framework {
	case target.FrameworkFlutter:
		paths = flutterCandidates(d, names)
	case target.FrameworkTauri:
		paths = tauriCandidates(d, names)
	case target.FrameworkElectron:
		paths = electronCandidates(d, names)
	}
	return appendUnique(nil, paths...)
}

func flutterCandidates(d target.Descriptor, names []string) []string {
	root := d.ProjectRoot
	mode := string(d.BuildMode)
	modeDir := titleCase(mode)
	var out []string
	switch d.Platform {
	case target.PlatformLinux:
		for _, name := range executableNames(d.Platform, names) {
			out = append(out, filepath.Join(root, "build", "linux", flutterArch(d.Arch), mode, "bundle", name))
		}
	case target.PlatformWindows:
		for _, name := range executableNames(d.Platform, names) {
			out = append(out,
				filepath.Join(root, "build", "windows", flutterArch(d.Arch), "runner", modeDir, name),
				filepath.Join(root, "build", "windows", "runner", modeDir, name),
			)
		}
	case target.PlatformMacOS:
		dirs := []string{modeDir}
		if d.Flavor != "" {
			dirs = []string{modeDir + "-" + d.Flavor, modeDir}
		}
		for _, dir := range dirs {
			for _, bundle := range bundleNames(names) {
				out = append(out, filepath.Join(root, "build", "macos", "Build", "Products", dir, bundle))
			}
		}
	case target.PlatformAndroid:
		apkDir := filepath.Join(root, "build", "app", "outputs")
		if d.Flavor != "" {
			out = append(out,
				filepath.Join(apkDir, "flutter-apk", "app-"+d.Flavor+"-"+mode+".apk"),
				filepath.Join(apkDir, "apk", d.Flavor, mode, "app-"+d.Flavor+"-"+mode+".apk"),
			)
		}
		out = append(out,
			filepath.Join(apkDir, "flutter-apk", "app-"+mode+".apk"),
			filepath.Join(apkDir, "apk", mode, "app-"+mode+".apk"),
		)
	}
	return out
}

func tauriCandidates(d target.Descriptor, names []string) []string {
	root := d.ProjectRoot
	mode := string(d.BuildMode)
	triple := rustTriple(d.Platform, d.Arch)
	// Standalone crate first, then cross-compiled output, then a cargo
	// workspace target dir at the project root.
	dirs := []string{
		filepath.Join(root, "src-tauri", "target", mode),
		filepath.Join(root, "src-tauri", "target", triple, mode),
		filepath.Join(root, "target", mode),
		filepath.Join(root, "target", triple, mode),
	}
	var out []string
	switch d.Platform {
	case target.PlatformLinux, target.PlatformWindows:
		for _, dir := range dirs {
			for _, name := range executableNames(d.Platform, names) {
				out = append(out, filepath.Join(dir, name))
			}
		}
	case target.PlatformMacOS:
		for _, dir := range dirs {
			for _, bundle := range bundleNames(names) {
				out = append(out, filepath.Join(dir, "bundle", "macos", bundle))
			}
		}
	case target.PlatformAndroid:
		apkRoot := filepath.Join(root, "src-tauri", "gen", "android", "app", "build", "outputs", "apk")
		variant := "universal"
		if d.Flavor != "" {
			variant = d.Flavor
		}
		out = append(out,
			filepath.Join(apkRoot, variant, mode, "app-"+variant+"-"+mode+".apk"),
			filepath.Join(apkRoot, variant, mode, "app-"+variant+"-"+mode+"-unsigned.apk"),
		)
		if variant != "universal" {
			out = append(out, filepath.Join(apkRoot, "universal", mode, "app-universal-"+mode+".apk"))
		}
	}
	return out
}

func electronCandidates(d target.Descriptor, names []string) []string {
	root := d.ProjectRoot
	arch := flutterArch(d.Arch)
	var out []string
	switch d.Platform {
	case target.PlatformLinux:
		unpacked := []string{"linux-unpacked"}
		if arch != "x64" {
			unpacked = []string{"linux-" + arch + "-unpacked", "linux-unpacked"}
		}
		for _, dir := range unpacked {
			for _, name := range executableNames(d.Platform, names) {
				out = append(out, filepath.Join(root, "dist", dir, name))
			}
		}
		for _, name := range names {
			for _, exe := range executableNames(d.Platform, names) {
				out = append(out, filepath.Join(root, "out", name+"-linux-"+arch, exe))
			}
		}
	case target.PlatformWindows:
		unpacked := []string{"win-unpacked"}
		if arch != "x64" {
			unpacked = []string{"win-" + arch + "-unpacked", "win-unpacked"}
		}
		for _, dir := range unpacked {
			for _, name := range executableNames(d.Platform, names) {
				out = append(out, filepath.Join(root, "dist", dir, name))
			}
		}
		for _, name := range names {
			for _, exe := range executableNames(d.Platform, names) {
				out = append(out, filepath.Join(root, "out", name+"-win32-"+arch, exe))
			}
		}
	case target.PlatformMacOS:
		dirs := []string{"mac", "mac-universal"}
		if arch == "arm64" {
			dirs = []string{"mac-arm64", "mac", "mac-universal"}
		}
		for _, dir := range dirs {
			for _, bundle := range bundleNames(names) {
				out = append(out, filepath.Join(root, "dist", dir, bundle))
			}
		}
		for _, name := range names {
			for _, bundle := range bundleNames(names) {
				out = append(out, filepath.Join(root, "out", name+"-darwin-"+arch, bundle))
			}
		}
	}
	return out
}

// executableNames applies the platform's filename convention. Linux and
// Android binaries are lowercased with spaces turned into dashes; Windows
// keeps the display name and gains .exe.
func executableNames(p target.Platform, names []string) []string {
	var out []string
	for _, name := range names {
		switch p {
		case target.PlatformWindows:
			if !strings.HasSuffix(strings.ToLower(name), ".exe") {
				name += ".exe"
			}
			out = appendUnique(out, name)
		default:
			out = appendUnique(out, normalizePosixName(name), name)
		}
	}
	return out
}

func normalizePosixName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// bundleNames keeps the display name for .app bundles and adds the NFD
// spelling HFS+ stores on disk.
func bundleNames(names []string) []string {
	var out []string
	for _, name := range names {
		bundle := name
		if !strings.HasSuffix(bundle, ".app") {
			bundle += ".app"
		}
		out = appendUnique(out, bundle, norm.NFD.String(bundle))
	}
	return out
}

func flutterArch(arch string) string {
	switch arch {
	case "amd64", "x86_64", "x64", "":
		return "x64"
	case "arm64", "aarch64":
		return "arm64"
	default:
		return arch
	}
}

func rustTriple(p target.Platform, arch string) string {
	cpu := "x86_64"
	if arch == "arm64" || arch == "aarch64" {
		cpu = "aarch64"
	}
	switch p {
	case target.PlatformWindows:
		return cpu + "-pc-windows-msvc"
	case target.PlatformMacOS:
		return cpu + "-apple-darwin"
	case target.PlatformAndroid:
		return cpu + "-linux-android"
	default:
		return cpu + "-unknown-linux-gnu"
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
