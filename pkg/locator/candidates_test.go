package locator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/unicode/norm"

	"github.com/odvcencio/appbridge/pkg/target"
)

func TestExecutableNames(t *testing.T) {
	assert.Equal(t, []string{"my-app", "My App"}, executableNames(target.PlatformLinux, []string{"My App"}))
	assert.Equal(t, []string{"My App.exe"}, executableNames(target.PlatformWindows, []string{"My App"}))
	assert.Equal(t, []string{"app.exe"}, executableNames(target.PlatformWindows, []string{"app.exe"}))
}

func TestBundleNames_AddsNFD(t *testing.T) {
	names := bundleNames([]string{"Café"})
	assert.Len(t, names, 2)
	assert.Equal(t, norm.NFD.String("Café.app"), names[1])

	assert.Equal(t, []string{"Plain.app"}, bundleNames([]string{"Plain"}))
}

func TestCandidates_FlavorMultipliesAndroid(t *testing.T) {
	d := target.Descriptor{Platform: target.PlatformAndroid, Framework: target.FrameworkFlutter, ProjectRoot: "/p", BuildMode: target.BuildRelease}
	plain := candidates(d, []string{"app"})
	d.Flavor = "dev"
	flavored := candidates(d, []string{"app"})

	assert.Greater(t, len(flavored), len(plain))
	assert.Equal(t, filepath.Join("/p", "build", "app", "outputs", "flutter-apk", "app-dev-release.apk"), flavored[0])
}

func TestCandidates_Deduplicated(t *testing.T) {
	d := target.Descriptor{Platform: target.PlatformLinux, Framework: target.FrameworkTauri, ProjectRoot: "/p", BuildMode: target.BuildRelease, Arch: "amd64"}
	got := candidates(d, []string{"app", "app"})
	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
	}
	assert.Equal(t, filepath.Join("/p", "src-tauri", "target", "release", "app"), got[0])
	assert.Contains(t, got, filepath.Join("/p", "src-tauri", "target", "x86_64-unknown-linux-gnu", "release", "app"))
}
