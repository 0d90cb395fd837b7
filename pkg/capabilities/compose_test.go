package capabilities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/locator"
	"github.com/odvcencio/appbridge/pkg/target"
)

var verifiedLinux = locator.ResolvedBinary{
	Path:      "/p/build/linux/x64/release/bundle/myapp",
	Verified:  true,
	Platform:  target.PlatformLinux,
	Framework: target.FrameworkFlutter,
}

func TestCompose_RightmostWins(t *testing.T) {
	layers := []Layer{
		{Name: "L1", Values: map[string]any{"k": "one", "only1": 1}},
		{Name: "L2", Values: map[string]any{"k": "two"}},
		{Name: "L3", Values: map[string]any{"k": "three"}},
	}
	set, err := Compose(layers, verifiedLinux)
	require.NoError(t, err)

	k, _ := set.Get("k")
	assert.Equal(t, "three", k)
	only1, _ := set.Get("only1")
	assert.Equal(t, 1, only1)
}

func TestCompose_MapsMergeArraysReplace(t *testing.T) {
	layers := []Layer{
		{Values: map[string]any{"opts": map[string]any{"a": 1, "list": []any{1, 2, 3}}}},
		{Values: map[string]any{"opts": map[string]any{"b": 2, "list": []any{9}}}},
	}
	set, err := Compose(layers, verifiedLinux)
	require.NoError(t, err)

	opts, _ := set.Get("opts")
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "list": []any{9}}, opts)
}

func TestCompose_NilOverrides(t *testing.T) {
	layers := []Layer{
		{Values: map[string]any{"proxy": map[string]any{"host": "x"}}},
		{Values: map[string]any{"proxy": nil}},
	}
	set, err := Compose(layers, verifiedLinux)
	require.NoError(t, err)
	v, ok := set.Get("proxy")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestCompose_DoesNotAliasLayers(t *testing.T) {
	inner := map[string]any{"list": []any{"a"}}
	layers := []Layer{{Values: map[string]any{"inner": inner}}}
	set, err := Compose(layers, verifiedLinux)
	require.NoError(t, err)

	inner["list"].([]any)[0] = "mutated"
	inner["new"] = true

	got, _ := set.Get("inner")
	assert.Equal(t, map[string]any{"list": []any{"a"}}, got)

	copied := set.Map()
	copied["inner"].(map[string]any)["x"] = 1
	again, _ := set.Get("inner")
	assert.NotContains(t, again, "x")
}

func TestCompose_InjectsResolvedPath(t *testing.T) {
	set, err := Compose([]Layer{DefaultLayer(target.Descriptor{Platform: target.PlatformLinux, Framework: target.FrameworkFlutter})}, verifiedLinux)
	require.NoError(t, err)
	assert.Equal(t, verifiedLinux.Path, set.String(DesktopKey, "application"))
}

func TestCompose_ExplicitWinsEvenUnverified(t *testing.T) {
	bin := locator.ResolvedBinary{Platform: target.PlatformLinux, Attempts: []locator.Attempt{{Path: "/x", Reason: locator.ReasonNotFound}}}
	layers := []Layer{{Values: map[string]any{DesktopKey: map[string]any{"application": "/custom/app"}}}}

	set, err := Compose(layers, bin)
	require.NoError(t, err)
	assert.Equal(t, "/custom/app", set.String(DesktopKey, "application"))

	set, err = Compose(layers, verifiedLinux)
	require.NoError(t, err)
	assert.Equal(t, "/custom/app", set.String(DesktopKey, "application"))
}

func TestCompose_FailsWithoutTarget(t *testing.T) {
	bin := locator.ResolvedBinary{
		Platform:  target.PlatformLinux,
		Framework: target.FrameworkTauri,
		BuildMode: target.BuildRelease,
		Attempts: []locator.Attempt{
			{Path: "/p/src-tauri/target/release/app", Reason: locator.ReasonNotFound},
			{Path: "/p/target/release/app", Reason: locator.ReasonNotExecutable},
		},
	}
	layers := []Layer{{Values: map[string]any{DesktopKey: map[string]any{"application": ""}}}}

	_, err := Compose(layers, bin)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCompositionFailed))

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	out := structured.Format()
	assert.Contains(t, out, "/p/src-tauri/target/release/app: not_found")
	assert.Contains(t, out, "/p/target/release/app: not_executable")
	assert.Contains(t, out, "$ cargo tauri build")
}

func TestCompose_AndroidKey(t *testing.T) {
	bin := locator.ResolvedBinary{Path: "/p/app-release.apk", Verified: true, Platform: target.PlatformAndroid}
	set, err := Compose([]Layer{DefaultLayer(target.Descriptor{Platform: target.PlatformAndroid})}, bin)
	require.NoError(t, err)

	android, err := set.Android()
	require.NoError(t, err)
	assert.Equal(t, "/p/app-release.apk", android.App)
	assert.Equal(t, "UiAutomator2", android.AutomationName)
}

func TestCompose_ValidatesTypedShape(t *testing.T) {
	layers := []Layer{{Values: map[string]any{DesktopKey: map[string]any{"args": "not-a-list"}}}}
	_, err := Compose(layers, verifiedLinux)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))
}

func TestCompose_NonObjectOptionsCannotHoldTarget(t *testing.T) {
	layers := []Layer{{Values: map[string]any{DesktopKey: "flat"}}}
	_, err := Compose(layers, verifiedLinux)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))
}

func TestFromOptions(t *testing.T) {
	layer, err := FromOptions("user", Options{
		Desktop:    &DesktopOptions{Args: []string{"--headless"}, Env: map[string]string{"RUST_LOG": "debug"}},
		Extensions: map[string]any{"vendor:opt": []string{"a", "b"}},
	})
	require.NoError(t, err)

	set, err := Compose([]Layer{layer}, verifiedLinux)
	require.NoError(t, err)

	desktop, err := set.Desktop()
	require.NoError(t, err)
	assert.Equal(t, []string{"--headless"}, desktop.Args)
	assert.Equal(t, "debug", desktop.Env["RUST_LOG"])
	assert.Equal(t, verifiedLinux.Path, desktop.Application)

	vendor, _ := set.Get("vendor:opt")
	assert.Equal(t, []any{"a", "b"}, vendor)
}

func TestSet_MarshalJSON(t *testing.T) {
	set, err := NewSet(map[string]any{"a": map[string]any{"b": true}})
	require.NoError(t, err)
	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":true}}`, string(data))
}
