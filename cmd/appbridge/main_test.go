package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/appbridge/pkg/bridge"
	"github.com/odvcencio/appbridge/pkg/config"
	apperrors "github.com/odvcencio/appbridge/pkg/errors"
)

// flutterProject writes a linux flutter layout and a config file pointing
// at it. The binary is only created when build is set.
func flutterProject(t *testing.T, build bool, extra string) (cfgPath, bin string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	bin = filepath.Join(root, "build", "linux", "x64", "release", "bundle", "demo")
	if build {
		if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := fmt.Sprintf(`target:
  platform: linux
  framework: flutter
  project_root: %s
  app_name: demo
  arch: amd64
logs:
  sinks: []
%s`, root, extra)
	cfgPath = filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, bin
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.HasPrefix(out, "appbridge "+version) {
		t.Fatalf("version output = %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "launch-rockets")
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(errOut, `unknown command "launch-rockets"`) {
		t.Fatalf("stderr = %q", errOut)
	}
}

func TestRunWithoutCommandPrintsHelp(t *testing.T) {
	code, _, errOut := runCLI(t)
	if code != exitUsage {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(errOut, "COMMANDS:") {
		t.Fatalf("stderr = %q", errOut)
	}
}

func TestLocate_Resolved(t *testing.T) {
	cfgPath, bin := flutterProject(t, true, "")

	code, out, errOut := runCLI(t, "-no-color", "-config", cfgPath, "locate")
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	if !strings.Contains(out, "✓ "+bin) {
		t.Fatalf("stdout missing resolved path:\n%s", out)
	}
	if !strings.Contains(out, "flutter") {
		t.Fatalf("stdout missing framework:\n%s", out)
	}
}

func TestLocate_FailureListsAttemptsAndBuildCommand(t *testing.T) {
	cfgPath, bin := flutterProject(t, false, "")

	code, out, errOut := runCLI(t, "-no-color", "-config", cfgPath, "locate")
	if code != exitDiscovery {
		t.Fatalf("exit = %d, want %d", code, exitDiscovery)
	}
	for _, want := range []string{"no runnable linux binary found", bin + ": not_found", "flutter build linux --release"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(errOut, "Error:") {
		t.Errorf("failure should be reported once, stderr:\n%s", errOut)
	}
}

func TestLocate_JSON(t *testing.T) {
	cfgPath, bin := flutterProject(t, true, "")

	code, out, errOut := runCLI(t, "-config", cfgPath, "locate", "-json")
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	var got struct {
		Path     string `json:"path"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if !got.Verified || got.Path != bin {
		t.Fatalf("resolution = %+v", got)
	}
}

func TestLocate_FlagsOverrideConfig(t *testing.T) {
	cfgPath, _ := flutterProject(t, false, "")
	explicit := filepath.Join(t.TempDir(), "app")
	if err := os.WriteFile(explicit, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "-no-color", "-config", cfgPath, "locate", "-path", explicit)
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	if !strings.Contains(out, explicit) {
		t.Fatalf("stdout = %q", out)
	}
}

func TestLocate_RejectsPositionalArgs(t *testing.T) {
	cfgPath, _ := flutterProject(t, true, "")
	code, _, errOut := runCLI(t, "-config", cfgPath, "locate", "extra")
	if code != exitUsage {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(errOut, "usage:") {
		t.Fatalf("stderr = %q", errOut)
	}
}

func TestLocate_TraceWritesSpans(t *testing.T) {
	cfgPath, _ := flutterProject(t, true, "")
	code, _, errOut := runCLI(t, "-trace", "-config", cfgPath, "locate", "-json")
	if code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(errOut, "locator.resolve") {
		t.Fatalf("stderr missing span:\n%s", errOut)
	}
}

func TestCompose_PrintsMergedCapabilities(t *testing.T) {
	cfgPath, bin := flutterProject(t, true, `capabilities:
  - name: ci
    values:
      appbridge:options:
        args: ["--headless"]
`)

	code, out, errOut := runCLI(t, "-config", cfgPath, "compose", "-instance", "bob")
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	var caps map[string]any
	if err := json.Unmarshal([]byte(out), &caps); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	opts, _ := caps["appbridge:options"].(map[string]any)
	if opts["application"] != bin {
		t.Errorf("application = %v, want %s", opts["application"], bin)
	}
	if opts["instance"] != "bob" {
		t.Errorf("instance = %v", opts["instance"])
	}
	if args, _ := opts["args"].([]any); len(args) != 1 || args[0] != "--headless" {
		t.Errorf("args = %v", opts["args"])
	}
	if caps["platformName"] != "linux" {
		t.Errorf("platformName = %v", caps["platformName"])
	}
}

func TestCompose_MissingBinary(t *testing.T) {
	cfgPath, _ := flutterProject(t, false, "")

	code, out, errOut := runCLI(t, "-config", cfgPath, "compose")
	if code != exitDiscovery {
		t.Fatalf("exit = %d, want %d", code, exitDiscovery)
	}
	if out != "" {
		t.Errorf("stdout should be empty, got %q", out)
	}
	if !strings.Contains(errOut, "Error:") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestExec_PrintsJSONResult(t *testing.T) {
	cfgPath, _ := flutterProject(t, true, `session:
  preload: 'globalThis.appConfig = {"theme": "dark"};'
bridge:
  globals: [appConfig]
`)

	code, out, errOut := runCLI(t, "-no-color", "-config", cfgPath, "exec",
		`(ctx, base, extra) => ({theme: appConfig.theme, total: base + extra.n})`, "40", `{"n": 2}`)
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if got["theme"] != "dark" || got["total"] != 42.0 {
		t.Fatalf("result = %v", got)
	}
	if !strings.Contains(errOut, "✓ launching jsvm session") {
		t.Errorf("stderr missing launch status:\n%s", errOut)
	}
}

func TestExec_Undefined(t *testing.T) {
	cfgPath, _ := flutterProject(t, true, "")
	code, out, _ := runCLI(t, "-config", cfgPath, "exec", "() => undefined")
	if code != 0 || out != "undefined\n" {
		t.Fatalf("exit = %d, stdout = %q", code, out)
	}
}

func TestExec_ScriptFile(t *testing.T) {
	cfgPath, _ := flutterProject(t, true, "")
	script := filepath.Join(t.TempDir(), "probe.js")
	if err := os.WriteFile(script, []byte("(ctx) => ctx.platform"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, out, errOut := runCLI(t, "-config", cfgPath, "exec", "-file", script)
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	if strings.TrimSpace(out) != `"linux"` {
		t.Fatalf("stdout = %q", out)
	}
}

func TestExec_RemoteErrorExitCode(t *testing.T) {
	cfgPath, _ := flutterProject(t, true, "")
	code, _, errOut := runCLI(t, "-config", cfgPath, "exec", `() => { throw new TypeError("nope") }`)
	if code != exitScript {
		t.Fatalf("exit = %d, want %d", code, exitScript)
	}
	if !strings.Contains(errOut, "nope") {
		t.Fatalf("stderr = %q", errOut)
	}
}

func TestExec_UsageErrors(t *testing.T) {
	cfgPath, _ := flutterProject(t, true, "")
	tests := []struct {
		name string
		args []string
	}{
		{"no script", []string{"exec"}},
		{"bad json arg", []string{"exec", "(ctx, a) => a", "{not json"}},
		{"unknown instance", []string{"exec", "-instance", "carol", "() => 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, append([]string{"-config", cfgPath}, tt.args...)...)
			if code != exitUsage {
				t.Fatalf("exit = %d, want %d, stderr:\n%s", code, exitUsage, errOut)
			}
		})
	}
}

func TestExec_LaunchFailureExitCode(t *testing.T) {
	cfgPath, _ := flutterProject(t, false, "")
	code, out, _ := runCLI(t, "-config", cfgPath, "exec", "() => 1")
	if code != exitDiscovery {
		t.Fatalf("exit = %d, want %d", code, exitDiscovery)
	}
	if out != "" {
		t.Fatalf("stdout = %q", out)
	}
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), exitFailure},
		{"explicit", withExitCode(errors.New("x"), exitSession), exitSession},
		{"config", apperrors.New(apperrors.ErrCodeConfigInvalid, "bad"), exitUsage},
		{"discovery", apperrors.New(apperrors.ErrCodeDiscoveryFailed, "none"), exitDiscovery},
		{"composition", fmt.Errorf("launch: %w", apperrors.New(apperrors.ErrCodeCompositionFailed, "none")), exitDiscovery},
		{"remote", &bridge.RemoteExecutionError{Kind: "TypeError", Message: "x"}, exitScript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeForError(tt.err); got != tt.want {
				t.Fatalf("exitCodeForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestReportedErrorsAreNotPrintedTwice(t *testing.T) {
	var errOut bytes.Buffer
	c := &cli{stdout: &bytes.Buffer{}, stderr: &errOut}
	code := c.runCommand(context.Background(), func(context.Context, []string) error {
		return reported(errors.New("already shown"), exitDiscovery)
	}, nil)
	if code != exitDiscovery {
		t.Fatalf("exit = %d", code)
	}
	if errOut.Len() != 0 {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("APPBRIDGE_TEST_BOOL", "yes")
	if val, ok := parseBoolEnv("APPBRIDGE_TEST_BOOL"); !ok || !val {
		t.Fatalf("expected true,true got %v,%v", val, ok)
	}
	t.Setenv("APPBRIDGE_TEST_BOOL", "maybe")
	if _, ok := parseBoolEnv("APPBRIDGE_TEST_BOOL"); ok {
		t.Fatal("expected ok=false for invalid value")
	}
}

func TestMain(m *testing.M) {
	config.Console = &bytes.Buffer{}
	os.Exit(m.Run())
}
