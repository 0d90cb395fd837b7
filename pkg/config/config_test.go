package config_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/appbridge/pkg/bridge"
	"github.com/odvcencio/appbridge/pkg/capabilities"
	"github.com/odvcencio/appbridge/pkg/config"
	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/jsvm"
	"github.com/odvcencio/appbridge/pkg/lifecycle"
	"github.com/odvcencio/appbridge/pkg/logsink"
	"github.com/odvcencio/appbridge/pkg/transport/webdriver"
	"github.com/odvcencio/appbridge/pkg/transport/websocket"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	cfgDir := filepath.Join(dir, ".appbridge")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	path := filepath.Join(cfgDir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Session.Driver != config.DriverJSVM {
		t.Fatalf("default driver = %q", cfg.Session.Driver)
	}
	if !cfg.Bridge.ClosureCheck {
		t.Fatal("closure check should default on")
	}
	if cfg.Bridge.Timeout != 30*time.Second {
		t.Fatalf("default bridge timeout = %v", cfg.Bridge.Timeout)
	}
	if len(cfg.Logs.Sinks) != 1 || cfg.Logs.Sinks[0].Type != config.SinkConsole {
		t.Fatalf("default sinks = %+v", cfg.Logs.Sinks)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeConfig(t, home, `
target:
  framework: flutter
  app_name: user-app
capabilities:
  - name: user
    values:
      appbridge:options:
        args: ["--user"]
bridge:
  closure_check: false
  globals: [appConfig]
`)
	writeConfig(t, project, `
target:
  app_name: project-app
  project_root: `+project+`
capabilities:
  - name: project
    values:
      appbridge:options:
        env:
          RUST_LOG: debug
session:
  instances: [main, settings]
logs:
  min_level: debug
  sinks: []
`)
	chdir(t, project)
	t.Setenv("APPBRIDGE_BUILD_MODE", "debug")
	t.Setenv("APPBRIDGE_BRIDGE_TIMEOUT", "5s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Target.Framework != "flutter" {
		t.Fatalf("expected user framework, got %s", cfg.Target.Framework)
	}
	if cfg.Target.AppName != "project-app" {
		t.Fatalf("expected project app name override, got %s", cfg.Target.AppName)
	}
	if cfg.Target.BuildMode != "debug" {
		t.Fatalf("expected env build mode, got %s", cfg.Target.BuildMode)
	}
	if cfg.Bridge.Timeout != 5*time.Second {
		t.Fatalf("expected env bridge timeout, got %v", cfg.Bridge.Timeout)
	}
	if cfg.Bridge.ClosureCheck {
		t.Fatal("user config should disable the closure check")
	}
	if len(cfg.Capabilities) != 2 || cfg.Capabilities[0].Name != "user" || cfg.Capabilities[1].Name != "project" {
		t.Fatalf("layers should append in load order: %+v", cfg.Capabilities)
	}
	if len(cfg.Session.Instances) != 2 {
		t.Fatalf("instances = %v", cfg.Session.Instances)
	}
	if len(cfg.Logs.Sinks) != 0 {
		t.Fatalf("an explicit empty sink list should clear the default: %+v", cfg.Logs.Sinks)
	}
	if got := cfg.Descriptor().ProjectRoot; got != project {
		t.Fatalf("project root = %s, want %s", got, project)
	}
}

func TestLoadWithoutFrameworkOrPathFails(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	_, err := config.Load()
	if !apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID, got %v", err)
	}
}

func TestLoadFromPathParseError(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "target: [unclosed")
	_, err := config.LoadFromPath(path)
	if !apperrors.IsCode(err, apperrors.ErrCodeConfigParse) {
		t.Fatalf("expected CONFIG_PARSE, got %v", err)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := config.LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if !apperrors.IsCode(err, apperrors.ErrCodeConfigLoad) {
		t.Fatalf("expected CONFIG_LOAD, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.Target.Framework = "tauri"
		cfg.Target.ProjectRoot = t.TempDir()
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"defaults with framework", func(*config.Config) {}, true},
		{"unknown driver", func(c *config.Config) { c.Session.Driver = "carrier-pigeon" }, false},
		{"webdriver without endpoint", func(c *config.Config) { c.Session.Driver = config.DriverWebDriver }, false},
		{"webdriver with endpoint", func(c *config.Config) {
			c.Session.Driver = config.DriverWebDriver
			c.Session.Endpoint = "http://127.0.0.1:4444"
		}, true},
		{"websocket endpoint from layer", func(c *config.Config) {
			c.Session.Driver = config.DriverWebSocket
			c.Capabilities = []config.LayerConfig{{Values: map[string]any{
				capabilities.DesktopKey: map[string]any{"endpoint": "ws://127.0.0.1:9000"},
			}}}
		}, true},
		{"websocket without endpoint", func(c *config.Config) { c.Session.Driver = config.DriverWebSocket }, false},
		{"duplicate instance", func(c *config.Config) { c.Session.Instances = []string{"a", "a"} }, false},
		{"bad min level", func(c *config.Config) { c.Logs.MinLevel = "loud" }, false},
		{"jsonl without dir", func(c *config.Config) { c.Logs.Sinks = []config.SinkConfig{{Type: config.SinkJSONL}} }, false},
		{"unknown sink", func(c *config.Config) { c.Logs.Sinks = []config.SinkConfig{{Type: "syslog"}} }, false},
		{"layer without values", func(c *config.Config) { c.Capabilities = []config.LayerConfig{{Name: "empty"}} }, false},
		{"unknown platform", func(c *config.Config) { c.Target.Platform = "amiga" }, false},
		{"explicit path without framework", func(c *config.Config) {
			c.Target.Framework = ""
			c.Target.Path = "/opt/app"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid) {
				t.Fatalf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}
}

func TestEstablisherPerDriver(t *testing.T) {
	cfg := config.DefaultConfig()

	est, err := cfg.Establisher(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := est.(*jsvm.Host); !ok {
		t.Fatalf("jsvm driver gave %T", est)
	}

	cfg.Session.Driver = config.DriverWebSocket
	cfg.Session.Token = "t0k"
	est, _ = cfg.Establisher(nil)
	if d, ok := est.(*websocket.Dialer); !ok || d.Token != "t0k" {
		t.Fatalf("websocket driver gave %#v", est)
	}

	cfg.Session.Driver = config.DriverWebDriver
	cfg.Session.Endpoint = "http://127.0.0.1:4444"
	est, _ = cfg.Establisher(nil)
	if d, ok := est.(*webdriver.Driver); !ok || d.URL != "http://127.0.0.1:4444" {
		t.Fatalf("webdriver driver gave %#v", est)
	}
}

func TestLayersPutWebsocketEndpointFirst(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Session.Driver = config.DriverWebSocket
	cfg.Session.Endpoint = "ws://127.0.0.1:9000"
	cfg.Capabilities = []config.LayerConfig{{Name: "ci", Values: map[string]any{"browserName": "tauri"}}}

	layers := cfg.Layers()
	if len(layers) != 2 || layers[0].Name != "session" || layers[1].Name != "ci" {
		t.Fatalf("layers = %+v", layers)
	}
}

func TestSinksOpenConfiguredDestinations(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Logs.Sinks = []config.SinkConfig{
		{Type: config.SinkConsole, Timestamps: true},
		{Type: config.SinkJSONL, Dir: filepath.Join(dir, "logs")},
		{Type: config.SinkSQLite, Path: filepath.Join(dir, "logs.db")},
	}

	sinks, err := cfg.Sinks()
	if err != nil {
		t.Fatalf("Sinks: %v", err)
	}
	defer sinks.Close()
	if len(sinks) != 3 {
		t.Fatalf("got %d sinks", len(sinks))
	}
	if _, ok := sinks[2].(*logsink.SQLite); !ok {
		t.Fatalf("third sink is %T", sinks[2])
	}
}

func TestOptionsLaunchHeadlessSession(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "build", "linux", "x64", "release", "bundle", "demo")
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	var console bytes.Buffer
	config.Console = &console
	t.Cleanup(func() { config.Console = os.Stderr })

	cfg := config.DefaultConfig()
	cfg.Target = config.TargetConfig{Platform: "linux", Framework: "flutter", ProjectRoot: root, AppName: "demo", Arch: "amd64"}
	cfg.Session.Preload = `globalThis.greeting = "hi";`
	cfg.Bridge.Globals = []string{"greeting"}
	cfg.Logs.MinLevel = "debug"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	opts, closer, err := cfg.Options(nil)
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	defer closer.Close()

	c, err := lifecycle.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Launch(ctx); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	b, err := c.Bridge("")
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Execute(ctx, `() => { console.info("from page"); return greeting }`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "hi" {
		t.Fatalf("got %v", got)
	}
	if err := c.Logs().Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Teardown(ctx); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(console.Bytes(), []byte("[frontend] INFO  from page")) {
		t.Fatalf("console output missing record:\n%s", console.String())
	}
	if got := c.Binary().Path; got != bin {
		t.Fatalf("binary = %s", got)
	}
	if c.Capabilities().String(capabilities.DesktopKey, "application") != bin {
		t.Fatal("binary path should be injected into capabilities")
	}
}

func TestLoadFromPathAppliesOverridesBeforeValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("target:\n  project_root: /src/app\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.LoadFromPath(path); err == nil {
		t.Fatal("expected validation to fail without a framework")
	}

	cfg, err := config.LoadFromPath(path, func(c *config.Config) { c.Target.Framework = "tauri" })
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Target.Framework != "tauri" || cfg.Target.ProjectRoot != "/src/app" {
		t.Fatalf("target = %+v", cfg.Target)
	}
}

func TestOptionsDeferSyntaxErrorsToRemoteDrivers(t *testing.T) {
	cases := []struct {
		driver     string
		wantReject bool
	}{
		{config.DriverJSVM, true},
		{config.DriverWebSocket, false},
		{config.DriverWebDriver, false},
	}
	for _, tc := range cases {
		cfg := config.DefaultConfig()
		cfg.Session.Driver = tc.driver
		cfg.Session.Endpoint = "ws://127.0.0.1:9000"
		cfg.Logs.Sinks = nil

		opts, _, err := cfg.Options(nil)
		if err != nil {
			t.Fatalf("%s: Options: %v", tc.driver, err)
		}
		b := bridge.New(nil, opts.BridgeOptions...)
		err = b.Check(`() => {`)
		if got := errors.Is(err, bridge.ErrInvalidFunction); got != tc.wantReject {
			t.Fatalf("%s: Check error = %v, want rejection %v", tc.driver, err, tc.wantReject)
		}
	}
}
