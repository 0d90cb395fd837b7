// Package config loads appbridge settings from YAML files and the
// environment and turns them into lifecycle options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/appbridge/pkg/capabilities"
	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/logs"
	"github.com/odvcencio/appbridge/pkg/target"
)

// Session drivers.
const (
	DriverJSVM      = "jsvm"
	DriverWebSocket = "websocket"
	DriverWebDriver = "webdriver"
)

// Sink types.
const (
	SinkConsole = "console"
	SinkJSONL   = "jsonl"
	SinkSQLite  = "sqlite"
	SinkNATS    = "nats"
)

// Config represents the complete appbridge configuration
type Config struct {
	Target        TargetConfig        `yaml:"target"`
	Capabilities  []LayerConfig       `yaml:"capabilities"`
	Session       SessionConfig       `yaml:"session"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	Logs          LogsConfig          `yaml:"logs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TargetConfig describes the application build under test.
type TargetConfig struct {
	Platform    string `yaml:"platform"`
	Framework   string `yaml:"framework"`
	ProjectRoot string `yaml:"project_root"`
	BuildMode   string `yaml:"build_mode"`
	// Path skips discovery and names the binary directly.
	Path    string `yaml:"path"`
	AppName string `yaml:"app_name"`
	Arch    string `yaml:"arch"`
	Flavor  string `yaml:"flavor"`
}

// LayerConfig is one capability layer. Layers from every config file are
// applied in the order they were loaded.
type LayerConfig struct {
	Name   string         `yaml:"name"`
	Values map[string]any `yaml:"values"`
}

// SessionConfig selects how sessions are established.
type SessionConfig struct {
	Driver string `yaml:"driver"`
	// Endpoint is the websocket URL or the WebDriver server root.
	Endpoint string `yaml:"endpoint"`
	// Endpoints overrides Endpoint per instance (websocket only).
	Endpoints    map[string]string `yaml:"endpoints"`
	Token        string            `yaml:"token"`
	Instances    []string          `yaml:"instances"`
	DialTimeout  time.Duration     `yaml:"dial_timeout"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	// Preload is evaluated in every jsvm runtime before the session starts.
	Preload string `yaml:"preload"`
}

// BridgeConfig tunes script execution.
type BridgeConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Globals      []string      `yaml:"globals"`
	ClosureCheck bool          `yaml:"closure_check"`
}

// LogsConfig configures log capture.
type LogsConfig struct {
	MinLevel  string       `yaml:"min_level"`
	BatchSize int          `yaml:"batch_size"`
	Sinks     []SinkConfig `yaml:"sinks"`
}

// SinkConfig is one log destination.
type SinkConfig struct {
	Type string `yaml:"type"`
	// Dir is the JSONL output directory.
	Dir string `yaml:"dir"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// URL is the NATS server.
	URL        string `yaml:"url"`
	Timestamps bool   `yaml:"timestamps"`
}

// ObservabilityConfig controls appbridge's own diagnostics.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	Trace    bool   `yaml:"trace"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Platform:  string(target.HostPlatform()),
			BuildMode: string(target.BuildRelease),
		},
		Session: SessionConfig{
			Driver:       DriverJSVM,
			DialTimeout:  15 * time.Second,
			PollInterval: 250 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			Timeout:      30 * time.Second,
			ClosureCheck: true,
		},
		Logs: LogsConfig{
			MinLevel:  "info",
			BatchSize: 128,
			Sinks:     []SinkConfig{{Type: SinkConsole}},
		},
		Observability: ObservabilityConfig{
			LogLevel: "warn",
		},
	}
}

// Override adjusts a loaded configuration before validation. The CLI uses
// it for command-line flags.
type Override func(*Config)

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.appbridge/config.yaml, ./.appbridge/config.yaml, then
// APPBRIDGE_* environment variables, then overrides in order.
func Load(overrides ...Override) (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".appbridge", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, loadError(err, userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", ".appbridge", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, loadError(err, projectConfigPath)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path on top of the
// defaults. Environment overrides and overrides still apply.
func LoadFromPath(path string, overrides ...Override) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, loadError(err, path)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadError(err error, path string) error {
	if apperrors.IsCode(err, apperrors.ErrCodeConfigParse) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading config").WithContext("path", path)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("APPBRIDGE_PLATFORM"); v != "" {
		cfg.Target.Platform = v
	}
	if v := os.Getenv("APPBRIDGE_FRAMEWORK"); v != "" {
		cfg.Target.Framework = v
	}
	if v := os.Getenv("APPBRIDGE_PROJECT_ROOT"); v != "" {
		cfg.Target.ProjectRoot = v
	}
	if v := os.Getenv("APPBRIDGE_BUILD_MODE"); v != "" {
		cfg.Target.BuildMode = v
	}
	if v := os.Getenv("APPBRIDGE_APP_PATH"); v != "" {
		cfg.Target.Path = v
	}
	if v := os.Getenv("APPBRIDGE_DRIVER"); v != "" {
		cfg.Session.Driver = v
	}
	if v := os.Getenv("APPBRIDGE_ENDPOINT"); v != "" {
		cfg.Session.Endpoint = v
	}
	if v := os.Getenv("APPBRIDGE_TOKEN"); v != "" {
		cfg.Session.Token = v
	}
	if v := os.Getenv("APPBRIDGE_INSTANCES"); v != "" {
		cfg.Session.Instances = splitCommaList(v)
	}
	if v := os.Getenv("APPBRIDGE_BRIDGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid APPBRIDGE_BRIDGE_TIMEOUT")
		}
		cfg.Bridge.Timeout = d
	}
	if val, ok := envBool("APPBRIDGE_CLOSURE_CHECK"); ok {
		cfg.Bridge.ClosureCheck = val
	}
	if v := os.Getenv("APPBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logs.MinLevel = v
	}
	if v := os.Getenv("APPBRIDGE_LOG_DIR"); v != "" {
		cfg.Logs.Sinks = append(cfg.Logs.Sinks, SinkConfig{Type: SinkJSONL, Dir: v})
	}
	if val, ok := envBool("APPBRIDGE_TRACE"); ok {
		cfg.Observability.Trace = val
	}
	return nil
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Descriptor converts the target section.
func (c *Config) Descriptor() target.Descriptor {
	return target.Descriptor{
		Platform:     target.Platform(c.Target.Platform),
		Framework:    target.Framework(c.Target.Framework),
		ProjectRoot:  ResolveProjectRoot(c),
		BuildMode:    target.BuildMode(c.Target.BuildMode),
		ExplicitPath: expandHomeDir(c.Target.Path),
		AppName:      c.Target.AppName,
		Arch:         c.Target.Arch,
		Flavor:       c.Target.Flavor,
	}.Normalize()
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	invalid := func(msg string, kv ...any) error {
		err := apperrors.New(apperrors.ErrCodeConfigInvalid, msg)
		for i := 0; i+1 < len(kv); i += 2 {
			err.WithContext(fmt.Sprint(kv[i]), kv[i+1])
		}
		return err
	}

	if err := c.Descriptor().Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid target")
	}

	switch c.Session.Driver {
	case DriverJSVM:
	case DriverWebSocket:
		if c.Session.Endpoint == "" && len(c.Session.Endpoints) == 0 && !layersSetEndpoint(c.Capabilities) {
			return invalid("websocket driver needs session.endpoint", "driver", c.Session.Driver)
		}
	case DriverWebDriver:
		if c.Session.Endpoint == "" {
			return invalid("webdriver driver needs session.endpoint", "driver", c.Session.Driver)
		}
	default:
		return invalid("unknown session driver", "driver", c.Session.Driver)
	}
	seen := make(map[string]bool, len(c.Session.Instances))
	for _, name := range c.Session.Instances {
		if name == "" || seen[name] {
			return invalid("instance names must be unique and non-empty", "instance", name)
		}
		seen[name] = true
	}

	if c.Bridge.Timeout < 0 {
		return invalid("bridge.timeout must not be negative", "timeout", c.Bridge.Timeout)
	}
	if _, err := logs.ParseLevel(c.Logs.MinLevel); err != nil {
		return invalid("invalid logs.min_level", "level", c.Logs.MinLevel)
	}
	if c.Logs.BatchSize < 0 {
		return invalid("logs.batch_size must not be negative", "batch_size", c.Logs.BatchSize)
	}
	for i, sink := range c.Logs.Sinks {
		switch sink.Type {
		case SinkConsole:
		case SinkJSONL:
			if sink.Dir == "" {
				return invalid("jsonl sink needs dir", "sink", i)
			}
		case SinkSQLite:
			if sink.Path == "" {
				return invalid("sqlite sink needs path", "sink", i)
			}
		case SinkNATS:
			if sink.URL == "" {
				return invalid("nats sink needs url", "sink", i)
			}
		default:
			return invalid("unknown log sink type", "sink", i, "type", sink.Type)
		}
	}
	for i, layer := range c.Capabilities {
		if layer.Values == nil {
			return invalid("capability layer has no values", "layer", layerLabel(layer, i))
		}
	}
	return nil
}

func layerLabel(layer LayerConfig, index int) string {
	if layer.Name != "" {
		return layer.Name
	}
	return fmt.Sprintf("#%d", index)
}

func layersSetEndpoint(layers []LayerConfig) bool {
	for _, layer := range layers {
		opts, ok := layer.Values[capabilities.DesktopKey].(map[string]any)
		if !ok {
			continue
		}
		if ep, ok := opts["endpoint"].(string); ok && ep != "" {
			return true
		}
	}
	return false
}
