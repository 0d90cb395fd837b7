package config

import (
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/odvcencio/appbridge/pkg/errors"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Scalars override when set,
// capability layers append, lists replace.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	mergeString(&base.Target.Platform, override.Target.Platform)
	mergeString(&base.Target.Framework, override.Target.Framework)
	mergeString(&base.Target.ProjectRoot, override.Target.ProjectRoot)
	mergeString(&base.Target.BuildMode, override.Target.BuildMode)
	mergeString(&base.Target.Path, override.Target.Path)
	mergeString(&base.Target.AppName, override.Target.AppName)
	mergeString(&base.Target.Arch, override.Target.Arch)
	mergeString(&base.Target.Flavor, override.Target.Flavor)

	base.Capabilities = append(base.Capabilities, override.Capabilities...)

	mergeString(&base.Session.Driver, override.Session.Driver)
	mergeString(&base.Session.Endpoint, override.Session.Endpoint)
	mergeString(&base.Session.Token, override.Session.Token)
	mergeString(&base.Session.Preload, override.Session.Preload)
	if len(override.Session.Endpoints) > 0 {
		if base.Session.Endpoints == nil {
			base.Session.Endpoints = make(map[string]string, len(override.Session.Endpoints))
		}
		for k, v := range override.Session.Endpoints {
			base.Session.Endpoints[k] = v
		}
	}
	if len(override.Session.Instances) > 0 {
		base.Session.Instances = append([]string(nil), override.Session.Instances...)
	}
	if override.Session.DialTimeout != 0 {
		base.Session.DialTimeout = override.Session.DialTimeout
	}
	if override.Session.PollInterval != 0 {
		base.Session.PollInterval = override.Session.PollInterval
	}

	if override.Bridge.Timeout != 0 {
		base.Bridge.Timeout = override.Bridge.Timeout
	}
	if len(override.Bridge.Globals) > 0 {
		base.Bridge.Globals = append(base.Bridge.Globals, override.Bridge.Globals...)
	}
	if boolFieldSet(raw, "bridge", "closure_check") {
		base.Bridge.ClosureCheck = override.Bridge.ClosureCheck
	}

	mergeString(&base.Logs.MinLevel, override.Logs.MinLevel)
	if override.Logs.BatchSize != 0 {
		base.Logs.BatchSize = override.Logs.BatchSize
	}
	if boolFieldSet(raw, "logs", "sinks") {
		base.Logs.Sinks = append([]SinkConfig(nil), override.Logs.Sinks...)
	}

	mergeString(&base.Observability.LogLevel, override.Observability.LogLevel)
	if boolFieldSet(raw, "observability", "trace") {
		base.Observability.Trace = override.Observability.Trace
	}
}

func mergeString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
