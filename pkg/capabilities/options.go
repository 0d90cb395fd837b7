package capabilities

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/target"
)

const (
	// DesktopKey holds DesktopOptions.
	DesktopKey = "appbridge:options"
	// AndroidKey holds AndroidOptions.
	AndroidKey = "appium:options"
)

// DesktopOptions is the typed shape of the desktop options object.
type DesktopOptions struct {
	Application string            `json:"application,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	WorkingDir  string            `json:"workingDir,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Instance    string            `json:"instance,omitempty"`
}

// AndroidOptions is the typed shape of the mobile options object.
type AndroidOptions struct {
	App             string `json:"app,omitempty"`
	DeviceName      string `json:"deviceName,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	AutomationName  string `json:"automationName,omitempty"`
	AppPackage      string `json:"appPackage,omitempty"`
	AppActivity     string `json:"appActivity,omitempty"`
	NoReset         *bool  `json:"noReset,omitempty"`
}

// Options is the tagged form of a layer: at most one known platform shape
// plus free-form vendor keys.
type Options struct {
	Desktop    *DesktopOptions
	Android    *AndroidOptions
	Extensions map[string]any
}

// FromOptions converts typed options into a Layer.
func FromOptions(name string, opts Options) (Layer, error) {
	values := make(map[string]any, len(opts.Extensions)+1)
	for key, value := range opts.Extensions {
		values[key] = value
	}
	if opts.Desktop != nil {
		values[DesktopKey] = opts.Desktop
	}
	if opts.Android != nil {
		values[AndroidKey] = opts.Android
	}
	normalized, err := normalizeMap(values)
	if err != nil {
		return Layer{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "options are not serializable").
			WithContext("layer", name)
	}
	return Layer{Name: name, Values: normalized}, nil
}

// AppTargetPath is where the binary path lives for a platform.
func AppTargetPath(p target.Platform) []string {
	if p == target.PlatformAndroid {
		return []string{AndroidKey, "app"}
	}
	return []string{DesktopKey, "application"}
}

// DefaultLayer supplies service defaults for a target.
func DefaultLayer(t target.Descriptor) Layer {
	t = t.Normalize()
	if t.Platform == target.PlatformAndroid {
		return Layer{Name: "defaults", Values: map[string]any{
			"platformName": "Android",
			AndroidKey: map[string]any{
				"automationName": "UiAutomator2",
			},
		}}
	}
	values := map[string]any{
		"platformName": string(t.Platform),
		DesktopKey:     map[string]any{},
	}
	if t.Framework != "" {
		values["browserName"] = string(t.Framework)
	}
	return Layer{Name: "defaults", Values: values}
}

// Desktop decodes the desktop options of a composed set.
func (s Set) Desktop() (DesktopOptions, error) {
	var out DesktopOptions
	err := s.decode(DesktopKey, &out)
	return out, err
}

// Android decodes the mobile options of a composed set.
func (s Set) Android() (AndroidOptions, error) {
	var out AndroidOptions
	err := s.decode(AndroidKey, &out)
	return out, err
}

func (s Set) decode(key string, out any) error {
	raw, ok := s.Get(key)
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// validate checks the known platform shapes after merging.
func validate(s Set) error {
	if _, err := s.Desktop(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid desktop options").
			WithContext("key", DesktopKey)
	}
	if _, err := s.Android(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid android options").
			WithContext("key", AndroidKey)
	}
	return nil
}
