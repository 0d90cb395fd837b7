// Package capabilities merges layered session configuration into one
// immutable capability set.
package capabilities

import (
	"fmt"

	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/locator"
)

// Compose merges layers left to right and injects the resolved binary path
// into the app-target key when no layer set it. An explicit non-empty
// app target always wins, verified or not.
func Compose(layers []Layer, bin locator.ResolvedBinary) (Set, error) {
	merged := make(map[string]any)
	for i, layer := range layers {
		values, err := normalizeMap(layer.Values)
		if err != nil {
			return Set{}, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "capability layer is not serializable").
				WithContext("layer", layerName(layer, i))
		}
		merge(merged, values)
	}

	path := AppTargetPath(bin.Platform)
	if !hasExplicitTarget(merged, path) {
		if !bin.Verified {
			return Set{}, compositionError(bin, path)
		}
		if err := setPath(merged, path, bin.Path); err != nil {
			return Set{}, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "cannot inject app target").
				WithContext("key", joinPath(path))
		}
	}

	set := Set{values: merged}
	if err := validate(set); err != nil {
		return Set{}, err
	}
	return set, nil
}

func hasExplicitTarget(values map[string]any, path []string) bool {
	var current any = values
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current = m[key]
	}
	s, ok := current.(string)
	return ok && s != ""
}

func setPath(values map[string]any, path []string, value any) error {
	current := values
	for _, key := range path[:len(path)-1] {
		next, exists := current[key]
		if !exists || next == nil {
			m := make(map[string]any)
			current[key] = m
			current = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is %T, not an object", key, next)
		}
		current = m
	}
	current[path[len(path)-1]] = value
	return nil
}

func compositionError(bin locator.ResolvedBinary, path []string) error {
	details := make([]string, 0, len(bin.Attempts))
	for _, a := range bin.Attempts {
		details = append(details, a.String())
	}
	return apperrors.New(apperrors.ErrCodeCompositionFailed, "no app target after merge").
		WithContext("key", joinPath(path)).
		WithContext("platform", bin.Platform).
		WithContext("attempts", len(bin.Attempts)).
		WithUserMessage(fmt.Sprintf("no %s was configured and no runnable binary was found", joinPath(path))).
		WithDetails(details...).
		WithRemediation(locator.Remediation(bin.Platform, bin.Framework, bin.BuildMode)...)
}

func layerName(layer Layer, index int) string {
	if layer.Name != "" {
		return layer.Name
	}
	return fmt.Sprintf("#%d", index)
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
