package locator

import (
	"fmt"
	"strings"

	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/target"
)

// Reason explains why a candidate path was rejected.
type Reason string

const (
	ReasonNotFound            Reason = "not_found"
	ReasonNotExecutable       Reason = "not_executable"
	ReasonMalformedBundle     Reason = "malformed_bundle"
	ReasonPermissionDenied    Reason = "permission_denied"
	ReasonIsDirectory         Reason = "is_directory"
	ReasonWrongExtension      Reason = "wrong_extension"
	ReasonMetadataUnavailable Reason = "metadata_unavailable"
	ReasonCanceled            Reason = "canceled"
)

// Attempt records one rejected candidate.
type Attempt struct {
	Path   string `json:"path"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (a Attempt) String() string {
	if a.Detail == "" {
		return fmt.Sprintf("%s: %s", a.Path, a.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", a.Path, a.Reason, a.Detail)
}

// ResolvedBinary is the outcome of one resolution. Verified implies Path
// existed and looked runnable when it was checked.
type ResolvedBinary struct {
	Path      string           `json:"path"`
	Verified  bool             `json:"verified"`
	Platform  target.Platform  `json:"platform"`
	Framework target.Framework `json:"framework"`
	BuildMode target.BuildMode `json:"build_mode"`
	AppName   string           `json:"app_name,omitempty"`
	Attempts  []Attempt        `json:"attempts,omitempty"`
}

// Clone returns a copy that shares no slices with r.
func (r ResolvedBinary) Clone() ResolvedBinary {
	out := r
	if r.Attempts != nil {
		out.Attempts = append([]Attempt(nil), r.Attempts...)
	}
	return out
}

// Err converts a failed resolution into a DISCOVERY_FAILED error carrying
// every attempt and a build command. It returns nil when r is verified.
func (r ResolvedBinary) Err() error {
	if r.Verified {
		return nil
	}
	name := r.AppName
	if name == "" {
		name = "the target"
	}
	details := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		details = append(details, a.String())
	}
	return apperrors.New(apperrors.ErrCodeDiscoveryFailed, "no runnable binary found").
		WithContext("platform", r.Platform).
		WithContext("framework", r.Framework).
		WithContext("attempts", len(r.Attempts)).
		WithUserMessage(fmt.Sprintf("could not find a runnable %s binary for %s", r.Platform, name)).
		WithDetails(details...).
		WithRemediation(Remediation(r.Platform, r.Framework, r.BuildMode)...)
}

// Remediation returns the build command that produces the expected output.
func Remediation(p target.Platform, f target.Framework, mode target.BuildMode) []string {
	debug := mode == target.BuildDebug
	switch f {
	case target.FrameworkTauri:
		if p == target.PlatformAndroid {
			return []string{withFlag("cargo tauri android build --apk", "--debug", debug)}
		}
		return []string{withFlag("cargo tauri build", "--debug", debug)}
	case target.FrameworkFlutter:
		modeFlag := "--release"
		if debug {
			modeFlag = "--debug"
		}
		sub := string(p)
		if p == target.PlatformAndroid {
			sub = "apk"
		}
		return []string{fmt.Sprintf("flutter build %s %s", sub, modeFlag)}
	case target.FrameworkElectron:
		switch p {
		case target.PlatformWindows:
			return []string{"npx electron-builder --win --dir"}
		case target.PlatformMacOS:
			return []string{"npx electron-builder --mac --dir"}
		case target.PlatformLinux:
			return []string{"npx electron-builder --linux --dir"}
		}
	}
	return nil
}

func withFlag(cmd, flag string, on bool) string {
	if !on {
		return cmd
	}
	return strings.TrimSpace(cmd + " " + flag)
}
