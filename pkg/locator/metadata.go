package locator

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/appbridge/pkg/target"
)

// projectMetadata is what the build tool's manifest says about the app.
type projectMetadata struct {
	// Names in preference order: binary name first, display name after.
	Names       []string
	Fingerprint string
	Attempts    []Attempt
}

type tauriConf struct {
	MainBinaryName string `json:"mainBinaryName"`
	ProductName    string `json:"productName"`
	Package        struct {
		ProductName string `json:"productName"`
	} `json:"package"`
}

type tauriToml struct {
	MainBinaryName string `toml:"main-binary-name"`
	ProductName    string `toml:"product-name"`
}

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
	} `toml:"bin"`
}

type pubspec struct {
	Name string `yaml:"name"`
}

type packageJSON struct {
	Name        string `json:"name"`
	ProductName string `json:"productName"`
	Build       struct {
		ProductName    string `json:"productName"`
		ExecutableName string `json:"executableName"`
	} `json:"build"`
}

// readMetadata loads app names from the framework manifests under root.
// Missing or unparsable manifests become metadata_unavailable attempts.
func readMetadata(d target.Descriptor) projectMetadata {
	var files []string
	switch d.Framework {
	case target.FrameworkTauri:
		files = []string{
			filepath.Join(d.ProjectRoot, "src-tauri", "tauri.conf.json"),
			filepath.Join(d.ProjectRoot, "src-tauri", "Tauri.toml"),
			filepath.Join(d.ProjectRoot, "src-tauri", "Cargo.toml"),
		}
	case target.FrameworkFlutter:
		files = []string{filepath.Join(d.ProjectRoot, "pubspec.yaml")}
	case target.FrameworkElectron:
		files = []string{filepath.Join(d.ProjectRoot, "package.json")}
	}

	meta := projectMetadata{Fingerprint: fingerprint(files)}
	if d.AppName != "" {
		meta.Names = []string{d.AppName}
		return meta
	}

	var failures []Attempt
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			failures = append(failures, Attempt{Path: path, Reason: metadataReason(err), Detail: err.Error()})
			continue
		}
		names, err := parseManifest(filepath.Base(path), data)
		if err != nil {
			failures = append(failures, Attempt{Path: path, Reason: ReasonMetadataUnavailable, Detail: err.Error()})
			continue
		}
		meta.Names = appendUnique(meta.Names, names...)
	}

	if len(meta.Names) == 0 {
		meta.Attempts = failures
		if len(meta.Attempts) == 0 {
			meta.Attempts = []Attempt{{Path: d.ProjectRoot, Reason: ReasonMetadataUnavailable, Detail: "no app name in project manifests"}}
		}
		// The project directory name is the last resort.
		meta.Names = []string{filepath.Base(d.ProjectRoot)}
	}
	return meta
}

func metadataReason(err error) Reason {
	if os.IsPermission(err) {
		return ReasonPermissionDenied
	}
	return ReasonMetadataUnavailable
}

func parseManifest(base string, data []byte) ([]string, error) {
	switch base {
	case "tauri.conf.json":
		var conf tauriConf
		if err := json.Unmarshal(data, &conf); err != nil {
			return nil, fmt.Errorf("parse tauri.conf.json: %w", err)
		}
		return nonEmpty(conf.MainBinaryName, conf.ProductName, conf.Package.ProductName), nil
	case "Tauri.toml":
		var conf tauriToml
		if _, err := toml.Decode(string(data), &conf); err != nil {
			return nil, fmt.Errorf("parse Tauri.toml: %w", err)
		}
		return nonEmpty(conf.MainBinaryName, conf.ProductName), nil
	case "Cargo.toml":
		var manifest cargoManifest
		if _, err := toml.Decode(string(data), &manifest); err != nil {
			return nil, fmt.Errorf("parse Cargo.toml: %w", err)
		}
		names := make([]string, 0, len(manifest.Bin)+1)
		for _, bin := range manifest.Bin {
			names = append(names, bin.Name)
		}
		names = append(names, manifest.Package.Name)
		return nonEmpty(names...), nil
	case "pubspec.yaml":
		var spec pubspec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse pubspec.yaml: %w", err)
		}
		return nonEmpty(spec.Name), nil
	case "package.json":
		var pkg packageJSON
		if err := json.Unmarshal(data, &pkg); err != nil {
			return nil, fmt.Errorf("parse package.json: %w", err)
		}
		return nonEmpty(pkg.Build.ExecutableName, pkg.Build.ProductName, pkg.ProductName, pkg.Name), nil
	}
	return nil, fmt.Errorf("unsupported manifest %s", base)
}

// fingerprint hashes manifest contents so cache entries go stale when the
// project is renamed.
func fingerprint(files []string) string {
	h := sha256.New()
	for _, f := range files {
		data, _ := os.ReadFile(f)
		h.Write([]byte(f))
		h.Write(data)
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = appendUnique(out, v)
		}
	}
	return out
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, existing := range list {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}
