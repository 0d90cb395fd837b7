package locator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/odvcencio/appbridge/pkg/target"
)

var zipMagic = []byte("PK\x03\x04")

// verify checks that path is a runnable artifact for platform p. An empty
// reason means the candidate passed.
func verify(p target.Platform, path string) (Reason, string) {
	info, err := os.Stat(path)
	if err != nil {
		return statReason(err), err.Error()
	}
	switch p {
	case target.PlatformWindows:
		if !strings.EqualFold(filepath.Ext(path), ".exe") {
			return ReasonWrongExtension, "expected .exe"
		}
		if info.IsDir() {
			return ReasonIsDirectory, ""
		}
		return "", ""
	case target.PlatformMacOS:
		return verifyAppBundle(path, info)
	case target.PlatformAndroid:
		return verifyAPK(path, info)
	default:
		if info.IsDir() {
			return ReasonIsDirectory, ""
		}
		if !info.Mode().IsRegular() {
			return ReasonNotExecutable, "not a regular file"
		}
		if !hasExecBit(info) {
			return ReasonNotExecutable, fmt.Sprintf("mode %s", info.Mode().Perm())
		}
		return "", ""
	}
}

func verifyAppBundle(path string, info fs.FileInfo) (Reason, string) {
	if filepath.Ext(path) != ".app" {
		return ReasonWrongExtension, "expected .app bundle"
	}
	if !info.IsDir() {
		return ReasonMalformedBundle, "bundle is not a directory"
	}
	if _, err := os.Stat(filepath.Join(path, "Contents", "Info.plist")); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return ReasonPermissionDenied, err.Error()
		}
		return ReasonMalformedBundle, "missing Contents/Info.plist"
	}
	entries, err := os.ReadDir(filepath.Join(path, "Contents", "MacOS"))
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return ReasonPermissionDenied, err.Error()
		}
		return ReasonMalformedBundle, "missing Contents/MacOS"
	}
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if hasExecBit(fi) {
			return "", ""
		}
	}
	return ReasonMalformedBundle, "no executable in Contents/MacOS"
}

func verifyAPK(path string, info fs.FileInfo) (Reason, string) {
	if filepath.Ext(path) != ".apk" {
		return ReasonWrongExtension, "expected .apk"
	}
	if info.IsDir() {
		return ReasonIsDirectory, ""
	}
	f, err := os.Open(path)
	if err != nil {
		return statReason(err), err.Error()
	}
	defer f.Close()
	header := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return ReasonMalformedBundle, "truncated apk"
	}
	if !bytes.Equal(header, zipMagic) {
		return ReasonMalformedBundle, "not a zip archive"
	}
	return "", ""
}

func statReason(err error) Reason {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermissionDenied
	default:
		return ReasonNotFound
	}
}

// hasExecBit is always true on a Windows host, which has no POSIX modes.
func hasExecBit(info fs.FileInfo) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
