// Package fsutil provides the kernel's filesystem/path helpers (spec
// C10): recursive file discovery, extension filtering, and small
// read/write wrappers. Grounded on streamspace-dev-streamspace's
// discovery.go filepath.Walk scan pattern, generalized to a predicate-
// based find and a policy of never following symlinks across directory
// boundaries.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
)

// FindFiles walks root recursively and returns every regular file
// satisfying predicate. A non-existent root yields an empty list, not an
// error (spec §4.10/§8). Symlinks are never followed.
func FindFiles(root string, predicate func(path string) bool) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return nil // skip unreadable entries, keep walking
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if predicate(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, kerrors.New(kerrors.Kernel, kerrors.KindIO, "fsutil.FindFiles", err, "root", root)
	}
	return out, nil
}

// FindByExtension returns every file under root whose extension matches
// ext case-insensitively (ext may be given with or without a leading
// dot).
func FindByExtension(root, ext string) ([]string, error) {
	want := strings.ToLower(strings.TrimPrefix(ext, "."))
	return FindFiles(root, func(path string) bool {
		got := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		return got == want
	})
}

// CreateDirAll creates dir and any missing parents.
func CreateDirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kerrors.New(kerrors.Kernel, kerrors.KindIO, "fsutil.CreateDirAll", err, "dir", dir)
	}
	return nil
}

// WriteString writes content to path, creating or truncating it.
func WriteString(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return kerrors.New(kerrors.Kernel, kerrors.KindIO, "fsutil.WriteString", err, "path", path)
	}
	return nil
}

// ReadToString reads the entire contents of path as a string.
func ReadToString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", kerrors.New(kerrors.Kernel, kerrors.KindIO, "fsutil.ReadToString", err, "path", path)
	}
	return string(data), nil
}
