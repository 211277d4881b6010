package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotDirectory is returned by ResolveDir for paths that exist but are not directories.
var ErrNotDirectory = errors.New("not a directory")

// ResolveDir returns the absolute, symlink-free form of path and checks that
// it names an existing directory.
func ResolveDir(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", resolved, ErrNotDirectory)
	}

	return resolved, nil
}

// ResolveFile returns the absolute form of a file path whose parent directory
// is resolved like ResolveDir. The file itself need not exist.
func ResolveFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		// The rotator creates missing log directories later.
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}

	return filepath.Join(dir, filepath.Base(abs)), nil
}

// ValidatePathWithinBase returns nil when path lies within base (or equals it).
// Relative paths are interpreted relative to base.
func ValidatePathWithinBase(base, path string) error {
	if base == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Clean(path)
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(cleanBase, fullPath)
	}

	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		cleanBase != string(filepath.Separator) {
		return fmt.Errorf("path %s is outside base directory %s", path, base)
	}

	return nil
}

// SecureJoin joins path elements onto base and fails if the result escapes base.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if err := ValidatePathWithinBase(cleanBase, fullPath); err != nil {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
