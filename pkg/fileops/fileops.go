// Package fileops writes recipe files into the project tree.
package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrOutsideRoot is returned for paths that would land outside the project.
var ErrOutsideRoot = errors.New("path escapes project root")

// Resolve joins a recipe-relative path onto root.
func Resolve(root, path string) (string, error) {
	clean := filepath.FromSlash(path)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.Join(root, clean), nil
}

// WriteFile writes content to path under root, creating parent directories.
func WriteFile(root, path, content string) error {
	dst, err := Resolve(root, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ShadowPaths returns where a theme file lives in node_modules and where
// its shadow copy goes in the project.
func ShadowPaths(theme, path string) (src, dst string) {
	return filepath.Join("node_modules", theme, "src", path), filepath.Join("src", theme, path)
}

// ShadowFile copies a theme's source file into the project so it overrides
// the theme's copy.
func ShadowFile(root, theme, path string) error {
	if theme == "" || path == "" {
		return fmt.Errorf("shadow file: theme and path are required")
	}
	src, dst := ShadowPaths(theme, path)
	data, err := readUnder(root, src)
	if err != nil {
		return fmt.Errorf("shadow %s from %s: %w", path, theme, err)
	}
	return WriteFile(root, filepath.ToSlash(dst), string(data))
}

func readUnder(root, path string) ([]byte, error) {
	full, err := Resolve(root, filepath.ToSlash(path))
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}
