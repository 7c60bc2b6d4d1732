// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil keeps per-download paths inside the documents directory.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafeName is returned for names that are not a single path element.
var ErrUnsafeName = errors.New("fsutil: unsafe name")

// ValidName accepts exactly one path element: no separators, no backslashes,
// and neither "." nor "..".
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	case name != filepath.Base(name):
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}

// Child returns root/name after checking that name is a single element and
// that the result, with symlinks resolved, still lies under root. The child
// does not need to exist.
func Child(root, name string) (string, error) {
	if err := ValidName(name); err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("fsutil: root %s: %w", root, err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("fsutil: resolve root: %w", err)
		}
		realRoot = absRoot
	}

	target := filepath.Join(realRoot, name)
	info, err := os.Lstat(target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return target, nil
	case err != nil:
		return "", fmt.Errorf("fsutil: stat %s: %w", target, err)
	case info.Mode()&os.ModeSymlink == 0:
		return target, nil
	}

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("fsutil: resolve %s: %w", target, err)
	}
	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrUnsafeName, name, realRoot)
	}
	return target, nil
}
