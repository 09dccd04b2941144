package ipc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideBoundary marks a path that resolved outside its expected root.
	ErrOutsideBoundary = errors.New("path escapes boundary")
	// ErrNotRegularFile marks entries that are not plain files (symlinks included).
	ErrNotRegularFile = errors.New("not a regular file")
)

// canonical resolves p to an absolute, symlink-free path. Any failure
// (including a nonexistent path) is an error: a path we cannot canonicalize
// is a path we cannot trust.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// withinBoundary reports whether candidate, fully canonicalized, equals base
// or is a descendant of it. Canonicalization failure means false.
func withinBoundary(base, candidate string) bool {
	cb, err := canonical(base)
	if err != nil {
		return false
	}
	cp, err := canonical(candidate)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(cb, cp)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// resolveWithin canonicalizes candidate and verifies it stays under base.
func resolveWithin(base, candidate string) (string, error) {
	cp, err := canonical(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", candidate, err)
	}
	if !withinBoundary(base, cp) {
		return "", fmt.Errorf("%q under %q: %w", candidate, base, ErrOutsideBoundary)
	}
	return cp, nil
}

// requireRegularFile checks, without following symlinks, that p is a plain
// file. A symlink pointing at an in-bounds file still fails here: the entry
// itself must be genuine.
func requireRegularFile(p string) error {
	fi, err := os.Lstat(p)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", p, ErrNotRegularFile)
	}
	return nil
}

// requireDir checks, without following symlinks, that p is a real directory.
func requireDir(p string) error {
	fi, err := os.Lstat(p)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: not a directory", p)
	}
	return nil
}
