package fsx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound reports a path that does not exist under the root.
	ErrNotFound = errors.New("path not found")

	// ErrForbidden reports a path outside the root or under a
	// forbidden prefix.
	ErrForbidden = errors.New("path forbidden")

	// ErrNotAFile reports a path that exists but is not a regular file.
	ErrNotAFile = errors.New("not a regular file")

	// ErrNotADirectory reports a path that exists but is not a directory.
	ErrNotADirectory = errors.New("not a directory")
)

// Resolver validates client-supplied paths against a configured root
// and a set of forbidden prefixes. A Resolver is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	root      string
	forbidden []string
}

// NewResolver builds a Resolver rooted at root. The root must exist;
// it is resolved to an absolute path once so later checks are pure
// string work plus a single stat.
func NewResolver(root string, forbidden []string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cleaned := make([]string, 0, len(forbidden))
	for _, p := range forbidden {
		if p = filepath.Clean(p); p != "" && p != "." {
			cleaned = append(cleaned, p)
		}
	}
	return &Resolver{root: abs, forbidden: cleaned}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string { return r.root }

// Resolve turns a client-supplied path (slash-separated, absolute or
// relative to the root) into a validated absolute path. Traversal out
// of the root and forbidden prefixes are rejected with ErrForbidden,
// first on the joined path and again after symlinks are evaluated, so
// a link inside the root cannot smuggle out a target beyond it.
func (r *Resolver) Resolve(clientPath string) (string, error) {
	p := filepath.FromSlash(strings.TrimSpace(clientPath))
	p = strings.TrimPrefix(p, string(filepath.Separator))
	abs := filepath.Join(r.root, p)

	if !r.contained(abs) {
		return "", fmt.Errorf("%w: %s", ErrForbidden, clientPath)
	}
	real, err := evalExisting(abs)
	if err != nil {
		return "", statErr(err, clientPath)
	}
	if !r.contained(real) {
		return "", fmt.Errorf("%w: %s", ErrForbidden, clientPath)
	}
	return real, nil
}

func (r *Resolver) contained(abs string) bool {
	if abs != r.root && !strings.HasPrefix(abs, r.root+string(filepath.Separator)) {
		return false
	}
	for _, f := range r.forbidden {
		if abs == f || strings.HasPrefix(abs, f+string(filepath.Separator)) {
			return false
		}
	}
	return true
}

// evalExisting resolves symlinks over the longest existing prefix of
// abs and rejoins the missing remainder, so a nonexistent target still
// resolves enough for the containment check.
func evalExisting(abs string) (string, error) {
	suffix := ""
	for p := abs; ; {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(real, suffix), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return abs, nil
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}

// ResolveFile resolves clientPath and requires it to be an existing
// regular file. The returned FileInfo saves the caller a second stat.
func (r *Resolver) ResolveFile(clientPath string) (string, fs.FileInfo, error) {
	abs, err := r.Resolve(clientPath)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, statErr(err, clientPath)
	}
	if !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%w: %s", ErrNotAFile, clientPath)
	}
	return abs, info, nil
}

// ResolveDir resolves clientPath and requires it to be an existing
// directory.
func (r *Resolver) ResolveDir(clientPath string) (string, error) {
	abs, err := r.Resolve(clientPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", statErr(err, clientPath)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotADirectory, clientPath)
	}
	return abs, nil
}

// Rel converts an absolute path back into the client-facing
// slash-separated form rooted at "/".
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

func statErr(err error, clientPath string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, clientPath)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrForbidden, clientPath)
	default:
		return err
	}
}
