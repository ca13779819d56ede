// Package resolve maps request paths to filesystem entries confined to a
// root directory.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Kind classifies the outcome of resolving a request path.
type Kind int

const (
	NotFound Kind = iota
	File
	Directory
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	case Forbidden:
		return "forbidden"
	}
	return "not found"
}

// Target is a resolved request path. Path is always root or a path beneath
// it; Size and ModTime are only set for files.
type Target struct {
	Path    string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// Exists reports whether the target names a servable entry.
func (t Target) Exists() bool {
	return t.Kind == File || t.Kind == Directory
}

// maxLinkDepth bounds how many dangling links withinRoot follows.
const maxLinkDepth = 40

// Resolver resolves request paths against a fixed root directory. It holds
// no mutable state and is safe for concurrent use.
type Resolver struct {
	root      string
	canonical string
}

// New returns a Resolver for root, which must be an existing directory.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("resolve root %q: not a directory", root)
	}
	return &Resolver{root: abs, canonical: canonical}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps a URL-encoded request path to a Target. It never fails:
// malformed or escaping paths come back as Forbidden with Path set to the
// root, so no path outside the root is ever reported.
func (r *Resolver) Resolve(rawPath string) Target {
	segments, ok := cleanSegments(rawPath)
	if !ok {
		return Target{Path: r.root, Kind: Forbidden}
	}
	return r.classify(filepath.Join(append([]string{r.root}, segments...)...))
}

func isSeparator(c rune) bool {
	return c == '/' || c == '\\'
}

// cleanSegments decodes rawPath and folds "." and ".." segments. It fails on
// bad escapes, NUL bytes, segments that are not plain names on this
// platform, and ".." that would climb above the root.
func cleanSegments(rawPath string) ([]string, bool) {
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, false
	}
	if strings.IndexByte(decoded, 0) >= 0 {
		return nil, false
	}
	var segments []string
	for _, seg := range strings.FieldsFunc(decoded, isSeparator) {
		switch seg {
		case ".":
			continue
		case "..":
			if len(segments) == 0 {
				return nil, false
			}
			segments = segments[:len(segments)-1]
			continue
		}
		if !filepath.IsLocal(seg) {
			return nil, false
		}
		segments = append(segments, seg)
	}
	return segments, true
}

func (r *Resolver) classify(path string) Target {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		kind := kindForError(err)
		// A missing entry reached through a link that leaves the root is
		// as forbidden as an existing one.
		if kind == NotFound && !r.withinRoot(path, 0) {
			kind = Forbidden
		}
		return Target{Path: path, Kind: kind}
	}
	if !IsDescendant(r.canonical, canonical) {
		return Target{Path: path, Kind: Forbidden}
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return Target{Path: path, Kind: kindForError(err)}
	}
	switch {
	case info.IsDir():
		return Target{Path: path, Kind: Directory}
	case info.Mode().IsRegular():
		return Target{Path: path, Kind: File, Size: info.Size(), ModTime: info.ModTime()}
	}
	return Target{Path: path, Kind: Forbidden}
}

// withinRoot reports whether the deepest existing ancestor of path, with
// symbolic links followed, lies inside the root. Dangling links are followed
// through their destination.
func (r *Resolver) withinRoot(path string, depth int) bool {
	if depth > maxLinkDepth {
		return false
	}
	for dir := path; ; {
		if canonical, err := filepath.EvalSymlinks(dir); err == nil {
			return IsDescendant(r.canonical, canonical)
		}
		if info, err := os.Lstat(dir); err == nil && info.Mode()&fs.ModeSymlink != 0 {
			dest, err := os.Readlink(dir)
			if err != nil {
				return false
			}
			if !filepath.IsAbs(dest) {
				parent, err := filepath.EvalSymlinks(filepath.Dir(dir))
				if err != nil {
					return false
				}
				dest = filepath.Join(parent, dest)
			}
			return r.withinRoot(dest, depth+1)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

func kindForError(err error) Kind {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return NotFound
	}
	return Forbidden
}

// IsDescendant reports whether path is root or lies beneath it. Both must be
// absolute and clean.
func IsDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return filepath.IsLocal(rel)
}
