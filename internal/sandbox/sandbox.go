// Package sandbox constrains tool-visible paths to a trusted root
// directory using purely lexical reasoning. It never consults the
// filesystem, so a symlink inside the root that points outside it is
// not caught here; the guarantee is containment of the normalized
// path text only.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ViolationError reports a requested path that normalizes outside the
// sandbox root. It is returned before any I/O happens.
type ViolationError struct {
	Root      string
	Requested string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("path %s escapes workspace root %s", e.Requested, e.Root)
}

// Root is an absolute, immutable base directory. All resolved paths
// are equal to or nested under it.
type Root struct {
	path string
}

// NewRoot absolutizes dir and returns it as a trusted root. An empty
// dir means the current working directory.
func NewRoot(dir string) (Root, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolve sandbox root: %w", err)
	}
	return Root{path: abs}, nil
}

// Path returns the absolute root directory.
func (r Root) Path() string {
	return r.path
}

// Resolve joins requested onto the root (absolute requests are taken
// as-is), normalizes it component by component, and returns the
// absolute result. A ".." component pops the last accumulated
// segment, "." is dropped, and any other name (including "...")
// is kept verbatim. The result must stay at or under the root.
func (r Root) Resolve(requested string) (string, error) {
	target := requested
	if target == "" {
		target = r.path
	} else if !filepath.IsAbs(target) {
		target = filepath.Join(r.path, target)
	}

	sep := string(os.PathSeparator)
	var out []string
	for _, part := range strings.Split(filepath.ToSlash(target), "/") {
		switch part {
		case "", ".":
			// repeated separators and current-dir markers collapse
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	resolved := sep + filepath.Join(out...)

	// A root of "/" contains every resolved path; the prefix check
	// below would compare against "//" and reject all of them.
	if r.path == sep {
		return resolved, nil
	}
	if resolved != r.path && !strings.HasPrefix(resolved, r.path+sep) {
		return "", &ViolationError{Root: r.path, Requested: requested}
	}
	return resolved, nil
}

// Rel rewrites an absolute path relative to the root for display.
func (r Root) Rel(path string) string {
	rel, err := filepath.Rel(r.path, path)
	if err != nil {
		return path
	}
	return rel
}
