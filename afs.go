// Package afs unifies heterogeneous storage backends behind one polymorphic
// path and operation model, so synchronization logic can probe, copy, create
// and delete items without knowing which backend it is talking to.
package afs

import (
	"strings"

	"github.com/mwantia/afs/data"
)

// Path addresses one item as a (backend, backend-relative path) pair.
// Paths are short-lived value objects, created per call and never mutated.
type Path struct {
	Fsys Filesystem
	Rel  string
}

// NewPath validates rel and binds it to fsys.
func NewPath(fsys Filesystem, rel string) (Path, error) {
	if !data.IsValidRelPath(rel) {
		return Path{}, data.NewFileError(
			"Invalid relative path "+strings.Trim(rel, " ")+".",
			"Relative paths must not contain a leading, trailing or doubled separator.")
	}

	return Path{Fsys: fsys, Rel: rel}, nil
}

// Display renders the path as a human-readable absolute location.
func (p Path) Display() string {
	return p.Fsys.DisplayPath(p.Rel)
}

// ItemName returns the last path component, or the empty string at a
// device root.
func (p Path) ItemName() string {
	return data.ItemName(p.Rel)
}

// ComparePaths is a strict total order over paths: backend kind first, then
// the per-kind device-root comparison, then the lexicographic relative path.
// Order across kinds is guaranteed stable only within one process run.
func ComparePaths(lhs, rhs Path) int {
	if c := strings.Compare(lhs.Fsys.Kind(), rhs.Fsys.Kind()); c != 0 {
		return c
	}

	if c := lhs.Fsys.CompareSameKind(rhs.Fsys); c != 0 {
		return c
	}

	return strings.Compare(lhs.Rel, rhs.Rel)
}

// EqualPaths reports whether both paths address the same item.
func EqualPaths(lhs, rhs Path) bool {
	return ComparePaths(lhs, rhs) == 0
}

// ParentPath returns the path one level up.
// The second return value is false when p denotes a device root.
func ParentPath(p Path) (Path, bool) {
	parentRel, ok := data.ParentRelPath(p.Rel)
	if !ok {
		return Path{}, false
	}

	return Path{Fsys: p.Fsys, Rel: parentRel}, true
}

// AppendRelPath returns p extended by the given components.
func AppendRelPath(p Path, names ...string) Path {
	return Path{Fsys: p.Fsys, Rel: data.JoinRelPath(p.Rel, names...)}
}
