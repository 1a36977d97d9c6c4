package afs

import (
	"context"

	"github.com/mwantia/afs/data"
)

// PathStatus describes the deepest existing ancestor of a queried path.
// MissingComponents is empty exactly when the queried path itself exists;
// otherwise appending MissingComponents to ExistingPath reconstructs it.
type PathStatus struct {
	ExistingType      data.ItemType
	ExistingPath      Path
	MissingComponents []string
}

// GetPathStatus determines what, if anything, exists along p and which
// trailing components are missing. Backends implementing PathStatusResolver
// answer natively; everything else is served by the traversal-based
// resolver below.
func GetPathStatus(ctx context.Context, p Path) (PathStatus, error) {
	if resolver, ok := p.Fsys.(PathStatusResolver); ok {
		ps, err := resolver.GetPathStatus(ctx, p.Rel)
		if err != nil {
			return PathStatus{}, err
		}

		return PathStatus{
			ExistingType:      ps.ExistingType,
			ExistingPath:      Path{Fsys: p.Fsys, Rel: ps.ExistingRel},
			MissingComponents: ps.MissingComponents,
		}, nil
	}

	return getPathStatusViaTraversal(ctx, p.Fsys, p.Rel)
}

// GetItemTypeIfExists converts "path not found" into a normal negative
// result. Non-existence is only reported after the resolver confirmed it;
// probe failures propagate as errors.
func GetItemTypeIfExists(ctx context.Context, p Path) (data.ItemType, bool, error) {
	ps, err := GetPathStatus(ctx, p)
	if err != nil {
		return 0, false, err
	}

	if len(ps.MissingComponents) == 0 {
		return ps.ExistingType, true, nil
	}

	return 0, false, nil
}

// getPathStatusViaTraversal first attempts a direct type query, then digs
// through the ancestors. Error codes for a missing item are not reliable
// across backends, so a failed query against an existing parent is verified
// with one flat listing searched via the backend's name-equality policy.
// An item observed by that listing is reported as existing even if another
// process created it after the direct query failed.
func getPathStatusViaTraversal(ctx context.Context, fsys Filesystem, rel string) (PathStatus, error) {
	parentRel, hasParent := data.ParentRelPath(rel)

	itemType, err := fsys.GetItemType(ctx, rel)
	if err == nil {
		return PathStatus{ExistingType: itemType, ExistingPath: Path{Fsys: fsys, Rel: rel}}, nil
	}
	if !hasParent {
		// Device root: no deeper ancestor to fall back to.
		return PathStatus{}, err
	}

	itemName := data.ItemName(rel)

	ps, err := getPathStatusViaTraversal(ctx, fsys, parentRel)
	if err != nil {
		return PathStatus{}, err
	}

	if len(ps.MissingComponents) == 0 && ps.ExistingType != data.ItemTypeFile {
		var foundType data.ItemType
		found := false

		match := func(name string, t data.ItemType) error {
			if fsys.EqualItemName(name, itemName) {
				foundType = t
				found = true
				return ErrStopTraversal
			}
			return nil
		}

		err := TraverseFolderFlat(ctx, Path{Fsys: fsys, Rel: parentRel},
			func(fi data.FileInfo) error { return match(fi.ItemName, data.ItemTypeFile) },
			func(fi data.FolderInfo) error { return match(fi.ItemName, data.ItemTypeFolder) },
			func(si data.SymlinkInfo) error { return match(si.ItemName, data.ItemTypeSymlink) })
		if err != nil {
			return PathStatus{}, err
		}

		if found {
			return PathStatus{ExistingType: foundType, ExistingPath: Path{Fsys: fsys, Rel: rel}}, nil
		}
	}

	ps.MissingComponents = append(ps.MissingComponents, itemName)
	return ps, nil
}
