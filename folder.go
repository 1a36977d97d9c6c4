package afs

import (
	"context"

	"github.com/mwantia/afs/data"
)

// CreateFolderIfMissingRecursion ensures every folder along p exists. It
// tolerates another process racing to create the same intermediate folders;
// an ancestor existing as a plain file fails hard since it can never become
// a folder.
func CreateFolderIfMissingRecursion(ctx context.Context, p Path) error {
	if _, ok := ParentPath(p); !ok {
		// Device root: nothing to create, probing existence is enough.
		_, err := p.Fsys.GetItemType(ctx, p.Rel)
		return err
	}

	createErr := p.Fsys.CreateFolderPlain(ctx, p.Rel)
	if createErr == nil {
		return nil
	}

	ps, err := GetPathStatus(ctx, p)
	if err != nil {
		return err
	}
	if ps.ExistingType == data.ItemTypeFile {
		return createErr
	}

	// A single missing component may be the same create that just failed:
	// the parent could have appeared from a parallel worker right after.
	intermediate := ps.ExistingPath
	for _, itemName := range ps.MissingComponents {
		intermediate = AppendRelPath(intermediate, itemName)

		if err := p.Fsys.CreateFolderPlain(ctx, intermediate.Rel); err != nil {
			if itemType, probeErr := p.Fsys.GetItemType(ctx, intermediate.Rel); probeErr == nil && itemType != data.ItemTypeFile {
				continue // another process finished first
			}

			return err
		}
	}

	return nil
}

// RemoveFolderIfExistsRecursion removes the folder at p and everything
// beneath it, invoking onBeforeFileDeletion or onBeforeFolderDeletion with
// the display path before each deletion. A symlink standing in the folder's
// place is deleted directly, without recursion. Non-existence is not an
// error: the folder notification still fires once, since the probing I/O
// was already spent. Either callback may be nil; a callback error aborts
// the operation.
func RemoveFolderIfExistsRecursion(ctx context.Context, p Path,
	onBeforeFileDeletion, onBeforeFolderDeletion func(displayPath string) error) error {

	itemType, exists, err := GetItemTypeIfExists(ctx, p)
	if err != nil {
		return err
	}

	if !exists {
		if onBeforeFolderDeletion != nil {
			return onBeforeFolderDeletion(p.Display())
		}
		return nil
	}

	if itemType == data.ItemTypeSymlink {
		if onBeforeFileDeletion != nil {
			if err := onBeforeFileDeletion(p.Display()); err != nil {
				return err
			}
		}

		return p.Fsys.RemoveSymlinkPlain(ctx, p.Rel)
	}

	return removeFolderRecursion(ctx, p, onBeforeFileDeletion, onBeforeFolderDeletion)
}

// removeFolderRecursion materializes a folder's children by name before
// recursing, bounding stack depth to tree depth instead of mixing traversal
// and deletion.
func removeFolderRecursion(ctx context.Context, folder Path,
	onBeforeFileDeletion, onBeforeFolderDeletion func(displayPath string) error) error {

	var fileNames, folderNames, symlinkNames []string

	err := TraverseFolderFlat(ctx, folder,
		func(fi data.FileInfo) error { fileNames = append(fileNames, fi.ItemName); return nil },
		func(fi data.FolderInfo) error { folderNames = append(folderNames, fi.ItemName); return nil },
		func(si data.SymlinkInfo) error { symlinkNames = append(symlinkNames, si.ItemName); return nil })
	if err != nil {
		return err
	}

	for _, itemName := range fileNames {
		filePath := AppendRelPath(folder, itemName)
		if onBeforeFileDeletion != nil {
			if err := onBeforeFileDeletion(filePath.Display()); err != nil {
				return err
			}
		}

		if err := folder.Fsys.RemoveFilePlain(ctx, filePath.Rel); err != nil {
			return err
		}
	}

	for _, itemName := range symlinkNames {
		linkPath := AppendRelPath(folder, itemName)
		if onBeforeFileDeletion != nil {
			if err := onBeforeFileDeletion(linkPath.Display()); err != nil {
				return err
			}
		}

		if err := folder.Fsys.RemoveSymlinkPlain(ctx, linkPath.Rel); err != nil {
			return err
		}
	}

	for _, itemName := range folderNames {
		if err := removeFolderRecursion(ctx, AppendRelPath(folder, itemName),
			onBeforeFileDeletion, onBeforeFolderDeletion); err != nil {
			return err
		}
	}

	if onBeforeFolderDeletion != nil {
		if err := onBeforeFolderDeletion(folder.Display()); err != nil {
			return err
		}
	}

	return folder.Fsys.RemoveFolderPlain(ctx, folder.Rel)
}

// RemoveFileIfExists removes the file at p and reports whether it actually
// deleted something. When the plain removal fails, a re-probe decides: item
// gone means another process beat us and counts as false without error; a
// failing re-probe is combined with the removal error since it is unclear
// which is more diagnostic.
func RemoveFileIfExists(ctx context.Context, p Path) (bool, error) {
	removeErr := p.Fsys.RemoveFilePlain(ctx, p.Rel)
	if removeErr == nil {
		return true, nil
	}

	_, exists, probeErr := GetItemTypeIfExists(ctx, p)
	if probeErr != nil {
		return false, data.CombineErrors(removeErr, probeErr)
	}
	if !exists {
		return false, nil
	}

	return false, removeErr
}

// RemoveSymlinkIfExists removes the symlink at p following the same
// pattern as RemoveFileIfExists.
func RemoveSymlinkIfExists(ctx context.Context, p Path) (bool, error) {
	removeErr := p.Fsys.RemoveSymlinkPlain(ctx, p.Rel)
	if removeErr == nil {
		return true, nil
	}

	_, exists, probeErr := GetItemTypeIfExists(ctx, p)
	if probeErr != nil {
		return false, data.CombineErrors(removeErr, probeErr)
	}
	if !exists {
		return false, nil
	}

	return false, removeErr
}

// RemoveEmptyFolderIfExists removes the empty folder at p; a folder that is
// already gone is a no-op.
func RemoveEmptyFolderIfExists(ctx context.Context, p Path) error {
	removeErr := p.Fsys.RemoveFolderPlain(ctx, p.Rel)
	if removeErr == nil {
		return nil
	}

	_, exists, probeErr := GetItemTypeIfExists(ctx, p)
	if probeErr != nil {
		return data.CombineErrors(removeErr, probeErr)
	}
	if !exists {
		return nil
	}

	return removeErr
}
