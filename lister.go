package afs

import (
	"context"
	"errors"
	"sync"

	"github.com/mwantia/afs/data"
)

// FolderEntries is one folder's fully listed content, as produced by a
// backend's ListFolderFunc. Per-item failures (an entry that could be seen
// but not described) are carried alongside the successful entries.
type FolderEntries struct {
	Files    []data.FileInfo
	Folders  []data.FolderInfo
	Symlinks []data.SymlinkInfo

	ItemErrors []ItemError
}

// ItemError is a failure describing a single directory entry.
type ItemError struct {
	ItemName string
	Err      error
}

// ListFolderFunc lists the immediate children of one backend-relative folder.
type ListFolderFunc func(ctx context.Context, rel string) (*FolderEntries, error)

// TraverseWithLister implements Filesystem.TraverseFolderRecursive on top of
// a per-folder listing primitive. It drives the retry loop for failed
// listings through the visitor's OnDirError verdicts, reports per-item
// failures once through OnItemError, prunes subtrees whose OnFolder returns
// a nil visitor and treats ErrStopTraversal as a clean halt of that task.
//
// Independent workload tasks run concurrently, bounded by parallelOps.
func TraverseWithLister(ctx context.Context, workload []TraversalTask, parallelOps int, list ListFolderFunc) error {
	if parallelOps <= 1 || len(workload) <= 1 {
		for _, task := range workload {
			if err := runTraversalTask(ctx, task, list); err != nil {
				return err
			}
		}

		return nil
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, parallelOps)
	var wg sync.WaitGroup
	var errs data.Errors

	for _, task := range workload {
		wg.Add(1)
		sem <- struct{}{}

		go func(task TraversalTask) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := runTraversalTask(ctx, task, list); err != nil {
				// Siblings halted by the internal cancel only echo it;
				// the diagnostic cause is already recorded.
				if !errors.Is(err, context.Canceled) || parent.Err() != nil {
					errs.Add(err)
				}
				cancel()
			}
		}(task)
	}

	wg.Wait()
	return errs.Errors()
}

func runTraversalTask(ctx context.Context, task TraversalTask, list ListFolderFunc) error {
	err := traverseFolderWithLister(ctx, task.Rel, task.Visitor, list)
	if errors.Is(err, ErrStopTraversal) {
		return nil
	}

	return err
}

func traverseFolderWithLister(ctx context.Context, rel string, visitor TraversalVisitor, list ListFolderFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var entries *FolderEntries
	for retryNumber := 0; ; retryNumber++ {
		var err error
		entries, err = list(ctx, rel)
		if err == nil {
			break
		}

		handle, verdict := visitor.OnDirError(err, retryNumber)
		if verdict != nil {
			return verdict
		}
		if handle == HandleIgnore {
			return nil
		}
	}

	for _, ie := range entries.ItemErrors {
		if _, verdict := visitor.OnItemError(ie.Err, 0, ie.ItemName); verdict != nil {
			return verdict
		}
	}

	for _, fi := range entries.Files {
		if err := visitor.OnFile(fi); err != nil {
			return err
		}
	}

	for _, si := range entries.Symlinks {
		if err := visitor.OnSymlink(si); err != nil {
			return err
		}
	}

	for _, fi := range entries.Folders {
		sub, err := visitor.OnFolder(fi)
		if err != nil {
			return err
		}
		if sub == nil {
			continue
		}

		if err := traverseFolderWithLister(ctx, data.JoinRelPath(rel, fi.ItemName), sub, list); err != nil {
			return err
		}
	}

	return nil
}
