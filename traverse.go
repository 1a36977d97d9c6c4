package afs

import (
	"context"
	"errors"

	"github.com/mwantia/afs/data"
)

// ErrStopTraversal halts a folder walk cleanly when returned from a visitor
// callback. Backends treat it as a successful early termination, not a
// failure; it is how a search terminates once a match is found.
var ErrStopTraversal = errors.New("afs: stop traversal")

// TraversalWorkItem anchors one visitor at a path relative to a shared base.
type TraversalWorkItem struct {
	RelComponents []string
	Visitor       TraversalVisitor
}

// TraverseFolderRecursive fans multiple independent traversal requests out
// to the backend's native recursive primitive. parallelOps suggests how many
// concurrent directory listings the backend may issue; this layer composes
// workloads and never retries itself.
func TraverseFolderRecursive(ctx context.Context, base Path, workload []TraversalWorkItem, parallelOps int) error {
	tasks := make([]TraversalTask, 0, len(workload))
	for _, item := range workload {
		tasks = append(tasks, TraversalTask{
			Rel:     data.JoinRelPath(base.Rel, item.RelComponents...),
			Visitor: item.Visitor,
		})
	}

	return base.Fsys.TraverseFolderRecursive(ctx, tasks, parallelOps)
}

// TraverseFolderFlat visits only the immediate children of p. Backend errors
// abort the walk instead of being retried: flat traversal serves one-shot
// queries, not resilient large-scale walks. Any callback may be nil.
func TraverseFolderFlat(ctx context.Context, p Path,
	onFile func(fi data.FileInfo) error,
	onFolder func(fi data.FolderInfo) error,
	onSymlink func(si data.SymlinkInfo) error) error {

	visitor := &flatVisitor{onFile: onFile, onFolder: onFolder, onSymlink: onSymlink}

	return p.Fsys.TraverseFolderRecursive(ctx, []TraversalTask{{Rel: p.Rel, Visitor: visitor}}, 1)
}

// flatVisitor adapts plain callbacks into a visitor that declines to descend
// into any folder and converts backend errors into failures.
type flatVisitor struct {
	onFile    func(fi data.FileInfo) error
	onFolder  func(fi data.FolderInfo) error
	onSymlink func(si data.SymlinkInfo) error
}

func (v *flatVisitor) OnFile(fi data.FileInfo) error {
	if v.onFile == nil {
		return nil
	}
	return v.onFile(fi)
}

func (v *flatVisitor) OnFolder(fi data.FolderInfo) (TraversalVisitor, error) {
	if v.onFolder == nil {
		return nil, nil
	}
	return nil, v.onFolder(fi)
}

func (v *flatVisitor) OnSymlink(si data.SymlinkInfo) error {
	if v.onSymlink == nil {
		return nil
	}
	return v.onSymlink(si)
}

func (v *flatVisitor) OnDirError(err error, retryNumber int) (HandleError, error) {
	return HandleIgnore, err
}

func (v *flatVisitor) OnItemError(err error, retryNumber int, itemName string) (HandleError, error) {
	return HandleIgnore, err
}
