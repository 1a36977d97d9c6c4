package afs_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/afs"
	"github.com/mwantia/afs/backend/memory"
	"github.com/mwantia/afs/data"
)

// collectingVisitor records every visited item, descending into all folders.
type collectingVisitor struct {
	mu       sync.Mutex
	files    []string
	folders  []string
	symlinks []string
}

func (v *collectingVisitor) OnFile(fi data.FileInfo) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files = append(v.files, fi.ItemName)
	return nil
}

func (v *collectingVisitor) OnFolder(fi data.FolderInfo) (afs.TraversalVisitor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.folders = append(v.folders, fi.ItemName)
	return v, nil
}

func (v *collectingVisitor) OnSymlink(si data.SymlinkInfo) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.symlinks = append(v.symlinks, si.ItemName)
	return nil
}

func (v *collectingVisitor) OnDirError(err error, retryNumber int) (afs.HandleError, error) {
	return afs.HandleIgnore, err
}

func (v *collectingVisitor) OnItemError(err error, retryNumber int, itemName string) (afs.HandleError, error) {
	return afs.HandleIgnore, err
}

func (v *collectingVisitor) sortedFiles() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	files := append([]string(nil), v.files...)
	sort.Strings(files)
	return files
}

func newTestTree(t *testing.T) *memory.MemoryBackend {
	t.Helper()
	mem := memory.NewMemoryBackend("test")

	createTestFolders(t, mem, "a", "a/sub", "b")
	writeTestFile(t, mem, "root.txt", "r")
	writeTestFile(t, mem, "a/one.txt", "1")
	writeTestFile(t, mem, "a/sub/two.txt", "2")
	writeTestFile(t, mem, "b/three.txt", "3")

	return mem
}

// TestTraverseFolderRecursive_FullWalk verifies that a recursive walk visits
// every item of the tree.
func TestTraverseFolderRecursive_FullWalk(t *testing.T) {
	ctx := context.Background()
	mem := newTestTree(t)

	visitor := &collectingVisitor{}
	err := afs.TraverseFolderRecursive(ctx, afs.Path{Fsys: mem, Rel: ""},
		[]afs.TraversalWorkItem{{Visitor: visitor}}, 1)
	if err != nil {
		t.Fatalf("TraverseFolderRecursive failed: %v", err)
	}

	expectedFiles := []string{"one.txt", "root.txt", "three.txt", "two.txt"}
	if got := visitor.sortedFiles(); !equalStrings(got, expectedFiles) {
		t.Errorf("Expected files %v, got %v", expectedFiles, got)
	}

	expectedFolders := []string{"a", "b", "sub"}
	sort.Strings(visitor.folders)
	if !equalStrings(visitor.folders, expectedFolders) {
		t.Errorf("Expected folders %v, got %v", expectedFolders, visitor.folders)
	}
}

// pruningVisitor descends into nothing.
type pruningVisitor struct {
	collectingVisitor
}

func (v *pruningVisitor) OnFolder(fi data.FolderInfo) (afs.TraversalVisitor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.folders = append(v.folders, fi.ItemName)
	return nil, nil
}

// TestTraverseFolderRecursive_Prune verifies that a nil sub-visitor skips
// the folder's subtree.
func TestTraverseFolderRecursive_Prune(t *testing.T) {
	ctx := context.Background()
	mem := newTestTree(t)

	visitor := &pruningVisitor{}
	err := afs.TraverseFolderRecursive(ctx, afs.Path{Fsys: mem, Rel: ""},
		[]afs.TraversalWorkItem{{Visitor: visitor}}, 1)
	if err != nil {
		t.Fatalf("TraverseFolderRecursive failed: %v", err)
	}

	if got := visitor.sortedFiles(); !equalStrings(got, []string{"root.txt"}) {
		t.Errorf("Expected only the root file, got %v", got)
	}
}

// stoppingVisitor halts the walk at the first file.
type stoppingVisitor struct {
	collectingVisitor
}

func (v *stoppingVisitor) OnFile(fi data.FileInfo) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files = append(v.files, fi.ItemName)
	return afs.ErrStopTraversal
}

// TestTraverseFolderRecursive_Stop verifies that ErrStopTraversal halts the
// walk without surfacing as a failure.
func TestTraverseFolderRecursive_Stop(t *testing.T) {
	ctx := context.Background()
	mem := newTestTree(t)

	visitor := &stoppingVisitor{}
	err := afs.TraverseFolderRecursive(ctx, afs.Path{Fsys: mem, Rel: ""},
		[]afs.TraversalWorkItem{{Visitor: visitor}}, 1)
	if err != nil {
		t.Fatalf("Expected a clean stop, got: %v", err)
	}

	if len(visitor.files) != 1 {
		t.Errorf("Expected the walk to stop after one file, got %v", visitor.files)
	}
}

// TestTraverseFolderRecursive_VisitorError verifies that a visitor failure
// aborts the walk and reaches the caller.
func TestTraverseFolderRecursive_VisitorError(t *testing.T) {
	ctx := context.Background()
	mem := newTestTree(t)

	boom := errors.New("visitor failure")
	visitor := &flatCallbackError{err: boom}

	err := afs.TraverseFolderRecursive(ctx, afs.Path{Fsys: mem, Rel: ""},
		[]afs.TraversalWorkItem{{Visitor: visitor}}, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the visitor error, got: %v", err)
	}
}

type flatCallbackError struct {
	collectingVisitor
	err error
}

func (v *flatCallbackError) OnFile(fi data.FileInfo) error {
	return v.err
}

// TestTraverseFolderRecursive_ParallelTasks verifies that independent
// workload anchors can run concurrently and still visit everything.
func TestTraverseFolderRecursive_ParallelTasks(t *testing.T) {
	ctx := context.Background()
	mem := newTestTree(t)

	visitor := &collectingVisitor{}
	workload := []afs.TraversalWorkItem{
		{RelComponents: []string{"a"}, Visitor: visitor},
		{RelComponents: []string{"b"}, Visitor: visitor},
	}

	err := afs.TraverseFolderRecursive(ctx, afs.Path{Fsys: mem, Rel: ""}, workload, 4)
	if err != nil {
		t.Fatalf("TraverseFolderRecursive failed: %v", err)
	}

	expected := []string{"one.txt", "three.txt", "two.txt"}
	if got := visitor.sortedFiles(); !equalStrings(got, expected) {
		t.Errorf("Expected files %v, got %v", expected, got)
	}
}

// blockedVisitor holds its task open until released, then lingers long
// enough for a sibling failure to cancel the shared walk.
type blockedVisitor struct {
	collectingVisitor
	started chan struct{}
	release chan struct{}
}

func (v *blockedVisitor) OnFile(fi data.FileInfo) error {
	close(v.started)
	<-v.release
	time.Sleep(50 * time.Millisecond)
	return nil
}

// failAfterVisitor fails once the blocked sibling is known to be mid-walk.
type failAfterVisitor struct {
	collectingVisitor
	started chan struct{}
	release chan struct{}
	err     error
}

func (v *failAfterVisitor) OnFile(fi data.FileInfo) error {
	<-v.started
	close(v.release)
	return v.err
}

// TestTraverseFolderRecursive_ParallelFailureCause verifies that when one
// parallel task fails, the cancellation of its siblings does not drown out
// the diagnostic cause.
func TestTraverseFolderRecursive_ParallelFailureCause(t *testing.T) {
	ctx := context.Background()
	mem := newTestTree(t)

	boom := errors.New("task failure")
	started := make(chan struct{})
	release := make(chan struct{})

	workload := []afs.TraversalWorkItem{
		{RelComponents: []string{"a"}, Visitor: &blockedVisitor{started: started, release: release}},
		{RelComponents: []string{"b"}, Visitor: &failAfterVisitor{started: started, release: release, err: boom}},
	}

	err := afs.TraverseFolderRecursive(ctx, afs.Path{Fsys: mem, Rel: ""}, workload, 4)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the failing task's error, got: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Errorf("Expected the sibling cancellation to be filtered out, got: %v", err)
	}
}

// TestTraverseFolderFlat verifies that the flat walk reports immediate
// children only, and that missing callbacks are tolerated.
func TestTraverseFolderFlat(t *testing.T) {
	ctx := context.Background()
	mem := newTestTree(t)

	var files, folders []string
	err := afs.TraverseFolderFlat(ctx, afs.Path{Fsys: mem, Rel: ""},
		func(fi data.FileInfo) error { files = append(files, fi.ItemName); return nil },
		func(fi data.FolderInfo) error { folders = append(folders, fi.ItemName); return nil },
		nil)
	if err != nil {
		t.Fatalf("TraverseFolderFlat failed: %v", err)
	}

	if !equalStrings(files, []string{"root.txt"}) {
		t.Errorf("Expected immediate files [root.txt], got %v", files)
	}

	sort.Strings(folders)
	if !equalStrings(folders, []string{"a", "b"}) {
		t.Errorf("Expected immediate folders [a b], got %v", folders)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
