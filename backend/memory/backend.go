// Package memory provides a thread-safe in-memory backend. All items live
// in an ordered path index and are lost when the backend is released; it is
// the reference implementation used by the conformance tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
	"github.com/tidwall/btree"
)

type entry struct {
	itemType   data.ItemType
	content    []byte
	modTime    time.Time
	fileID     data.FileID
	linkTarget string
}

// MemoryBackend stores a whole tree in an ordered B-tree keyed by relative
// path, which makes prefix listing and subtree renames cheap and gives
// traversal a deterministic order.
type MemoryBackend struct {
	mu    sync.RWMutex
	root  string
	items *btree.Map[string, *entry]
}

// NewMemoryBackend creates an empty in-memory tree. The root name is the
// device-root identity; two instances order by it.
func NewMemoryBackend(root string) *MemoryBackend {
	mb := &MemoryBackend{
		root:  root,
		items: btree.NewMap[string, *entry](0),
	}
	mb.items.Set("", &entry{itemType: data.ItemTypeFolder, modTime: time.Now()})

	return mb
}

// Kind returns the backend-kind tag used for cross-backend path ordering.
func (*MemoryBackend) Kind() string {
	return "memory"
}

func (mb *MemoryBackend) CompareSameKind(other afs.Filesystem) int {
	if o, ok := other.(*MemoryBackend); ok {
		return strings.Compare(mb.root, o.root)
	}

	return 0
}

func (mb *MemoryBackend) DisplayPath(rel string) string {
	if rel == "" {
		return fmt.Sprintf("memory://%s", mb.root)
	}

	return fmt.Sprintf("memory://%s/%s", mb.root, rel)
}

// EqualItemName is case-sensitive; the in-memory tree behaves like a POSIX
// filesystem.
func (*MemoryBackend) EqualItemName(a, b string) bool {
	return a == b
}

func (mb *MemoryBackend) GetItemType(ctx context.Context, rel string) (data.ItemType, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, ok := mb.items.Get(rel)
	if !ok {
		return 0, fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrNotExist)
	}

	return e.itemType, nil
}

func (mb *MemoryBackend) CreateFolderPlain(ctx context.Context, rel string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, exists := mb.items.Get(rel); exists {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrExist)
	}

	if err := mb.requireParentFolder(rel); err != nil {
		return err
	}

	mb.items.Set(rel, &entry{itemType: data.ItemTypeFolder, modTime: time.Now()})
	return nil
}

// CreateSymlinkPlain plants a symlink for tests and tooling; symlinks are
// never followed by this backend.
func (mb *MemoryBackend) CreateSymlinkPlain(ctx context.Context, rel, target string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, exists := mb.items.Get(rel); exists {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrExist)
	}

	if err := mb.requireParentFolder(rel); err != nil {
		return err
	}

	mb.items.Set(rel, &entry{itemType: data.ItemTypeSymlink, modTime: time.Now(), linkTarget: target})
	return nil
}

func (mb *MemoryBackend) RemoveFilePlain(ctx context.Context, rel string) error {
	return mb.removeTyped(rel, data.ItemTypeFile)
}

func (mb *MemoryBackend) RemoveSymlinkPlain(ctx context.Context, rel string) error {
	return mb.removeTyped(rel, data.ItemTypeSymlink)
}

func (mb *MemoryBackend) RemoveFolderPlain(ctx context.Context, rel string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	e, ok := mb.items.Get(rel)
	if !ok {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrNotExist)
	}
	if e.itemType != data.ItemTypeFolder {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrNotFolder)
	}

	if mb.hasChildren(rel) {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrFolderNotEmpty)
	}

	mb.items.Delete(rel)
	return nil
}

func (mb *MemoryBackend) removeTyped(rel string, want data.ItemType) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	e, ok := mb.items.Get(rel)
	if !ok {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrNotExist)
	}
	if e.itemType != want {
		return fmt.Errorf("%s: expected %s, found %s: %w",
			mb.DisplayPath(rel), want, e.itemType, data.ErrNotSupported)
	}

	mb.items.Delete(rel)
	return nil
}

func (mb *MemoryBackend) SetModTime(ctx context.Context, rel string, modTime time.Time) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	e, ok := mb.items.Get(rel)
	if !ok {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrNotExist)
	}

	e.modTime = modTime
	return nil
}

func (mb *MemoryBackend) MoveAndRenameItem(ctx context.Context, relSource, relTarget string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	e, ok := mb.items.Get(relSource)
	if !ok {
		return fmt.Errorf("%s: %w", mb.DisplayPath(relSource), data.ErrNotExist)
	}

	if err := mb.requireParentFolder(relTarget); err != nil {
		return err
	}

	// Collect the subtree first; rekeying while iterating would skip items.
	type moved struct {
		key string
		e   *entry
	}
	batch := []moved{{relTarget, e}}

	if e.itemType == data.ItemTypeFolder {
		prefix := relSource + string(data.Separator)
		mb.items.Ascend(prefix, func(key string, child *entry) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			batch = append(batch, moved{data.JoinRelPath(relTarget, key[len(prefix):]), child})
			return true
		})
	}

	mb.deleteSubtree(relSource)
	mb.deleteSubtree(relTarget)
	for _, m := range batch {
		mb.items.Set(m.key, m.e)
	}

	return nil
}

func (mb *MemoryBackend) TraverseFolderRecursive(ctx context.Context, workload []afs.TraversalTask, parallelOps int) error {
	return afs.TraverseWithLister(ctx, workload, parallelOps, mb.listFolder)
}

func (mb *MemoryBackend) listFolder(ctx context.Context, rel string) (*afs.FolderEntries, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, ok := mb.items.Get(rel)
	if !ok {
		return nil, fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrNotExist)
	}
	if e.itemType != data.ItemTypeFolder {
		return nil, fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrNotFolder)
	}

	prefix := ""
	if rel != "" {
		prefix = rel + string(data.Separator)
	}

	entries := &afs.FolderEntries{}
	mb.items.Ascend(prefix, func(key string, child *entry) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}

		rest := key[len(prefix):]
		if rest == "" || strings.ContainsRune(rest, data.Separator) {
			return true // the folder itself, or a deeper descendant
		}

		switch child.itemType {
		case data.ItemTypeFile:
			entries.Files = append(entries.Files, data.FileInfo{
				ItemName: rest,
				Size:     int64(len(child.content)),
				ModTime:  child.modTime,
				FileID:   child.fileID,
			})
		case data.ItemTypeFolder:
			entries.Folders = append(entries.Folders, data.FolderInfo{ItemName: rest})
		case data.ItemTypeSymlink:
			entries.Symlinks = append(entries.Symlinks, data.SymlinkInfo{ItemName: rest, ModTime: child.modTime})
		}

		return true
	})

	return entries, nil
}

func (mb *MemoryBackend) requireParentFolder(rel string) error {
	parentRel, ok := data.ParentRelPath(rel)
	if !ok {
		return fmt.Errorf("%s: %w", mb.DisplayPath(rel), data.ErrExist)
	}

	parent, exists := mb.items.Get(parentRel)
	if !exists {
		return fmt.Errorf("%s: %w", mb.DisplayPath(parentRel), data.ErrNotExist)
	}
	if parent.itemType != data.ItemTypeFolder {
		return fmt.Errorf("%s: %w", mb.DisplayPath(parentRel), data.ErrNotFolder)
	}

	return nil
}

func (mb *MemoryBackend) hasChildren(rel string) bool {
	prefix := ""
	if rel != "" {
		prefix = rel + string(data.Separator)
	}

	found := false
	mb.items.Ascend(prefix, func(key string, _ *entry) bool {
		if key == rel {
			return true
		}
		if strings.HasPrefix(key, prefix) {
			found = true
		}
		return false
	})

	return found
}

func (mb *MemoryBackend) deleteSubtree(rel string) {
	var keys []string
	if _, ok := mb.items.Get(rel); ok {
		keys = append(keys, rel)
	}

	prefix := rel + string(data.Separator)
	mb.items.Ascend(prefix, func(key string, _ *entry) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		keys = append(keys, key)
		return true
	})

	for _, key := range keys {
		mb.items.Delete(key)
	}
}

func newFileID() data.FileID {
	return data.FileID(uuid.Must(uuid.NewV7()).String())
}
