// Package local provides the os-level disk backend. Paths are resolved
// under a fixed root directory; symlinks are never followed.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
	"github.com/mwantia/afs/log"
)

type LocalBackend struct {
	root   string
	logger *log.Logger
}

type Option func(*LocalBackend)

func WithLogger(logger *log.Logger) Option {
	return func(lb *LocalBackend) {
		lb.logger = logger
	}
}

// NewLocalBackend creates a backend rooted at the given directory.
func NewLocalBackend(root string, opts ...Option) *LocalBackend {
	lb := &LocalBackend{
		root:   filepath.Clean(root),
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(lb)
	}

	return lb
}

func (lb *LocalBackend) resolve(rel string) string {
	if rel == "" {
		return lb.root
	}

	return filepath.Join(lb.root, filepath.FromSlash(rel))
}

// Kind returns the backend-kind tag used for cross-backend path ordering.
func (*LocalBackend) Kind() string {
	return "local"
}

func (lb *LocalBackend) CompareSameKind(other afs.Filesystem) int {
	if o, ok := other.(*LocalBackend); ok {
		return strings.Compare(lb.root, o.root)
	}

	return 0
}

func (lb *LocalBackend) DisplayPath(rel string) string {
	return lb.resolve(rel)
}

// EqualItemName folds case on Windows, where the filesystem does.
func (*LocalBackend) EqualItemName(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}

	return a == b
}

func (lb *LocalBackend) GetItemType(ctx context.Context, rel string) (data.ItemType, error) {
	info, err := os.Lstat(lb.resolve(rel))
	if err != nil {
		return 0, lb.mapError(rel, err)
	}

	return itemTypeOf(info.Mode()), nil
}

func (lb *LocalBackend) CreateFolderPlain(ctx context.Context, rel string) error {
	if err := os.Mkdir(lb.resolve(rel), 0o755); err != nil {
		return lb.mapError(rel, err)
	}

	return nil
}

func (lb *LocalBackend) RemoveFilePlain(ctx context.Context, rel string) error {
	if err := os.Remove(lb.resolve(rel)); err != nil {
		return lb.mapError(rel, err)
	}

	return nil
}

func (lb *LocalBackend) RemoveSymlinkPlain(ctx context.Context, rel string) error {
	if err := os.Remove(lb.resolve(rel)); err != nil {
		return lb.mapError(rel, err)
	}

	return nil
}

func (lb *LocalBackend) RemoveFolderPlain(ctx context.Context, rel string) error {
	if err := os.Remove(lb.resolve(rel)); err != nil {
		// The error code for a filled directory differs per platform.
		if entries, readErr := os.ReadDir(lb.resolve(rel)); readErr == nil && len(entries) > 0 {
			return fmt.Errorf("%s: %w", lb.DisplayPath(rel), data.ErrFolderNotEmpty)
		}

		return lb.mapError(rel, err)
	}

	return nil
}

func (lb *LocalBackend) SetModTime(ctx context.Context, rel string, modTime time.Time) error {
	if err := os.Chtimes(lb.resolve(rel), modTime, modTime); err != nil {
		return lb.mapError(rel, err)
	}

	return nil
}

func (lb *LocalBackend) MoveAndRenameItem(ctx context.Context, relSource, relTarget string) error {
	if err := os.Rename(lb.resolve(relSource), lb.resolve(relTarget)); err != nil {
		return lb.mapError(relSource, err)
	}

	return nil
}

func (lb *LocalBackend) CopyFileSameKind(ctx context.Context, relSource string, attrs data.StreamAttributes,
	target afs.Path, copyPermissions bool, notify afs.IOProgress) (*data.FileCopyResult, error) {

	result, err := afs.CopyFileAsStream(ctx, afs.Path{Fsys: lb, Rel: relSource}, attrs, target, notify)
	if err != nil {
		return nil, err
	}

	if copyPermissions {
		info, err := os.Lstat(lb.resolve(relSource))
		if err != nil {
			return nil, lb.mapError(relSource, err)
		}

		tb, ok := target.Fsys.(*LocalBackend)
		if !ok {
			return nil, fmt.Errorf("%s: %w", target.Display(), data.ErrNotSupported)
		}
		if err := os.Chmod(tb.resolve(target.Rel), info.Mode().Perm()); err != nil {
			return nil, tb.mapError(target.Rel, err)
		}
	}

	return result, nil
}

func (lb *LocalBackend) TraverseFolderRecursive(ctx context.Context, workload []afs.TraversalTask, parallelOps int) error {
	return afs.TraverseWithLister(ctx, workload, parallelOps, lb.listFolder)
}

func (lb *LocalBackend) listFolder(ctx context.Context, rel string) (*afs.FolderEntries, error) {
	dirEntries, err := os.ReadDir(lb.resolve(rel))
	if err != nil {
		return nil, lb.mapError(rel, err)
	}

	entries := &afs.FolderEntries{}
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			lb.logger.Debug("failed to stat %s: %v", filepath.Join(lb.resolve(rel), de.Name()), err)
			entries.ItemErrors = append(entries.ItemErrors, afs.ItemError{ItemName: de.Name(), Err: err})
			continue
		}

		switch itemTypeOf(info.Mode()) {
		case data.ItemTypeFolder:
			entries.Folders = append(entries.Folders, data.FolderInfo{ItemName: de.Name()})
		case data.ItemTypeSymlink:
			entries.Symlinks = append(entries.Symlinks, data.SymlinkInfo{ItemName: de.Name(), ModTime: info.ModTime()})
		default:
			entries.Files = append(entries.Files, data.FileInfo{
				ItemName: de.Name(),
				Size:     info.Size(),
				ModTime:  info.ModTime(),
			})
		}
	}

	return entries, nil
}

func (lb *LocalBackend) mapError(rel string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%s: %w", lb.DisplayPath(rel), data.ErrNotExist)
	case os.IsExist(err):
		return fmt.Errorf("%s: %w", lb.DisplayPath(rel), data.ErrExist)
	default:
		return fmt.Errorf("%s: %w", lb.DisplayPath(rel), err)
	}
}

func itemTypeOf(mode fs.FileMode) data.ItemType {
	switch {
	case mode&fs.ModeSymlink != 0:
		return data.ItemTypeSymlink
	case mode.IsDir():
		return data.ItemTypeFolder
	default:
		return data.ItemTypeFile
	}
}
