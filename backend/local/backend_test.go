package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
)

// TestLocalBackend_ItemTypes verifies the Lstat-based type mapping,
// including symlinks, which are reported as links rather than followed.
func TestLocalBackend_ItemTypes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	lb := NewLocalBackend(root)

	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("content"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "folder"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	itemType, err := lb.GetItemType(ctx, "file.txt")
	if err != nil || itemType != data.ItemTypeFile {
		t.Errorf("Expected file, got (%v, %v)", itemType, err)
	}

	itemType, err = lb.GetItemType(ctx, "folder")
	if err != nil || itemType != data.ItemTypeFolder {
		t.Errorf("Expected folder, got (%v, %v)", itemType, err)
	}

	if _, err := lb.GetItemType(ctx, "missing"); !errors.Is(err, data.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got: %v", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Symlink(filepath.Join(root, "folder"), filepath.Join(root, "link")); err != nil {
			t.Fatalf("Symlink failed: %v", err)
		}

		itemType, err = lb.GetItemType(ctx, "link")
		if err != nil || itemType != data.ItemTypeSymlink {
			t.Errorf("Expected symlink, got (%v, %v)", itemType, err)
		}
	}
}

// TestLocalBackend_AbandonedStreamRemovesPartialFile verifies that closing
// an output stream without Finalize deletes the partially written target.
func TestLocalBackend_AbandonedStreamRemovesPartialFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	lb := NewLocalBackend(root)

	out, err := lb.NewOutputStream(ctx, "partial.txt", 4, nil)
	if err != nil {
		t.Fatalf("NewOutputStream failed: %v", err)
	}
	if _, err := out.Write([]byte("data")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := out.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Lstat(filepath.Join(root, "partial.txt")); !os.IsNotExist(err) {
		t.Errorf("Expected the partial file to be removed, got: %v", err)
	}
}

// TestLocalBackend_RenameReplacesTarget verifies that the rename primitive
// replaces an existing target file atomically.
func TestLocalBackend_RenameReplacesTarget(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	lb := NewLocalBackend(root)

	if err := os.WriteFile(filepath.Join(root, "source.txt"), []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "target.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := lb.MoveAndRenameItem(ctx, "source.txt", "target.txt"); err != nil {
		t.Fatalf("MoveAndRenameItem failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(root, "target.txt"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "new" {
		t.Errorf("Expected %q, got %q", "new", content)
	}
}

// TestLocalBackend_PermissionCopy verifies that the same-kind copy carries
// the source's permission bits when asked to.
func TestLocalBackend_PermissionCopy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}

	ctx := context.Background()
	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	src := NewLocalBackend(srcRoot)
	dst := NewLocalBackend(dstRoot)

	if err := os.WriteFile(filepath.Join(srcRoot, "tool.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	in, err := src.NewInputStream(ctx, "tool.sh", nil)
	if err != nil {
		t.Fatalf("NewInputStream failed: %v", err)
	}
	attrs, err := in.Attributes()
	in.Close()
	if err != nil {
		t.Fatalf("Attributes failed: %v", err)
	}

	_, err = src.CopyFileSameKind(ctx, "tool.sh", *attrs,
		afs.Path{Fsys: dst, Rel: "tool.sh"}, true, nil)
	if err != nil {
		t.Fatalf("CopyFileSameKind failed: %v", err)
	}

	info, err := os.Lstat(filepath.Join(dstRoot, "tool.sh"))
	if err != nil {
		t.Fatalf("Lstat failed: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("Expected mode 0755, got %v", info.Mode().Perm())
	}
}
