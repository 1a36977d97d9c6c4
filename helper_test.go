package afs_test

import (
	"context"
	"io"
	"testing"

	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
)

// writeTestFile creates a file with the given content through the regular
// stream API and returns its backend file id.
func writeTestFile(t *testing.T, fsys afs.Filesystem, rel, content string) data.FileID {
	t.Helper()
	ctx := context.Background()

	out, err := fsys.NewOutputStream(ctx, rel, int64(len(content)), nil)
	if err != nil {
		t.Fatalf("NewOutputStream(%q) failed: %v", rel, err)
	}
	defer out.Close()

	if _, err := out.Write([]byte(content)); err != nil {
		t.Fatalf("Write(%q) failed: %v", rel, err)
	}

	fileID, err := out.Finalize()
	if err != nil {
		t.Fatalf("Finalize(%q) failed: %v", rel, err)
	}

	return fileID
}

// createTestFolders creates each folder in order; parents must come first.
func createTestFolders(t *testing.T, fsys afs.Filesystem, rels ...string) {
	t.Helper()
	ctx := context.Background()

	for _, rel := range rels {
		if err := fsys.CreateFolderPlain(ctx, rel); err != nil {
			t.Fatalf("CreateFolderPlain(%q) failed: %v", rel, err)
		}
	}
}

// readTestFile reads a file's full content through the regular stream API.
func readTestFile(t *testing.T, fsys afs.Filesystem, rel string) string {
	t.Helper()
	ctx := context.Background()

	in, err := fsys.NewInputStream(ctx, rel, nil)
	if err != nil {
		t.Fatalf("NewInputStream(%q) failed: %v", rel, err)
	}
	defer in.Close()

	var content []byte
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		content = append(content, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read(%q) failed: %v", rel, err)
		}
	}

	return string(content)
}

// mustNotExist fails the test when the item still resolves.
func mustNotExist(t *testing.T, p afs.Path) {
	t.Helper()

	_, exists, err := afs.GetItemTypeIfExists(context.Background(), p)
	if err != nil {
		t.Fatalf("GetItemTypeIfExists(%s) failed: %v", p.Display(), err)
	}
	if exists {
		t.Fatalf("Expected %s to be gone, but it still exists", p.Display())
	}
}
