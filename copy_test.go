package afs_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/mwantia/afs"
	"github.com/mwantia/afs/backend/local"
	"github.com/mwantia/afs/backend/memory"
	"github.com/mwantia/afs/data"
)

func sourceAttrs(t *testing.T, fsys afs.Filesystem, rel string) data.StreamAttributes {
	t.Helper()

	in, err := fsys.NewInputStream(context.Background(), rel, nil)
	if err != nil {
		t.Fatalf("NewInputStream(%q) failed: %v", rel, err)
	}
	defer in.Close()

	attrs, err := in.Attributes()
	if err != nil {
		t.Fatalf("Attributes(%q) failed: %v", rel, err)
	}
	if attrs == nil {
		t.Fatalf("Expected refreshable attributes for %q", rel)
	}

	return *attrs
}

// TestCopyFileTransactional_Success verifies the happy path: content arrives
// at the target, the modification time is carried over and no staging file
// is left behind.
func TestCopyFileTransactional_Success(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")

	createTestFolders(t, mem, "src", "dst")
	writeTestFile(t, mem, "src/report.txt", "quarterly numbers")

	modTime := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	if err := mem.SetModTime(ctx, "src/report.txt", modTime); err != nil {
		t.Fatalf("SetModTime failed: %v", err)
	}

	source := afs.Path{Fsys: mem, Rel: "src/report.txt"}
	target := afs.Path{Fsys: mem, Rel: "dst/report.txt"}

	result, err := afs.CopyFileTransactional(ctx, source, sourceAttrs(t, mem, source.Rel),
		target, false, true, nil, nil)
	if err != nil {
		t.Fatalf("CopyFileTransactional failed: %v", err)
	}

	if result.Size != int64(len("quarterly numbers")) {
		t.Errorf("Expected size %d, got %d", len("quarterly numbers"), result.Size)
	}
	if result.ErrModTime != nil {
		t.Errorf("Expected no modification time error, got: %v", result.ErrModTime)
	}
	if !result.ModTime.Equal(modTime) {
		t.Errorf("Expected modification time %v, got %v", modTime, result.ModTime)
	}
	if result.TargetFileID == "" {
		t.Error("Expected a target file id")
	}

	if got := readTestFile(t, mem, target.Rel); got != "quarterly numbers" {
		t.Errorf("Expected target content %q, got %q", "quarterly numbers", got)
	}

	// The target folder must hold exactly the final file, no staging remnant.
	var names []string
	err = afs.TraverseFolderFlat(ctx, afs.Path{Fsys: mem, Rel: "dst"},
		func(fi data.FileInfo) error { names = append(names, fi.ItemName); return nil }, nil, nil)
	if err != nil {
		t.Fatalf("TraverseFolderFlat failed: %v", err)
	}
	if !equalStrings(names, []string{"report.txt"}) {
		t.Errorf("Expected only the final file in the target folder, got %v", names)
	}
}

// renameRecorder captures the staging-to-target rename. With failRename set
// it rejects the rename instead, simulating a move that cannot complete.
type renameRecorder struct {
	*memory.MemoryBackend
	renamedFrom []string
	failRename  error
}

func (rr *renameRecorder) MoveAndRenameItem(ctx context.Context, relSource, relTarget string) error {
	rr.renamedFrom = append(rr.renamedFrom, relSource)
	if rr.failRename != nil {
		return rr.failRename
	}

	return rr.MemoryBackend.MoveAndRenameItem(ctx, relSource, relTarget)
}

// TestCopyFileTransactional_StagingName verifies the staging file naming:
// the target's stem, a dot, eight hex digits and the reserved suffix, as a
// sibling of the target.
func TestCopyFileTransactional_StagingName(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")

	createTestFolders(t, mem, "dst")
	writeTestFile(t, mem, "report.txt", "content")

	rr := &renameRecorder{MemoryBackend: mem}
	target := afs.Path{Fsys: rr, Rel: "dst/report.txt"}

	_, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: rr, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), target, false, true, nil, nil)
	if err != nil {
		t.Fatalf("CopyFileTransactional failed: %v", err)
	}

	if len(rr.renamedFrom) != 1 {
		t.Fatalf("Expected exactly one rename, got %v", rr.renamedFrom)
	}

	pattern := regexp.MustCompile(`^dst/report\.[0-9a-f]{8}\.ffs_tmp$`)
	if !pattern.MatchString(rr.renamedFrom[0]) {
		t.Errorf("Staging path %q does not match %q", rr.renamedFrom[0], pattern)
	}
}

// TestCopyFileTransactional_RenameFailure verifies that a failing final
// rename surfaces as an error and removes the staged data, leaving the
// target folder untouched.
func TestCopyFileTransactional_RenameFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")

	createTestFolders(t, mem, "dst")
	writeTestFile(t, mem, "report.txt", "content")

	boom := errors.New("rename rejected")
	rr := &renameRecorder{MemoryBackend: mem, failRename: boom}

	_, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: rr, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: rr, Rel: "dst/report.txt"},
		false, true, nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the rename error, got: %v", err)
	}

	var names []string
	err = afs.TraverseFolderFlat(ctx, afs.Path{Fsys: mem, Rel: "dst"},
		func(fi data.FileInfo) error { names = append(names, fi.ItemName); return nil }, nil, nil)
	if err != nil {
		t.Fatalf("TraverseFolderFlat failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("Expected the target folder to be empty after the failed rename, got %v", names)
	}
}

// TestCopyFileTransactional_DeviceRootTarget verifies that a device root can
// never be a transactional copy target: there is no parent to stage in.
func TestCopyFileTransactional_DeviceRootTarget(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")
	writeTestFile(t, mem, "report.txt", "content")

	_, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: mem, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: mem, Rel: ""},
		false, true, nil, nil)
	if err == nil {
		t.Fatal("Expected copying onto a device root to fail")
	}
}

// TestCopyFileTransactional_NotifyCancellation verifies that an error from
// the progress callback aborts the copy and propagates unchanged.
func TestCopyFileTransactional_NotifyCancellation(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")

	createTestFolders(t, mem, "dst")
	writeTestFile(t, mem, "report.txt", "content")

	canceled := errors.New("operation canceled by user")
	notify := func(bytesDelta int64) error { return canceled }

	_, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: mem, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: mem, Rel: "dst/report.txt"},
		false, true, nil, notify)
	if err != canceled {
		t.Fatalf("Expected the exact cancellation error, got: %v", err)
	}

	mustNotExist(t, afs.Path{Fsys: mem, Rel: "dst/report.txt"})
}

// TestCopyFileAsStream_ByteTally verifies that the progress deltas of both
// streams add up to exactly twice the file size.
func TestCopyFileAsStream_ByteTally(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")
	loc := local.NewLocalBackend(t.TempDir())

	content := "stream me across backend kinds"
	writeTestFile(t, mem, "report.txt", content)

	var total int64
	notify := func(bytesDelta int64) error {
		total += bytesDelta
		return nil
	}

	result, err := afs.CopyFileAsStream(ctx, afs.Path{Fsys: mem, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: loc, Rel: "report.txt"}, notify)
	if err != nil {
		t.Fatalf("CopyFileAsStream failed: %v", err)
	}

	if total != 2*int64(len(content)) {
		t.Errorf("Expected %d notified bytes, got %d", 2*len(content), total)
	}
	if got := readTestFile(t, loc, "report.txt"); got != content {
		t.Errorf("Expected target content %q, got %q", content, got)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), result.Size)
	}
}

// noModTimeBackend rejects every modification-time update, like protocols
// that only support server-assigned timestamps.
type noModTimeBackend struct {
	*memory.MemoryBackend
}

func (nb *noModTimeBackend) SetModTime(ctx context.Context, rel string, modTime time.Time) error {
	return data.ErrNotSupported
}

// TestCopyFile_ModTimeDegradation verifies that a failing timestamp update
// degrades the result instead of failing the copy.
func TestCopyFile_ModTimeDegradation(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")
	writeTestFile(t, mem, "report.txt", "content")

	nb := &noModTimeBackend{memory.NewMemoryBackend("degraded")}

	result, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: mem, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: nb, Rel: "report.txt"},
		false, false, nil, nil)
	if err != nil {
		t.Fatalf("Expected the copy to succeed despite the timestamp failure: %v", err)
	}

	if !errors.Is(result.ErrModTime, data.ErrNotSupported) {
		t.Errorf("Expected ErrModTime to carry the timestamp failure, got: %v", result.ErrModTime)
	}
	if got := readTestFile(t, nb, "report.txt"); got != "content" {
		t.Errorf("Expected target content %q, got %q", "content", got)
	}
}

// TestCopyFile_PermissionsAcrossKinds verifies that permission copy across
// different backend kinds is rejected up front.
func TestCopyFile_PermissionsAcrossKinds(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")
	loc := local.NewLocalBackend(t.TempDir())
	writeTestFile(t, mem, "report.txt", "content")

	_, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: mem, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: loc, Rel: "report.txt"},
		true, false, nil, nil)
	if err == nil {
		t.Fatal("Expected permission copy across backend kinds to fail")
	}

	var fileErr *data.FileError
	if !errors.As(err, &fileErr) {
		t.Errorf("Expected a FileError, got %T: %v", err, err)
	}
}

// TestCopyFileTransactional_OverwriteHook verifies the hook ordering in both
// modes: transactionally the data is staged before the hook runs, while the
// plain copy fires the hook before the first byte is written.
func TestCopyFileTransactional_OverwriteHook(t *testing.T) {
	ctx := context.Background()

	t.Run("transactional", func(t *testing.T) {
		mem := memory.NewMemoryBackend("test")
		createTestFolders(t, mem, "dst")
		writeTestFile(t, mem, "report.txt", "new content")
		writeTestFile(t, mem, "dst/report.txt", "old content")

		var events []string
		notify := func(bytesDelta int64) error {
			if len(events) == 0 {
				events = append(events, "write")
			}
			return nil
		}
		hook := func() error {
			events = append(events, "hook")
			return nil
		}

		_, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: mem, Rel: "report.txt"},
			sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: mem, Rel: "dst/report.txt"},
			false, true, hook, notify)
		if err != nil {
			t.Fatalf("CopyFileTransactional failed: %v", err)
		}

		if !equalStrings(events, []string{"write", "hook"}) {
			t.Errorf("Expected the data staged before the hook, got %v", events)
		}
		if got := readTestFile(t, mem, "dst/report.txt"); got != "new content" {
			t.Errorf("Expected the target overwritten, got %q", got)
		}
	})

	t.Run("plain", func(t *testing.T) {
		mem := memory.NewMemoryBackend("test")
		createTestFolders(t, mem, "dst")
		writeTestFile(t, mem, "report.txt", "new content")

		var events []string
		notify := func(bytesDelta int64) error {
			if len(events) == 0 || events[len(events)-1] != "write" {
				events = append(events, "write")
			}
			return nil
		}
		hook := func() error {
			events = append(events, "hook")
			return nil
		}

		_, err := afs.CopyFileTransactional(ctx, afs.Path{Fsys: mem, Rel: "report.txt"},
			sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: mem, Rel: "dst/report.txt"},
			false, false, hook, notify)
		if err != nil {
			t.Fatalf("CopyFileTransactional failed: %v", err)
		}

		if len(events) == 0 || events[0] != "hook" {
			t.Errorf("Expected the hook before any write, got %v", events)
		}
	})
}

// truncatingBackend under-reports its reads so the byte tally cannot match.
type truncatingBackend struct {
	*memory.MemoryBackend
}

func (tb *truncatingBackend) NewInputStream(ctx context.Context, rel string, notify afs.IOProgress) (afs.InputStream, error) {
	// Swallow the first notification, shearing the tally.
	first := true
	wrapped := func(bytesDelta int64) error {
		if first {
			first = false
			return nil
		}
		if notify != nil {
			return notify(bytesDelta)
		}
		return nil
	}

	return tb.MemoryBackend.NewInputStream(ctx, rel, wrapped)
}

// TestCopyFileAsStream_TallyMismatch verifies that a transfer whose byte
// tally does not reach twice the file size fails hard.
func TestCopyFileAsStream_TallyMismatch(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryBackend("test")
	writeTestFile(t, mem, "report.txt", "content")

	tb := &truncatingBackend{mem}

	_, err := afs.CopyFileAsStream(ctx, afs.Path{Fsys: tb, Rel: "report.txt"},
		sourceAttrs(t, mem, "report.txt"), afs.Path{Fsys: memory.NewMemoryBackend("dst"), Rel: "report.txt"}, nil)
	if err == nil {
		t.Fatal("Expected the mismatched byte tally to fail the copy")
	}

	var fileErr *data.FileError
	if !errors.As(err, &fileErr) {
		t.Errorf("Expected a FileError, got %T: %v", err, err)
	}
}
