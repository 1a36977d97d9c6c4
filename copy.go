package afs

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/mwantia/afs/data"
)

// TempFileEnding is the suffix of staging files written during a
// transactional copy. It must not collide with real user file extensions.
const TempFileEnding = ".ffs_tmp"

const copyBufferSize = 128 * 1024

// CopyFileTransactional copies one file from source to target.
//
// Source and target on backends of the same kind use the backend's native
// copy primitive; everything else falls back to a generic stream copy
// (which cannot carry permissions across backend kinds).
//
// With transactionalCopy set, the data is first written to a staging sibling
// of the target and then moved over it atomically; the staging file is
// removed best-effort on every non-success exit. Without it, the copy goes
// straight to the target, which some backends require (staging extensions
// rejected, renames expensive) and which allows true delete-before-copy
// under low free space.
//
// onBeforeOverwrite, when non-nil, runs after the data is safely staged
// (or, non-transactionally, before any write) so the caller can pre-delete
// or otherwise prepare the real target. An existing target is overwritten.
//
// Failing to set the target's modification time does not fail the copy;
// the error lands in FileCopyResult.ErrModTime. An error returned by notify
// aborts the copy and propagates unchanged.
func CopyFileTransactional(ctx context.Context, source Path, attrs data.StreamAttributes,
	target Path, copyPermissions, transactionalCopy bool,
	onBeforeOverwrite func() error, notify IOProgress) (result *data.FileCopyResult, retErr error) {

	copyPlain := func(tgt Path) (*data.FileCopyResult, error) {
		if source.Fsys.Kind() == tgt.Fsys.Kind() {
			return source.Fsys.CopyFileSameKind(ctx, source.Rel, attrs, tgt, copyPermissions, notify)
		}

		if copyPermissions {
			return nil, data.NewFileError(
				fmt.Sprintf("Cannot write permissions of %s.", tgt.Display()),
				"Operation not supported for different backend kinds.")
		}

		return CopyFileAsStream(ctx, source, attrs, tgt, notify)
	}

	if !transactionalCopy {
		if onBeforeOverwrite != nil {
			if err := onBeforeOverwrite(); err != nil {
				return nil, err
			}
		}

		return copyPlain(target)
	}

	parent, ok := ParentPath(target)
	if !ok {
		return nil, data.NewFileError(
			fmt.Sprintf("Cannot write file %s.", target.Display()),
			"Path is a device root.")
	}

	staging := AppendRelPath(parent, stagingFileName(target.ItemName()))

	// The plain copy cleans up its own partial target; from here on the
	// finished staging file is ours to remove on any failure.
	result, err := copyPlain(staging)
	if err != nil {
		return nil, err
	}

	defer func() {
		if retErr != nil {
			_ = staging.Fsys.RemoveFilePlain(ctx, staging.Rel)
		}
	}()

	// Read access on source and staging data are confirmed; let the caller
	// drop the old target now for an almost transactional overwrite.
	if onBeforeOverwrite != nil {
		if err := onBeforeOverwrite(); err != nil {
			return nil, err
		}
	}

	if err := target.Fsys.MoveAndRenameItem(ctx, staging.Rel, target.Rel); err != nil {
		return nil, err
	}

	return result, nil
}

// CopyFileAsStream copies a file through a bounded buffer using a read
// stream on the source and a write stream on the target. The bytes reported
// through the progress callbacks of both streams must add up to exactly
// twice the file size; anything else indicates a truncated or corrupted
// transfer and fails hard.
func CopyFileAsStream(ctx context.Context, source Path, attrs data.StreamAttributes,
	target Path, notify IOProgress) (*data.FileCopyResult, error) {

	var total int64
	divider := func(delta int64) error {
		total += delta
		if notify != nil {
			return notify(delta)
		}
		return nil
	}

	in, err := source.Fsys.NewInputStream(ctx, source.Rel, divider)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	// The source may have changed since it was examined; prefer fresh
	// attributes when the backend can provide them cheaply.
	current := attrs
	if fresh, err := in.Attributes(); err != nil {
		return nil, err
	} else if fresh != nil {
		current = *fresh
	}

	out, err := target.Fsys.NewOutputStream(ctx, target.Rel, current.Size, divider)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(writerOnly{out}, readerOnly{in}, buf); err != nil {
		return nil, err
	}

	targetID, err := out.Finalize()
	if err != nil {
		return nil, err
	}

	if total != 2*current.Size {
		return nil, data.NewFileError(
			fmt.Sprintf("Cannot read file %s.", source.Display()),
			fmt.Sprintf("Unexpected size of data stream. Expected: %d bytes Actual: %d bytes", 2*current.Size, total))
	}

	var errModTime error
	if err := target.Fsys.SetModTime(ctx, target.Rel, current.ModTime); err != nil {
		errModTime = err
	}

	return &data.FileCopyResult{
		Size:         current.Size,
		ModTime:      current.ModTime,
		SourceFileID: current.FileID,
		TargetFileID: targetID,
		ErrModTime:   errModTime,
	}, nil
}

// stagingFileName derives a collision-resistant sibling name: the target's
// stem, a short random token and the reserved staging suffix. No retry loop;
// a clash with a remnant staging file is astronomically unlikely and a loop
// invites pathological cases.
func stagingFileName(itemName string) string {
	stem := itemName
	if idx := strings.LastIndexByte(itemName, '.'); idx >= 0 {
		stem = itemName[:idx]
	}

	token := crc32.ChecksumIEEE([]byte(uuid.NewString()))

	return fmt.Sprintf("%s.%08x%s", stem, token, TempFileEnding)
}

// writerOnly and readerOnly hide ReadFrom/WriteTo so io.CopyBuffer actually
// moves the data through the bounded buffer.
type writerOnly struct{ io.Writer }
type readerOnly struct{ io.Reader }
