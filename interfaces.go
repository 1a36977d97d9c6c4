package afs

import (
	"context"
	"io"
	"time"

	"github.com/mwantia/afs/data"
)

// IOProgress is invoked with the number of bytes transferred since the
// previous call. Returning a non-nil error aborts the in-flight operation;
// the error is propagated to the caller unchanged, never wrapped, so a
// caller-defined cancellation signal survives every layer.
type IOProgress func(bytesDelta int64) error

// InputStream is a read stream opened on a backend file.
// Close is guaranteed to be called on every exit path.
type InputStream interface {
	io.ReadCloser

	// Attributes returns the most current file attributes when the backend
	// can refresh them cheaply, or nil when only the attributes known at
	// open time are available.
	Attributes() (*data.StreamAttributes, error)
}

// OutputStream is a write stream opened on a backend file.
//
// Finalize completes the write and returns the backend file id of the
// created item. Closing a stream that was never finalized releases its
// resources and removes the partially written target best-effort, so a
// failed copy leaves no half-written file behind.
type OutputStream interface {
	io.WriteCloser

	Finalize() (data.FileID, error)
}

// HandleError is a visitor's verdict on a reported traversal failure.
type HandleError int

const (
	HandleIgnore HandleError = iota // skip the failed directory or item
	HandleRetry                     // ask the backend to retry
)

// TraversalVisitor receives the items of a folder walk.
//
// OnFolder returns the visitor used for that subtree, or nil to prune it.
// The error handlers observe the backend's retry count and either direct the
// retry policy or abort the traversal by returning a non-nil error.
// Returning ErrStopTraversal from any callback halts the walk cleanly.
type TraversalVisitor interface {
	OnFile(fi data.FileInfo) error
	OnFolder(fi data.FolderInfo) (TraversalVisitor, error)
	OnSymlink(si data.SymlinkInfo) error

	OnDirError(err error, retryNumber int) (HandleError, error)
	OnItemError(err error, retryNumber int, itemName string) (HandleError, error)
}

// TraversalTask anchors one visitor at a backend-relative folder path.
type TraversalTask struct {
	Rel     string
	Visitor TraversalVisitor
}

// Filesystem is the contract every concrete storage backend satisfies.
// Instances are long-lived and shared across concurrent operations; all
// methods must tolerate concurrent independent calls.
//
// Paths handed to a Filesystem are backend-relative and already validated
// (see data.IsValidRelPath); the empty string denotes the device root.
type Filesystem interface {
	// Kind is the backend-kind tag, compared first when ordering paths.
	// Kinds are process-local identifiers, never persisted.
	Kind() string

	// CompareSameKind orders two backend instances of the same kind by
	// their device roots. Only called with a Filesystem of equal Kind.
	CompareSameKind(other Filesystem) int

	// DisplayPath renders rel as a human-readable absolute location.
	DisplayPath(rel string) string

	// EqualItemName applies the backend's name-equality policy,
	// e.g. case folding on case-insensitive filesystems.
	EqualItemName(a, b string) bool

	// GetItemType resolves rel to its item type or fails when the item
	// does not exist. Error codes for "missing" are not reliable across
	// backends; use GetPathStatus for a definitive answer.
	GetItemType(ctx context.Context, rel string) (data.ItemType, error)

	// CreateFolderPlain creates a single folder whose parent must exist.
	CreateFolderPlain(ctx context.Context, rel string) error

	RemoveFilePlain(ctx context.Context, rel string) error
	RemoveFolderPlain(ctx context.Context, rel string) error
	RemoveSymlinkPlain(ctx context.Context, rel string) error

	// SetModTime sets the modification time of an existing item.
	SetModTime(ctx context.Context, rel string, modTime time.Time) error

	NewInputStream(ctx context.Context, rel string, notify IOProgress) (InputStream, error)

	// NewOutputStream opens a write stream, truncating an existing target.
	// expectedSize is a hint; pass a negative value when unknown.
	NewOutputStream(ctx context.Context, rel string, expectedSize int64, notify IOProgress) (OutputStream, error)

	// CopyFileSameKind copies a file to a target on a backend of the same
	// kind, using whatever native primitive the backend has (server-side
	// copy, permission copy). Only called when source and target kinds match.
	CopyFileSameKind(ctx context.Context, relSource string, attrs data.StreamAttributes,
		target Path, copyPermissions bool, notify IOProgress) (*data.FileCopyResult, error)

	// MoveAndRenameItem atomically moves an item within this backend,
	// replacing an existing target.
	MoveAndRenameItem(ctx context.Context, relSource, relTarget string) error

	// TraverseFolderRecursive walks every workload anchor with its visitor.
	// parallelOps is a hint for how many concurrent listings the backend
	// may issue; retry policy per directory/item lives here, driven by the
	// visitor's error handlers.
	TraverseFolderRecursive(ctx context.Context, workload []TraversalTask, parallelOps int) error
}

// PathStatusResolver is an optional Filesystem upgrade for backends with a
// native, cheaper way to answer GetPathStatus. Backends without it are
// served by the generic traversal-based resolver.
type PathStatusResolver interface {
	GetPathStatus(ctx context.Context, rel string) (data.PathStatus, error)
}
