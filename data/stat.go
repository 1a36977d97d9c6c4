package data

import "time"

// FileID is a backend-opaque identity token for a stored file. Backends that
// cannot provide stable ids return the empty string; callers must treat any
// value as comparable only within one backend instance.
type FileID string

// StreamAttributes carries the file attributes relevant for a copy.
// Attributes sourced from a protocol that cannot refresh them cheaply
// may be stale.
type StreamAttributes struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	FileID  FileID    `json:"file_id"`
}

// FileCopyResult reports the outcome of a completed file copy.
// ErrModTime is populated instead of failing the copy: a file copied with
// drifted metadata is a degraded success, not corruption.
type FileCopyResult struct {
	Size         int64
	ModTime      time.Time
	SourceFileID FileID
	TargetFileID FileID
	ErrModTime   error
}

// FileInfo describes a regular file reported during traversal.
type FileInfo struct {
	ItemName string
	Size     int64
	ModTime  time.Time
	FileID   FileID
}

// FolderInfo describes a folder reported during traversal.
type FolderInfo struct {
	ItemName string
}

// SymlinkInfo describes a symbolic link reported during traversal.
type SymlinkInfo struct {
	ItemName string
	ModTime  time.Time
}

// PathStatus is the backend-relative answer to "what exists along this path".
// MissingComponents is empty exactly when the queried path itself exists;
// otherwise ExistingRel is the deepest confirmed ancestor and appending
// MissingComponents in order reconstructs the queried path.
type PathStatus struct {
	ExistingType      ItemType
	ExistingRel       string
	MissingComponents []string
}
