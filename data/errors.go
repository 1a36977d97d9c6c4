package data

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors that backend implementations should wrap so callers can
// categorize failures without inspecting backend-specific codes.
var (
	ErrNotExist       = errors.New("afs: item does not exist")
	ErrExist          = errors.New("afs: item already exists")
	ErrNotFolder      = errors.New("afs: not a folder")
	ErrIsFolder       = errors.New("afs: is a folder")
	ErrFolderNotEmpty = errors.New("afs: folder not empty")
	ErrNotSupported   = errors.New("afs: operation not supported")
	ErrClosed         = errors.New("afs: stream already closed")
)

// FileError is the one error category that crosses the orchestration
// boundary: a human-readable summary, optional detail and the wrapped cause.
type FileError struct {
	Summary string
	Detail  string
	Err     error
}

func NewFileError(summary, detail string) *FileError {
	return &FileError{Summary: summary, Detail: detail}
}

// WrapFileError attaches a summary to a backend failure.
func WrapFileError(err error, summary string) *FileError {
	return &FileError{Summary: summary, Err: err}
}

func (e *FileError) Error() string {
	msg := e.Summary
	if e.Detail != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// FileLockedError signals that the source file is held open by another
// process. Callers may defer and retry later instead of failing the item.
type FileLockedError struct {
	FileError
}

func NewFileLockedError(summary, detail string) *FileLockedError {
	return &FileLockedError{FileError{Summary: summary, Detail: detail}}
}

// CombineErrors merges two failures when it is unclear which one is more
// diagnostic, e.g. a removal error followed by a failing existence re-probe.
func CombineErrors(first, second error) error {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}

	return &FileError{
		Summary: first.Error(),
		Detail:  second.Error(),
	}
}

// Errors collects failures from independent sub-operations.
type Errors struct {
	mu     sync.RWMutex
	errors []error
}

func (e *Errors) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = append(e.errors, err)
}

func (e *Errors) Errors() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.errors) == 0 {
		return nil
	}

	return errors.Join(e.errors...)
}
