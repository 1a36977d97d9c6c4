package sqlite

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
)

func (sb *SQLiteBackend) NewInputStream(ctx context.Context, rel string, notify afs.IOProgress) (afs.InputStream, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	itemType, ok := sb.keys.Get(rel)
	if !ok {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
	}
	if itemType != data.ItemTypeFile {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrIsFolder)
	}

	var content []byte
	var modTimeNanos int64
	var fileID string
	err := sb.db.QueryRowContext(ctx,
		`SELECT content, mod_time, COALESCE(file_id, '') FROM afs_items WHERE rel = ?`, rel).
		Scan(&content, &modTimeNanos, &fileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	return &inputStream{
		reader: bytes.NewReader(content),
		notify: notify,
		attrs: data.StreamAttributes{
			Size:    int64(len(content)),
			ModTime: time.Unix(0, modTimeNanos),
			FileID:  data.FileID(fileID),
		},
	}, nil
}

func (sb *SQLiteBackend) NewOutputStream(ctx context.Context, rel string, expectedSize int64, notify afs.IOProgress) (afs.OutputStream, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if itemType, exists := sb.keys.Get(rel); exists && itemType != data.ItemTypeFile {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrIsFolder)
	}
	if err := sb.requireParentFolder(rel); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if expectedSize > 0 {
		buf.Grow(int(expectedSize))
	}

	return &outputStream{backend: sb, ctx: ctx, rel: rel, buf: buf, notify: notify}, nil
}

// CopyFileSameKind runs entirely inside the database when source and target
// share this instance; otherwise it falls back to the generic stream copy.
func (sb *SQLiteBackend) CopyFileSameKind(ctx context.Context, relSource string, attrs data.StreamAttributes,
	target afs.Path, copyPermissions bool, notify afs.IOProgress) (*data.FileCopyResult, error) {

	tb, ok := target.Fsys.(*SQLiteBackend)
	if !ok || tb != sb {
		return afs.CopyFileAsStream(ctx, afs.Path{Fsys: sb, Rel: relSource}, attrs, target, notify)
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	itemType, exists := sb.keys.Get(relSource)
	if !exists {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(relSource), data.ErrNotExist)
	}
	if itemType != data.ItemTypeFile {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(relSource), data.ErrIsFolder)
	}
	if err := sb.requireParentFolder(target.Rel); err != nil {
		return nil, err
	}

	var size, modTimeNanos int64
	var sourceID string
	err := sb.db.QueryRowContext(ctx,
		`SELECT size, mod_time, COALESCE(file_id, '') FROM afs_items WHERE rel = ?`, relSource).
		Scan(&size, &modTimeNanos, &sourceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(relSource), err)
	}

	targetID := newFileID()
	_, err = sb.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO afs_items (rel, item_type, size, mod_time, file_id, content)
		 SELECT ?, item_type, size, mod_time, ?, content FROM afs_items WHERE rel = ?`,
		target.Rel, string(targetID), relSource)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target.Display(), err)
	}
	sb.keys.Set(target.Rel, data.ItemTypeFile)

	if notify != nil {
		if err := notify(2 * size); err != nil {
			return nil, err
		}
	}

	return &data.FileCopyResult{
		Size:         size,
		ModTime:      time.Unix(0, modTimeNanos),
		SourceFileID: data.FileID(sourceID),
		TargetFileID: targetID,
	}, nil
}

type inputStream struct {
	reader *bytes.Reader
	notify afs.IOProgress
	attrs  data.StreamAttributes
	closed bool
}

func (s *inputStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, data.ErrClosed
	}

	n, err := s.reader.Read(p)
	if n > 0 && s.notify != nil {
		if nerr := s.notify(int64(n)); nerr != nil {
			return n, nerr
		}
	}

	return n, err
}

func (s *inputStream) Attributes() (*data.StreamAttributes, error) {
	attrs := s.attrs
	return &attrs, nil
}

func (s *inputStream) Close() error {
	s.closed = true
	return nil
}

// outputStream buffers in memory and writes one row on Finalize, so an
// abandoned stream leaves no partial item in the database.
type outputStream struct {
	backend   *SQLiteBackend
	ctx       context.Context
	rel       string
	buf       *bytes.Buffer
	notify    afs.IOProgress
	finalized bool
	closed    bool
}

func (s *outputStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, data.ErrClosed
	}

	n, err := s.buf.Write(p)
	if n > 0 && s.notify != nil {
		if nerr := s.notify(int64(n)); nerr != nil {
			return n, nerr
		}
	}

	return n, err
}

func (s *outputStream) Finalize() (data.FileID, error) {
	if s.closed {
		return "", data.ErrClosed
	}

	fileID := newFileID()
	content := s.buf.Bytes()

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	_, err := s.backend.db.ExecContext(s.ctx,
		`INSERT OR REPLACE INTO afs_items (rel, item_type, size, mod_time, file_id, content)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.rel, data.ItemTypeFile, len(content), time.Now().UnixNano(), string(fileID), content)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.backend.DisplayPath(s.rel), err)
	}

	s.backend.keys.Set(s.rel, data.ItemTypeFile)
	s.finalized = true
	return fileID, nil
}

// Close without Finalize discards the buffered bytes; no row was written.
func (s *outputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if !s.finalized {
		s.buf = &bytes.Buffer{}
	}
	return nil
}
