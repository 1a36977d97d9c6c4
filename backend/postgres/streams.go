package postgres

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
)

func (pb *PostgresBackend) NewInputStream(ctx context.Context, rel string, notify afs.IOProgress) (afs.InputStream, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	itemType, ok := pb.keys.Get(rel)
	if !ok {
		return nil, fmt.Errorf("%s: %w", pb.DisplayPath(rel), data.ErrNotExist)
	}
	if itemType != data.ItemTypeFile {
		return nil, fmt.Errorf("%s: %w", pb.DisplayPath(rel), data.ErrIsFolder)
	}

	var content []byte
	var modTimeNanos int64
	var fileID string
	err := pb.pool.QueryRow(ctx,
		`SELECT COALESCE(content, ''::bytea), mod_time, COALESCE(file_id, '') FROM afs_items WHERE rel = $1`, rel).
		Scan(&content, &modTimeNanos, &fileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pb.DisplayPath(rel), err)
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

func (pb *PostgresBackend) NewOutputStream(ctx context.Context, rel string, expectedSize int64, notify afs.IOProgress) (afs.OutputStream, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if itemType, exists := pb.keys.Get(rel); exists && itemType != data.ItemTypeFile {
		return nil, fmt.Errorf("%s: %w", pb.DisplayPath(rel), data.ErrIsFolder)
	}
	if err := pb.requireParentFolder(rel); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if expectedSize > 0 {
		buf.Grow(int(expectedSize))
	}

	return &outputStream{backend: pb, ctx: ctx, rel: rel, buf: buf, notify: notify}, nil
}

// CopyFileSameKind copies server-side when source and target share this
// pool; otherwise it falls back to the generic stream copy.
func (pb *PostgresBackend) CopyFileSameKind(ctx context.Context, relSource string, attrs data.StreamAttributes,
	target afs.Path, copyPermissions bool, notify afs.IOProgress) (*data.FileCopyResult, error) {

	tb, ok := target.Fsys.(*PostgresBackend)
	if !ok || tb != pb {
		return afs.CopyFileAsStream(ctx, afs.Path{Fsys: pb, Rel: relSource}, attrs, target, notify)
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	itemType, exists := pb.keys.Get(relSource)
	if !exists {
		return nil, fmt.Errorf("%s: %w", pb.DisplayPath(relSource), data.ErrNotExist)
	}
	if itemType != data.ItemTypeFile {
		return nil, fmt.Errorf("%s: %w", pb.DisplayPath(relSource), data.ErrIsFolder)
	}
	if err := pb.requireParentFolder(target.Rel); err != nil {
		return nil, err
	}

	var size, modTimeNanos int64
	var sourceID string
	err := pb.pool.QueryRow(ctx,
		`SELECT size, mod_time, COALESCE(file_id, '') FROM afs_items WHERE rel = $1`, relSource).
		Scan(&size, &modTimeNanos, &sourceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pb.DisplayPath(relSource), err)
	}

	targetID := newFileID()
	_, err = pb.pool.Exec(ctx,
		`INSERT INTO afs_items (rel, item_type, size, mod_time, file_id, content)
		 SELECT $1, item_type, size, mod_time, $2, content FROM afs_items WHERE rel = $3
		 ON CONFLICT (rel) DO UPDATE SET
			item_type = EXCLUDED.item_type, size = EXCLUDED.size,
			mod_time = EXCLUDED.mod_time, file_id = EXCLUDED.file_id,
			content = EXCLUDED.content`,
		target.Rel, string(targetID), relSource)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target.Display(), err)
	}
	pb.keys.Set(target.Rel, data.ItemTypeFile)

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

type outputStream struct {
	backend   *PostgresBackend
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

	_, err := s.backend.pool.Exec(s.ctx,
		`INSERT INTO afs_items (rel, item_type, size, mod_time, file_id, content)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (rel) DO UPDATE SET
			item_type = EXCLUDED.item_type, size = EXCLUDED.size,
			mod_time = EXCLUDED.mod_time, file_id = EXCLUDED.file_id,
			content = EXCLUDED.content`,
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

func newFileID() data.FileID {
	return data.FileID(uuid.Must(uuid.NewV7()).String())
}
