package consul

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
)

func newFileID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (cb *ConsulBackend) NewInputStream(ctx context.Context, rel string, notify afs.IOProgress) (afs.InputStream, error) {
	cb.mu.RLock()
	item, err := cb.getItem(rel)
	cb.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if item.Type == typeFolder {
		return nil, fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrIsFolder)
	}

	return &inputStream{
		backend: cb,
		rel:     rel,
		reader:  bytes.NewReader(item.Content),
		attrs: data.StreamAttributes{
			Size:    int64(len(item.Content)),
			ModTime: item.ModTime,
			FileID:  data.FileID(item.FileID),
		},
		notify: notify,
	}, nil
}

type inputStream struct {
	backend *ConsulBackend
	rel     string
	reader  *bytes.Reader
	attrs   data.StreamAttributes
	notify  afs.IOProgress
	closed  bool
}

func (in *inputStream) Read(p []byte) (int, error) {
	if in.closed {
		return 0, fmt.Errorf("%s: %w", in.backend.DisplayPath(in.rel), data.ErrClosed)
	}

	n, err := in.reader.Read(p)
	if n > 0 && in.notify != nil {
		if nerr := in.notify(int64(n)); nerr != nil {
			return n, nerr
		}
	}

	return n, err
}

func (in *inputStream) Close() error {
	in.closed = true
	return nil
}

// Attributes returns the metadata captured when the stream was opened; the
// whole value was read in one KV get, so there is nothing fresher to fetch.
func (in *inputStream) Attributes() (*data.StreamAttributes, error) {
	attrs := in.attrs
	return &attrs, nil
}

// NewOutputStream buffers all writes and publishes the item in a single KV
// put on Finalize, so no partial item is ever visible.
func (cb *ConsulBackend) NewOutputStream(ctx context.Context, rel string, expectedSize int64, notify afs.IOProgress) (afs.OutputStream, error) {
	if expectedSize > MaxValueSize {
		return nil, fmt.Errorf("%s: %d bytes exceeds the KV value limit: %w",
			cb.DisplayPath(rel), expectedSize, data.ErrNotSupported)
	}

	cb.mu.RLock()
	err := cb.requireParentFolder(rel)
	cb.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := &outputStream{
		backend: cb,
		rel:     rel,
		notify:  notify,
	}
	if expectedSize > 0 {
		out.buffer.Grow(int(expectedSize))
	}

	return out, nil
}

type outputStream struct {
	backend   *ConsulBackend
	rel       string
	buffer    bytes.Buffer
	notify    afs.IOProgress
	finalized bool
	closed    bool
}

func (out *outputStream) Write(p []byte) (int, error) {
	if out.closed {
		return 0, fmt.Errorf("%s: %w", out.backend.DisplayPath(out.rel), data.ErrClosed)
	}
	if out.buffer.Len()+len(p) > MaxValueSize {
		return 0, fmt.Errorf("%s: write exceeds the KV value limit: %w",
			out.backend.DisplayPath(out.rel), data.ErrNotSupported)
	}

	n, err := out.buffer.Write(p)
	if n > 0 && out.notify != nil {
		if nerr := out.notify(int64(n)); nerr != nil {
			return n, nerr
		}
	}

	return n, err
}

func (out *outputStream) Finalize() (data.FileID, error) {
	if out.closed {
		return "", fmt.Errorf("%s: %w", out.backend.DisplayPath(out.rel), data.ErrClosed)
	}
	out.finalized = true
	out.closed = true

	fileID := newFileID()
	item := &kvItem{
		Type:    typeFile,
		Size:    int64(out.buffer.Len()),
		ModTime: time.Now(),
		FileID:  fileID,
		Content: out.buffer.Bytes(),
	}

	out.backend.mu.Lock()
	defer out.backend.mu.Unlock()

	if err := out.backend.putItem(out.rel, item); err != nil {
		return "", err
	}

	return data.FileID(fileID), nil
}

// Close without Finalize discards the buffer; nothing was written to the
// store yet.
func (out *outputStream) Close() error {
	out.closed = true
	if !out.finalized {
		out.buffer.Reset()
	}
	return nil
}
