package local

import (
	"context"
	"os"

	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
)

func (lb *LocalBackend) NewInputStream(ctx context.Context, rel string, notify afs.IOProgress) (afs.InputStream, error) {
	file, err := os.Open(lb.resolve(rel))
	if err != nil {
		return nil, lb.mapError(rel, err)
	}

	return &inputStream{file: file, notify: notify}, nil
}

func (lb *LocalBackend) NewOutputStream(ctx context.Context, rel string, expectedSize int64, notify afs.IOProgress) (afs.OutputStream, error) {
	file, err := os.OpenFile(lb.resolve(rel), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, lb.mapError(rel, err)
	}

	return &outputStream{backend: lb, rel: rel, file: file, notify: notify}, nil
}

type inputStream struct {
	file   *os.File
	notify afs.IOProgress
}

func (s *inputStream) Read(p []byte) (int, error) {
	n, err := s.file.Read(p)
	if n > 0 && s.notify != nil {
		if nerr := s.notify(int64(n)); nerr != nil {
			return n, nerr
		}
	}

	return n, err
}

// Attributes refreshes size and mod time from the open handle; the input
// file may have changed since it was examined.
func (s *inputStream) Attributes() (*data.StreamAttributes, error) {
	info, err := s.file.Stat()
	if err != nil {
		return nil, err
	}

	return &data.StreamAttributes{
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (s *inputStream) Close() error {
	return s.file.Close()
}

type outputStream struct {
	backend   *LocalBackend
	rel       string
	file      *os.File
	notify    afs.IOProgress
	finalized bool
	closed    bool
}

func (s *outputStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, data.ErrClosed
	}

	n, err := s.file.Write(p)
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

	if err := s.file.Sync(); err != nil {
		return "", err
	}
	if err := s.file.Close(); err != nil {
		return "", err
	}

	s.finalized = true
	s.closed = true

	// Stable file ids are platform-specific; this backend does not expose one.
	return "", nil
}

// Close without Finalize removes the partially written target best-effort.
func (s *outputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.file.Close()
	if !s.finalized {
		_ = os.Remove(s.backend.resolve(s.rel))
	}

	return err
}
