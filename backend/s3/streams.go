package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
)

func (sb *S3Backend) NewInputStream(ctx context.Context, rel string, notify afs.IOProgress) (afs.InputStream, error) {
	info, err := sb.client.StatObject(ctx, sb.bucket, rel, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
		}
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}
	if info.ContentType == folderContentType {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrIsFolder)
	}

	object, err := sb.client.GetObject(ctx, sb.bucket, rel, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	return &inputStream{
		backend: sb,
		object:  object,
		rel:     rel,
		ctx:     ctx,
		notify:  notify,
	}, nil
}

type inputStream struct {
	backend *S3Backend
	object  *minio.Object
	rel     string
	ctx     context.Context
	notify  afs.IOProgress
}

func (in *inputStream) Read(p []byte) (int, error) {
	n, err := in.object.Read(p)
	if n > 0 && in.notify != nil {
		if nerr := in.notify(int64(n)); nerr != nil {
			return n, nerr
		}
	}

	return n, err
}

func (in *inputStream) Close() error {
	return in.object.Close()
}

// Attributes re-stats the object so copies verify against fresh metadata.
func (in *inputStream) Attributes() (*data.StreamAttributes, error) {
	info, err := in.backend.client.StatObject(in.ctx, in.backend.bucket, in.rel, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.backend.DisplayPath(in.rel), err)
	}

	return &data.StreamAttributes{
		Size:    info.Size,
		ModTime: info.LastModified,
		FileID:  data.FileID(info.ETag),
	}, nil
}

// NewOutputStream uploads through a pipe; the object only becomes visible
// once the upload completes, so an abandoned stream leaves nothing behind
// on a well-behaved server.
func (sb *S3Backend) NewOutputStream(ctx context.Context, rel string, expectedSize int64, notify afs.IOProgress) (afs.OutputStream, error) {
	if expectedSize < 0 {
		expectedSize = -1
	}

	pr, pw := io.Pipe()
	out := &outputStream{
		backend: sb,
		rel:     rel,
		writer:  pw,
		notify:  notify,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(out.done)
		info, err := sb.client.PutObject(ctx, sb.bucket, rel, pr, expectedSize, minio.PutObjectOptions{})
		if err != nil {
			pr.CloseWithError(err)
			out.uploadErr = err
			return
		}
		out.etag = info.ETag
	}()

	return out, nil
}

type outputStream struct {
	backend   *S3Backend
	rel       string
	writer    *io.PipeWriter
	notify    afs.IOProgress
	done      chan struct{}
	uploadErr error
	etag      string
	finalized bool
	closed    bool
}

func (out *outputStream) Write(p []byte) (int, error) {
	if out.closed {
		return 0, fmt.Errorf("%s: %w", out.backend.DisplayPath(out.rel), data.ErrClosed)
	}

	n, err := out.writer.Write(p)
	if n > 0 && out.notify != nil {
		if nerr := out.notify(int64(n)); nerr != nil {
			return n, nerr
		}
	}
	if err != nil {
		return n, fmt.Errorf("%s: %w", out.backend.DisplayPath(out.rel), err)
	}

	return n, nil
}

func (out *outputStream) Finalize() (data.FileID, error) {
	if out.closed {
		return "", fmt.Errorf("%s: %w", out.backend.DisplayPath(out.rel), data.ErrClosed)
	}

	out.writer.Close()
	<-out.done
	out.finalized = true
	out.closed = true

	if out.uploadErr != nil {
		return "", fmt.Errorf("%s: %w", out.backend.DisplayPath(out.rel), out.uploadErr)
	}

	return data.FileID(out.etag), nil
}

func (out *outputStream) Close() error {
	if out.closed {
		return nil
	}
	out.closed = true

	if !out.finalized {
		out.writer.CloseWithError(fmt.Errorf("upload abandoned"))
		<-out.done
		// Best effort in case a partial object still made it through.
		_ = out.backend.client.RemoveObject(context.Background(), out.backend.bucket, out.rel, minio.RemoveObjectOptions{})
	}

	return nil
}
