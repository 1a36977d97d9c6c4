// Package s3 provides an object-store backend on the S3 API. Folders exist
// as zero-byte marker objects with a trailing separator, symlinks do not
// exist at all, and modification times cannot be set after upload, which
// makes copies onto this backend report a degraded-metadata result.
package s3

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
	"github.com/mwantia/afs/log"
)

const folderContentType = "application/x-directory"

type S3Backend struct {
	client   *minio.Client
	endpoint string
	bucket   string
	logger   *log.Logger
}

type Option func(*S3Backend)

func WithLogger(logger *log.Logger) Option {
	return func(sb *S3Backend) {
		sb.logger = logger
	}
}

// NewS3Backend connects to the given endpoint and bucket. The bucket must
// already exist; this backend never creates buckets.
func NewS3Backend(endpoint, bucket, accessKey, secretKey string, useSSL bool, opts ...Option) (*S3Backend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}

	sb := &S3Backend{
		client:   client,
		endpoint: endpoint,
		bucket:   bucket,
		logger:   log.Discard(),
	}
	for _, opt := range opts {
		opt(sb)
	}

	return sb, nil
}

// Open verifies the bucket is reachable.
func (sb *S3Backend) Open(ctx context.Context) error {
	exists, err := sb.client.BucketExists(ctx, sb.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: bucket missing: %w", sb.DisplayPath(""), data.ErrNotExist)
	}

	sb.logger.Debug("s3 backend connected to %s/%s", sb.endpoint, sb.bucket)
	return nil
}

// Kind returns the backend-kind tag used for cross-backend path ordering.
func (*S3Backend) Kind() string {
	return "s3"
}

func (sb *S3Backend) CompareSameKind(other afs.Filesystem) int {
	o, ok := other.(*S3Backend)
	if !ok {
		return 0
	}

	if c := strings.Compare(sb.endpoint, o.endpoint); c != 0 {
		return c
	}

	return strings.Compare(sb.bucket, o.bucket)
}

func (sb *S3Backend) DisplayPath(rel string) string {
	if rel == "" {
		return fmt.Sprintf("s3://%s", sb.bucket)
	}

	return fmt.Sprintf("s3://%s/%s", sb.bucket, rel)
}

// EqualItemName is case-sensitive; object keys always are.
func (*S3Backend) EqualItemName(a, b string) bool {
	return a == b
}

func (sb *S3Backend) GetItemType(ctx context.Context, rel string) (data.ItemType, error) {
	if rel == "" {
		return data.ItemTypeFolder, nil
	}

	info, err := sb.client.StatObject(ctx, sb.bucket, rel, minio.StatObjectOptions{})
	if err == nil {
		if info.ContentType == folderContentType {
			return data.ItemTypeFolder, nil
		}
		return data.ItemTypeFile, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return 0, fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	if _, err := sb.client.StatObject(ctx, sb.bucket, rel+"/", minio.StatObjectOptions{}); err == nil {
		return data.ItemTypeFolder, nil
	}

	// No marker; children still imply a folder.
	if sb.hasChildren(ctx, rel) {
		return data.ItemTypeFolder, nil
	}

	return 0, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
}

func (sb *S3Backend) CreateFolderPlain(ctx context.Context, rel string) error {
	if rel == "" {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrExist)
	}

	if _, err := sb.GetItemType(ctx, rel); err == nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrExist)
	}

	_, err := sb.client.PutObject(ctx, sb.bucket, rel+"/", strings.NewReader(""), 0,
		minio.PutObjectOptions{ContentType: folderContentType})
	if err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	return nil
}

func (sb *S3Backend) RemoveFilePlain(ctx context.Context, rel string) error {
	if _, err := sb.client.StatObject(ctx, sb.bucket, rel, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
		}
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	if err := sb.client.RemoveObject(ctx, sb.bucket, rel, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	return nil
}

func (sb *S3Backend) RemoveFolderPlain(ctx context.Context, rel string) error {
	if rel == "" {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotSupported)
	}

	if sb.hasChildren(ctx, rel) {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrFolderNotEmpty)
	}

	if err := sb.client.RemoveObject(ctx, sb.bucket, rel+"/", minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	return nil
}

// RemoveSymlinkPlain always fails; object stores have no symlinks.
func (sb *S3Backend) RemoveSymlinkPlain(ctx context.Context, rel string) error {
	return fmt.Errorf("%s: symlinks: %w", sb.DisplayPath(rel), data.ErrNotSupported)
}

// SetModTime always fails; S3 object mtimes are server-assigned. Copies
// onto this backend surface that as a degraded-metadata result.
func (sb *S3Backend) SetModTime(ctx context.Context, rel string, modTime time.Time) error {
	return fmt.Errorf("%s: set modification time: %w", sb.DisplayPath(rel), data.ErrNotSupported)
}

// MoveAndRenameItem is copy-then-delete: the S3 API has no rename, so this
// step is not atomic on this backend.
func (sb *S3Backend) MoveAndRenameItem(ctx context.Context, relSource, relTarget string) error {
	_, err := sb.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: sb.bucket, Object: relTarget},
		minio.CopySrcOptions{Bucket: sb.bucket, Object: relSource})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%s: %w", sb.DisplayPath(relSource), data.ErrNotExist)
		}
		return fmt.Errorf("%s: %w", sb.DisplayPath(relSource), err)
	}

	if err := sb.client.RemoveObject(ctx, sb.bucket, relSource, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(relSource), err)
	}

	return nil
}

func (sb *S3Backend) CopyFileSameKind(ctx context.Context, relSource string, attrs data.StreamAttributes,
	target afs.Path, copyPermissions bool, notify afs.IOProgress) (*data.FileCopyResult, error) {

	tb, ok := target.Fsys.(*S3Backend)
	if !ok || tb.endpoint != sb.endpoint {
		// Different servers; nothing server-side to gain.
		return afs.CopyFileAsStream(ctx, afs.Path{Fsys: sb, Rel: relSource}, attrs, target, notify)
	}

	info, err := sb.client.StatObject(ctx, sb.bucket, relSource, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", sb.DisplayPath(relSource), data.ErrNotExist)
		}
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(relSource), err)
	}

	upload, err := sb.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: tb.bucket, Object: target.Rel},
		minio.CopySrcOptions{Bucket: sb.bucket, Object: relSource})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target.Display(), err)
	}

	if notify != nil {
		if err := notify(2 * info.Size); err != nil {
			return nil, err
		}
	}

	return &data.FileCopyResult{
		Size:         info.Size,
		ModTime:      info.LastModified,
		SourceFileID: data.FileID(info.ETag),
		TargetFileID: data.FileID(upload.ETag),
		ErrModTime:   fmt.Errorf("%s: set modification time: %w", target.Display(), data.ErrNotSupported),
	}, nil
}

func (sb *S3Backend) TraverseFolderRecursive(ctx context.Context, workload []afs.TraversalTask, parallelOps int) error {
	return afs.TraverseWithLister(ctx, workload, parallelOps, sb.listFolder)
}

// listFolder lists one level using the delimiter; entries with a trailing
// separator are folders (markers and bare common prefixes collapse into
// one), everything else is a file.
func (sb *S3Backend) listFolder(ctx context.Context, rel string) (*afs.FolderEntries, error) {
	prefix := ""
	if rel != "" {
		prefix = rel + "/"
	}

	entries := &afs.FolderEntries{}
	seenFolders := map[string]bool{}

	for object := range sb.client.ListObjects(ctx, sb.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), object.Err)
		}
		if object.Key == prefix {
			continue // the folder's own marker
		}

		rest := strings.TrimPrefix(object.Key, prefix)
		if name, isFolder := strings.CutSuffix(rest, "/"); isFolder {
			if !seenFolders[name] {
				seenFolders[name] = true
				entries.Folders = append(entries.Folders, data.FolderInfo{ItemName: name})
			}
			continue
		}

		entries.Files = append(entries.Files, data.FileInfo{
			ItemName: rest,
			Size:     object.Size,
			ModTime:  object.LastModified,
			FileID:   data.FileID(object.ETag),
		})
	}

	return entries, nil
}

func (sb *S3Backend) hasChildren(ctx context.Context, rel string) bool {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for object := range sb.client.ListObjects(listCtx, sb.bucket, minio.ListObjectsOptions{
		Prefix:    rel + "/",
		Recursive: false,
	}) {
		if object.Err == nil && object.Key != rel+"/" {
			return true
		}
	}

	return false
}
