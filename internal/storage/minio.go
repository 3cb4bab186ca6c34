package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"support-chat/internal/models"
)

// ErrTooLarge is returned for uploads over the configured size limit.
var ErrTooLarge = errors.New("attachment too large")

// ObjectPutter is the slice of the MinIO client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOOptions configures the attachment store.
type MinIOOptions struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	MaxUploadSize int64
	RetryCount    int
	RetryInterval time.Duration
}

// AttachmentStore uploads message attachments and hands back a public URL.
type AttachmentStore struct {
	client  ObjectPutter
	bucket  string
	baseURL string
	maxSize int64
	log     *zap.Logger
}

// NewMinIOAttachmentStore connects to MinIO, retrying while it comes up, and
// makes sure the bucket exists.
func NewMinIOAttachmentStore(ctx context.Context, opts MinIOOptions, log *zap.Logger) (*AttachmentStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	attempts := opts.RetryCount
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		if err = ensureBucket(ctx, client, opts.Bucket); err == nil {
			break
		}
		log.Warn("minio not ready, retrying",
			zap.String("endpoint", opts.Endpoint),
			zap.Int("attempt", i),
			zap.Error(err),
		)
		if i < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryInterval):
			}
		}
	}
	if err != nil {
		return nil, err
	}

	base := opts.PublicBaseURL
	if base == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}
	return NewAttachmentStore(client, opts.Bucket, base, opts.MaxUploadSize, log), nil
}

// NewAttachmentStore wraps an existing client. maxSize <= 0 disables the
// limit.
func NewAttachmentStore(client ObjectPutter, bucket, publicBaseURL string, maxSize int64, log *zap.Logger) *AttachmentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &AttachmentStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		maxSize: maxSize,
		log:     log,
	}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// Upload stores the blob under a fresh object name scoped to the uploader
// and returns the attachment descriptor to send with a message.
func (s *AttachmentStore) Upload(ctx context.Context, ownerID, fileName, contentType string, body io.Reader, size int64) (models.Attachment, error) {
	if s.maxSize > 0 && size > s.maxSize {
		return models.Attachment{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" {
		name = "file"
	}

	object := path.Join(ownerID, uuid.NewString()+path.Ext(name))
	info, err := s.client.PutObject(ctx, s.bucket, object, body, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"original-name": name,
			"owner":         ownerID,
		},
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("upload %s: %w", object, err)
	}
	s.log.Debug("attachment uploaded", zap.String("object", object), zap.Int64("size", info.Size))

	return models.Attachment{
		URL:      s.baseURL + "/" + escapePath(object),
		MimeType: contentType,
		Name:     name,
		Size:     info.Size,
	}, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
