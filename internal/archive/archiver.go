// Package archive keeps a copy of uploaded source documents in S3-compatible
// object storage. When no bucket is configured the NoopArchiver is used and
// originals are not retained.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/distill/internal/config"
)

// ErrNotConfigured is returned when archive storage is not configured.
var ErrNotConfigured = errors.New("archive storage not configured")

// Document identifies an uploaded source file.
type Document struct {
	KnowledgeBaseID string
	RequestID       string
	Name            string
	ContentType     string
}

// Archiver stores original uploads.
type Archiver interface {
	// Archive stores data and returns its object key.
	Archive(ctx context.Context, doc Document, data []byte) (string, error)

	// PresignedURL returns a time-limited download URL for an archived object.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// s3Client defines the minimal minio.Client operations used by S3Archiver.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, r io.Reader, size int64, contentType string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

// minioClientWrapper adapts *minio.Client to s3Client.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := w.client.PutObject(ctx, bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Archiver stores documents in S3-compatible storage.
type S3Archiver struct {
	client s3Client
	bucket string
}

// Archive uploads data under {knowledge_base}/{request_id}/{name}.
func (a *S3Archiver) Archive(ctx context.Context, doc Document, data []byte) (string, error) {
	key := objectKey(doc)
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("upload source document to S3: %w", err)
	}
	return key, nil
}

// PresignedURL returns a pre-signed GET URL for key.
func (a *S3Archiver) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return u.String(), nil
}

// NoopArchiver is used when archive storage is not configured.
type NoopArchiver struct{}

// Archive is a no-op and returns an empty key.
func (NoopArchiver) Archive(ctx context.Context, doc Document, data []byte) (string, error) {
	return "", nil
}

// PresignedURL returns ErrNotConfigured.
func (NoopArchiver) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", ErrNotConfigured
}

// New creates the appropriate Archiver based on configuration.
// Returns NoopArchiver when bucket is empty, S3Archiver otherwise.
func New(cfg config.ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return NoopArchiver{}, nil
	}

	useSSL := cfg.UseSSL
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// stripScheme removes an http(s):// prefix from endpoint, which minio does
// not accept, and sets useSSL to match the scheme when one is present.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}

// objectKey returns the S3 object key for a document.
// Convention: {knowledge_base_id}/{request_id}/{base name}
func objectKey(doc Document) string {
	name := path.Base(strings.ReplaceAll(doc.Name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return doc.KnowledgeBaseID + "/" + doc.RequestID + "/" + name
}
