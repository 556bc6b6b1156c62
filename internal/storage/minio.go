package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"server/internal/domain"
)

// Options configures the object storage gateway.
type Options struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	UploadTTL   time.Duration
	DownloadTTL time.Duration
}

// Gateway issues time-limited storage credentials against a MinIO (or any
// S3-compatible) endpoint. Payload bytes never pass through the service
// tier; clients talk to storage directly with the presigned URLs.
type Gateway struct {
	client      *minio.Client
	bucket      string
	uploadTTL   time.Duration
	downloadTTL time.Duration
}

// NewGateway connects the gateway and makes sure the bucket exists.
func NewGateway(ctx context.Context, opts Options) (*Gateway, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}
	g := &Gateway{
		client:      client,
		bucket:      opts.Bucket,
		uploadTTL:   opts.UploadTTL,
		downloadTTL: opts.DownloadTTL,
	}
	if g.uploadTTL <= 0 {
		g.uploadTTL = 15 * time.Minute
	}
	if g.downloadTTL <= 0 {
		g.downloadTTL = time.Hour
	}
	return g, nil
}

var _ domain.ObjectStore = (*Gateway)(nil)

// PresignUpload mints a fresh object key under the purpose namespace and a
// short-lived URL authorizing a single PUT to it. Keys from repeated calls
// are independent; callers discard the ones they do not use.
func (g *Gateway) PresignUpload(ctx context.Context, fileName, contentType string, purpose domain.Purpose) (*domain.UploadCredential, error) {
	key := ObjectKeyFor(purpose, fileName)
	u, err := g.client.PresignedPutObject(ctx, g.bucket, key, g.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("storage: presign upload: %w", err)
	}
	return &domain.UploadCredential{UploadURL: u.String(), ObjectKey: key}, nil
}

// PresignDownload returns a short-lived read URL for an existing object.
// The existence check is best effort; the storage layer stays authoritative.
func (g *Gateway) PresignDownload(ctx context.Context, objectKey string) (string, error) {
	if _, err := g.client.StatObject(ctx, g.bucket, objectKey, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("storage: stat object: %w", err)
	}
	u, err := g.client.PresignedGetObject(ctx, g.bucket, objectKey, g.downloadTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign download: %w", err)
	}
	return u.String(), nil
}

// Exists reports whether the object key resolves in storage.
func (g *Gateway) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := g.client.StatObject(ctx, g.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("storage: stat object: %w", err)
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return false
}

// ObjectKeyFor builds a collision-resistant key under the purpose
// namespace, keeping the original file extension when it looks sane.
func ObjectKeyFor(purpose domain.Purpose, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\ ") {
		ext = ""
	}
	return domain.SourceKeyFor(purpose, uuid.NewString()+ext)
}
