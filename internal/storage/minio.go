package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/settlementops/internal/config"
	"github.com/dharsanguruparan/settlementops/internal/model"
)

const objectPrefix = "cases/"

// MinIO stores case documents in a single S3 compatible bucket. The stored
// path is the object key.
type MinIO struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinIO creates a MinIO client from the Config.
func NewMinIO(cfg *config.Config) (*MinIO, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinIO{
		client: client,
		bucket: cfg.S3Bucket,
		region: cfg.S3Region,
	}, nil
}

// EnsureBucket makes sure the document bucket exists before use.
func (s *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Save uploads the document. The size is unknown up front, so the client
// buffers the stream into multipart chunks.
func (s *MinIO) Save(ctx context.Context, filename string, r io.Reader) (model.DocumentRef, error) {
	key := objectPrefix + StoredName(filename)
	mediaType := MediaType(filename)
	opts := minio.PutObjectOptions{ContentType: mediaType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, -1, opts); err != nil {
		return model.DocumentRef{}, fmt.Errorf("upload document: %w", err)
	}
	return model.DocumentRef{
		Filename:  filename,
		Path:      key,
		MediaType: mediaType,
	}, nil
}

// Open returns the object. GetObject is lazy, so a Stat call surfaces missing
// keys before the caller starts writing a response.
func (s *MinIO) Open(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat document: %w", err)
	}
	return obj, nil
}

func (s *MinIO) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isMissing(err) {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
