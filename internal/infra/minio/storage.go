package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage reads source videos from the uploads bucket and writes reports and
// frame archives to the reports bucket.
type Storage struct {
	client        *miniogo.Client
	uploadBucket  string
	reportsBucket string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	UploadBucket  string
	ReportsBucket string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client:        client,
		uploadBucket:  cfg.UploadBucket,
		reportsBucket: cfg.ReportsBucket,
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.uploadBucket, s.reportsBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Ping is used as a health check.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.reportsBucket); err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

// OpenVideo streams a source video. A missing object is reported as
// errs.NotFoundError so the pipeline does not retry it.
func (s *Storage) OpenVideo(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, s.uploadBucket, objectKey, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get video: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if miniogo.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, &errs.NotFoundError{Op: "open_video", Resource: "object", ID: s.uploadBucket + "/" + objectKey, Err: err}
		}
		return nil, 0, fmt.Errorf("stat video: %w", err)
	}
	return obj, info.Size, nil
}

func (s *Storage) UploadReport(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.reportsBucket, objectKey, reader, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectKey, err)
	}
	return nil
}
