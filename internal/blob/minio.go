package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"roomscan/internal/config"
	"roomscan/pkg/models"
)

// MinIOStore implements Store against any S3-compatible endpoint.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore creates a MinIOStore from storage config.
func NewMinIOStore(cfg config.StorageConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *MinIOStore) Bucket() string {
	return s.bucket
}

func (s *MinIOStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

func (s *MinIOStore) PresignUpload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), nil
}

func (s *MinIOStore) GetObject(ctx context.Context, ref models.ArtifactRef) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, ref.Container, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", ref.Container, ref.Key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", ref.Container, ref.Key, err)
	}
	return data, nil
}

// Listen streams object-created notifications for a key prefix/suffix until
// ctx is cancelled. Delivery is at least once and unordered across objects;
// consumers are expected to be idempotent.
func (s *MinIOStore) Listen(ctx context.Context, prefix, suffix string) <-chan Notification {
	out := make(chan Notification)
	go func() {
		defer close(out)
		events := s.client.ListenBucketNotification(ctx, s.bucket, prefix, suffix,
			[]string{"s3:ObjectCreated:*"})
		for info := range events {
			if info.Err != nil {
				slog.Error("notification stream error", "prefix", prefix, "error", info.Err)
				continue
			}
			for _, record := range info.Records {
				// Object keys arrive URL-encoded in notification records.
				key, err := url.QueryUnescape(record.S3.Object.Key)
				if err != nil {
					slog.Warn("undecodable object key in notification", "key", record.S3.Object.Key)
					continue
				}
				select {
				case out <- Notification{Container: record.S3.Bucket.Name, Key: key}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Compile-time check that MinIOStore implements Store.
var _ Store = (*MinIOStore)(nil)
