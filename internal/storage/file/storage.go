package file

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/story-publisher/internal/media"
)

// ErrObjectNotFound is returned when the requested media object does not exist.
var ErrObjectNotFound = errors.New("media object not found")

// Storage provides an S3-compatible media source backed by MinIO.
// Story media is looked up under a fixed prefix inside the bucket.
type Storage struct {
	client     *minio.Client
	bucketName string
	prefix     string
	maxSize    int64
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// The bucket must already exist: the publisher only reads from it.
// Objects larger than maxSize fail with media.ErrMediaTooLarge; a
// non-positive maxSize selects media.DefaultMaxSize.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName, prefix string, useSSL bool, maxSize int64) (*Storage, error) {
	if maxSize <= 0 {
		maxSize = media.DefaultMaxSize
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", bucketName)
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
		maxSize:    maxSize,
	}, nil
}

// ObjectName returns the object key used for the given media file ID.
func (s *Storage) ObjectName(fileID string) string {
	return path.Join(s.prefix, fileID)
}

// Fetch reads the whole media object identified by fileID.
func (s *Storage) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	if fileID == "" {
		return nil, ErrObjectNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, s.ObjectName(fileID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	defer obj.Close()

	data, err := media.ReadLimited(obj, s.maxSize)
	if err != nil {
		if errors.Is(err, media.ErrMediaTooLarge) {
			return nil, fmt.Errorf("read %s: %w", fileID, err)
		}

		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, fileID)
		}

		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}
