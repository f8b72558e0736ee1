// Package storage is the object store API the delivery loop writes through.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// PutRequest is a single upload of an in-memory body.
type PutRequest struct {
	Bucket          string
	Key             string
	Data            []byte
	ContentLength   int64
	ContentType     string
	ContentEncoding string
	SHA256          string // base64 encoded, optional
}

// ObjectStore writes whole objects. Implementations must be safe for
// concurrent use by independent delivery loops.
type ObjectStore interface {
	// PutObject uploads req.Data under req.Bucket/req.Key.
	PutObject(ctx context.Context, req PutRequest) error

	// URI returns the canonical URI for the given bucket and key.
	URI(bucket, key string) string

	// Close releases any resources.
	Close() error
}

// New creates a storage backend based on configuration.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(ctx, S3Options{
			Endpoint:       cfg.Endpoint,
			Region:         cfg.Region,
			ForcePathStyle: cfg.ForcePathStyle,
		})
	case "blob":
		bucketURL := cfg.URL
		if bucketURL == "" && cfg.Bucket != "" {
			bucketURL = S3BucketURL(cfg.Bucket, cfg.Endpoint, cfg.Region)
		}
		if bucketURL == "" {
			return nil, fmt.Errorf("url or bucket required for blob backend")
		}
		return NewBlobStore(ctx, bucketURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

func contentLength(req PutRequest) int64 {
	if req.ContentLength > 0 {
		return req.ContentLength
	}
	return int64(len(req.Data))
}
