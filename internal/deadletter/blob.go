package deadletter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/pathtmpl"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/storage"
)

const blobDateFormat = "{yyyy/MM/dd/HH}"

// BlobSink writes each payload as its own object under
// {prefix}/yyyy/MM/dd/HH/{partitionKey}.json.
type BlobSink struct {
	bucket *blob.Bucket
	prefix string
	now    func() time.Time
}

// NewBlobSink opens bucketURL.
func NewBlobSink(ctx context.Context, bucketURL, prefix string) (*BlobSink, error) {
	bucket, err := storage.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewBlobSinkFromBucket(bucket, prefix), nil
}

// NewBlobSinkFromBucket wraps an already opened bucket.
func NewBlobSinkFromBucket(bucket *blob.Bucket, prefix string) *BlobSink {
	return &BlobSink{bucket: bucket, prefix: prefix, now: time.Now}
}

func (s *BlobSink) Store(ctx context.Context, payload, partitionKey string, isRetry bool) error {
	if partitionKey == "" {
		partitionKey = uuid.NewString()
	}
	key := pathtmpl.DecoratePath(s.prefix, partitionKey+".json", s.now(), blobDateFormat, "")

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"retry": strconv.FormatBool(isRetry)},
	})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write([]byte(payload)); err != nil {
		w.Close()
		return fmt.Errorf("write payload to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Close releases the bucket connection.
func (s *BlobSink) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
