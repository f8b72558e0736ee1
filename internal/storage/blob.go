package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// BlobStore writes objects through a gocloud bucket. The bucket is fixed by
// the URL it was opened with, so PutRequest.Bucket is only used for logging.
type BlobStore struct {
	bucket *blob.Bucket
	url    string
}

// OpenBucket opens a gocloud bucket URL with every driver this package registers.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return bucket, nil
}

// S3BucketURL builds a gocloud s3:// URL for an S3-compatible bucket.
func S3BucketURL(bucketName, endpoint, region string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

// NewBlobStore opens bucketURL (gs://, s3://, file://, mem://).
func NewBlobStore(ctx context.Context, bucketURL string) (*BlobStore, error) {
	bucket, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobStore{bucket: bucket, url: bucketURL}, nil
}

// NewBlobStoreFromBucket wraps an already opened bucket.
func NewBlobStoreFromBucket(bucket *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: bucket}
}

// PutObject writes the body in a single writer session.
func (s *BlobStore) PutObject(ctx context.Context, req PutRequest) error {
	opts := &blob.WriterOptions{
		ContentType:     req.ContentType,
		ContentEncoding: req.ContentEncoding,
	}
	if req.SHA256 != "" {
		opts.Metadata = map[string]string{"sha256": req.SHA256}
	}

	w, err := s.bucket.NewWriter(ctx, req.Key, opts)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", req.Key, err)
	}

	if _, err := w.Write(req.Data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", req.Key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", req.Key, err)
	}

	return nil
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(bucket, key string) string {
	if s.url != "" {
		if u, err := url.Parse(s.url); err == nil {
			return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, path.Join("/", u.Path, key))
		}
	}
	return fmt.Sprintf("blob://%s/%s", bucket, key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
