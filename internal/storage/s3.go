package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 client. Endpoint and ForcePathStyle cover
// S3-compatible services such as MinIO, R2 and B2.
type S3Options struct {
	Endpoint       string
	Region         string
	ForcePathStyle bool
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes objects with the AWS SDK. The bucket comes from each request.
type S3Store struct {
	client putObjectAPI
}

// NewS3Store creates a new S3 store using the default AWS credential chain.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	// Retries belong to the delivery loop.
	loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(1))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	return &S3Store{client: client}, nil
}

// PutObject uploads the body with an explicit content length.
func (s *S3Store) PutObject(ctx context.Context, req PutRequest) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(req.Bucket),
		Key:           aws.String(req.Key),
		Body:          bytes.NewReader(req.Data),
		ContentLength: aws.Int64(contentLength(req)),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	if req.ContentEncoding != "" {
		input.ContentEncoding = aws.String(req.ContentEncoding)
	}
	if req.SHA256 != "" {
		input.ChecksumSHA256 = aws.String(req.SHA256)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", req.Bucket, req.Key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *S3Store) URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Store) Close() error {
	return nil
}
