package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	infraconfig "github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/config"
)

// Ensure S3Source implements Source
var _ Source = (*S3Source)(nil)

// S3Source reads raw files from an S3 bucket.
// It is compatible with any S3-compatible storage (AWS S3, MinIO, Ceph, etc.)
type S3Source struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// S3SourceOption is a functional option for configuring S3Source
type S3SourceOption func(*S3Source)

// WithLogger sets a custom logger for S3Source
func WithLogger(logger *zap.Logger) S3SourceOption {
	return func(s *S3Source) {
		s.logger = logger
	}
}

// NewS3Source creates a new S3Source from configuration. Without static
// credentials the default AWS credential chain is used.
func NewS3Source(ctx context.Context, cfg *infraconfig.StorageConfig, opts ...S3SourceOption) (*S3Source, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, errors.New("storage access key and secret key must be set together")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.HasCredentials() {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"", // session token (not used for static credentials)
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := ""
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
		// Ensure endpoint has protocol
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			if cfg.UseSSL {
				endpoint = "https://" + endpoint
			} else {
				endpoint = "http://" + endpoint
			}
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	source := &S3Source{
		client: client,
		bucket: cfg.Bucket,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(source)
	}

	return source, nil
}

// WithBucket returns a source for another bucket sharing the same client
func (s *S3Source) WithBucket(bucket string) *S3Source {
	return &S3Source{client: s.client, bucket: bucket, logger: s.logger}
}

// Bucket returns the bucket name
func (s *S3Source) Bucket() string {
	return s.bucket
}

func (s *S3Source) uri(key string) string {
	return SchemeS3 + "://" + s.bucket + "/" + key
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return true
	}
	// unmodeled codes, e.g. NoSuchBucket on GetObject
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}

// Open downloads an object. The body is streamed; the caller closes it.
func (s *S3Source) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	if s.bucket == "" {
		return nil, Object{}, errors.New("storage bucket is required")
	}
	if key == "" {
		return nil, Object{}, errors.New("storage key is required")
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, Object{}, fmt.Errorf("%w: %s", shared.ErrNotFound, s.uri(key))
		}
		return nil, Object{}, fmt.Errorf("failed to get object %s: %w", s.uri(key), err)
	}

	obj := Object{
		Key:  key,
		URI:  s.uri(key),
		Size: aws.ToInt64(out.ContentLength),
	}
	if out.LastModified != nil {
		obj.ModTime = *out.LastModified
	}
	s.logger.Debug("Opened object", zap.String("uri", obj.URI), zap.Int64("size", obj.Size))
	return out.Body, obj, nil
}

// List returns the objects below prefix, following pagination
func (s *S3Source) List(ctx context.Context, prefix string) ([]Object, error) {
	if s.bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var out []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: bucket %s", shared.ErrNotFound, s.bucket)
			}
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			obj := Object{Key: key, URI: s.uri(key), Size: aws.ToInt64(item.Size)}
			if item.LastModified != nil {
				obj.ModTime = *item.LastModified
			}
			out = append(out, obj)
		}
	}
	return out, nil
}
