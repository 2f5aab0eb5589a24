// Package s3 implements the storage backend over an S3 bucket. Each area maps
// to a key prefix under the configured root prefix; one object per cached key.
// Intended for deployments that point several app installs at a shared warm
// cache, or that want the cache directory off the local disk.
package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/pkg/errors"
	"github.com/streamvault/streamvault/pkg/types"
)

// api is the subset of the S3 client the store uses; narrowed for testability.
type api interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Store is an S3-backed types.Storage.
type Store struct {
	client api
	bucket string
	prefix string
	logger *slog.Logger
}

// New creates a Store against the configured bucket, loading AWS credentials
// from the default chain.
func New(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("storage.s3")
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(maxRetries),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "failed to load AWS config", err).
			WithComponent("storage.s3")
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// newWithClient wires an explicit client; used by tests.
func newWithClient(client api, bucket, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Put writes data under the area-prefixed key.
func (s *Store) Put(area types.Area, key string, data []byte) error {
	_, err := s.client.PutObject(context.Background(), &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(area, key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "failed to put object", err).
			WithComponent("storage.s3").WithOperation("put").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	return nil
}

// Get returns the object bytes, or (nil, nil) when the key is absent.
func (s *Store) Get(area types.Area, key string) ([]byte, error) {
	out, err := s.client.GetObject(context.Background(), &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(area, key)),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if stderr.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "failed to get object", err).
			WithComponent("storage.s3").WithOperation("get").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "failed to read object body", err).
			WithComponent("storage.s3").WithOperation("get").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	return data, nil
}

// Delete removes the key. S3 deletes are idempotent already.
func (s *Store) Delete(area types.Area, key string) error {
	_, err := s.client.DeleteObject(context.Background(), &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(area, key)),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageDelete, "failed to delete object", err).
			WithComponent("storage.s3").WithOperation("delete").
			WithDetail("area", string(area)).WithDetail("key", key)
	}
	return nil
}

// ListKeys enumerates the area prefix, following continuation tokens.
func (s *Store) ListKeys(area types.Area) ([]string, error) {
	areaPrefix := s.objectKey(area, "")

	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(context.Background(), &awss3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(areaPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStorageList, "failed to list objects", err).
				WithComponent("storage.s3").WithDetail("area", string(area))
		}

		for _, obj := range out.Contents {
			full := aws.ToString(obj.Key)
			if len(full) <= len(areaPrefix) {
				continue
			}
			keys = append(keys, full[len(areaPrefix):])
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

func (s *Store) objectKey(area types.Area, key string) string {
	return path.Join(s.prefix, string(area)) + "/" + key
}
