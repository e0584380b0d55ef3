// Package s3 implements blob.Store on an S3-compatible object store.
//
// URIs have the form "s3://<bucket>/<key>". Credentials come from the
// standard AWS SDK chain (environment, shared config, instance role);
// a custom endpoint supports MinIO and other S3-compatible backends.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pitchforge/pitchforge/pkg/blob"
)

const uriScheme = "s3://"

// Config selects the target bucket and optional endpoint override.
type Config struct {
	// Bucket is the target bucket name. Required.
	Bucket string

	// Region overrides the SDK-resolved AWS region.
	Region string

	// Endpoint overrides the S3 endpoint URL for S3-compatible stores.
	Endpoint string

	// KeyPrefix is prepended to every object key (e.g. "documents/").
	KeyPrefix string
}

// Store is an S3-backed blob store scoped to one bucket.
type Store struct {
	client *awss3.Client
	cfg    Config
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob s3: bucket must not be empty")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob s3: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			// Path-style addressing is required by most S3-compatible stores.
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, cfg: cfg}, nil
}

// Put implements [blob.Store].
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob s3: key must not be empty")
	}
	objectKey := s.cfg.KeyPrefix + key
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &objectKey,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("blob s3: put %q: %w", objectKey, err)
	}
	return uriScheme + s.cfg.Bucket + "/" + objectKey, nil
}

// Get implements [blob.Store].
func (s *Store) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("blob s3: get %q: %w", uri, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob s3: read %q: %w", uri, err)
	}
	return data, nil
}

// Delete implements [blob.Store]. S3 deletes are idempotent already.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("blob s3: delete %q: %w", uri, err)
	}
	return nil
}

// parseURI splits "s3://bucket/key" into its parts.
func parseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return "", "", fmt.Errorf("blob s3: unrecognized uri %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("blob s3: invalid uri %q", uri)
	}
	return bucket, key, nil
}

var _ blob.Store = (*Store)(nil)
