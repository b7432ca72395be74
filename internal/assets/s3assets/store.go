// Package s3assets implements assets.Store against an S3-compatible bucket.
package s3assets

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/assets"
)

type Store struct {
	client *s3.Client
	bucket string
	prefix string
	region string
}

// New loads the default AWS credential chain (env vars, shared config,
// instance role) scoped to region and wraps bucket/prefix.
func New(ctx context.Context, bucket, prefix, region string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3assets: load aws config: %w", err)
	}
	return &Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		region: region,
	}, nil
}

func (s *Store) key(name, version, asset string) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s/%s/assets/%s", name, version, asset)
	}
	return fmt.Sprintf("%s/%s/%s/assets/%s", s.prefix, name, version, asset)
}

func (s *Store) Put(ctx context.Context, name, version, asset string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name, version, asset)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3assets: put %s: %w", asset, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, name, version, asset string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name, version, asset)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, apperr.New(apperr.NotFound, "asset not found: "+asset)
		}
		return nil, apperr.Wrap(apperr.Internal, "get asset", err)
	}
	return out.Body, nil
}

// URL returns a virtual-hosted-style HTTPS URL; the bucket/objects are
// expected to be served through a CDN or public-read policy managed outside
// this service, matching a version-pinned, immutably-cacheable asset.
func (s *Store) URL(name, version, asset string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, s.key(name, version, asset))
}

var _ assets.Store = (*Store)(nil)
