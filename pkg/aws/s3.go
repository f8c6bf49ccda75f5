package aws

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStorage uploads objects and returns their public URLs.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, key, contentType string, body []byte) (string, error)
}

// S3Storage implements ObjectStorage on S3 or any S3-compatible store (R2, LocalStack).
type S3Storage struct {
	client    *s3.Client
	publicURL string
}

// NewS3Storage creates an S3-backed storage. publicURL is the base used to build
// returned object URLs; when empty the virtual-hosted S3 URL is used.
func NewS3Storage(cfg sdkaws.Config, publicURL string) *S3Storage {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.BaseEndpoint != nil
	})
	return &S3Storage{client: client, publicURL: strings.TrimSuffix(publicURL, "/")}
}

func (s *S3Storage) Upload(ctx context.Context, bucket, key, contentType string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}
	return s.objectURL(bucket, key), nil
}

func (s *S3Storage) objectURL(bucket, key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}
