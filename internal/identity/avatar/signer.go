// Package avatar signs stored avatar keys into client-loadable URLs.
package avatar

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Signer presigns GET URLs against the avatar bucket.
type S3Signer struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// NewS3Signer loads AWS config from the environment and builds a presigner.
func NewS3Signer(ctx context.Context, bucket string, ttl time.Duration) (*S3Signer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Signer{
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		ttl:     ttl,
	}, nil
}

func (s *S3Signer) ToSignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign avatar %s: %w", key, err)
	}
	return req.URL, nil
}

// StaticSigner maps keys onto a fixed base URL. Used in tests and local
// development where no object store is running.
type StaticSigner struct {
	BaseURL string
}

func (s StaticSigner) ToSignedURL(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	return s.BaseURL + "/" + key, nil
}
