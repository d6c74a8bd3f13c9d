package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the mirror bucket.
type S3Config struct {
	Bucket string
	Region string
	// Prefix is prepended to every object key.
	Prefix string
	// Endpoint selects an S3-compatible service addressed path-style.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// contentTypes maps output artifact extensions to their MIME type.
var contentTypes = map[string]string{
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
}

// S3Storage writes locally like LocalStorage and mirrors committed artifacts
// to a bucket.
type S3Storage struct {
	*LocalStorage
	client   *s3.Client
	bucket   string
	region   string
	prefix   string
	endpoint string
}

// NewS3Storage creates an S3Storage whose local tree lives below root.
func NewS3Storage(root string, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, ErrS3NotConfigured
	}
	local, err := NewLocalStorage(root)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		LocalStorage: local,
		client:       client,
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		endpoint:     endpoint,
	}, nil
}

// Mirror uploads data under the configured prefix and returns its URL.
func (s *S3Storage) Mirror(ctx context.Context, key string, data io.Reader) (string, error) {
	objectKey := s.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   data,
	}
	if ct, ok := contentTypes[strings.ToLower(path.Ext(objectKey))]; ok {
		input.ContentType = aws.String(ct)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s to S3: %w", objectKey, err)
	}
	return s.objectURL(objectKey), nil
}

func (s *S3Storage) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// objectURL addresses the object virtual-hosted style on AWS and path-style
// on a custom endpoint.
func (s *S3Storage) objectURL(objectKey string) string {
	escaped := (&url.URL{Path: objectKey}).EscapedPath()
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
}

var _ Storage = (*S3Storage)(nil)
