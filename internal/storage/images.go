// Package storage keeps trip reward images in an S3 compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"triptrack/internal/apperr"
)

// AllowedImageTypes maps accepted MIME types to file extensions
var AllowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// RewardPrefix is the key prefix of every uploaded reward image
const RewardPrefix = "rewards/"

// MaxImageBytes bounds a single reward image
const MaxImageBytes = 5 << 20

// ImageStore uploads and removes reward images
type ImageStore interface {
	// Upload stores the image and returns its public URL
	Upload(ctx context.Context, contentType string, size int64, body io.Reader) (string, error)
	// Delete removes the object behind a URL previously returned by Upload
	Delete(ctx context.Context, imageURL string) error
}

type Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Endpoint switches to path-style addressing against an S3 compatible
	// server
	Endpoint string
}

type s3Store struct {
	client *s3.Client
	cfg    Config
}

// NewS3Store creates an image store backed by S3
func NewS3Store(cfg Config) (ImageStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("access key and secret key are required")
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return &s3Store{client: s3.New(opts), cfg: cfg}, nil
}

func (s *s3Store) Upload(ctx context.Context, contentType string, size int64, body io.Reader) (string, error) {
	ext, ok := AllowedImageTypes[contentType]
	if !ok {
		return "", apperr.BadRequest(apperr.CodeInvalidInput, "unsupported image type %q", contentType)
	}
	if size <= 0 || size > MaxImageBytes {
		return "", apperr.BadRequest(apperr.CodeInvalidInput, "image size must be between 1 and %d bytes", MaxImageBytes)
	}

	key := RewardPrefix + uuid.NewString() + ext
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.SubsystemS3, err, "upload image")
	}
	return ObjectURL(s.cfg, key), nil
}

func (s *s3Store) Delete(ctx context.Context, imageURL string) error {
	key, err := KeyFromURL(s.cfg, imageURL)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	return apperr.Wrap(apperr.SubsystemS3, err, "delete image")
}

// ObjectURL is the public URL of key
func ObjectURL(cfg Config, key string) string {
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", cfg.Bucket, cfg.Region, key)
}

// KeyFromURL recovers the object key from a URL built by ObjectURL. URLs
// pointing anywhere other than this bucket's reward prefix are rejected.
func KeyFromURL(cfg Config, imageURL string) (string, error) {
	invalid := apperr.BadRequest(apperr.CodeInvalidInput, "invalid image url %q", imageURL)

	u, err := url.Parse(imageURL)
	if err != nil || u.Path == "" {
		return "", invalid
	}
	base, err := url.Parse(ObjectURL(cfg, ""))
	if err != nil {
		return "", invalid
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return "", invalid
	}

	p := path.Clean("/" + u.Path)
	prefix := path.Clean("/"+base.Path) + "/"
	if prefix == "//" {
		prefix = "/"
	}
	if !strings.HasPrefix(p, prefix) {
		return "", invalid
	}
	key, err := url.PathUnescape(strings.TrimPrefix(p, prefix))
	if err != nil || !strings.HasPrefix(key, RewardPrefix) || len(key) == len(RewardPrefix) {
		return "", invalid
	}
	return key, nil
}
