// Package images stores profile pictures and story thumbnails in an
// S3-compatible bucket.
package images

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"strings"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/metrics"
	"github.com/chillspot/chillspot-api/internal/models"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// KeyPrefix is the folder uploaded objects live in. Each uploader gets a
// subfolder named after their user id.
const KeyPrefix = "images/"

// Store uploads and removes image objects.
type Store interface {
	Upload(ctx context.Context, owner, name, contentType string, body io.Reader) (models.Image, error)
	Delete(ctx context.Context, key string) error
}

// API is the part of the S3 client the bucket uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Bucket is a Store backed by S3.
type Bucket struct {
	api    API
	config *config.S3Config
	logger *logrus.Logger
}

// NewBucket wraps an existing S3 client.
func NewBucket(api API, cfg *config.S3Config, logger *logrus.Logger) *Bucket {
	return &Bucket{api: api, config: cfg, logger: logger}
}

// NewS3Client builds an S3 client from the image config. Static keys are used
// when given, otherwise the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg *config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// New returns the bucket store when S3 is enabled and a store that refuses
// uploads otherwise.
func New(ctx context.Context, cfg *config.S3Config, logger *logrus.Logger) (Store, error) {
	if !cfg.Enabled {
		logger.Warn("S3 disabled; image uploads will be rejected")
		return Disabled{}, nil
	}

	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
	}).Info("S3 image bucket configured")

	return NewBucket(client, cfg, logger), nil
}

// Upload stores body under images/{owner}/{name}-{uuid}.
func (b *Bucket) Upload(ctx context.Context, owner, name, contentType string, body io.Reader) (models.Image, error) {
	key := ObjectKey(owner, name)

	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.config.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	metrics.RecordImageOperation("upload", err)
	if err != nil {
		b.logger.WithError(err).WithField("key", key).Error("Failed to upload image")
		return models.Image{}, apperrors.NewAppError(apperrors.CodeInternalError, "something went wrong", err)
	}

	return models.Image{URL: b.URL(key), Key: key}, nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(key),
	})
	metrics.RecordImageOperation("delete", err)
	if err != nil {
		b.logger.WithError(err).WithField("key", key).Error("Failed to delete image")
		return apperrors.NewAppError(apperrors.CodeInternalError, "something went wrong", err)
	}
	return nil
}

// URL is the public location of key.
func (b *Bucket) URL(key string) string {
	if b.config.PublicURL != "" {
		return strings.TrimRight(b.config.PublicURL, "/") + "/" + key
	}
	if b.config.Endpoint != "" {
		return strings.TrimRight(b.config.Endpoint, "/") + "/" + b.config.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.config.Bucket, b.config.Region, key)
}

// Disabled rejects every upload.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, string, string, io.Reader) (models.Image, error) {
	return models.Image{}, apperrors.NewAppError(apperrors.CodeInternalError, "image storage is not configured", nil)
}

func (Disabled) Delete(context.Context, string) error {
	return apperrors.NewAppError(apperrors.CodeInternalError, "image storage is not configured", nil)
}

// OwnerPrefix is the folder holding owner's uploads.
func OwnerPrefix(owner string) string {
	return KeyPrefix + owner + "/"
}

// Owns reports whether key names an upload in owner's folder.
func Owns(owner, key string) bool {
	return owner != "" && strings.HasPrefix(key, OwnerPrefix(owner)) && !strings.Contains(key, "..")
}

// ObjectKey names an upload of owner. Directory parts of the client file name
// are dropped.
func ObjectKey(owner, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return fmt.Sprintf("%s%s-%s", OwnerPrefix(owner), base, uuid.NewString())
}

// RandomAvatar picks one of the default avatars. The key is left empty so the
// image is never deleted from the bucket.
func RandomAvatar(defaults []string) models.Image {
	if len(defaults) == 0 {
		return models.Image{}
	}
	return models.Image{URL: defaults[rand.IntN(len(defaults))]}
}
