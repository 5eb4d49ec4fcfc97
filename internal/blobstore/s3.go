package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
)

// S3Client is the part of *s3.Client used by S3.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds the connection settings of an S3 compatible backend.
type S3Config struct {
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	BaseEndpoint string
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Client builds an S3 client with static credentials and path-style
// addressing, which MinIO and most self-hosted backends expect.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// S3 stores avatars as objects keyed <owner>/avatars/<subject>.
type S3 struct {
	client S3Client
	bucket string
	logger logging.Logger
}

func NewS3(client S3Client, bucket string, logger logging.Logger) *S3 {
	return &S3{client: client, bucket: bucket, logger: logger.With("module", "blobstore")}
}

func objectKey(owner, subject string) string {
	return path.Join(owner, avatarsDir, subject)
}

func (s *S3) WriteAvatar(ctx context.Context, owner, subject string, data []byte) error {
	if err := validName(owner); err != nil {
		return err
	}
	if err := validName(subject); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(owner, subject)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put avatar: %w", err)
	}
	return nil
}

func (s *S3) ReadAvatar(ctx context.Context, owner, subject string) []byte {
	if validName(owner) != nil || validName(subject) != nil {
		return nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(owner, subject)),
	})
	if err != nil {
		s.logger.Warn(ctx, "avatar read failed", "owner", owner, "subject", subject, "error", err)
		return nil
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		s.logger.Warn(ctx, "avatar read failed", "owner", owner, "subject", subject, "error", err)
		return nil
	}
	return data
}
