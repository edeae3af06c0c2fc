// Package blobstore implements the Object Store Gateway: presigned PUT
// URLs, authenticated downloads, and deletes over an S3-compatible backend.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// Config configures the S3-compatible backend (real S3, R2, or MinIO in dev).
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Store implements domain.BlobStore against an S3-compatible endpoint.
type Store struct {
	client *s3.Client
	presign *s3.PresignClient
	bucket string
}

// New builds a Store, resolving credentials and endpoint override the way
// the AWS SDK v2 config loader expects.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("op=blobstore.New: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// PresignPut returns a presigned PUT URL for the given key, valid for
// `expires`. Used by the upload entry point so the recruiter uploads the
// file directly to the object store; the core never embeds file content
// in the queue message.
func (s *Store) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("op=blobstore.PresignPut: %w", err)
	}
	return req.URL, nil
}

// Download retrieves a blob's full content.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("op=blobstore.Download: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("op=blobstore.Download: read: %w", err)
	}
	return data, nil
}

// Delete removes a blob; no error if the key is already absent.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("op=blobstore.Delete: %w", err)
	}
	return nil
}

// UploadKey builds the raw-upload object key per the layout
// uploads/{tenant_id}/{job_id}.{ext}.
func UploadKey(tenantID, jobID, ext string) string {
	return fmt.Sprintf("uploads/%s/%s.%s", tenantID, jobID, ext)
}

// DerivedPhotoKey builds the derived profile-photo object key.
func DerivedPhotoKey(tenantID, candidateID string) string {
	return fmt.Sprintf("derived/%s/%s/photo.png", tenantID, candidateID)
}

// DerivedPortfolioKey builds the derived portfolio-capture object key.
func DerivedPortfolioKey(tenantID, candidateID string) string {
	return fmt.Sprintf("derived/%s/%s/portfolio.png", tenantID, candidateID)
}

var _ domain.BlobStore = (*Store)(nil)
