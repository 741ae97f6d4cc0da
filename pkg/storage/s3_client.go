package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the subset of the S3 client the store uses
type ObjectAPI interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store stores exported artifacts in S3
type S3Store struct {
	api       ObjectAPI
	uploader  *manager.Uploader
	presigner *s3.PresignClient
}

// NewS3Store wraps a configured S3 client
func NewS3Store(client *s3.Client) *S3Store {
	store := NewS3StoreWithAPI(client)
	store.presigner = s3.NewPresignClient(client)
	return store
}

// NewS3StoreWithAPI builds a store without presigning support
func NewS3StoreWithAPI(api ObjectAPI) *S3Store {
	return &S3Store{
		api: api,
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = 8 * 1024 * 1024
			u.Concurrency = 2
		}),
	}
}

// Upload streams body to bucket/key
func (s *S3Store) Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	if bucket == "" {
		return errors.New("bucket is required")
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download opens bucket/key. The caller closes the reader.
func (s *S3Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// Delete removes bucket/key
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// GetPresignedURL returns a time-limited download link
func (s *S3Store) GetPresignedURL(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	if s.presigner == nil {
		return "", errors.New("presigning is not configured")
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}
