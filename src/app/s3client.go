package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ClientMinio interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (info minio.UploadInfo, err error)
}

// Mirror copies generated artifacts somewhere besides the local static root.
type Mirror interface {
	MirrorFile(ctx context.Context, key, file string) error
}

type MinioS3Client struct {
	endpoint   string
	bucketName string
	client     ClientMinio
}

const defaultContentType = "application/octet-stream"

// NewMinioS3Client creates a new MinioS3Client instance.
func NewMinioS3Client(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool) (*MinioS3Client, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio S3 client for %s: %w", endpoint, err)
	}
	return NewMinioS3ClientWith(endpoint, bucketName, minioClient), nil
}

func NewMinioS3ClientWith(endpoint, bucketName string, client ClientMinio) *MinioS3Client {
	return &MinioS3Client{
		endpoint:   endpoint,
		bucketName: bucketName,
		client:     client,
	}
}

// UploadFile uploads a stream to the configured bucket.
func (s3 *MinioS3Client) UploadFile(ctx context.Context, uploadPath string, object io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = defaultContentType
	}
	_, err := s3.client.PutObject(ctx,
		s3.bucketName,
		uploadPath,
		object,
		size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s3.bucketName, uploadPath, err)
	}
	return nil
}

func (s3 *MinioS3Client) MirrorFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}
	if err := s3.UploadFile(ctx, key, f, stat.Size(), mime.TypeByExtension(filepath.Ext(file))); err != nil {
		return err
	}
	slog.Debug("mirrored artifact", "endpoint", s3.endpoint, "bucket", s3.bucketName, "key", key)
	return nil
}
