package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(cfg.Region),
		config.WithBaseEndpoint(cfg.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// Uploads stores ticket export files that are ingested asynchronously by
// the worker.
type Uploads struct {
	client *s3.Client
	bucket string
}

func NewUploads(client *s3.Client, bucket string) *Uploads {
	return &Uploads{client: client, bucket: bucket}
}

func (u *Uploads) Client() *s3.Client { return u.client }
func (u *Uploads) Bucket() string     { return u.bucket }

// PutFile uploads file under prefix with a generated name that keeps the
// extension of name, and returns the object key. metadata is stored as
// user metadata on the object and may be nil.
func (u *Uploads) PutFile(ctx context.Context, prefix string, name string, file io.ReadSeeker, metadata map[string]string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(path.Ext(name))
	key := path.Join(prefix, id+ext)

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return key, nil
}

func (u *Uploads) DeleteFile(ctx context.Context, key string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

// FileMetadata returns the user metadata stored with key. S3 lower-cases
// metadata keys.
func (u *Uploads) FileMetadata(ctx context.Context, key string) (map[string]string, error) {
	out, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %s: %w", key, err)
	}
	return out.Metadata, nil
}

// MoveFile copies key to newKey, metadata included, and deletes key.
func (u *Uploads) MoveFile(ctx context.Context, key, newKey string) error {
	_, err := u.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(u.bucket),
		CopySource: aws.String(copySource(u.bucket, key)),
		Key:        aws.String(newKey),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", key, newKey, err)
	}
	return u.DeleteFile(ctx, key)
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

// ListFilesWithPrefix lists every object key under prefix.
func (u *Uploads) ListFilesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := u.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}
