package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/singleflight"
)

// S3FileLoader loads ticket exports from an S3 bucket. Object contents
// are cached by key, so repeated reads of the same upload hit S3 once.
type S3FileLoader struct {
	bucket string
	client *s3.Client

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewS3FileLoaderWithClient creates a loader on an existing client, such
// as the one the upload storage already uses.
func NewS3FileLoaderWithClient(bucket string, client *s3.Client) *S3FileLoader {
	return &S3FileLoader{
		bucket: bucket,
		client: client,
		cache:  make(map[string][]byte),
	}
}

// ParseURI splits "s3://bucket/key" into bucket and key.
func ParseURI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// GetFile returns the object stored under key. A missing object yields an
// error matching fs.ErrNotExist.
func (l *S3FileLoader) GetFile(ctx context.Context, key string) ([]byte, error) {
	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[key]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var missing *types.NoSuchKey
			if errors.As(err, &missing) {
				return nil, fmt.Errorf("s3://%s/%s: %w", l.bucket, key, fs.ErrNotExist)
			}
			return nil, fmt.Errorf("failed to get s3://%s/%s: %w", l.bucket, key, err)
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}

		byts := buf.Bytes()

		l.cacheMu.Lock()
		l.cache[key] = byts
		l.cacheMu.Unlock()

		return byts, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Forget drops key from the cache, e.g. after the upload was deleted.
func (l *S3FileLoader) Forget(key string) {
	l.cacheMu.Lock()
	delete(l.cache, key)
	l.cacheMu.Unlock()
}
