package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"forestagree/internal/types"
)

// ObjectStore persists named blobs and returns their location.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FileStore writes objects below a local folder.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir. The folder is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Put writes root/key and returns the file path.
func (f *FileStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	p := filepath.Join(f.root, filepath.FromSlash(path.Clean("/"+key)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to create folder for %s", p), err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to write %s", p), err)
	}
	return p, nil
}

// S3PutAPI is the subset of the S3 client used by S3Store.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes objects below a prefix of an S3 bucket.
type S3Store struct {
	client S3PutAPI
	bucket string
	prefix string
}

// NewS3Store creates an S3Store for s3://bucket/prefix.
func NewS3Store(client S3PutAPI, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads key and returns its s3:// URI.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	full := key
	if s.prefix != "" {
		full = s.prefix + "/" + key
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	uri := fmt.Sprintf("s3://%s/%s", s.bucket, full)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStorage, "failed to upload "+uri, err)
	}
	return uri, nil
}
