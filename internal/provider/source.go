package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"forestagree/internal/types"
)

// ObjectSource abstracts keyed object retrieval for testability. Keys are
// slash separated and relative to the source root. A missing object must be
// reported with types.ErrCodeNotFoundObject.
type ObjectSource interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3GetAPI is the subset of the S3 client used by S3Source.
type S3GetAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads objects below a prefix of an S3 bucket.
type S3Source struct {
	client S3GetAPI
	bucket string
	prefix string
}

// NewS3Source creates an S3Source for s3://bucket/prefix.
func NewS3Source(client S3GetAPI, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// GetObject fetches bucket/prefix/key.
func (s *S3Source) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	full := key
	if s.prefix != "" {
		full = s.prefix + "/" + key
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, types.NewAppError(types.ErrCodeNotFoundObject,
				fmt.Sprintf("s3://%s/%s does not exist", s.bucket, full), err)
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamProvider,
			fmt.Sprintf("failed to fetch s3://%s/%s", s.bucket, full), err)
	}
	return out.Body, nil
}

// DirSource reads objects from a local directory tree.
type DirSource struct {
	root string
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// GetObject opens root/key.
func (d *DirSource) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	p := filepath.Join(d.root, filepath.FromSlash(path.Clean("/"+key)))
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewAppError(types.ErrCodeNotFoundObject, fmt.Sprintf("%s does not exist", p), err)
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamProvider, fmt.Sprintf("failed to open %s", p), err)
	}
	return f, nil
}

// MemSource serves objects from memory. Used by tests and for fixtures.
type MemSource map[string][]byte

// GetObject returns the object stored under key.
func (m MemSource) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m[key]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundObject, fmt.Sprintf("%s does not exist", key), nil)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ParseS3URI splits s3://bucket/prefix. ok is false for other schemes.
func ParseS3URI(uri string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

// NewSource picks the source for a dataset location: an S3 URI or a local
// directory.
func NewSource(location string, client S3GetAPI) (ObjectSource, error) {
	if bucket, prefix, ok := ParseS3URI(location); ok {
		if client == nil {
			return nil, types.NewAppError(types.ErrCodeConfigInvalidParameter,
				"an S3 client is required for "+location, nil)
		}
		return NewS3Source(client, bucket, prefix), nil
	}
	if strings.Contains(location, "://") {
		return nil, types.NewAppError(types.ErrCodeConfigUnsupportedTarget,
			fmt.Sprintf("unsupported dataset source %q", location), nil)
	}
	if location == "" {
		return nil, types.NewAppError(types.ErrCodeConfigMissingPath, "dataset source is required", nil)
	}
	return NewDirSource(location), nil
}
