package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/zerofs/pkg/zferrors"
)

// Config configures the S3-compatible client. Endpoint and ForcePathStyle
// exist for S3-compatible stores (MinIO, Backblaze's S3-compatible
// endpoint) that don't speak the virtual-hosted addressing AWS defaults
// to.
type Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// FileListing is one entry from ListFiles: the object key, its
// server-assigned id (the ETag with its surrounding quotes removed),
// size, and upload time in epoch milliseconds.
type FileListing struct {
	FileID          string
	FileName        string
	ContentLength   int64
	UploadTimestamp int64
}

// Store is the C1 RPC contract named in the spec: list_buckets,
// list_files, download_file, upload_file, delete_file. Filesystem
// layers depend on this interface rather than *Client directly, so a
// fake backend can stand in under test (the pattern rclone and
// gcsfuse use to keep their mount layer testable without a real
// bucket).
type Store interface {
	ListBuckets(ctx context.Context) ([]string, error)
	ListFiles(ctx context.Context) ([]FileListing, error)
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	UploadFile(ctx context.Context, key string, body []byte) (fileID string, err error)
	DeleteFile(ctx context.Context, key string) error
}

// Client implements component C1 against an S3-compatible bucket.
type Client struct {
	api    *s3.Client
	bucket string
}

var _ Store = (*Client)(nil)

// New builds a Client, loading AWS credentials and region from the
// standard environment/shared-config chain.
func New(ctx context.Context, bucket string, cfg Config) (*Client, error) {
	if bucket == "" {
		return nil, zferrors.Config("bucket name cannot be empty")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, zferrors.Configf(err, "loading AWS config")
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Client{api: api, bucket: bucket}, nil
}

// BucketExists verifies the configured bucket is reachable, used at
// mount time to fail fast on a typo'd or inaccessible bucket.
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, zferrors.IO(err, "checking bucket %q", c.bucket)
	}
	return true, nil
}

// ListBuckets lists every bucket visible to the configured credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	result, err := c.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, zferrors.IO(err, "listing buckets")
	}
	names := make([]string, 0, len(result.Buckets))
	for _, b := range result.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

// ListFiles lists every object in the bucket, paginating through
// ListObjectsV2 until the listing is exhausted.
func (c *Client) ListFiles(ctx context.Context) ([]FileListing, error) {
	var out []FileListing
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, zferrors.IO(err, "listing objects in bucket %q", c.bucket)
		}
		for _, obj := range page.Contents {
			out = append(out, FileListing{
				FileID:          strings.Trim(aws.ToString(obj.ETag), `"`),
				FileName:        aws.ToString(obj.Key),
				ContentLength:   aws.ToInt64(obj.Size),
				UploadTimestamp: obj.LastModified.UnixMilli(),
			})
		}
	}
	return out, nil
}

// DownloadFile fetches key's full body.
func (c *Client) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, zferrors.IO(err, "downloading %q", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, zferrors.IO(err, "reading body of %q", key)
	}
	return data, nil
}

// UploadFile PUTs body under key, whole-object (no multipart, no
// partial-range updates — see the spec's Non-goals). It returns the
// server-assigned file id (the object's ETag) that becomes the File's
// new object_id.
func (c *Client) UploadFile(ctx context.Context, key string, body []byte) (fileID string, err error) {
	result, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", zferrors.IO(err, "uploading %q", key)
	}
	return strings.Trim(aws.ToString(result.ETag), `"`), nil
}

// DeleteFile removes key from the bucket.
func (c *Client) DeleteFile(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return zferrors.IO(err, "deleting %q", key)
	}
	return nil
}
