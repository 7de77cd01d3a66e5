package plots

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultPresignTTL is how long a presigned plot URL stays valid.
const DefaultPresignTTL = 15 * time.Minute

// S3API is the subset of the S3 client used to upload plots.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Presigner is the subset of the S3 presign client used to share plots.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Publisher uploads plots to a bucket and returns presigned GET URLs.
type S3Publisher struct {
	api     S3API
	presign S3Presigner
	dir     string
	bucket  string
	prefix  string
	ttl     time.Duration
}

// NewS3Publisher creates a publisher reading plot files from dir.
func NewS3Publisher(api S3API, presign S3Presigner, dir, bucket, prefix string, ttl time.Duration) *S3Publisher {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &S3Publisher{api: api, presign: presign, dir: dir, bucket: bucket, prefix: prefix, ttl: ttl}
}

// NewS3PublisherFromClient wires a publisher to a real S3 client.
func NewS3PublisherFromClient(client *s3.Client, dir, bucket, prefix string, ttl time.Duration) *S3Publisher {
	return NewS3Publisher(client, s3.NewPresignClient(client), dir, bucket, prefix, ttl)
}

func (p *S3Publisher) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

func (p *S3Publisher) Publish(ctx context.Context, name string) (string, error) {
	f, err := os.Open(filepath.Join(p.dir, name))
	if err != nil {
		return "", fmt.Errorf("opening plot %q: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	key := p.key(name)
	if _, err := p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("image/png"),
	}); err != nil {
		return "", fmt.Errorf("uploading plot %q: %w", key, err)
	}

	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = p.ttl
	})
	if err != nil {
		return "", fmt.Errorf("presigning plot %q: %w", key, err)
	}
	return req.URL, nil
}
