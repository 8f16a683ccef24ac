// Package archive uploads dump artifacts to S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

// Config holds the object storage settings.
type Config struct {
	// URL is the destination, s3://bucket[/prefix].
	URL             string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// Uploader stores artifacts under <prefix>/<run id>/<file>.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string

	once      sync.Once
	bucketErr error
}

// New creates an uploader. No request is made until the first upload.
func New(cfg Config) (*Uploader, error) {
	bucket, prefix, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &Uploader{client: client, bucket: bucket, prefix: prefix}, nil
}

// ParseURL splits s3://bucket/prefix into its parts.
func ParseURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid archive url: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid archive url %q: expected s3://bucket[/prefix]", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// SplitEndpoint strips an http:// or https:// scheme from an endpoint and
// reports whether TLS should be used. A bare host defaults to TLS.
func SplitEndpoint(raw string) (host string, secure bool) {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(raw, "http://"), "/"), false
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(raw, "https://"), "/"), true
	default:
		return raw, true
	}
}

// Key returns the object key of an artifact.
func (u *Uploader) Key(runID string, a *migration.DumpArtifact) string {
	return path.Join(u.prefix, runID, filepath.Base(a.Path))
}

// Upload stores one artifact. The bucket is created on first use.
func (u *Uploader) Upload(ctx context.Context, runID string, a *migration.DumpArtifact) error {
	u.once.Do(func() {
		u.bucketErr = u.ensureBucket(ctx)
	})
	if u.bucketErr != nil {
		return u.bucketErr
	}

	_, err := u.client.FPutObject(ctx, u.bucket, u.Key(runID, a), a.Path, minio.PutObjectOptions{
		ContentType: contentType(a.Format),
		UserMetadata: map[string]string{
			"service": a.Service,
			"format":  string(a.Format),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filepath.Base(a.Path), err)
	}
	return nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", u.bucket, err)
	}
	return nil
}

func contentType(f migration.ArtifactFormat) string {
	switch f {
	case migration.FormatSQLScript:
		return "application/sql"
	case migration.FormatKeyCommandScript:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
