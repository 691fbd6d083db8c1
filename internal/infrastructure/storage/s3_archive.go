// Package storage archives completed session snapshots to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/erp/receiving/internal/domain/receiving"
	infraconfig "github.com/erp/receiving/internal/infrastructure/config"
)

// ObjectAPI is the subset of the S3 client used by the archive
type ObjectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3SnapshotArchive writes one JSON document per completed session.
// Objects are keyed by location, date and snapshot id, so archiving the same
// snapshot twice is a no-op.
type S3SnapshotArchive struct {
	client ObjectAPI
	bucket string
	prefix string
	logger *zap.Logger
}

// S3SnapshotArchiveOption is a functional option for configuring S3SnapshotArchive
type S3SnapshotArchiveOption func(*S3SnapshotArchive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3SnapshotArchiveOption {
	return func(a *S3SnapshotArchive) {
		a.logger = logger
	}
}

// WithClient replaces the S3 client
func WithClient(client ObjectAPI) S3SnapshotArchiveOption {
	return func(a *S3SnapshotArchive) {
		a.client = client
	}
}

// NewS3SnapshotArchive creates an archive from configuration. It works with
// any S3-compatible backend (AWS S3, MinIO, RustFS).
func NewS3SnapshotArchive(cfg *infraconfig.StorageConfig, opts ...S3SnapshotArchiveOption) (*S3SnapshotArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	a := &S3SnapshotArchive{
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client != nil {
		return a, nil
	}

	if cfg.AccessKey == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	a.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return a, nil
}

// normalizeEndpoint adds a scheme to a bare host. An empty endpoint means AWS itself.
func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		return "", nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("invalid storage endpoint: %w", err)
	}
	return endpoint, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (a *S3SnapshotArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating snapshot archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ObjectKey returns the object key of snapshot
func (a *S3SnapshotArchive) ObjectKey(snapshot *receiving.SessionSnapshot) string {
	return path.Join(a.prefix, snapshot.Key.Location, snapshot.Key.DateString(), snapshot.ID.String()+".json")
}

// Bucket returns the bucket name
func (a *S3SnapshotArchive) Bucket() string {
	return a.bucket
}

// Archive uploads snapshot unless it is already stored
func (a *S3SnapshotArchive) Archive(ctx context.Context, snapshot *receiving.SessionSnapshot) error {
	key := a.ObjectKey(snapshot)

	exists, err := a.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		a.logger.Debug("snapshot already archived", zap.String("object_key", key))
		return nil
	}

	body, err := json.Marshal(newArchiveDocument(snapshot, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"session":     snapshot.Key.String(),
			"completedby": snapshot.CompletedBy,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	a.logger.Info("snapshot archived",
		zap.String("bucket", a.bucket),
		zap.String("object_key", key),
		zap.Int("lines", len(snapshot.Lines)),
	)
	return nil
}

func (a *S3SnapshotArchive) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	// Some S3-compatible services report a missing key only in the message
	if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey") {
		return false, nil
	}
	return false, fmt.Errorf("failed to check object existence: %w", err)
}
