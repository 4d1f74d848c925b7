// Package s3store is the remote store backed by an S3-compatible bucket
// (AWS S3, MinIO, Garage).
package s3store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	apperrors "github.com/alexjbarnes/bucket-sync/internal/errors"
	"github.com/alexjbarnes/bucket-sync/internal/metrics"
	"github.com/alexjbarnes/bucket-sync/internal/models"
	"github.com/alexjbarnes/bucket-sync/internal/remote"
)

// Config holds the connection settings for a bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Store lists, uploads, deletes and downloads objects in one bucket.
type Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// New builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.PathStyle
		// Most S3-compatible servers reject the streaming checksum trailers.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return NewFromClient(client, cfg.Bucket, logger), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *s3.Client, bucket string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{client: client, bucket: bucket, logger: logger}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// LoadAll lists every object in the bucket.
func (s *Store) LoadAll(ctx context.Context) ([]models.FileRecord, error) {
	start := time.Now()

	var recs []models.FileRecord

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordStoreOperation("list", time.Since(start), false)
			return nil, s.storeError("list", "", err)
		}

		for _, obj := range page.Contents {
			recs = append(recs, s.objectRecord(obj))
		}
	}

	metrics.RecordStoreOperation("list", time.Since(start), true)
	s.logger.Debug("listed bucket", slog.String("bucket", s.bucket), slog.Int("count", len(recs)))

	return recs, nil
}

// Save uploads the local file at path under its base name and returns
// the record as the bucket reports it afterwards.
func (s *Store) Save(ctx context.Context, path string) (models.FileRecord, error) {
	start := time.Now()
	name := models.LocalName(filepath.Base(path))

	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		return models.FileRecord{}, fmt.Errorf("%s is a directory", path)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		metrics.RecordStoreOperation("put", time.Since(start), false)
		return models.FileRecord{}, s.storeError("put", name, err)
	}

	metrics.RecordStoreOperation("put", time.Since(start), true)

	rec, err := s.head(ctx, name)
	if err != nil {
		return models.FileRecord{}, err
	}

	rec.Path = path
	s.logger.Debug("uploaded object", slog.String("name", name), slog.Int64("size", rec.Size))

	return rec, nil
}

// Delete removes the object named by rec. S3 treats deleting a missing
// key as success.
func (s *Store) Delete(ctx context.Context, rec models.FileRecord) error {
	start := time.Now()
	name := rec.Name

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		metrics.RecordStoreOperation("delete", time.Since(start), false)
		return s.storeError("delete", name, err)
	}

	metrics.RecordStoreOperation("delete", time.Since(start), true)
	s.logger.Debug("deleted object", slog.String("name", name))

	return nil
}

// Download writes the object to dir, keeping its name, and returns the
// local path.
func (s *Store) Download(ctx context.Context, name, dir string) (string, error) {
	start := time.Now()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		metrics.RecordStoreOperation("get", time.Since(start), false)
		return "", s.storeError("get", name, err)
	}
	defer out.Body.Close()

	path, err := remote.WriteFile(dir, name, out.Body, aws.ToTime(out.LastModified))
	if err != nil {
		metrics.RecordStoreOperation("get", time.Since(start), false)
		return "", fmt.Errorf("writing %s: %w", name, err)
	}

	metrics.RecordStoreOperation("get", time.Since(start), true)

	return path, nil
}

func (s *Store) head(ctx context.Context, name string) (models.FileRecord, error) {
	start := time.Now()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		metrics.RecordStoreOperation("head", time.Since(start), false)
		return models.FileRecord{}, s.storeError("head", name, err)
	}

	metrics.RecordStoreOperation("head", time.Since(start), true)

	return models.NewBuilder().
		Name(name).
		Path(name).
		Size(aws.ToInt64(out.ContentLength)).
		ModifiedAt(aws.ToTime(out.LastModified).Truncate(time.Second)).
		Checksum(cleanETag(aws.ToString(out.ETag))).
		Container(s.bucket).
		Build(), nil
}

func (s *Store) objectRecord(obj types.Object) models.FileRecord {
	key := aws.ToString(obj.Key)

	kind := models.KindFile
	if strings.HasSuffix(key, "/") {
		kind = models.KindFolder
	}

	return models.NewBuilder().
		Name(key).
		Path(key).
		Size(aws.ToInt64(obj.Size)).
		ModifiedAt(aws.ToTime(obj.LastModified).Truncate(time.Second)).
		Checksum(cleanETag(aws.ToString(obj.ETag))).
		Container(s.bucket).
		Kind(kind).
		Build()
}

// storeError classifies an SDK error. Missing keys wrap ErrNotFound;
// failures with no service response wrap ErrStoreUnavailable.
func (s *Store) storeError(op, name string, err error) error {
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
		apiErr   smithy.APIError
	)

	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		err = fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	case !errors.As(err, &apiErr):
		err = fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}

	s.logger.Warn("store operation failed",
		slog.String("op", op),
		slog.String("name", name),
		slog.String("error", err.Error()),
	)

	return &apperrors.StoreError{Op: op, Name: name, Err: err}
}

// cleanETag strips the surrounding quotes S3 puts on ETags.
func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}
