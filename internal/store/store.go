package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/parchmint/quipmirror/internal/telemetry"
)

// contentType is the canonical representation stored for every document.
const contentType = "text/html"

// s3API is the slice of the S3 SDK surface the client uses. Narrow by
// design so tests can substitute an in-memory fake.
type s3API interface {
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client provides inventory listing and document upload against a single
// bucket.
type Client struct {
	api     s3API
	bucket  string
	logger  *slog.Logger
	metrics telemetry.Recorder
}

// New creates a store client over the given S3 API implementation.
func New(api s3API, bucket string, logger *slog.Logger, metrics telemetry.Recorder) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if metrics == nil {
		metrics = telemetry.Noop()
	}

	return &Client{
		api:     api,
		bucket:  bucket,
		logger:  logger,
		metrics: metrics,
	}
}

// NewFromConfig creates a store client backed by a real S3 client built
// from the given AWS configuration.
func NewFromConfig(cfg aws.Config, bucket string, logger *slog.Logger, metrics telemetry.Recorder) *Client {
	return New(s3.NewFromConfig(cfg), bucket, logger, metrics)
}

// ListObjects enumerates every object in the bucket and returns a mapping
// of object key to last-modified timestamp. Pagination is followed to
// exhaustion so the inventory is complete.
func (c *Client) ListObjects(ctx context.Context) (map[string]time.Time, error) {
	start := time.Now()
	objects := make(map[string]time.Time)

	var (
		continuation *string
		pages        int
	)

	for {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			ContinuationToken: continuation,
		})
		if err != nil {
			c.metrics.Count("StoreListErrors", 1)

			return nil, &OpError{Op: "list", Bucket: c.bucket, Err: classifyAPIError(err)}
		}

		pages++

		for _, obj := range out.Contents {
			objects[aws.ToString(obj.Key)] = aws.ToTime(obj.LastModified)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}

		continuation = out.NextContinuationToken
	}

	c.logger.Info("object inventory complete",
		slog.String("bucket", c.bucket),
		slog.Int("objects", len(objects)),
		slog.Int("pages", pages),
	)
	c.metrics.Duration("StoreListDuration", time.Since(start))
	c.metrics.Count("StoreObjectsListed", float64(len(objects)))

	return objects, nil
}

// UploadDocument stores content under the given key together with a
// metadata map. Metadata values are already strings because the store
// accepts string-only metadata; the caller coerces everything else.
func (c *Client) UploadDocument(ctx context.Context, key, content string, metadata map[string]string) error {
	start := time.Now()

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		c.metrics.Count("StoreUploadErrors", 1)

		return &OpError{Op: "upload", Bucket: c.bucket, Key: key, Err: classifyAPIError(err)}
	}

	c.logger.Debug("document uploaded",
		slog.String("key", key),
		slog.Int("content_bytes", len(content)),
	)
	c.metrics.Duration("StoreUploadDuration", time.Since(start))
	c.metrics.Count("StoreUploadsSuccessful", 1)

	return nil
}

// GenerateObjectKey derives the object key for a canonical link. Method
// form of ObjectKey so the engine can reach it through its capability
// interface.
func (c *Client) GenerateObjectKey(link string) string {
	return ObjectKey(link)
}

// classifyAPIError maps SDK errors to the distinguished sentinels.
// Missing-bucket and access-denied get their own kinds; everything else
// passes through as the generic cause.
func classifyAPIError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case "NoSuchBucket":
		return errors.Join(ErrBucketNotFound, err)
	case "AccessDenied":
		return errors.Join(ErrAccessDenied, err)
	default:
		return err
	}
}
