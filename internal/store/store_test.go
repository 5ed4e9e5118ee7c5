package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory s3API. Listing serves pre-built pages; uploads are
// captured for inspection.
type fakeS3 struct {
	pages   []*s3.ListObjectsV2Output
	listErr error

	putErr  error
	puts    []*s3.PutObjectInput
	listIdx int
}

func (f *fakeS3) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	page := f.pages[f.listIdx]
	f.listIdx++

	return page, nil
}

func (f *fakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}

	f.puts = append(f.puts, input)

	return &s3.PutObjectOutput{}, nil
}

// apiError is a minimal smithy.APIError for classification tests.
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func objectPage(truncated bool, keys ...string) *s3.ListObjectsV2Output {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	if truncated {
		out.NextContinuationToken = aws.String("next")
	}

	for i, key := range keys {
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			LastModified: aws.Time(time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)),
		})
	}

	return out
}

func TestListObjects_Pagination(t *testing.T) {
	fake := &fakeS3{pages: []*s3.ListObjectsV2Output{
		objectPage(true, "a.html", "b.html"),
		objectPage(false, "c.html"),
	}}

	client := New(fake, "bucket", nil, nil)

	objects, err := client.ListObjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, objects, 3)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), objects["a.html"])
	assert.Contains(t, objects, "c.html")
}

func TestListObjects_EmptyBucket(t *testing.T) {
	fake := &fakeS3{pages: []*s3.ListObjectsV2Output{objectPage(false)}}

	client := New(fake, "bucket", nil, nil)

	objects, err := client.ListObjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestListObjects_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		sentinel error
	}{
		{"missing bucket", "NoSuchBucket", ErrBucketNotFound},
		{"access denied", "AccessDenied", ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{listErr: &apiError{code: tt.code}}
			client := New(fake, "bucket", nil, nil)

			_, err := client.ListObjects(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var opErr *OpError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, "list", opErr.Op)
			assert.Equal(t, "bucket", opErr.Bucket)
		})
	}
}

func TestListObjects_UnknownErrorPassesThrough(t *testing.T) {
	cause := errors.New("connection reset")
	fake := &fakeS3{listErr: cause}
	client := New(fake, "bucket", nil, nil)

	_, err := client.ListObjects(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBucketNotFound)
}

func TestUploadDocument(t *testing.T) {
	fake := &fakeS3{}
	client := New(fake, "bucket", nil, nil)

	metadata := map[string]string{"quip_thread_id": "T1"}

	err := client.UploadDocument(context.Background(), "quip.example.com/T1.html", "<h1>Hi</h1>", metadata)
	require.NoError(t, err)
	require.Len(t, fake.puts, 1)

	put := fake.puts[0]
	assert.Equal(t, "bucket", aws.ToString(put.Bucket))
	assert.Equal(t, "quip.example.com/T1.html", aws.ToString(put.Key))
	assert.Equal(t, "text/html", aws.ToString(put.ContentType))
	assert.Equal(t, metadata, put.Metadata)

	body, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1>", string(body))
}

func TestUploadDocument_Error(t *testing.T) {
	fake := &fakeS3{putErr: &apiError{code: "AccessDenied"}}
	client := New(fake, "bucket", nil, nil)

	err := client.UploadDocument(context.Background(), "key.html", "content", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccessDenied)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "upload", opErr.Op)
	assert.Equal(t, "key.html", opErr.Key)
}

func TestGenerateObjectKey(t *testing.T) {
	client := New(&fakeS3{}, "bucket", nil, nil)
	assert.Equal(t, "quip.example.com/T1.html", client.GenerateObjectKey("https://quip.example.com/T1"))
}
