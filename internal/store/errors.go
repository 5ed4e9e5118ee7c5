// Package store wraps the destination object store (S3) with the two
// operations the mirror needs: full-bucket inventory listing and
// content+metadata upload. Object keys are derived deterministically from
// each document's canonical link.
package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for distinguished object-store failure modes.
// Use errors.Is(err, store.ErrBucketNotFound) to check.
var (
	ErrBucketNotFound = errors.New("store: bucket not found")
	ErrAccessDenied   = errors.New("store: access denied")
)

// OpError wraps an object-store failure with the operation and bucket/key
// context, following the error shape of the underlying SDK wrappers.
type OpError struct {
	Op     string // "list" or "upload"
	Bucket string
	Key    string
	Err    error
}

func (e *OpError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store: %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}

	return fmt.Sprintf("store: %s bucket %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
