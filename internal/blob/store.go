// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package blob provides durable object storage for archive partitions.
//
// Two implementations exist: Minio speaks to any S3-compatible service
// and is the production path; FS stores objects on the local filesystem
// for development and tests. The archiver depends only on the Store
// interface.
package blob

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Download for absent objects.
var ErrObjectNotFound = errors.New("blob: object not found")

// Store is the blob store contract.
type Store interface {
	// EnsureBucket creates the bucket if it does not exist. Idempotent.
	EnsureBucket(ctx context.Context, bucket string) error

	// Upload writes data to bucket/path, overwriting any existing object.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error

	// Download reads the object at bucket/path, or ErrObjectNotFound.
	Download(ctx context.Context, bucket, path string) ([]byte, error)

	// List returns the immediate child names under prefix (prefix must
	// end with "/" or be empty). Directory-like children are returned
	// without a trailing slash.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}
