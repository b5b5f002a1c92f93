// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dpordesk/dpordesk/internal/logging"
)

// MinioConfig configures the S3-compatible blob store client.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Minio implements Store on any S3-compatible object storage service.
type Minio struct {
	client *minio.Client
}

// NewMinio creates a blob store client for the given endpoint.
func NewMinio(cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client for %s: %w", cfg.Endpoint, err)
	}
	logging.Info().Str("endpoint", cfg.Endpoint).Msg("Blob store client initialized")
	return &Minio{client: client}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (m *Minio) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// Concurrent creation by another instance is fine.
		exists, existsErr := m.client.BucketExists(ctx, bucket)
		if existsErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	logging.Info().Str("bucket", bucket).Msg("Archive bucket created")
	return nil
}

// Upload writes data to bucket/path, overwriting any existing object.
func (m *Minio) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

// Download reads the object at bucket/path.
func (m *Minio) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	defer obj.Close() //nolint:errcheck // read-only stream

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

// List returns the immediate child names under prefix.
func (m *Minio) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	// Non-recursive listing: directory-like children come back as
	// common prefixes ending in "/".
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		name = strings.TrimSuffix(name, "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
