// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS implements Store on the local filesystem. Buckets are directories
// under the root; object paths map to file paths. Used in development
// and tests where no object storage service is available.
type FS struct {
	root string
}

// NewFS creates a filesystem blob store rooted at root.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &FS{root: root}, nil
}

// EnsureBucket creates the bucket directory if it does not exist.
func (f *FS) EnsureBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(f.root, bucket), 0o750); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// Upload writes data to bucket/path. The write goes to a temporary file
// first and is renamed into place so readers never observe a partial
// object.
//
//nolint:gosec // G304: paths are derived from internal archive layout
func (f *FS) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	target := filepath.Join(f.root, bucket, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck // best effort cleanup
		os.Remove(tmpName)   //nolint:errcheck // best effort cleanup
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

// Download reads the object at bucket/path.
//
//nolint:gosec // G304: paths are derived from internal archive layout
func (f *FS) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.root, bucket, filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

// List returns the immediate child names under prefix.
func (f *FS) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	dir := filepath.Join(f.root, bucket, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".upload-") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
