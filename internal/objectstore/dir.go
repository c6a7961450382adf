// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirStore copies uploads into a local directory tree. It serves
// deployments without object storage.
type DirStore struct {
	Root    string
	BaseURL string
}

// Upload copies file to Root/<category>-replay/<name>.
func (d DirStore) Upload(ctx context.Context, file, category string) (Object, error) {
	return d.copy(ctx, file, ArchiveKey(category, file))
}

// UploadThumbnail copies file to Root/<category>-replay/thumbnails/<name>.
func (d DirStore) UploadThumbnail(ctx context.Context, file, category string) (Object, error) {
	return d.copy(ctx, file, ThumbnailKey(category, file))
}

// Check verifies Root is a writable directory.
func (d DirStore) Check(context.Context) error {
	info, err := os.Stat(d.Root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", d.Root)
	}
	return nil
}

func (d DirStore) copy(ctx context.Context, file, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	dst := filepath.Join(d.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { // #nosec G301
		return Object{}, err
	}

	src, err := os.Open(file) // #nosec G304
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dst) // #nosec G304
	if err != nil {
		return Object{}, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return Object{}, fmt.Errorf("copy %s: %w", key, err)
	}

	loc := dst
	if d.BaseURL != "" {
		loc = strings.TrimRight(d.BaseURL, "/") + "/" + key
	}
	return Object{Key: key, Location: loc, Size: n}, nil
}
