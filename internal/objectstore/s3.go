// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package objectstore uploads finished archives and their thumbnails to
// durable storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	contentTypeVideo = "video/mp4"
	contentTypeImage = "image/png"
)

// ErrNotConfigured is returned when storage credentials are missing.
var ErrNotConfigured = errors.New("objectstore: not configured")

// Object describes an uploaded file.
type Object struct {
	Key      string
	Location string
	Size     int64
}

// ArchiveKey is the object key for a video in category.
func ArchiveKey(category, file string) string {
	return path.Join(category+"-replay", filepath.Base(file))
}

// ThumbnailKey is the object key for a thumbnail in category.
func ThumbnailKey(category, file string) string {
	return path.Join(category+"-replay", "thumbnails", filepath.Base(file))
}

// Config holds S3 connection settings.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string // optional; overrides the computed object URL
	PublicRead      bool
}

// IsConfigured reports whether enough settings are present to upload.
func (c Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store uploads to an S3-compatible bucket.
type S3Store struct {
	client s3API
	cfg    Config
}

// NewS3Store creates an S3 client with static credentials.
func NewS3Store(cfg Config) (*S3Store, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = cfg.Region
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{client: s3.New(s3.Options{}, options...), cfg: cfg}, nil
}

// Upload stores a finished archive under "<category>-replay/<name>".
func (s *S3Store) Upload(ctx context.Context, file, category string) (Object, error) {
	return s.put(ctx, file, ArchiveKey(category, file), contentTypeVideo)
}

// UploadThumbnail stores an image under "<category>-replay/thumbnails/<name>".
func (s *S3Store) UploadThumbnail(ctx context.Context, file, category string) (Object, error) {
	return s.put(ctx, file, ThumbnailKey(category, file), contentTypeImage)
}

func (s *S3Store) put(ctx context.Context, file, key, contentType string) (Object, error) {
	f, err := os.Open(file) // #nosec G304
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", file, err)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	}
	if s.cfg.PublicRead {
		in.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return Object{Key: key, Location: s.location(key), Size: info.Size()}, nil
}

func (s *S3Store) location(key string) string {
	switch {
	case s.cfg.PublicBaseURL != "":
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	case s.cfg.Endpoint != "":
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}

// Check verifies the bucket is reachable with the configured credentials.
func (s *S3Store) Check(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}
