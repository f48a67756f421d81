package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig points at an S3-compatible bucket.
type MinioConfig struct {
	// Endpoint is host[:port], optionally prefixed with http:// or https://.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL replaces endpoint/bucket in returned object URLs.
	PublicURL string
}

// MinioUploader stores objects with minio-go.
type MinioUploader struct {
	cfg    MinioConfig
	client *minio.Client
	base   string
}

func NewMinioUploader(cfg MinioConfig) (*MinioUploader, error) {
	host, secure, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}
	return &MinioUploader{cfg: cfg, client: client, base: fmt.Sprintf("%s://%s/%s", scheme, host, cfg.Bucket)}, nil
}

// Upload puts the object and returns its URL.
func (u *MinioUploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	key := strings.TrimLeft(strings.TrimSpace(input.Key), "/")
	if key == "" {
		return nil, errors.New("storage: object key required")
	}
	if len(input.Body) == 0 {
		return nil, errors.New("storage: empty body")
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := u.client.PutObject(ctx, u.cfg.Bucket, key, bytes.NewReader(input.Body), int64(len(input.Body)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: strings.TrimSpace(input.CacheControl),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: upload failed: %w", err)
	}
	return &UploadResult{Key: key, URL: u.objectURL(key), ETag: info.ETag}, nil
}

// Ready checks that the bucket exists.
func (u *MinioUploader) Ready(ctx context.Context) error {
	ok, err := u.client.BucketExists(ctx, u.cfg.Bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("storage: bucket %s not found", u.cfg.Bucket)
	}
	return nil
}

func (u *MinioUploader) objectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if pub := strings.TrimRight(strings.TrimSpace(u.cfg.PublicURL), "/"); pub != "" {
		return pub + "/" + escaped
	}
	return u.base + "/" + escaped
}

// normalize validates the config and splits the scheme off the endpoint.
func (cfg MinioConfig) normalize() (host string, secure bool, err error) {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return "", false, errors.New("storage: endpoint missing")
	case strings.TrimSpace(cfg.Bucket) == "":
		return "", false, errors.New("storage: bucket missing")
	case strings.TrimSpace(cfg.AccessKey) == "":
		return "", false, errors.New("storage: access key missing")
	case strings.TrimSpace(cfg.SecretKey) == "":
		return "", false, errors.New("storage: secret key missing")
	}

	host = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	secure = cfg.UseSSL
	switch {
	case strings.HasPrefix(host, "https://"):
		host, secure = strings.TrimPrefix(host, "https://"), true
	case strings.HasPrefix(host, "http://"):
		host, secure = strings.TrimPrefix(host, "http://"), false
	}
	if strings.Contains(host, "/") {
		return "", false, errors.New("storage: endpoint must not contain a path")
	}
	return host, secure, nil
}
