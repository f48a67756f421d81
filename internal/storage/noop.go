package storage

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by NoopUploader.
var ErrNotConfigured = errors.New("storage: uploader not configured")

// NoopUploader is used when no storage provider is configured.
type NoopUploader struct{}

func (NoopUploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	return nil, ErrNotConfigured
}
