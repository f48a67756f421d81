// Package storage archives uploaded files in object storage.
package storage

import "context"

// UploadInput is a single object to store.
type UploadInput struct {
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
}

// UploadResult describes the stored object.
type UploadResult struct {
	Key  string
	URL  string
	ETag string
}

// Uploader stores blobs.
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (*UploadResult, error)
}
