// Package provider defines upload targets for ArtifactDB staging files.
//
// An upload session opened against the API tells the CLI where files go:
// either one presigned URL per file, or a bucket/prefix reachable with
// temporary STS credentials. Both are exposed as an Uploader.
package provider

import (
	"context"
	"io"
)

// Uploader stores one file under a key relative to the session root.
//
// Implementations must be safe for concurrent use.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, size int64) error

	// Close releases any resources held by the uploader.
	Close() error
}

// ProviderType identifies an upload target.
type ProviderType string

const (
	// ProviderS3 uploads with an S3 client and STS credentials.
	ProviderS3 ProviderType = "s3"

	// ProviderPresigned uploads with HTTP PUT to presigned URLs.
	ProviderPresigned ProviderType = "presigned"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
