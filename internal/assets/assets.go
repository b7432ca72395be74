// Package assets stores and serves the opaque files a dataset package ships
// under its assets/ directory (images, supplementary docs) alongside the
// structured tables.
package assets

import (
	"context"
	"io"
)

// Store persists and retrieves per-(name,version) asset blobs. Implementations
// live in local (filesystem) and s3assets (object storage) and are selected
// by config.AssetsConfig.Store.
type Store interface {
	// Put uploads an asset under the given dataset name/version, reading the
	// full body from r.
	Put(ctx context.Context, name, version, asset string, r io.Reader, size int64) error
	// Open returns a stream for one asset, or a NotFound apperr.Error if it
	// does not exist.
	Open(ctx context.Context, name, version, asset string) (io.ReadCloser, error)
	// URL returns a client-facing location for the asset when the store
	// backs onto a service that can serve it directly (e.g. an S3 public
	// URL), or "" when the caller must stream it through Open instead.
	URL(name, version, asset string) string
}

// Type selects which Store implementation config.AssetsConfig wires up.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)
