// Package objectstore holds artifact blobs and issues time-bounded
// download URLs. The S3 implementation targets any S3-compatible endpoint
// (MinIO included); the memory implementation backs tests and
// single-process deployments.
package objectstore

import (
	"context"
	"fmt"
	"path"
	"time"
)

// Store is the blob port. Put returns the storage URL of the object;
// end-user downloads always go through Presign.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context, key string) (int64, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ArtifactKey builds the canonical storage key for a document artifact.
func ArtifactKey(documentID string, index int, fileName string) string {
	return path.Join("data", documentID, fmt.Sprintf("%d-%s", index, path.Base(fileName)))
}
