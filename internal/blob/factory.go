package blob

import (
	"context"
	"fmt"

	"genomevault/internal/config"
)

// NewFromConfig creates a Store for the configured backend.
func NewFromConfig(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.BlobBackend {
	case "filesystem", "":
		return NewFilesystemStore(cfg.BlobDir)
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 blob backend requires S3_BUCKET")
		}
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    "blobs",
		})
	default:
		return nil, fmt.Errorf("unknown blob backend: %q", cfg.BlobBackend)
	}
}
