package metadata

import (
	"context"
	"fmt"

	"genomevault/internal/config"
)

// NewFromConfig creates a Store for the configured backend.
func NewFromConfig(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.MetaBackend {
	case "sqlite", "":
		return NewSQLiteStore(cfg.MetaPath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres metadata backend requires POSTGRES_DSN")
		}
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown metadata backend: %q", cfg.MetaBackend)
	}
}
