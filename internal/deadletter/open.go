package deadletter

import (
	"context"
	"strings"

	"paltabrain/sdk/internal/config"
)

// Open returns an S3-backed store when a bucket is configured and a NoopStore otherwise.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	if strings.TrimSpace(cfg.S3Bucket) == "" {
		return NewNoopStore(), nil
	}
	return NewS3Store(ctx, cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
}
