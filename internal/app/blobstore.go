package app

import (
	"context"

	"github.com/resumecore/ingestion-core/internal/adapter/blobstore"
	"github.com/resumecore/ingestion-core/internal/config"
	"github.com/resumecore/ingestion-core/internal/domain"
)

// BuildBlobStore wires the S3-compatible object store from configuration.
func BuildBlobStore(ctx context.Context, cfg config.Config) (domain.BlobStore, error) {
	return blobstore.New(ctx, blobstore.Config{
		Endpoint:  cfg.ObjectStoreURL,
		Region:    cfg.ObjectStoreRegion,
		Bucket:    cfg.ObjectStoreBucket,
		AccessKey: cfg.ObjectStoreKey,
		SecretKey: cfg.ObjectStoreSecret,
	})
}
