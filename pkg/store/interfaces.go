package store

import (
	"context"

	"docuscene/pkg/model"
)

// AssetStore handles asset library persistence.
type AssetStore interface {
	ListAssets(ctx context.Context) ([]*model.AssetLibraryEntry, error)
	SaveAsset(ctx context.Context, e *model.AssetLibraryEntry) error
}

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// RunStore records document processing runs.
type RunStore interface {
	SaveRun(ctx context.Context, m *model.ProcessingMetadata) error
	ListRuns(ctx context.Context, limit int) ([]model.ProcessingMetadata, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
