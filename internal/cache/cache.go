package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"salestarget/backend/internal/domain"
)

// GridCache shares rendered grid snapshots between server instances.
type GridCache interface {
	Get(ctx context.Context, key string) (*domain.TargetGrid, bool, error)
	Set(ctx context.Context, key string, value *domain.TargetGrid, ttl time.Duration) error
}

type NoopGridCache struct{}

func (NoopGridCache) Get(_ context.Context, _ string) (*domain.TargetGrid, bool, error) {
	return nil, false, nil
}

func (NoopGridCache) Set(_ context.Context, _ string, _ *domain.TargetGrid, _ time.Duration) error {
	return nil
}

// GridKey embeds the batch revision and column layout, so any row write,
// status change or column edit produces a new key.
func GridKey(batchID string, revision int64, layout string, filters domain.Filters) string {
	raw := fmt.Sprintf("%s|%d|%s|r:%s|c:%s", batchID, revision, layout, filters.RegionID, filters.ChannelID)
	hash := sha1.Sum([]byte(raw))
	return "targets:grid:" + hex.EncodeToString(hash[:])
}
