package cache

import (
	"context"
	"testing"

	"salestarget/backend/internal/domain"
)

func TestGridKeyChangesWithRevisionLayoutAndFilters(t *testing.T) {
	base := GridKey("b1", 3, "col-1:sku:S1;", domain.Filters{})
	variants := []string{
		GridKey("b1", 4, "col-1:sku:S1;", domain.Filters{}),
		GridKey("b1", 3, "col-1:sku:S2;", domain.Filters{}),
		GridKey("b1", 3, "col-1:sku:S1;", domain.Filters{ChannelID: "RET"}),
		GridKey("b2", 3, "col-1:sku:S1;", domain.Filters{}),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d must not collide with base key", i)
		}
	}
	if base != GridKey("b1", 3, "col-1:sku:S1;", domain.Filters{}) {
		t.Fatalf("key must be stable")
	}
}

func TestNoopGridCacheAlwaysMisses(t *testing.T) {
	var c GridCache = NoopGridCache{}
	if err := c.Set(context.Background(), "k", &domain.TargetGrid{BatchID: "b1"}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Fatalf("noop cache must miss")
	}
}
