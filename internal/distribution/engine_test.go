package distribution

import (
	"testing"

	"github.com/shopspring/decimal"

	"salestarget/backend/internal/catalog"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/valuation"
)

func TestDistributeIsDeterministicForSeed(t *testing.T) {
	cat := catalog.Demo()
	engine := NewEngine(valuation.NewEngine(), cat.Channels())
	batch := domain.TargetBatch{ID: "b1", PeriodID: "p1"}

	first := engine.Distribute(batch, cat.Customers(), cat.SKUs(), nil, Weighting{}, NewSource(42))
	second := engine.Distribute(batch, cat.Customers(), cat.SKUs(), nil, Weighting{}, NewSource(42))

	if len(first) == 0 {
		t.Fatalf("expected some rows to be seeded")
	}
	if len(first) != len(second) {
		t.Fatalf("same seed produced %d and %d rows", len(first), len(second))
	}
	for i := range first {
		if first[i].CustomerID != second[i].CustomerID || first[i].SKUID != second[i].SKUID || !first[i].TargetQty.Equal(second[i].TargetQty) {
			t.Fatalf("row %d differs between runs", i)
		}
	}
}

func TestDistributeRowsAreSparseAndValued(t *testing.T) {
	cat := catalog.Demo()
	pricer := valuation.NewEngine()
	engine := NewEngine(pricer, cat.Channels())
	batch := domain.TargetBatch{ID: "b1", PeriodID: "p1"}

	rows := engine.Distribute(batch, cat.Customers(), cat.SKUs(), nil, Weighting{}, NewSource(7))
	total := len(cat.Customers()) * len(cat.SKUs())
	if len(rows) >= total {
		t.Fatalf("expected a sparse result, got %d of %d pairs", len(rows), total)
	}
	seen := map[string]bool{}
	for _, row := range rows {
		if !row.TargetQty.IsPositive() {
			t.Fatalf("seeded a non-positive quantity: %s", row.TargetQty)
		}
		key := Key(row.CustomerID, row.SKUID)
		if seen[key] {
			t.Fatalf("duplicate pair %s/%s", row.CustomerID, row.SKUID)
		}
		seen[key] = true
		sku, _ := cat.SKU(row.SKUID)
		if !row.TargetValue.Valid || !row.TargetValue.Decimal.Equal(pricer.LineValue(row.TargetQty, sku)) {
			t.Fatalf("row value must equal line value")
		}
	}
}

func TestDistributeSkipsExisting(t *testing.T) {
	cat := catalog.Demo()
	engine := NewEngine(valuation.NewEngine(), cat.Channels())
	batch := domain.TargetBatch{ID: "b1"}
	full := Weighting{Inclusion: 1}

	existing := map[string]bool{Key("C1", "S1"): true}
	rows := engine.Distribute(batch, cat.Customers(), cat.SKUs(), existing, full, NewSource(1))
	for _, row := range rows {
		if row.CustomerID == "C1" && row.SKUID == "S1" {
			t.Fatalf("existing pair must not be overwritten")
		}
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	w := Weighting{MinCases: 10, MaxCases: 3}.Normalize()
	if w.MaxCases < w.MinCases {
		t.Fatalf("max cases %d below min %d", w.MaxCases, w.MinCases)
	}
	if w.Inclusion != 0.55 || len(w.ChannelFactors) == 0 {
		t.Fatalf("expected default inclusion and factors, got %+v", w)
	}
}

func TestDistributeBoundsExtremeWeighting(t *testing.T) {
	cat := catalog.Demo()
	engine := NewEngine(valuation.NewEngine(), cat.Channels())
	batch := domain.TargetBatch{ID: "b1", PeriodID: "p1"}

	cases := []Weighting{
		{ChannelFactors: map[string]float64{"distributor": 1e308}, CategoryFactors: map[string]float64{"water": 1e308}},
		{ChannelFactors: map[string]float64{"distributor": MaxFactor}, CategoryFactors: map[string]float64{"water": MaxFactor}, MinCases: 1 << 40, MaxCases: 1 << 41},
	}
	for i, w := range cases {
		rows := engine.Distribute(batch, cat.Customers(), cat.SKUs(), nil, w, NewSource(1))
		if len(rows) == 0 {
			t.Fatalf("case %d: expected rows", i)
		}
		for _, row := range rows {
			if row.TargetQty.GreaterThan(decimal.NewFromInt(MaxSeedCases)) {
				t.Fatalf("case %d: quantity %s exceeds the seeding cap", i, row.TargetQty)
			}
		}
	}
}

func TestNormalizeCapsCases(t *testing.T) {
	w := Weighting{MinCases: 1 << 40, MaxCases: 1 << 41}.Normalize()
	if w.MinCases != MaxSeedCases || w.MaxCases != MaxSeedCases {
		t.Fatalf("expected both bounds capped to %d, got %d..%d", MaxSeedCases, w.MinCases, w.MaxCases)
	}
}
