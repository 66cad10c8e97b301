// Package distribution seeds sparse starting targets for a batch from a
// weighted random model of channel and category affinity.
package distribution

import (
	"math"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"

	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/valuation"
)

const (
	// MaxFactor bounds every channel and category factor.
	MaxFactor = 100
	// MaxSeedCases bounds the base draw and every seeded quantity.
	MaxSeedCases = 100_000
)

// Weighting tunes the seeding model. Factor maps are keyed by lower-cased
// channel and category names.
type Weighting struct {
	ChannelFactors  map[string]float64 `json:"channel_factors,omitempty" validate:"omitempty,dive,gte=0,lte=100"`
	CategoryFactors map[string]float64 `json:"category_factors,omitempty" validate:"omitempty,dive,gte=0,lte=100"`
	Inclusion       float64            `json:"inclusion,omitempty" validate:"omitempty,gt=0,lte=1"`
	MinCases        int                `json:"min_cases,omitempty" validate:"omitempty,gte=1,lte=100000"`
	MaxCases        int                `json:"max_cases,omitempty" validate:"omitempty,gte=1,lte=100000"`
	Seed            int64              `json:"seed,omitempty"`
}

func DefaultWeighting() Weighting {
	return Weighting{
		ChannelFactors: map[string]float64{
			"distributor":  1.5,
			"wholesaler":   1.2,
			"retail":       1.0,
			"modern trade": 0.9,
			"horeca":       0.6,
		},
		CategoryFactors: map[string]float64{
			"water":  1.4,
			"csd":    1.2,
			"juice":  0.9,
			"energy": 0.6,
		},
		Inclusion: 0.55,
		MinCases:  5,
		MaxCases:  60,
	}
}

// Normalize fills zero fields from the defaults.
func (w Weighting) Normalize() Weighting {
	def := DefaultWeighting()
	if len(w.ChannelFactors) == 0 {
		w.ChannelFactors = def.ChannelFactors
	}
	if len(w.CategoryFactors) == 0 {
		w.CategoryFactors = def.CategoryFactors
	}
	if w.Inclusion <= 0 || math.IsNaN(w.Inclusion) {
		w.Inclusion = def.Inclusion
	}
	w.Inclusion = min(w.Inclusion, 1)
	if w.MinCases < 1 {
		w.MinCases = def.MinCases
	}
	w.MinCases = min(w.MinCases, MaxSeedCases)
	if w.MaxCases < w.MinCases {
		w.MaxCases = max(def.MaxCases, w.MinCases)
	}
	w.MaxCases = min(w.MaxCases, MaxSeedCases)
	return w
}

// Source is the randomness the engine draws from. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

func NewSource(seed int64) Source {
	return rand.New(rand.NewSource(seed))
}

type Engine struct {
	pricer   valuation.Pricer
	channels map[string]string
}

// NewEngine resolves channel ids to names through channels.
func NewEngine(pricer valuation.Pricer, channels []domain.Channel) *Engine {
	names := make(map[string]string, len(channels))
	for _, ch := range channels {
		names[ch.ID] = strings.ToLower(strings.TrimSpace(ch.Name))
	}
	return &Engine{pricer: pricer, channels: names}
}

// Distribute makes a single pass over every (customer, SKU) pair in the
// given order and returns rows only for pairs that are included and not
// already present in existing. Quantities are whole cases.
func (e *Engine) Distribute(
	batch domain.TargetBatch,
	customers []domain.Customer,
	skus []domain.SKU,
	existing map[string]bool,
	w Weighting,
	src Source,
) []domain.TargetRow {
	w = w.Normalize()
	span := w.MaxCases - w.MinCases + 1

	rows := make([]domain.TargetRow, 0, len(customers)*len(skus)/2)
	for _, cust := range customers {
		channelFactor := factor(w.ChannelFactors, e.channels[cust.ChannelID])
		for _, sku := range skus {
			categoryFactor := factor(w.CategoryFactors, strings.ToLower(sku.Category))

			// Draw both numbers for every pair so a seed yields the same
			// layout regardless of what already exists.
			roll := src.Float64()
			base := w.MinCases + src.Intn(span)

			if existing[Key(cust.ID, sku.ID)] {
				continue
			}
			probability := clamp(w.Inclusion*math.Sqrt(channelFactor*categoryFactor), 0.05, 0.95)
			if roll >= probability {
				continue
			}
			cases := math.Round(float64(base) * channelFactor * categoryFactor)
			if cases <= 0 || math.IsNaN(cases) {
				continue
			}
			cases = min(cases, MaxSeedCases)

			qty := decimal.NewFromFloat(cases)
			rows = append(rows, domain.TargetRow{
				BatchID:     batch.ID,
				PeriodID:    batch.PeriodID,
				CustomerID:  cust.ID,
				SKUID:       sku.ID,
				UOM:         domain.UOMCases,
				TargetQty:   qty,
				TargetValue: decimal.NewNullDecimal(e.pricer.LineValue(qty, sku)),
			})
		}
	}
	return rows
}

// Key identifies a (customer, SKU) cell within one batch.
func Key(customerID string, skuID string) string {
	return customerID + "\x00" + skuID
}

// factor falls back to 1 for unknown names and out-of-range values.
func factor(factors map[string]float64, name string) float64 {
	f, ok := factors[name]
	if !ok || math.IsNaN(f) || f < 0 || f > MaxFactor {
		return 1
	}
	return f
}

func clamp(val float64, minVal float64, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
