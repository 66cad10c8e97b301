// Package valuation prices SKUs per case and values target quantities.
package valuation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"salestarget/backend/internal/domain"
)

type SizeBand string

const (
	SizeSmall  SizeBand = "small"
	SizeMedium SizeBand = "medium"
	SizeLarge  SizeBand = "large"
)

var (
	basePrices = map[string]decimal.Decimal{
		"csd":    decimal.NewFromInt(3600),
		"juice":  decimal.NewFromInt(4400),
		"water":  decimal.NewFromInt(2000),
		"energy": decimal.NewFromInt(6000),
	}
	sizeFactors = map[SizeBand]decimal.Decimal{
		SizeSmall:  decimal.NewFromInt(1),
		SizeMedium: decimal.RequireFromString("1.25"),
		SizeLarge:  decimal.RequireFromString("1.5"),
	}
	packFactors = map[string]decimal.Decimal{
		"RGB": decimal.NewFromInt(1),
		"PET": decimal.NewFromInt(1),
		"CAN": decimal.RequireFromString("1.15"),
	}

	fallbackBase = decimal.NewFromInt(3000)
	sizePattern  = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*(ml|cl|l|ltr)\s*$`)
)

// Pricer is the view of the engine the grid and seeding need.
type Pricer interface {
	UnitPrice(sku domain.SKU) decimal.Decimal
	LineValue(qty decimal.Decimal, sku domain.SKU) decimal.Decimal
}

type Engine struct{}

func NewEngine() Engine {
	return Engine{}
}

// UnitPrice is total: unknown labels fall back to neutral factors.
// Catalog loading rejects such SKUs through Check.
func (Engine) UnitPrice(sku domain.SKU) decimal.Decimal {
	base, ok := basePrices[normalize(sku.Category)]
	if !ok {
		base = fallbackBase
	}
	size := decimal.NewFromInt(1)
	if band, err := Band(sku.Size); err == nil {
		size = sizeFactors[band]
	}
	pack, ok := packFactors[strings.ToUpper(strings.TrimSpace(sku.PackType))]
	if !ok {
		pack = decimal.NewFromInt(1)
	}
	return base.Mul(size).Mul(pack)
}

// LineValue rounds qty x unit price half away from zero to whole currency
// units. Quantities are never negative so this is round half up.
func (e Engine) LineValue(qty decimal.Decimal, sku domain.SKU) decimal.Decimal {
	return qty.Mul(e.UnitPrice(sku)).Round(0)
}

// Check reports why a SKU cannot be priced exactly.
func (Engine) Check(sku domain.SKU) error {
	if _, ok := basePrices[normalize(sku.Category)]; !ok {
		return fmt.Errorf("unknown category %q", sku.Category)
	}
	if _, err := Band(sku.Size); err != nil {
		return err
	}
	if _, ok := packFactors[strings.ToUpper(strings.TrimSpace(sku.PackType))]; !ok {
		return fmt.Errorf("unknown pack type %q", sku.PackType)
	}
	return nil
}

// Band classifies a size label such as "330ml", "1.5L" or "50cl".
func Band(size string) (SizeBand, error) {
	match := sizePattern.FindStringSubmatch(strings.ToLower(size))
	if match == nil {
		return "", fmt.Errorf("unrecognised size %q", size)
	}
	amount, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return "", fmt.Errorf("unrecognised size %q", size)
	}
	ml := amount
	switch match[2] {
	case "cl":
		ml = amount * 10
	case "l", "ltr":
		ml = amount * 1000
	}
	switch {
	case ml <= 350:
		return SizeSmall, nil
	case ml <= 750:
		return SizeMedium, nil
	default:
		return SizeLarge, nil
	}
}

func Categories() []string {
	return []string{"csd", "energy", "juice", "water"}
}

func normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
