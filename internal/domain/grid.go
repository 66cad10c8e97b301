package domain

import "github.com/shopspring/decimal"

type ColumnKind string

const (
	ColumnSKU      ColumnKind = "sku"
	ColumnBrand    ColumnKind = "brand"
	ColumnCategory ColumnKind = "category"
	ColumnChannel  ColumnKind = "channel"
	ColumnWeekly   ColumnKind = "weekly"
	ColumnDaily    ColumnKind = "daily"
)

func (k ColumnKind) Valid() bool {
	switch k {
	case ColumnSKU, ColumnBrand, ColumnCategory, ColumnChannel, ColumnWeekly, ColumnDaily:
		return true
	}
	return false
}

// RefBound kinds need a reference id before they carry values.
func (k ColumnKind) RefBound() bool {
	switch k {
	case ColumnSKU, ColumnBrand, ColumnCategory, ColumnChannel:
		return true
	}
	return false
}

func (k ColumnKind) Derived() bool {
	return k == ColumnWeekly || k == ColumnDaily
}

type Column struct {
	ID    string     `json:"id"`
	Kind  ColumnKind `json:"kind"`
	RefID string     `json:"ref_id,omitempty"`
}

func (c Column) Selected() bool {
	return !c.Kind.RefBound() || c.RefID != ""
}

type Filters struct {
	RegionID  string `json:"region_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Match reports whether a customer passes the filters. Empty filters match
// everything.
func (f Filters) Match(cust Customer) bool {
	if f.RegionID != "" && cust.RegionID != f.RegionID {
		return false
	}
	if f.ChannelID != "" && cust.ChannelID != f.ChannelID {
		return false
	}
	return true
}

type Totals struct {
	Cases decimal.Decimal `json:"cases"`
	Value decimal.Decimal `json:"value"`
}

func (t Totals) Add(cases, value decimal.Decimal) Totals {
	return Totals{Cases: t.Cases.Add(cases), Value: t.Value.Add(value)}
}

type GridCell struct {
	ColumnID     string          `json:"column_id"`
	CustomerID   string          `json:"customer_id"`
	SKUID        string          `json:"sku_id,omitempty"`
	Cases        decimal.Decimal `json:"cases"`
	Value        decimal.Decimal `json:"value"`
	Editable     bool            `json:"editable"`
	HasError     bool            `json:"has_error,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RawInput     string          `json:"raw_input,omitempty"`
}

type GridColumn struct {
	Column
	Label    string `json:"label"`
	Editable bool   `json:"editable"`
	Missing  bool   `json:"missing,omitempty"`
	Totals   Totals `json:"totals"`
}

type GridRow struct {
	CustomerID   string          `json:"customer_id"`
	CustomerCode string          `json:"customer_code"`
	CustomerName string          `json:"customer_name"`
	RegionID     string          `json:"region_id"`
	ChannelID    string          `json:"channel_id"`
	Cells        []GridCell      `json:"cells"`
	Totals       Totals          `json:"totals"`
	// Weekly is Totals.Cases / 4 and Daily is Totals.Cases / 30, each rounded
	// half up to 2 decimal places. Weekly and daily columns carry the same
	// rounded figures.
	Weekly decimal.Decimal `json:"weekly"`
	Daily  decimal.Decimal `json:"daily"`
}

type GridSummary struct {
	Customers           int             `json:"customers"`
	CustomersTargeted   int             `json:"customers_targeted"`
	SKUColumns          int             `json:"sku_columns"`
	CoveragePercent     decimal.Decimal `json:"coverage_percent"`
	AvgCasesPerTargeted decimal.Decimal `json:"avg_cases_per_targeted"`
}

type TargetGrid struct {
	BatchID        string       `json:"batch_id"`
	Status         BatchStatus  `json:"status"`
	Editable       bool         `json:"editable"`
	Revision       int64        `json:"revision"`
	Filters        Filters      `json:"filters"`
	Columns        []GridColumn `json:"columns"`
	Rows           []GridRow    `json:"rows"`
	GrandTotals    Totals       `json:"grand_totals"`
	DataIncomplete bool         `json:"data_incomplete"`
	MissingRefs    []string     `json:"missing_refs,omitempty"`
	Summary        GridSummary  `json:"summary"`
}

// Cell returns the cell of a row under the given column.
func (r GridRow) Cell(columnID string) (GridCell, bool) {
	for _, c := range r.Cells {
		if c.ColumnID == columnID {
			return c, true
		}
	}
	return GridCell{}, false
}

// Row returns the grid row for a customer.
func (g TargetGrid) Row(customerID string) (GridRow, bool) {
	for _, r := range g.Rows {
		if r.CustomerID == customerID {
			return r, true
		}
	}
	return GridRow{}, false
}
