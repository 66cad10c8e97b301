// Package grid projects a batch's sparse target rows onto a customer by
// column matrix and keeps its totals consistent under single-cell edits.
package grid

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/valuation"
)

var (
	weeksPerPeriod = decimal.NewFromInt(4)
	daysPerPeriod  = decimal.NewFromInt(30)
	hundred        = decimal.NewFromInt(100)
)

// Catalog is the reference data a grid resolves ids against.
type Catalog interface {
	Customers() []domain.Customer
	Customer(id string) (domain.Customer, bool)
	SKU(id string) (domain.SKU, bool)
	Channel(id string) (domain.Channel, bool)
}

type Input struct {
	Batch   domain.TargetBatch
	Filters domain.Filters
	Columns []domain.Column
	Rows    []domain.TargetRow
	Issues  []domain.CellIssue
	Catalog Catalog
	Pricer  valuation.Pricer
}

type row struct {
	customer domain.Customer
	qty      map[string]decimal.Decimal
	issues   map[string]domain.CellIssue
	totals   domain.Totals
}

type Grid struct {
	batchID  string
	status   domain.BatchStatus
	revision int64
	filters  domain.Filters

	catalog Catalog
	pricer  valuation.Pricer

	columns    []domain.Column
	colTotals  []domain.Totals
	colMissing []bool
	visible    map[string]bool

	rows     []*row
	rowIndex map[string]*row
	grand    domain.Totals
	missing  map[string]bool
}

// Build lays out the grid. Customers are narrowed by the filters before any
// row is built; facts for customers outside the filter are ignored.
func Build(in Input) *Grid {
	g := &Grid{
		batchID:  in.Batch.ID,
		status:   in.Batch.Status,
		revision: in.Batch.Revision,
		filters:  in.Filters,
		catalog:  in.Catalog,
		pricer:   in.Pricer,
		columns:  append([]domain.Column(nil), in.Columns...),
		visible:  map[string]bool{},
		rowIndex: map[string]*row{},
		missing:  map[string]bool{},
	}
	g.colTotals = make([]domain.Totals, len(g.columns))
	g.colMissing = make([]bool, len(g.columns))
	for j, col := range g.columns {
		g.colTotals[j] = zeroTotals()
		if col.Kind != domain.ColumnSKU || col.RefID == "" {
			continue
		}
		if _, ok := in.Catalog.SKU(col.RefID); !ok {
			g.colMissing[j] = true
			g.missing["sku:"+col.RefID] = true
			continue
		}
		g.visible[col.RefID] = true
	}
	g.grand = zeroTotals()

	for _, cust := range in.Catalog.Customers() {
		if !in.Filters.Match(cust) {
			continue
		}
		r := &row{customer: cust, qty: map[string]decimal.Decimal{}, issues: map[string]domain.CellIssue{}, totals: zeroTotals()}
		g.rows = append(g.rows, r)
		g.rowIndex[cust.ID] = r
	}

	for _, fact := range in.Rows {
		if _, ok := in.Catalog.Customer(fact.CustomerID); !ok {
			g.missing["customer:"+fact.CustomerID] = true
			continue
		}
		sku, ok := in.Catalog.SKU(fact.SKUID)
		if !ok {
			g.missing["sku:"+fact.SKUID] = true
			continue
		}
		r, ok := g.rowIndex[fact.CustomerID]
		if !ok {
			continue
		}
		g.set(r, sku, fact.TargetQty)
	}

	for _, issue := range in.Issues {
		if r, ok := g.rowIndex[issue.CustomerID]; ok {
			r.issues[issue.SKUID] = issue
		}
	}
	return g
}

// Apply updates one cell and every total it feeds by delta. It reports
// false when the cell is not part of this grid.
func (g *Grid) Apply(customerID string, skuID string, qty decimal.Decimal) bool {
	r, ok := g.rowIndex[customerID]
	if !ok {
		return false
	}
	sku, ok := g.catalog.SKU(skuID)
	if !ok {
		return false
	}
	g.set(r, sku, qty)
	delete(r.issues, skuID)
	return true
}

// MarkIssue flags a cell as invalid without changing its value.
func (g *Grid) MarkIssue(issue domain.CellIssue) bool {
	r, ok := g.rowIndex[issue.CustomerID]
	if !ok {
		return false
	}
	r.issues[issue.SKUID] = issue
	return true
}

func (g *Grid) SetRevision(rev int64) {
	g.revision = rev
}

func (g *Grid) Revision() int64 {
	return g.revision
}

func (g *Grid) set(r *row, sku domain.SKU, qty decimal.Decimal) {
	old, had := r.qty[sku.ID]
	if !had {
		old = decimal.Zero
	}
	if qty.IsZero() {
		delete(r.qty, sku.ID)
	} else {
		r.qty[sku.ID] = qty
	}
	dq := qty.Sub(old)
	dv := g.pricer.LineValue(qty, sku).Sub(g.pricer.LineValue(old, sku))
	if dq.IsZero() && dv.IsZero() {
		return
	}
	g.applyDelta(r, sku, dq, dv)
}

// applyDelta is the only path that moves totals. Row, column and grand
// totals all receive the same delta so they cannot drift apart.
func (g *Grid) applyDelta(r *row, sku domain.SKU, dq, dv decimal.Decimal) {
	counted := g.visible[sku.ID]
	for j, col := range g.columns {
		if col.RefID == "" {
			continue
		}
		hit := false
		switch col.Kind {
		case domain.ColumnSKU:
			hit = col.RefID == sku.ID && !g.colMissing[j]
		case domain.ColumnBrand:
			hit = col.RefID == sku.Brand
		case domain.ColumnCategory:
			hit = col.RefID == sku.Category
		case domain.ColumnChannel:
			hit = counted && col.RefID == r.customer.ChannelID
		}
		if hit {
			g.colTotals[j] = g.colTotals[j].Add(dq, dv)
		}
	}
	if counted {
		r.totals = r.totals.Add(dq, dv)
		g.grand = g.grand.Add(dq, dv)
	}
}

// cell derives a cell directly from the row facts.
func (g *Grid) cell(r *row, j int) domain.GridCell {
	col := g.columns[j]
	c := domain.GridCell{ColumnID: col.ID, CustomerID: r.customer.ID, Cases: decimal.Zero, Value: decimal.Zero}
	if !col.Selected() {
		return c
	}
	switch col.Kind {
	case domain.ColumnSKU:
		c.SKUID = col.RefID
		if g.colMissing[j] {
			return c
		}
		sku, _ := g.catalog.SKU(col.RefID)
		if qty, ok := r.qty[col.RefID]; ok {
			c.Cases = qty
			c.Value = g.pricer.LineValue(qty, sku)
		}
		c.Editable = g.status.Editable()
		if issue, ok := r.issues[col.RefID]; ok {
			c.HasError = true
			c.ErrorMessage = issue.Message
			c.RawInput = issue.RawInput
		}
	case domain.ColumnBrand, domain.ColumnCategory:
		for skuID, qty := range r.qty {
			sku, ok := g.catalog.SKU(skuID)
			if !ok {
				continue
			}
			if (col.Kind == domain.ColumnBrand && sku.Brand == col.RefID) || (col.Kind == domain.ColumnCategory && sku.Category == col.RefID) {
				c.Cases = c.Cases.Add(qty)
				c.Value = c.Value.Add(g.pricer.LineValue(qty, sku))
			}
		}
	case domain.ColumnChannel:
		if r.customer.ChannelID == col.RefID {
			t := g.rowTotalsFromFacts(r)
			c.Cases, c.Value = t.Cases, t.Value
		}
	case domain.ColumnWeekly:
		c.Cases, c.Value = per(r.totals, weeksPerPeriod)
	case domain.ColumnDaily:
		c.Cases, c.Value = per(r.totals, daysPerPeriod)
	}
	return c
}

func (g *Grid) rowTotalsFromFacts(r *row) domain.Totals {
	t := zeroTotals()
	for skuID, qty := range r.qty {
		if !g.visible[skuID] {
			continue
		}
		sku, _ := g.catalog.SKU(skuID)
		t = t.Add(qty, g.pricer.LineValue(qty, sku))
	}
	return t
}

// Snapshot renders the grid in its current state.
func (g *Grid) Snapshot() domain.TargetGrid {
	out := domain.TargetGrid{
		BatchID:     g.batchID,
		Status:      g.status,
		Editable:    g.status.Editable(),
		Revision:    g.revision,
		Filters:     g.filters,
		Columns:     make([]domain.GridColumn, len(g.columns)),
		Rows:        make([]domain.GridRow, 0, len(g.rows)),
		GrandTotals: g.grand,
	}

	skuColumns := 0
	for j, col := range g.columns {
		gc := domain.GridColumn{Column: col, Label: g.label(col), Missing: g.colMissing[j], Totals: g.colTotals[j]}
		switch col.Kind {
		case domain.ColumnSKU:
			gc.Editable = out.Editable && col.RefID != "" && !g.colMissing[j]
			if col.RefID != "" && !g.colMissing[j] {
				skuColumns++
			}
		case domain.ColumnWeekly:
			gc.Totals.Cases, gc.Totals.Value = per(g.grand, weeksPerPeriod)
		case domain.ColumnDaily:
			gc.Totals.Cases, gc.Totals.Value = per(g.grand, daysPerPeriod)
		}
		out.Columns[j] = gc
	}

	targeted := 0
	for _, r := range g.rows {
		gr := domain.GridRow{
			CustomerID:   r.customer.ID,
			CustomerCode: r.customer.Code,
			CustomerName: r.customer.Name,
			RegionID:     r.customer.RegionID,
			ChannelID:    r.customer.ChannelID,
			Cells:        make([]domain.GridCell, len(g.columns)),
			Totals:       r.totals,
		}
		gr.Weekly, _ = per(r.totals, weeksPerPeriod)
		gr.Daily, _ = per(r.totals, daysPerPeriod)
		for j := range g.columns {
			gr.Cells[j] = g.cell(r, j)
		}
		if r.totals.Cases.IsPositive() {
			targeted++
		}
		out.Rows = append(out.Rows, gr)
	}

	for ref := range g.missing {
		out.MissingRefs = append(out.MissingRefs, ref)
	}
	sort.Strings(out.MissingRefs)
	out.DataIncomplete = len(out.MissingRefs) > 0

	out.Summary = domain.GridSummary{
		Customers:           len(g.rows),
		CustomersTargeted:   targeted,
		SKUColumns:          skuColumns,
		CoveragePercent:     decimal.Zero,
		AvgCasesPerTargeted: decimal.Zero,
	}
	if len(g.rows) > 0 {
		out.Summary.CoveragePercent = decimal.NewFromInt(int64(targeted)).Mul(hundred).DivRound(decimal.NewFromInt(int64(len(g.rows))), 2)
	}
	if targeted > 0 {
		out.Summary.AvgCasesPerTargeted = g.grand.Cases.DivRound(decimal.NewFromInt(int64(targeted)), 2)
	}
	return out
}

// Verify recomputes every total from the row facts and compares it with
// the incrementally maintained figures.
func (g *Grid) Verify() error {
	grand := zeroTotals()
	colTotals := make([]domain.Totals, len(g.columns))
	for j := range colTotals {
		colTotals[j] = zeroTotals()
	}
	for _, r := range g.rows {
		t := g.rowTotalsFromFacts(r)
		if !sameTotals(t, r.totals) {
			return fmt.Errorf("row %s totals drifted: have %s/%s want %s/%s", r.customer.ID, r.totals.Cases, r.totals.Value, t.Cases, t.Value)
		}
		grand = grand.Add(t.Cases, t.Value)
		for j, col := range g.columns {
			if col.Kind.Derived() {
				continue
			}
			c := g.cell(r, j)
			colTotals[j] = colTotals[j].Add(c.Cases, c.Value)
		}
	}
	if !sameTotals(grand, g.grand) {
		return fmt.Errorf("grand totals drifted: have %s/%s want %s/%s", g.grand.Cases, g.grand.Value, grand.Cases, grand.Value)
	}

	skuSum := zeroTotals()
	for j, col := range g.columns {
		if col.Kind.Derived() {
			continue
		}
		if !sameTotals(colTotals[j], g.colTotals[j]) {
			return fmt.Errorf("column %s totals drifted", col.ID)
		}
		if col.Kind == domain.ColumnSKU {
			skuSum = skuSum.Add(colTotals[j].Cases, colTotals[j].Value)
		}
	}
	if !sameTotals(skuSum, grand) {
		return fmt.Errorf("sku column totals %s/%s differ from grand %s/%s", skuSum.Cases, skuSum.Value, grand.Cases, grand.Value)
	}
	return nil
}

func (g *Grid) label(col domain.Column) string {
	switch col.Kind {
	case domain.ColumnSKU:
		if col.RefID == "" {
			return "Select SKU"
		}
		if sku, ok := g.catalog.SKU(col.RefID); ok {
			return sku.Code
		}
		return col.RefID + " (missing)"
	case domain.ColumnBrand:
		if col.RefID == "" {
			return "Select brand"
		}
		return "Brand " + col.RefID
	case domain.ColumnCategory:
		if col.RefID == "" {
			return "Select category"
		}
		return "Category " + col.RefID
	case domain.ColumnChannel:
		if col.RefID == "" {
			return "Select channel"
		}
		if ch, ok := g.catalog.Channel(col.RefID); ok {
			return ch.Name
		}
		return col.RefID
	case domain.ColumnWeekly:
		return "Weekly"
	case domain.ColumnDaily:
		return "Daily"
	}
	return string(col.Kind)
}

func per(t domain.Totals, n decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	return t.Cases.DivRound(n, 2), t.Value.DivRound(n, 2)
}

func sameTotals(a, b domain.Totals) bool {
	return a.Cases.Equal(b.Cases) && a.Value.Equal(b.Value)
}

func zeroTotals() domain.Totals {
	return domain.Totals{Cases: decimal.Zero, Value: decimal.Zero}
}
