package export

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"salestarget/backend/internal/domain"
)

func TestWriteGridXLSX(t *testing.T) {
	batch := domain.TargetBatch{ID: "batch-1", PeriodLabel: "2025-09", RegionID: "R1", Status: domain.BatchDraft}
	grid := domain.TargetGrid{
		BatchID: batch.ID,
		Columns: []domain.GridColumn{
			{Column: domain.Column{ID: "col-1", Kind: domain.ColumnSKU, RefID: "S1"}, Label: "CSD-300", Totals: domain.Totals{Cases: decimal.NewFromInt(18)}},
		},
		Rows: []domain.GridRow{
			{
				CustomerID: "C1", CustomerCode: "N-001", CustomerName: "One", RegionID: "R1", ChannelID: "CH-DIST",
				Cells:  []domain.GridCell{{ColumnID: "col-1", Cases: decimal.NewFromInt(10), HasError: true}},
				Totals: domain.Totals{Cases: decimal.NewFromInt(10), Value: decimal.NewFromInt(36000)},
			},
		},
		GrandTotals: domain.Totals{Cases: decimal.NewFromInt(18), Value: decimal.NewFromInt(64800)},
	}

	var buf bytes.Buffer
	if err := WriteGridXLSX(&buf, batch, grid); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	checks := map[string]string{
		"A1": "Customer Code",
		"E1": "CSD-300",
		"F1": "Total Cases",
		"A2": "N-001",
		"E2": "10",
		"G2": "36000",
		"A3": "TOTAL",
		"E3": "18",
		"G3": "64800",
	}
	for cell, want := range checks {
		got, err := f.GetCellValue(sheet, cell)
		if err != nil {
			t.Fatalf("read %s: %v", cell, err)
		}
		if got != want {
			t.Fatalf("%s: expected %q, got %q", cell, want, got)
		}
	}
}

func TestFilename(t *testing.T) {
	if got := Filename(domain.TargetBatch{PeriodLabel: "2025-Q3"}); got != "targets-2025-Q3.xlsx" {
		t.Fatalf("unexpected filename %q", got)
	}
	if got := Filename(domain.TargetBatch{PeriodLabel: "2025-09", RegionID: "R1"}); got != "targets-2025-09-R1.xlsx" {
		t.Fatalf("unexpected filename %q", got)
	}
}
