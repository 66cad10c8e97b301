// Package export renders target grids as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"salestarget/backend/internal/domain"
)

const (
	sheet       = "Sheet1"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	fixedCols   = 4
)

// Filename is the attachment name used for a batch export.
func Filename(batch domain.TargetBatch) string {
	if batch.RegionID == "" {
		return fmt.Sprintf("targets-%s.xlsx", batch.PeriodLabel)
	}
	return fmt.Sprintf("targets-%s-%s.xlsx", batch.PeriodLabel, batch.RegionID)
}

// WriteGridXLSX writes one sheet laid out like the grid: customer columns,
// one column per grid column, row totals, then a totals row. Flagged cells
// keep their stored quantity and are highlighted.
func WriteGridXLSX(w io.Writer, batch domain.TargetBatch, g domain.TargetGrid) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	flagged, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"F8CBAD"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	titles := []string{"Customer Code", "Customer", "Region", "Channel"}
	for _, col := range g.Columns {
		titles = append(titles, col.Label)
	}
	titles = append(titles, "Total Cases", "Total Value")
	for i, title := range titles {
		if err := setCell(f, i+1, 1, title); err != nil {
			return err
		}
	}
	if err := styleRow(f, 1, len(titles), header); err != nil {
		return err
	}

	for i, row := range g.Rows {
		r := i + 2
		values := []any{row.CustomerCode, row.CustomerName, row.RegionID, row.ChannelID}
		for j, v := range values {
			if err := setCell(f, j+1, r, v); err != nil {
				return err
			}
		}
		for j, col := range g.Columns {
			cell, _ := row.Cell(col.ID)
			c := fixedCols + j + 1
			if err := setCell(f, c, r, cell.Cases.InexactFloat64()); err != nil {
				return err
			}
			if cell.HasError {
				name, _ := excelize.CoordinatesToCellName(c, r)
				if err := f.SetCellStyle(sheet, name, name, flagged); err != nil {
					return err
				}
			}
		}
		if err := setCell(f, fixedCols+len(g.Columns)+1, r, row.Totals.Cases.InexactFloat64()); err != nil {
			return err
		}
		if err := setCell(f, fixedCols+len(g.Columns)+2, r, row.Totals.Value.InexactFloat64()); err != nil {
			return err
		}
	}

	last := len(g.Rows) + 2
	if err := setCell(f, 1, last, "TOTAL"); err != nil {
		return err
	}
	for j, col := range g.Columns {
		if err := setCell(f, fixedCols+j+1, last, col.Totals.Cases.InexactFloat64()); err != nil {
			return err
		}
	}
	if err := setCell(f, fixedCols+len(g.Columns)+1, last, g.GrandTotals.Cases.InexactFloat64()); err != nil {
		return err
	}
	if err := setCell(f, fixedCols+len(g.Columns)+2, last, g.GrandTotals.Value.InexactFloat64()); err != nil {
		return err
	}
	if err := styleRow(f, last, len(titles), bold); err != nil {
		return err
	}

	if err := f.SetColWidth(sheet, "A", "B", 24); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      fixedCols,
		YSplit:      1,
		TopLeftCell: "E2",
		ActivePane:  "bottomRight",
	}); err != nil {
		return err
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   Filename(batch),
		Subject: fmt.Sprintf("%s targets, status %s, revision %d", batch.PeriodLabel, batch.Status, g.Revision),
	}); err != nil {
		return err
	}
	return f.Write(w)
}

func setCell(f *excelize.File, col, row int, value any) error {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, name, value)
}

func styleRow(f *excelize.File, row, cols, style int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}
