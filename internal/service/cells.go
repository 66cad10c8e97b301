package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/grid"
)

var maxCellQty = decimal.NewFromInt(1_000_000_000)

// ParseQuantity reads a cell entry in cases. An empty entry means zero.
// The returned message is user facing and empty when the entry is valid.
func ParseQuantity(raw string) (decimal.Decimal, string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, ""
	}
	qty, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, "quantity must be a number"
	}
	if qty.IsNegative() {
		return decimal.Zero, "quantity must not be negative"
	}
	if !qty.Equal(qty.Round(2)) {
		return decimal.Zero, "quantity allows at most 2 decimal places"
	}
	if qty.GreaterThanOrEqual(maxCellQty) {
		return decimal.Zero, "quantity is too large"
	}
	return qty, ""
}

// SetCell writes one target cell. Unparseable, negative or over-precise
// input is recorded against the cell and returned as a flagged cell with a
// nil error; the stored value stays as it was.
func (s *Service) SetCell(ctx context.Context, in domain.CellInput) (domain.GridCell, error) {
	batch, err := s.repo.GetBatch(ctx, in.BatchID)
	if err != nil {
		return domain.GridCell{}, err
	}
	if !batch.Status.Editable() {
		return domain.GridCell{}, fmt.Errorf("%w: batch is %s", domain.ErrBatchLocked, batch.Status)
	}

	customer, ok := s.catalog.Customer(in.CustomerID)
	if !ok {
		return domain.GridCell{}, fmt.Errorf("%w: customer %s", domain.ErrNotFound, in.CustomerID)
	}
	sku, ok := s.catalog.SKU(in.SKUID)
	if !ok {
		return domain.GridCell{}, fmt.Errorf("%w: sku %s", domain.ErrNotFound, in.SKUID)
	}
	if batch.RegionID != "" && customer.RegionID != batch.RegionID {
		return domain.GridCell{}, domain.Invalid("customer_id", "customer %s is outside batch region %s", customer.ID, batch.RegionID)
	}

	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	actor, _ := ActorFromContext(ctx)

	qty, problem := ParseQuantity(in.Qty)
	if problem != "" {
		return s.flagCell(ctx, batch, sku, domain.CellIssue{
			BatchID:    batch.ID,
			CustomerID: customer.ID,
			SKUID:      sku.ID,
			RawInput:   in.Qty,
			Message:    problem,
			RecordedAt: at,
		})
	}

	res, err := s.repo.UpsertTargetRow(ctx, domain.RowWrite{
		BatchID:    batch.ID,
		PeriodID:   batch.PeriodID,
		CustomerID: customer.ID,
		SKUID:      sku.ID,
		Qty:        qty,
		Value:      s.pricer.LineValue(qty, sku),
		At:         at,
		Actor:      actor.UserID,
	})
	if err != nil {
		return domain.GridCell{}, err
	}
	if res.Changed {
		stored := decimal.Zero
		if res.Row != nil {
			stored = res.Row.TargetQty
		}
		s.advanceViews(batch.ID, res.Revision, func(g *grid.Grid) {
			g.Apply(customer.ID, sku.ID, stored)
		})
	}

	cell := domain.GridCell{CustomerID: customer.ID, SKUID: sku.ID, Cases: decimal.Zero, Value: decimal.Zero, Editable: true}
	if res.Row != nil {
		cell.Cases = res.Row.TargetQty
		cell.Value = s.pricer.LineValue(res.Row.TargetQty, sku)
	}
	return cell, nil
}

func (s *Service) flagCell(ctx context.Context, batch *domain.TargetBatch, sku domain.SKU, issue domain.CellIssue) (domain.GridCell, error) {
	rev, err := s.repo.RecordCellIssue(ctx, issue)
	if err != nil {
		return domain.GridCell{}, err
	}
	s.advanceViews(batch.ID, rev, func(g *grid.Grid) {
		g.MarkIssue(issue)
	})
	s.log.WithField("batch_id", batch.ID).WithField("cell", issue.CustomerID+"/"+issue.SKUID).Debug("rejected cell input")

	cell := domain.GridCell{
		CustomerID:   issue.CustomerID,
		SKUID:        issue.SKUID,
		Cases:        decimal.Zero,
		Value:        decimal.Zero,
		Editable:     true,
		HasError:     true,
		ErrorMessage: issue.Message,
		RawInput:     issue.RawInput,
	}
	rows, err := s.repo.ListTargetRows(ctx, batch.ID)
	if err != nil {
		return cell, nil
	}
	for _, row := range rows {
		if row.CustomerID == issue.CustomerID && row.SKUID == issue.SKUID {
			cell.Cases = row.TargetQty
			cell.Value = s.pricer.LineValue(row.TargetQty, sku)
			break
		}
	}
	return cell, nil
}
