package store

import (
	"context"

	"salestarget/backend/internal/domain"
)

// Repository persists periods, batches and the sparse target row store.
// Row writes and status transitions on the same batch are serialized so a
// write never lands on a batch that has left draft or rejected.
type Repository interface {
	EnsurePeriod(ctx context.Context, period domain.Period) (*domain.Period, error)

	CreateBatch(ctx context.Context, batch domain.TargetBatch) (*domain.TargetBatch, error)
	GetBatch(ctx context.Context, id string) (*domain.TargetBatch, error)
	ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.TargetBatch, error)
	TransitionBatch(ctx context.Context, id string, tr domain.Transition) (*domain.TargetBatch, error)

	UpsertTargetRow(ctx context.Context, write domain.RowWrite) (domain.RowWriteResult, error)
	InsertTargetRows(ctx context.Context, batchID string, rows []domain.TargetRow) (int, int64, error)
	ListTargetRows(ctx context.Context, batchID string) ([]domain.TargetRow, error)

	RecordCellIssue(ctx context.Context, issue domain.CellIssue) (int64, error)
	ListCellIssues(ctx context.Context, batchID string) ([]domain.CellIssue, error)

	CreateBatchEvent(ctx context.Context, event domain.BatchEvent) error
	ListBatchEvents(ctx context.Context, batchID string, limit int) ([]domain.BatchEvent, error)
}

func CellKey(customerID string, skuID string) string {
	return customerID + "|" + skuID
}

// ApplyTransition stamps a batch with the outcome of a status change that
// has already passed its checks.
func ApplyTransition(batch *domain.TargetBatch, tr domain.Transition) {
	at := tr.At
	batch.Status = tr.To
	batch.Revision++
	batch.UpdatedAt = at

	switch tr.To {
	case domain.BatchSubmitted:
		batch.SubmittedAt = &at
		batch.DecidedAt = nil
		batch.DecidedBy = ""
		batch.RejectReason = ""
	case domain.BatchApproved:
		batch.DecidedAt = &at
		batch.DecidedBy = tr.Actor
	case domain.BatchRejected:
		batch.DecidedAt = &at
		batch.DecidedBy = tr.Actor
		batch.RejectReason = tr.Reason
	}
}
