package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"salestarget/backend/internal/distribution"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/lifecycle"
)

// Submit hands a draft or rejected batch to its approvers. The batch must
// hold at least one target row and no flagged cells.
func (s *Service) Submit(ctx context.Context, batchID string) (domain.TargetBatch, error) {
	return s.transition(ctx, batchID, lifecycle.ActionSubmit, "")
}

func (s *Service) Approve(ctx context.Context, batchID string) (domain.TargetBatch, error) {
	return s.transition(ctx, batchID, lifecycle.ActionApprove, "")
}

func (s *Service) Reject(ctx context.Context, batchID string, reason string) (domain.TargetBatch, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.TargetBatch{}, domain.Invalid("reason", "reject reason is required")
	}
	if len(reason) > 500 {
		return domain.TargetBatch{}, domain.Invalid("reason", "reject reason is too long")
	}
	return s.transition(ctx, batchID, lifecycle.ActionReject, reason)
}

// Reopen moves a rejected batch back to draft.
func (s *Service) Reopen(ctx context.Context, batchID string) (domain.TargetBatch, error) {
	return s.transition(ctx, batchID, lifecycle.ActionReopen, "")
}

func (s *Service) transition(ctx context.Context, batchID string, action lifecycle.Action, reason string) (domain.TargetBatch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.TargetBatch{}, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}

	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.TargetBatch{}, err
	}
	to, err := lifecycle.Next(batch.Status, action)
	if err != nil {
		return domain.TargetBatch{}, err
	}
	if err := s.authorize(actor, batch, action); err != nil {
		return domain.TargetBatch{}, err
	}

	updated, err := s.repo.TransitionBatch(ctx, batchID, domain.Transition{
		From:            lifecycle.Sources(action),
		To:              to,
		At:              time.Now().UTC(),
		Actor:           actor.UserID,
		Reason:          reason,
		RequireRows:     action == lifecycle.ActionSubmit,
		RequireNoIssues: action == lifecycle.ActionSubmit,
	})
	if err != nil {
		return domain.TargetBatch{}, err
	}
	s.dropViews(batchID)

	s.logEvent(ctx, domain.BatchEvent{
		BatchID:    updated.ID,
		Action:     string(action),
		FromStatus: batch.Status,
		ToStatus:   updated.Status,
		Reason:     reason,
	})
	return *updated, nil
}

func (s *Service) authorize(actor domain.Actor, batch *domain.TargetBatch, action lifecycle.Action) error {
	decider := lifecycle.CanDecide(actor, batch.OwnerUserID, s.catalog.ManagerChain(batch.OwnerUserID))
	switch action {
	case lifecycle.ActionApprove, lifecycle.ActionReject:
		if !decider {
			return fmt.Errorf("%w: %s cannot %s this batch", domain.ErrForbidden, actor.UserID, action)
		}
	default:
		if actor.UserID != batch.OwnerUserID && !decider {
			return fmt.Errorf("%w: only the owner or an approver can %s this batch", domain.ErrForbidden, action)
		}
	}
	return nil
}

// Seed fills empty cells of an editable batch with starting targets. Cells
// that already hold a target are never overwritten.
func (s *Service) Seed(ctx context.Context, batchID string, w distribution.Weighting) (domain.SeedResponse, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.SeedResponse{}, err
	}
	if !batch.Status.Editable() {
		return domain.SeedResponse{}, fmt.Errorf("%w: batch is %s", domain.ErrBatchLocked, batch.Status)
	}

	current, err := s.repo.ListTargetRows(ctx, batchID)
	if err != nil {
		return domain.SeedResponse{}, err
	}
	existing := make(map[string]bool, len(current))
	for _, row := range current {
		existing[distribution.Key(row.CustomerID, row.SKUID)] = true
	}

	seed := w.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rows := s.distributor.Distribute(
		*batch,
		s.catalog.CustomersInScope(batch.RegionID, ""),
		s.catalog.SKUs(),
		existing,
		w,
		distribution.NewSource(seed),
	)

	actor, _ := ActorFromContext(ctx)
	now := time.Now().UTC()
	for i := range rows {
		rows[i].UpdatedAt = now
		rows[i].UpdatedBy = actor.UserID
	}

	created, rev, err := s.repo.InsertTargetRows(ctx, batchID, rows)
	if err != nil {
		return domain.SeedResponse{}, err
	}
	if created > 0 {
		s.dropViews(batchID)
	}

	s.log.WithFields(logrus.Fields{"batch_id": batchID, "created": created, "seed": seed}).Info("seeded batch")
	s.logEvent(ctx, domain.BatchEvent{
		BatchID:    batchID,
		Action:     "seed",
		FromStatus: batch.Status,
		ToStatus:   batch.Status,
		Detail:     fmt.Sprintf("created=%d,seed=%d", created, seed),
	})
	return domain.SeedResponse{BatchID: batchID, Created: created, Revision: rev}, nil
}
