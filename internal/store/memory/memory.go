package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/store"
	"salestarget/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	periodsByID   map[string]domain.Period
	periodByLabel map[string]string
	batchesByID   map[string]domain.TargetBatch
	rowsByBatch   map[string]map[string]domain.TargetRow
	clearedAt     map[string]map[string]time.Time
	issuesByBatch map[string]map[string]domain.CellIssue
	eventsByBatch map[string][]domain.BatchEvent
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		periodsByID:   map[string]domain.Period{},
		periodByLabel: map[string]string{},
		batchesByID:   map[string]domain.TargetBatch{},
		rowsByBatch:   map[string]map[string]domain.TargetRow{},
		clearedAt:     map[string]map[string]time.Time{},
		issuesByBatch: map[string]map[string]domain.CellIssue{},
		eventsByBatch: map[string][]domain.BatchEvent{},
	}
}

func (s *Store) EnsurePeriod(_ context.Context, period domain.Period) (*domain.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.periodByLabel[period.Label]; ok {
		existing := s.periodsByID[id]
		return &existing, nil
	}
	if period.ID == "" {
		period.ID = xid.New("period")
	}
	if period.CreatedAt.IsZero() {
		period.CreatedAt = time.Now().UTC()
	}
	s.periodsByID[period.ID] = period
	s.periodByLabel[period.Label] = period.ID
	return &period, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.TargetBatch) (*domain.TargetBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.periodsByID[batch.PeriodID]; !ok {
		return nil, fmt.Errorf("%w: period %s", domain.ErrNotFound, batch.PeriodID)
	}
	for _, existing := range s.batchesByID {
		if existing.PeriodID == batch.PeriodID && existing.RegionID == batch.RegionID {
			return nil, fmt.Errorf("%w: batch %s already covers this period and region", domain.ErrConflict, existing.ID)
		}
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.Status == "" {
		batch.Status = domain.BatchDraft
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = batch.CreatedAt
	s.batchesByID[batch.ID] = batch
	return &batch, nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.TargetBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batchesByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}
	return &batch, nil
}

func (s *Store) ListBatches(_ context.Context, filter domain.BatchFilter) ([]domain.TargetBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TargetBatch, 0, len(s.batchesByID))
	for _, batch := range s.batchesByID {
		if filter.PeriodID != "" && batch.PeriodID != filter.PeriodID {
			continue
		}
		if filter.RegionID != "" && batch.RegionID != filter.RegionID {
			continue
		}
		if filter.Status != "" && batch.Status != filter.Status {
			continue
		}
		out = append(out, batch)
	}
	slices.SortFunc(out, func(a, b domain.TargetBatch) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) TransitionBatch(_ context.Context, id string, tr domain.Transition) (*domain.TargetBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batchesByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}
	if !slices.Contains(tr.From, batch.Status) {
		return nil, fmt.Errorf("%w: batch is %s", domain.ErrInvalidTransition, batch.Status)
	}
	if tr.RequireRows && len(s.rowsByBatch[id]) == 0 {
		return nil, domain.Invalid("rows", "batch has no target rows")
	}
	if tr.RequireNoIssues && len(s.issuesByBatch[id]) > 0 {
		return nil, domain.Invalid("cells", "%d cell(s) hold invalid input", len(s.issuesByBatch[id]))
	}

	store.ApplyTransition(&batch, tr)
	s.batchesByID[id] = batch
	return &batch, nil
}

func (s *Store) UpsertTargetRow(_ context.Context, write domain.RowWrite) (domain.RowWriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.editableBatchLocked(write.BatchID)
	if err != nil {
		return domain.RowWriteResult{}, err
	}

	key := store.CellKey(write.CustomerID, write.SKUID)
	rows := s.rowsByBatch[write.BatchID]
	if rows == nil {
		rows = map[string]domain.TargetRow{}
		s.rowsByBatch[write.BatchID] = rows
	}
	existing, had := rows[key]
	if had && write.At.Before(existing.UpdatedAt) {
		current := existing
		return domain.RowWriteResult{Row: &current, Revision: batch.Revision}, nil
	}
	cleared := s.clearedAt[write.BatchID]
	if deletedAt, ok := cleared[key]; !had && ok && write.At.Before(deletedAt) {
		return domain.RowWriteResult{Revision: batch.Revision}, nil
	}

	_, hadIssue := s.issuesByBatch[write.BatchID][key]
	delete(s.issuesByBatch[write.BatchID], key)

	changed := hadIssue
	var result *domain.TargetRow
	switch {
	case write.Qty.IsZero():
		if cleared == nil {
			cleared = map[string]time.Time{}
			s.clearedAt[write.BatchID] = cleared
		}
		if write.At.After(cleared[key]) {
			cleared[key] = write.At
		}
		if had {
			delete(rows, key)
			changed = true
		}
	case had && existing.TargetQty.Equal(write.Qty):
		current := existing
		result = &current
	default:
		row := domain.TargetRow{
			ID:          existing.ID,
			BatchID:     write.BatchID,
			PeriodID:    write.PeriodID,
			CustomerID:  write.CustomerID,
			SKUID:       write.SKUID,
			UOM:         domain.UOMCases,
			TargetQty:   write.Qty,
			TargetValue: decimal.NewNullDecimal(write.Value),
			UpdatedAt:   write.At,
			UpdatedBy:   write.Actor,
		}
		if row.ID == "" {
			row.ID = xid.New("row")
		}
		rows[key] = row
		delete(cleared, key)
		current := row
		result = &current
		changed = true
	}

	if changed {
		batch.Revision++
		batch.UpdatedAt = time.Now().UTC()
		s.batchesByID[batch.ID] = batch
	}
	return domain.RowWriteResult{Row: result, Changed: changed, Revision: batch.Revision}, nil
}

func (s *Store) InsertTargetRows(_ context.Context, batchID string, rows []domain.TargetRow) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.editableBatchLocked(batchID)
	if err != nil {
		return 0, 0, err
	}
	existing := s.rowsByBatch[batchID]
	if existing == nil {
		existing = map[string]domain.TargetRow{}
		s.rowsByBatch[batchID] = existing
	}

	now := time.Now().UTC()
	inserted := 0
	for _, row := range rows {
		key := store.CellKey(row.CustomerID, row.SKUID)
		if _, ok := existing[key]; ok || !row.TargetQty.IsPositive() {
			continue
		}
		row.BatchID = batchID
		if row.ID == "" {
			row.ID = xid.New("row")
		}
		if row.UOM == "" {
			row.UOM = domain.UOMCases
		}
		if row.UpdatedAt.IsZero() {
			row.UpdatedAt = now
		}
		existing[key] = row
		inserted++
	}
	if inserted > 0 {
		batch.Revision++
		batch.UpdatedAt = now
		s.batchesByID[batchID] = batch
	}
	return inserted, batch.Revision, nil
}

func (s *Store) ListTargetRows(_ context.Context, batchID string) ([]domain.TargetRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.batchesByID[batchID]; !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	out := make([]domain.TargetRow, 0, len(s.rowsByBatch[batchID]))
	for _, row := range s.rowsByBatch[batchID] {
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b domain.TargetRow) int {
		if c := strings.Compare(a.CustomerID, b.CustomerID); c != 0 {
			return c
		}
		return strings.Compare(a.SKUID, b.SKUID)
	})
	return out, nil
}

func (s *Store) RecordCellIssue(_ context.Context, issue domain.CellIssue) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.editableBatchLocked(issue.BatchID)
	if err != nil {
		return 0, err
	}
	issues := s.issuesByBatch[issue.BatchID]
	if issues == nil {
		issues = map[string]domain.CellIssue{}
		s.issuesByBatch[issue.BatchID] = issues
	}
	if issue.RecordedAt.IsZero() {
		issue.RecordedAt = time.Now().UTC()
	}
	issues[store.CellKey(issue.CustomerID, issue.SKUID)] = issue
	batch.Revision++
	batch.UpdatedAt = time.Now().UTC()
	s.batchesByID[batch.ID] = batch
	return batch.Revision, nil
}

func (s *Store) ListCellIssues(_ context.Context, batchID string) ([]domain.CellIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CellIssue, 0, len(s.issuesByBatch[batchID]))
	for _, issue := range s.issuesByBatch[batchID] {
		out = append(out, issue)
	}
	slices.SortFunc(out, func(a, b domain.CellIssue) int {
		return strings.Compare(store.CellKey(a.CustomerID, a.SKUID), store.CellKey(b.CustomerID, b.SKUID))
	})
	return out, nil
}

func (s *Store) CreateBatchEvent(_ context.Context, event domain.BatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = xid.New("event")
	}
	s.eventsByBatch[event.BatchID] = append(s.eventsByBatch[event.BatchID], event)
	return nil
}

// ListBatchEvents returns events newest first.
func (s *Store) ListBatchEvents(_ context.Context, batchID string, limit int) ([]domain.BatchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.eventsByBatch[batchID]
	out := make([]domain.BatchEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) editableBatchLocked(batchID string) (domain.TargetBatch, error) {
	batch, ok := s.batchesByID[batchID]
	if !ok {
		return domain.TargetBatch{}, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	if !batch.Status.Editable() {
		return domain.TargetBatch{}, fmt.Errorf("%w: batch is %s", domain.ErrBatchLocked, batch.Status)
	}
	return batch, nil
}
