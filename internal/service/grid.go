package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"salestarget/backend/internal/cache"
	"salestarget/backend/internal/columns"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/grid"
)

// layoutLocked returns the batch's column registry, creating the default layout
// on first use. Caller must hold s.mu.
func (s *Service) layoutLocked(batchID string) *columns.Registry {
	reg, ok := s.layouts[batchID]
	if !ok {
		reg = columns.NewDefault(s.catalog.SKUs())
		s.layouts[batchID] = reg
	}
	return reg
}

func (s *Service) layout(ctx context.Context, batchID string) (*columns.Registry, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layoutLocked(batchID), nil
}

func (s *Service) ListColumns(ctx context.Context, batchID string) ([]domain.Column, error) {
	reg, err := s.layout(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return reg.List(), nil
}

func (s *Service) AddColumn(ctx context.Context, batchID string, kind domain.ColumnKind) (domain.Column, error) {
	reg, err := s.layout(ctx, batchID)
	if err != nil {
		return domain.Column{}, err
	}
	return reg.Add(kind)
}

// SelectReference binds a column to a catalog reference. The reference must
// exist for the column's kind: SKU id, brand name, category name or
// channel id.
func (s *Service) SelectReference(ctx context.Context, batchID string, columnID string, refID string) (domain.Column, error) {
	reg, err := s.layout(ctx, batchID)
	if err != nil {
		return domain.Column{}, err
	}
	col, ok := reg.Get(columnID)
	if !ok {
		return domain.Column{}, fmt.Errorf("%w: column %s", domain.ErrNotFound, columnID)
	}

	known := true
	switch col.Kind {
	case domain.ColumnSKU:
		_, known = s.catalog.SKU(refID)
	case domain.ColumnBrand:
		known = s.catalog.HasBrand(refID)
	case domain.ColumnCategory:
		known = s.catalog.HasCategory(refID)
	case domain.ColumnChannel:
		_, known = s.catalog.Channel(refID)
	}
	if !known {
		return domain.Column{}, domain.Invalid("ref_id", "unknown %s %q", col.Kind, refID)
	}
	return reg.SelectReference(columnID, refID)
}

func (s *Service) RemoveColumn(ctx context.Context, batchID string, columnID string) error {
	reg, err := s.layout(ctx, batchID)
	if err != nil {
		return err
	}
	return reg.Remove(columnID)
}

// GetGrid renders a batch's grid. Region-scoped batches always render
// their own region whatever filter is asked for.
func (s *Service) GetGrid(ctx context.Context, batchID string, filters domain.Filters) (domain.TargetGrid, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.TargetGrid{}, err
	}
	if batch.RegionID != "" {
		filters.RegionID = batch.RegionID
	}

	s.mu.Lock()
	reg := s.layoutLocked(batchID)
	key := viewKey(batchID, filters)
	if view, ok := s.views[key]; ok && view.grid.Revision() == batch.Revision && view.layoutVersion == reg.Version() {
		snap := view.grid.Snapshot()
		s.mu.Unlock()
		return snap, nil
	}
	layoutVersion := reg.Version()
	layout := reg.List()
	cacheKey := cache.GridKey(batchID, batch.Revision, reg.Fingerprint(), filters)
	s.mu.Unlock()

	if cached, ok, err := s.gridCache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.log.WithError(err).WithField("batch_id", batchID).Warn("grid cache read failed")
	}

	rows, err := s.repo.ListTargetRows(ctx, batchID)
	if err != nil {
		return domain.TargetGrid{}, err
	}
	issues, err := s.repo.ListCellIssues(ctx, batchID)
	if err != nil {
		return domain.TargetGrid{}, err
	}
	g := grid.Build(grid.Input{
		Batch:   *batch,
		Filters: filters,
		Columns: layout,
		Rows:    rows,
		Issues:  issues,
		Catalog: s.catalog,
		Pricer:  s.pricer,
	})
	snap := g.Snapshot()
	if snap.DataIncomplete {
		s.log.WithFields(logrus.Fields{"batch_id": batchID, "missing": snap.MissingRefs}).Warn("grid references data missing from catalog")
	}

	// Only keep what was built from a revision that is still current.
	latest, err := s.repo.GetBatch(ctx, batchID)
	if err != nil || latest.Revision != batch.Revision {
		return snap, nil
	}

	s.mu.Lock()
	if s.layoutLocked(batchID).Version() == layoutVersion {
		s.views[key] = &gridView{batchID: batchID, grid: g, layoutVersion: layoutVersion}
	}
	s.mu.Unlock()

	if err := s.gridCache.Set(ctx, cacheKey, &snap, s.gridTTL); err != nil {
		s.log.WithError(err).WithField("batch_id", batchID).Warn("grid cache write failed")
	}
	return snap, nil
}

// advanceViews moves every view of a batch from rev-1 to rev by applying
// fn. Views that missed an intermediate change are dropped and rebuilt on
// the next read.
func (s *Service) advanceViews(batchID string, rev int64, fn func(g *grid.Grid)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, view := range s.views {
		if view.batchID != batchID {
			continue
		}
		if view.grid.Revision() != rev-1 {
			delete(s.views, key)
			continue
		}
		fn(view.grid)
		view.grid.SetRevision(rev)
	}
}

func (s *Service) dropViews(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, view := range s.views {
		if view.batchID == batchID {
			delete(s.views, key)
		}
	}
}

func viewKey(batchID string, f domain.Filters) string {
	return batchID + "|" + f.RegionID + "|" + f.ChannelID
}
