package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"salestarget/backend/internal/cache"
	"salestarget/backend/internal/catalog"
	"salestarget/backend/internal/columns"
	"salestarget/backend/internal/distribution"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/grid"
	"salestarget/backend/internal/store"
	"salestarget/backend/internal/valuation"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	catalog     *catalog.Catalog
	pricer      valuation.Engine
	distributor *distribution.Engine
	gridCache   cache.GridCache
	gridTTL     time.Duration
	log         logrus.FieldLogger

	mu      sync.Mutex
	layouts map[string]*columns.Registry
	views   map[string]*gridView
}

// gridView is an incrementally maintained grid for one batch and filter
// combination, valid while its revision and layout version are current.
type gridView struct {
	batchID       string
	grid          *grid.Grid
	layoutVersion int64
}

func New(repo store.Repository, cat *catalog.Catalog, gridCache cache.GridCache, gridTTL time.Duration, logger logrus.FieldLogger) *Service {
	if gridCache == nil {
		gridCache = cache.NoopGridCache{}
	}
	if gridTTL <= 0 {
		gridTTL = 30 * time.Second
	}
	if logger == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		logger = silent
	}
	pricer := valuation.NewEngine()

	return &Service{
		repo:        repo,
		catalog:     cat,
		pricer:      pricer,
		distributor: distribution.NewEngine(pricer, cat.Channels()),
		gridCache:   gridCache,
		gridTTL:     gridTTL,
		log:         logger.WithField("component", "service"),
		layouts:     map[string]*columns.Registry{},
		views:       map[string]*gridView{},
	}
}

func (s *Service) Catalog() catalog.Data {
	return s.catalog.Data()
}

func (s *Service) CreateBatch(ctx context.Context, req domain.CreateBatchRequest) (domain.TargetBatch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.TargetBatch{}, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}

	period, err := domain.ParsePeriod(req.Period)
	if err != nil {
		return domain.TargetBatch{}, err
	}

	req.RegionID = strings.TrimSpace(req.RegionID)
	if req.RegionID != "" {
		if _, ok := s.catalog.Region(req.RegionID); !ok {
			return domain.TargetBatch{}, domain.Invalid("region_id", "unknown region %q", req.RegionID)
		}
	}
	owner := strings.TrimSpace(req.OwnerUserID)
	if owner == "" {
		owner = actor.UserID
	}
	if _, ok := s.catalog.User(owner); !ok {
		return domain.TargetBatch{}, domain.Invalid("owner_user_id", "unknown user %q", owner)
	}

	stored, err := s.repo.EnsurePeriod(ctx, period)
	if err != nil {
		return domain.TargetBatch{}, err
	}

	created, err := s.repo.CreateBatch(ctx, domain.TargetBatch{
		PeriodID:    stored.ID,
		PeriodLabel: stored.Label,
		RegionID:    req.RegionID,
		OwnerUserID: owner,
		Status:      domain.BatchDraft,
		CreatedBy:   actor.UserID,
	})
	if err != nil {
		return domain.TargetBatch{}, err
	}

	s.logEvent(ctx, domain.BatchEvent{
		BatchID:  created.ID,
		Action:   "create",
		ToStatus: created.Status,
		Detail:   fmt.Sprintf("period=%s,region=%s,owner=%s", stored.Label, created.RegionID, owner),
	})
	return *created, nil
}

func (s *Service) GetBatch(ctx context.Context, batchID string) (domain.TargetBatch, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.TargetBatch{}, err
	}
	return *batch, nil
}

func (s *Service) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.TargetBatch, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Invalid("status", "unknown status %q", filter.Status)
	}
	return s.repo.ListBatches(ctx, filter)
}

func (s *Service) BatchHistory(ctx context.Context, batchID string, limit int) ([]domain.BatchEvent, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.ListBatchEvents(ctx, batchID, limit)
}

// logEvent records a batch event. Failures are logged and never fail the
// operation that produced the event.
func (s *Service) logEvent(ctx context.Context, event domain.BatchEvent) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system"}
	}
	event.ActorID = actor.UserID
	event.ActorRole = actor.Role
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	entry := s.log.WithFields(logrus.Fields{
		"batch_id": event.BatchID,
		"action":   event.Action,
		"actor":    event.ActorID,
	})
	if err := s.repo.CreateBatchEvent(ctx, event); err != nil {
		entry.WithError(err).Warn("failed to write batch event")
		return
	}
	entry.Info("batch event")
}
