package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"salestarget/backend/internal/cache"
	"salestarget/backend/internal/catalog"
	"salestarget/backend/internal/config"
	"salestarget/backend/internal/distribution"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/httpapi"
	"salestarget/backend/internal/service"
	"salestarget/backend/internal/store"
	"salestarget/backend/internal/store/memory"
	pgstore "salestarget/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger(os.Stdout)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cat, err := loadCatalog(cfg)
	if err != nil {
		logger.Fatalf("catalog: %v", err)
	}
	logger.WithField("customers", len(cat.Customers())).WithField("skus", len(cat.SKUs())).Info("catalog loaded")

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.New()
		logger.Info("repository: in-memory")
	}

	gridCache := cache.GridCache(cache.NoopGridCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisGridCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warnf("redis unavailable (%v), using noop cache", err)
		} else {
			gridCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(repo, cat, gridCache, time.Duration(cfg.GridCacheTTLSeconds)*time.Second, logger)
	verifier := httpapi.NewTokenVerifier(cfg.AuthSecret, cat)
	api := httpapi.New(svc, verifier, cfg.AllowedOrigin, logger)

	if cfg.SeedDemoBatch {
		if err := seedDemoBatch(ctx, svc, cat, verifier, logger); err != nil {
			logger.WithError(err).Warn("demo batch not seeded")
		}
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("target grid backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Errorf("close error: %v", err)
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Demo(), nil
	}
	return catalog.Load(cfg.CatalogPath)
}

// seedDemoBatch opens a draft for the current month, owned by the first
// field user and filled by the distribution engine, so a fresh instance has
// something to look at. It logs short-lived tokens for the owner and an RSM.
func seedDemoBatch(ctx context.Context, svc *service.Service, cat *catalog.Catalog, verifier *httpapi.TokenVerifier, logger logrus.FieldLogger) error {
	var owner, approver domain.User
	for _, user := range cat.Data().Users {
		if owner.ID == "" && user.Role == domain.RoleSalesRep {
			owner = user
		}
		if approver.ID == "" && user.Role == domain.RoleRSM {
			approver = user
		}
	}
	if owner.ID == "" || approver.ID == "" {
		return errors.New("catalog needs a sales rep and an RSM for the demo batch")
	}

	actorCtx := service.WithActor(ctx, domain.Actor{UserID: owner.ID, Role: owner.Role})
	batch, err := svc.CreateBatch(actorCtx, domain.CreateBatchRequest{
		Period:   time.Now().UTC().Format("2006-01"),
		RegionID: owner.RegionID,
	})
	if errors.Is(err, domain.ErrConflict) {
		logger.Info("demo batch already exists")
		return nil
	}
	if err != nil {
		return err
	}

	res, err := svc.Seed(actorCtx, batch.ID, distribution.DefaultWeighting())
	if err != nil {
		return err
	}

	entry := logger.WithFields(logrus.Fields{"batch_id": batch.ID, "created": res.Created})
	for _, user := range []domain.User{owner, approver} {
		token, err := verifier.Issue(user.ID, user.Role, 8*time.Hour)
		if err != nil {
			return err
		}
		entry = entry.WithField("token_"+string(user.Role), token)
	}
	entry.Info("demo batch seeded")
	return nil
}
