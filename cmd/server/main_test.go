package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"salestarget/backend/internal/catalog"
	"salestarget/backend/internal/config"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/httpapi"
	"salestarget/backend/internal/service"
	"salestarget/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestLoadCatalogFallsBackToDemo(t *testing.T) {
	cat, err := loadCatalog(config.Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := cat.Customer("C1"); !ok {
		t.Fatalf("expected demo catalog")
	}
	if _, err := loadCatalog(config.Config{CatalogPath: "does-not-exist.yaml"}); err == nil {
		t.Fatalf("expected missing catalog file to fail")
	}
}

func TestSeedDemoBatchIsIdempotent(t *testing.T) {
	cat := catalog.Demo()
	repo := memory.New()
	svc := service.New(repo, cat, nil, time.Minute, nil)
	verifier := httpapi.NewTokenVerifier("0123456789abcdef0123456789abcdef", cat)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx := context.Background()

	if err := seedDemoBatch(ctx, svc, cat, verifier, logger); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := seedDemoBatch(ctx, svc, cat, verifier, logger); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	batches, err := svc.ListBatches(ctx, domain.BatchFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(batches) != 1 || batches[0].OwnerUserID != "U-REP-N1" {
		t.Fatalf("unexpected batches: %+v", batches)
	}
}
