package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salestarget/backend/internal/catalog"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/service"
	"salestarget/backend/internal/store/memory"
)

const testSecret = "test-secret-key-that-is-long-enough"

// newTestAPI builds a full API with an in-memory store, the demo catalog and
// a real token verifier so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	cat := catalog.Demo()
	svc := service.New(memory.New(), cat, nil, time.Minute, nil)
	return New(svc, NewTokenVerifier(testSecret, cat), "*", nil)
}

func tokenFor(t *testing.T, api *API, userID string, role domain.Role) string {
	t.Helper()
	token, err := api.auth.Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func createTestBatch(t *testing.T, handler http.Handler, token string) domain.TargetBatch {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/batches", token, map[string]string{"period": "2025-09", "region_id": "R1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create batch: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Batch domain.TargetBatch `json:"batch"`
	}
	decodeBody(t, rec, &body)
	return body.Batch
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleCatalog_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/catalog", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCatalog_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, "U-REP-N1", domain.RoleSalesRep)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/catalog", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Catalog catalog.Data `json:"catalog"`
	}
	decodeBody(t, rec, &body)
	if len(body.Catalog.SKUs) != 6 || len(body.Catalog.Customers) != 7 {
		t.Fatalf("unexpected catalog: %d skus, %d customers", len(body.Catalog.SKUs), len(body.Catalog.Customers))
	}
}

func TestGridWorkflowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	repToken := tokenFor(t, api, "U-REP-N1", domain.RoleSalesRep)
	tdmToken := tokenFor(t, api, "U-TDM-N", domain.RoleTDM)

	batch := createTestBatch(t, handler, repToken)
	base := "/api/v1/batches/" + batch.ID

	cells := []map[string]any{
		{"customer_id": "C1", "sku_id": "S1", "qty": 10},
		{"customer_id": "C1", "sku_id": "S2", "qty": "5"},
		{"customer_id": "C2", "sku_id": "S1", "qty": 8},
	}
	for _, cell := range cells {
		rec := doJSON(t, handler, http.MethodPut, base+"/cells", repToken, cell)
		if rec.Code != http.StatusOK {
			t.Fatalf("set cell: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, handler, http.MethodPut, base+"/cells", repToken, map[string]any{"customer_id": "C3", "sku_id": "S1", "qty": "lots"})
	if rec.Code != http.StatusOK {
		t.Fatalf("flagged cell: expected 200, got %d", rec.Code)
	}
	var flagged struct {
		Cell domain.GridCell `json:"cell"`
	}
	decodeBody(t, rec, &flagged)
	if !flagged.Cell.HasError || flagged.Cell.RawInput != "lots" {
		t.Fatalf("expected flagged cell, got %+v", flagged.Cell)
	}
	if rec := doJSON(t, handler, http.MethodPut, base+"/cells", repToken, map[string]any{"customer_id": "C3", "sku_id": "S1", "qty": ""}); rec.Code != http.StatusOK {
		t.Fatalf("clear flagged cell: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, base+"/grid", repToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("grid: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var gridBody struct {
		Grid domain.TargetGrid `json:"grid"`
	}
	decodeBody(t, rec, &gridBody)
	if gridBody.Grid.GrandTotals.Cases.String() != "23" || gridBody.Grid.GrandTotals.Value.String() != "86800" {
		t.Fatalf("unexpected grand totals: %+v", gridBody.Grid.GrandTotals)
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/submit", repToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPut, base+"/cells", repToken, map[string]any{"customer_id": "C1", "sku_id": "S1", "qty": 12})
	if rec.Code != http.StatusLocked {
		t.Fatalf("locked write: expected 423, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/approve", repToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("rep approve: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/reject", tdmToken, map[string]string{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reject without reason: expected 422, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/approve", tdmToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var approved struct {
		Batch domain.TargetBatch `json:"batch"`
	}
	decodeBody(t, rec, &approved)
	if approved.Batch.Status != domain.BatchApproved {
		t.Fatalf("expected approved, got %s", approved.Batch.Status)
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/approve", tdmToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approve: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, base+"/history?limit=2", repToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history struct {
		Events []domain.BatchEvent `json:"events"`
	}
	decodeBody(t, rec, &history)
	if len(history.Events) != 2 || history.Events[0].Action != "approve" {
		t.Fatalf("unexpected history: %+v", history.Events)
	}
}

func TestColumnEndpoints(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := tokenFor(t, api, "U-REP-N1", domain.RoleSalesRep)
	batch := createTestBatch(t, handler, token)
	base := "/api/v1/batches/" + batch.ID + "/columns"

	rec := doJSON(t, handler, http.MethodPost, base, token, map[string]string{"kind": "daily"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate daily: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, base, token, map[string]string{"kind": "channel", "ref_id": "CH-DIST"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add channel column: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Column domain.Column `json:"column"`
	}
	decodeBody(t, rec, &created)
	if created.Column.RefID != "CH-DIST" {
		t.Fatalf("expected bound channel column, got %+v", created.Column)
	}

	rec = doJSON(t, handler, http.MethodPatch, base+"/"+created.Column.ID, token, map[string]string{"ref_id": "CH-NOPE"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown channel: expected 422, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, base+"/"+created.Column.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete column: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, base+"/"+created.Column.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing column: expected 404, got %d", rec.Code)
	}
}

func TestSeedAndExport(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := tokenFor(t, api, "U-REP-N1", domain.RoleSalesRep)
	batch := createTestBatch(t, handler, token)
	base := "/api/v1/batches/" + batch.ID

	rec := doJSON(t, handler, http.MethodPost, base+"/seed", token, map[string]any{"inclusion": 2})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad weighting: expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	for _, body := range []map[string]any{
		{"channel_factors": map[string]any{"distributor": 1e308}},
		{"category_factors": map[string]any{"water": -1}},
		{"max_cases": 1000000000},
	} {
		rec = doJSON(t, handler, http.MethodPost, base+"/seed", token, body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("out of range weighting %v: expected 422, got %d (body: %s)", body, rec.Code, rec.Body.String())
		}
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/seed", token, map[string]any{"seed": 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var seeded struct {
		Seed domain.SeedResponse `json:"seed"`
	}
	decodeBody(t, rec, &seeded)
	if seeded.Seed.BatchID != batch.ID {
		t.Fatalf("unexpected seed response: %+v", seeded.Seed)
	}

	req := httptest.NewRequest(http.MethodGet, base+"/grid.xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if got := res.Header().Get("Content-Type"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !bytes.HasPrefix(res.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip container")
	}
}

func TestUnknownBatchReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, "U-REP-N1", domain.RoleSalesRep)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/batches/batch-missing/grid", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
