package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"salestarget/backend/internal/distribution"
	"salestarget/backend/internal/domain"
	"salestarget/backend/internal/export"
	"salestarget/backend/internal/service"
)

var deciderRoles = []domain.Role{domain.RoleRSM, domain.RoleTDM, domain.RoleTDE}

type API struct {
	service       *service.Service
	auth          *TokenVerifier
	allowedOrigin string
	validate      *validator.Validate
	authFailures  *attemptLimiter
	log           logrus.FieldLogger
}

func New(svc *service.Service, auth *TokenVerifier, allowedOrigin string, logger logrus.FieldLogger) *API {
	if logger == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		logger = silent
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		validate:      validate,
		authFailures:  newAttemptLimiter(10, time.Minute),
		log:           logger.WithField("component", "httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/catalog", a.requireAuth(a.handleCatalog))
	mux.HandleFunc("/api/v1/batches", a.requireAuth(a.handleBatches))
	mux.HandleFunc("/api/v1/batches/", a.requireAuth(a.handleBatchActions))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		if a.authFailures.Blocked(client) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many failed authentication attempts"))
			return
		}

		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.authFailures.Fail(client)
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"catalog": a.service.Catalog()})
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		batches, err := a.service.ListBatches(r.Context(), domain.BatchFilter{
			PeriodID: strings.TrimSpace(query.Get("period_id")),
			RegionID: strings.TrimSpace(query.Get("region")),
			Status:   domain.BatchStatus(strings.TrimSpace(query.Get("status"))),
			Limit:    parsePositiveLimit(query.Get("limit"), 50, 200),
		})
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
	case http.MethodPost:
		var req domain.CreateBatchRequest
		if !a.decodeValid(w, r, &req) {
			return
		}
		batch, err := a.service.CreateBatch(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleBatchActions serves everything under /api/v1/batches/{id}/.
func (a *API) handleBatchActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/batches/"), "/")
	parts := strings.Split(rest, "/")
	batchID := strings.TrimSpace(parts[0])
	if batchID == "" {
		writeError(w, http.StatusBadRequest, errors.New("batch id required"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		batch, err := a.service.GetBatch(r.Context(), batchID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
		return
	}

	action := parts[1]
	if action == "columns" && len(parts) == 3 {
		a.handleColumn(w, r, batchID, parts[2])
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, errors.New("unknown batch action"))
		return
	}

	switch action {
	case "history":
		a.handleHistory(w, r, batchID)
	case "columns":
		a.handleColumns(w, r, batchID)
	case "grid":
		a.handleGrid(w, r, batchID)
	case "grid.xlsx":
		a.handleGridExport(w, r, batchID)
	case "cells":
		a.handleCell(w, r, batchID)
	case "seed":
		a.handleSeed(w, r, batchID)
	case "submit", "approve", "reject", "reopen":
		a.handleTransition(w, r, batchID, action)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown batch action"))
	}
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	events, err := a.service.BatchHistory(r.Context(), batchID, parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type addColumnRequest struct {
	Kind  domain.ColumnKind `json:"kind" validate:"required,max=16"`
	RefID string            `json:"ref_id" validate:"omitempty,max=64"`
}

type selectReferenceRequest struct {
	RefID string `json:"ref_id" validate:"required,max=64"`
}

func (a *API) handleColumns(w http.ResponseWriter, r *http.Request, batchID string) {
	switch r.Method {
	case http.MethodGet:
		cols, err := a.service.ListColumns(r.Context(), batchID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
	case http.MethodPost:
		var req addColumnRequest
		if !a.decodeValid(w, r, &req) {
			return
		}
		col, err := a.service.AddColumn(r.Context(), batchID, req.Kind)
		if err != nil {
			a.fail(w, err)
			return
		}
		if req.RefID != "" {
			bound, err := a.service.SelectReference(r.Context(), batchID, col.ID, req.RefID)
			if err != nil {
				_ = a.service.RemoveColumn(r.Context(), batchID, col.ID)
				a.fail(w, err)
				return
			}
			col = bound
		}
		writeJSON(w, http.StatusCreated, map[string]any{"column": col})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleColumn(w http.ResponseWriter, r *http.Request, batchID string, columnID string) {
	switch r.Method {
	case http.MethodPatch:
		var req selectReferenceRequest
		if !a.decodeValid(w, r, &req) {
			return
		}
		col, err := a.service.SelectReference(r.Context(), batchID, columnID, req.RefID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"column": col})
	case http.MethodDelete:
		if err := a.service.RemoveColumn(r.Context(), batchID, columnID); err != nil {
			a.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func gridFilters(r *http.Request) domain.Filters {
	query := r.URL.Query()
	return domain.Filters{
		RegionID:  strings.TrimSpace(query.Get("region")),
		ChannelID: strings.TrimSpace(query.Get("channel")),
	}
}

func (a *API) handleGrid(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	grid, err := a.service.GetGrid(r.Context(), batchID, gridFilters(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grid": grid})
}

func (a *API) handleGridExport(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	batch, err := a.service.GetBatch(r.Context(), batchID)
	if err != nil {
		a.fail(w, err)
		return
	}
	grid, err := a.service.GetGrid(r.Context(), batchID, gridFilters(r))
	if err != nil {
		a.fail(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteGridXLSX(&buf, batch, grid); err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(batch)))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		a.log.WithError(err).WithField("batch_id", batchID).Warn("grid export write failed")
	}
}

// cellRequest accepts the quantity as a JSON number or string so raw
// spreadsheet input reaches validation untouched.
type cellRequest struct {
	CustomerID string          `json:"customer_id" validate:"required,max=64"`
	SKUID      string          `json:"sku_id" validate:"required,max=64"`
	Qty        json.RawMessage `json:"qty"`
}

func (c cellRequest) rawQty() (string, error) {
	raw := bytes.TrimSpace(c.Qty)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", domain.Invalid("qty", "qty must be a number or string")
	}
	return n.String(), nil
}

func (a *API) handleCell(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var req cellRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	qty, err := req.rawQty()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cell, err := a.service.SetCell(r.Context(), domain.CellInput{
		BatchID:    batchID,
		CustomerID: strings.TrimSpace(req.CustomerID),
		SKUID:      strings.TrimSpace(req.SKUID),
		Qty:        qty,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cell": cell})
}

func (a *API) handleSeed(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var weighting distribution.Weighting
	if err := decodeJSON(r, &weighting); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.validate.Struct(weighting); err != nil {
		a.fail(w, validationError(err))
		return
	}

	resp, err := a.service.Seed(r.Context(), batchID, weighting)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seed": resp})
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request, batchID string, action string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if action == "approve" || action == "reject" {
		actor, _ := service.ActorFromContext(r.Context())
		if !isRoleAllowed(actor.Role, deciderRoles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
	}

	var (
		batch domain.TargetBatch
		err   error
	)
	switch action {
	case "submit":
		batch, err = a.service.Submit(r.Context(), batchID)
	case "approve":
		batch, err = a.service.Approve(r.Context(), batchID)
	case "reopen":
		batch, err = a.service.Reopen(r.Context(), batchID)
	case "reject":
		var req rejectRequest
		if !a.decodeValid(w, r, &req) {
			return
		}
		batch, err = a.service.Reject(r.Context(), batchID, req.Reason)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(startedAt).String(),
		}).Info("request")
	})
}

// decodeValid decodes a JSON body and runs struct validation, writing the
// error response itself when either fails.
func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		a.fail(w, validationError(err))
		return false
	}
	return true
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return domain.Invalid(fe.Field(), "failed %s=%s", fe.Tag(), fe.Param())
		}
		return domain.Invalid(fe.Field(), "failed %s", fe.Tag())
	}
	return domain.Invalid("body", "%v", err)
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBatchLocked):
		return http.StatusLocked
	case errors.Is(err, domain.ErrDuplicateDimension),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.WithError(err).WithField("status", status).Error("internal error")
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are user facing.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
