package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/fraudmetrics"
	"github.com/opensource-finance/shrike/internal/lifecycle"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	analyzer  *scoring.Analyzer
	lifecycle *lifecycle.Service
	metrics   *fraudmetrics.Aggregator
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer *scoring.Analyzer, lc *lifecycle.Service, metrics *fraudmetrics.Aggregator, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		analyzer:  analyzer,
		lifecycle: lc,
		metrics:   metrics,
		version:   version,
	}
}

// TransactionRequest is the request body for POST /transactions and
// POST /analyze.
type TransactionRequest struct {
	ID              string         `json:"id,omitempty"`
	AccountID       string         `json:"accountId"`
	Type            string         `json:"type"`
	Amount          float64        `json:"amount"`
	Currency        string         `json:"currency,omitempty"`
	Status          string         `json:"status,omitempty"`
	Description     string         `json:"description,omitempty"`
	ReferenceNumber string         `json:"referenceNumber,omitempty"`
	Timestamp       *time.Time     `json:"timestamp,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (req *TransactionRequest) toTransaction(tenantID string) (*domain.Transaction, error) {
	if req.AccountID == "" {
		return nil, errors.New("accountId is required")
	}
	if req.Type == "" {
		return nil, errors.New("type is required")
	}
	if req.Amount == 0 {
		return nil, errors.New("amount must be non-zero")
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := req.Status
	if status == "" {
		status = domain.TxStatusCompleted
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	return &domain.Transaction{
		ID:              id,
		TenantID:        tenantID,
		AccountID:       req.AccountID,
		Type:            req.Type,
		Amount:          req.Amount,
		Currency:        currency,
		Status:          status,
		Description:     req.Description,
		ReferenceNumber: req.ReferenceNumber,
		Timestamp:       ts,
		CreatedAt:       time.Now().UTC(),
		Metadata:        req.Metadata,
	}, nil
}

// IngestTransaction handles POST /transactions: the transaction is
// persisted and a completed event is published for async analysis.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := req.toTransaction(tenantID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	if tx.Completed() && h.bus != nil {
		event := domain.TransactionEvent{
			TransactionID:   tx.ID,
			TenantID:        tenantID,
			AccountID:       tx.AccountID,
			Type:            tx.Type,
			Amount:          tx.Amount,
			Currency:        tx.Currency,
			Status:          tx.Status,
			Timestamp:       tx.Timestamp,
			ReferenceNumber: tx.ReferenceNumber,
			Metadata:        tx.Metadata,
		}
		payload, _ := json.Marshal(event)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionCompleted, payload); err != nil {
			slog.Error("failed to publish transaction event", "tx_id", tx.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, tx)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		h.writeError(w, "transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	Alert       *domain.FraudAlert  `json:"alert,omitempty"`
	Flagged     bool                `json:"flagged"`
}

// Analyze handles POST /analyze: the transaction is persisted and run
// through the detection pipeline synchronously. Intended for tooling
// and backfills; production traffic goes through ingest + worker.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := req.toTransaction(tenantID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if _, err := h.repo.GetTransaction(ctx, tenantID, tx.ID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to check transaction", "tx_id", tx.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to check transaction",
			})
			return
		}
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save transaction",
			})
			return
		}
	}

	alert, err := h.analyzer.Analyze(ctx, tx)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Transaction: tx,
		Alert:       alert,
		Flagged:     alert != nil,
	})
}

// ListAlerts handles GET /alerts with optional status, minRisk,
// autoBlocked, from, to and limit query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	filter := domain.AlertFilter{
		Status: r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get("minRisk"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid minRisk"})
			return
		}
		filter.MinRisk = f
	}
	if v := r.URL.Query().Get("autoBlocked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid autoBlocked"})
			return
		}
		filter.AutoBlocked = &b
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from timestamp"})
			return
		}
		filter.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to timestamp"})
			return
		}
		filter.To = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}

	alerts, err := h.repo.ListAlerts(ctx, tenantID, filter)
	if err != nil {
		h.writeError(w, "alerts", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		h.writeError(w, "alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// DashboardResponse is the response for GET /alerts/dashboard.
type DashboardResponse struct {
	Total        int64                `json:"total"`
	ByStatus     map[string]int64     `json:"byStatus"`
	AutoBlocked  int64                `json:"autoBlocked"`
	HighRisk     int64                `json:"highRisk"`
	RecentAlerts []*domain.FraudAlert `json:"recentAlerts"`
}

// AlertDashboard summarizes the current alert queue.
func (h *Handler) AlertDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	alerts, err := h.repo.ListAlerts(ctx, tenantID, domain.AlertFilter{})
	if err != nil {
		h.writeError(w, "alerts", err)
		return
	}

	resp := DashboardResponse{
		Total:    int64(len(alerts)),
		ByStatus: make(map[string]int64),
	}
	for _, a := range alerts {
		resp.ByStatus[a.Status]++
		if a.AutoBlocked {
			resp.AutoBlocked++
		}
		if a.RiskScore >= 80 {
			resp.HighRisk++
		}
	}
	if len(alerts) > 10 {
		resp.RecentAlerts = alerts[:10]
	} else {
		resp.RecentAlerts = alerts
	}

	writeJSON(w, http.StatusOK, resp)
}

// ResolveAlertRequest is the request body for POST /alerts/{id}/resolve.
type ResolveAlertRequest struct {
	Resolution string `json:"resolution"`
	Notes      string `json:"notes,omitempty"`
}

// ResolveAlert moves an alert to a terminal state.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	var req ResolveAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.lifecycle.Resolve(ctx, tenantID, alertID, req.Resolution, req.Notes)
	if err != nil {
		h.writeError(w, "alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// EscalateAlertRequest is the request body for POST /alerts/{id}/escalate.
type EscalateAlertRequest struct {
	AssignedTo string `json:"assignedTo,omitempty"`
}

// EscalateAlert moves an open alert to INVESTIGATING.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	var req EscalateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.lifecycle.Escalate(ctx, tenantID, alertID, req.AssignedTo)
	if err != nil {
		h.writeError(w, "alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// ListInvestigations handles GET /investigations with an optional
// status query parameter.
func (h *Handler) ListInvestigations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	invs, err := h.repo.ListInvestigations(ctx, tenantID, r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, "investigations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": invs,
		"count":          len(invs),
	})
}

// GetInvestigation retrieves an investigation by ID.
func (h *Handler) GetInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invID := chi.URLParam(r, "id")

	inv, err := h.repo.GetInvestigation(ctx, tenantID, invID)
	if err != nil {
		h.writeError(w, "investigation", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// AssignInvestigationRequest is the request body for
// POST /investigations/{id}/assign.
type AssignInvestigationRequest struct {
	Investigator string `json:"investigator"`
}

// AssignInvestigation hands an investigation to an investigator.
func (h *Handler) AssignInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invID := chi.URLParam(r, "id")

	var req AssignInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	inv, err := h.lifecycle.Assign(ctx, tenantID, invID, req.Investigator)
	if err != nil {
		h.writeError(w, "investigation", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// AddNoteRequest is the request body for POST /investigations/{id}/notes.
type AddNoteRequest struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// AddInvestigationNote appends a note to an investigation.
func (h *Handler) AddInvestigationNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invID := chi.URLParam(r, "id")

	var req AddNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	inv, err := h.lifecycle.AddNote(ctx, tenantID, invID, req.Author, req.Text)
	if err != nil {
		h.writeError(w, "investigation", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// CloseInvestigationRequest is the request body for
// POST /investigations/{id}/close.
type CloseInvestigationRequest struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}

// CloseInvestigation moves an in-progress investigation to a terminal
// state.
func (h *Handler) CloseInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invID := chi.URLParam(r, "id")

	var req CloseInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	inv, err := h.lifecycle.Close(ctx, tenantID, invID, req.Status, req.Summary)
	if err != nil {
		h.writeError(w, "investigation", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// writeError maps domain errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, entity string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": entity + " not found",
		})
	case errors.Is(err, lifecycle.ErrAlreadyResolved), errors.Is(err, lifecycle.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, lifecycle.ErrInvalidInput), errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "entity", entity, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
