package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/shrike/internal/domain"
)

// RuleRequest is the request body for creating, updating and
// validating detection rules.
type RuleRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        domain.RuleType   `json:"type"`
	Severity    domain.Severity   `json:"severity"`
	Params      domain.RuleParams `json:"params"`
	AutoBlock   bool              `json:"autoBlock"`
	Active      *bool             `json:"active,omitempty"`
}

func (req *RuleRequest) toRule(tenantID string) *domain.DetectionRule {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now().UTC()
	return &domain.DetectionRule{
		ID:          id,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Severity:    req.Severity,
		Params:      req.Params,
		Active:      active,
		AutoBlock:   req.AutoBlock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ListRules returns the tenant's active detection rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListActiveRules(ctx, tenantID)
	if err != nil {
		h.writeError(w, "rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		h.writeError(w, "rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and persists a detection rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule := req.toRule(tenantID)
	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, tenantID, rule); err != nil {
		h.writeError(w, "rule", err)
		return
	}

	slog.Info("rule created", "tenant_id", tenantID, "rule_id", rule.ID, "type", rule.Type)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces a rule's definition, keeping its identity and
// creation time.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	existing, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		h.writeError(w, "rule", err)
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule := req.toRule(tenantID)
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, tenantID, rule); err != nil {
		h.writeError(w, "rule", err)
		return
	}

	slog.Info("rule updated", "tenant_id", tenantID, "rule_id", rule.ID)
	writeJSON(w, http.StatusOK, rule)
}

// DeactivateRule handles DELETE /rules/{id}. Rules are deactivated,
// never deleted, so historical alerts keep a valid reference.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeactivateRule(ctx, tenantID, ruleID); err != nil {
		h.writeError(w, "rule", err)
		return
	}

	slog.Info("rule deactivated", "tenant_id", tenantID, "rule_id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deactivated",
	})
}

// ValidateRule checks a rule definition without persisting it.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.toRule(tenantID).Validate(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
	})
}

// TestRule replays a stored rule against the tenant's recent
// transactions and reports its match rate with sample matches. Nothing
// is persisted.
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		h.writeError(w, "rule", err)
		return
	}

	report, err := h.analyzer.TestRule(ctx, tenantID, rule, 100)
	if err != nil {
		h.writeError(w, "rule test", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RuleTemplates serves preset rule definitions as starting points for
// new rules.
func (h *Handler) RuleTemplates(w http.ResponseWriter, r *http.Request) {
	templates := []RuleRequest{
		{
			Name:     "High velocity",
			Type:     domain.RuleVelocity,
			Severity: domain.SeverityHigh,
			Params: domain.RuleParams{
				Velocity: &domain.VelocityParams{
					WindowMinutes:   1440,
					MaxTransactions: 20,
				},
			},
		},
		{
			Name:     "Large amount anomaly",
			Type:     domain.RuleAmountAnomaly,
			Severity: domain.SeverityMedium,
			Params: domain.RuleParams{
				AmountAnomaly: &domain.AmountAnomalyParams{
					Multiplier: 3,
				},
			},
		},
		{
			Name:     "Unusual time",
			Type:     domain.RuleTimeAnomaly,
			Severity: domain.SeverityLow,
			Params: domain.RuleParams{
				TimeAnomaly: &domain.TimeAnomalyParams{
					StartHour: 6,
					EndHour:   22,
				},
			},
		},
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

// ListWhitelist returns the tenant's whitelist entries.
func (h *Handler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	entries, err := h.repo.ListWhitelistEntries(ctx, tenantID)
	if err != nil {
		h.writeError(w, "whitelist", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// WhitelistRequest is the request body for POST /whitelist.
type WhitelistRequest struct {
	EntityType  string     `json:"entityType"`
	EntityValue string     `json:"entityValue"`
	Reason      string     `json:"reason,omitempty"`
	AddedBy     string     `json:"addedBy,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// CreateWhitelistEntry adds a known-good entity.
func (h *Handler) CreateWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.EntityType != domain.WhitelistAccount && req.EntityType != domain.WhitelistMerchant {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityType must be account or merchant",
		})
		return
	}
	if req.EntityValue == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entityValue is required",
		})
		return
	}

	entry := &domain.WhitelistEntry{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		EntityType:  req.EntityType,
		EntityValue: req.EntityValue,
		Reason:      req.Reason,
		AddedBy:     req.AddedBy,
		Active:      true,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.repo.SaveWhitelistEntry(ctx, tenantID, entry); err != nil {
		h.writeError(w, "whitelist", err)
		return
	}

	slog.Info("whitelist entry created",
		"tenant_id", tenantID,
		"entity_type", entry.EntityType,
		"entity_value", entry.EntityValue,
	)
	writeJSON(w, http.StatusCreated, entry)
}

// DeleteWhitelistEntry removes a whitelist entry.
func (h *Handler) DeleteWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	entryID := chi.URLParam(r, "id")

	if err := h.repo.DeleteWhitelistEntry(ctx, tenantID, entryID); err != nil {
		h.writeError(w, "whitelist entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "whitelist entry deleted",
	})
}

// MetricsSummary handles GET /metrics/summary with optional from/to
// query parameters, defaulting to the trailing 30 days.
func (h *Handler) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}

	summary, err := h.metrics.Summary(ctx, tenantID, from, to)
	if err != nil {
		h.writeError(w, "metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// MetricsTrends handles GET /metrics/trends.
func (h *Handler) MetricsTrends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}

	points, err := h.metrics.Trends(ctx, tenantID, from, to)
	if err != nil {
		h.writeError(w, "metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trends": points,
		"count":  len(points),
	})
}

// ComputeMetricsRequest is the request body for POST /metrics/compute.
type ComputeMetricsRequest struct {
	Date string `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
}

// ComputeMetrics recomputes the daily rollup for one day.
func (h *Handler) ComputeMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ComputeMetricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	day := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "date must be YYYY-MM-DD",
			})
			return
		}
		day = parsed
	}

	m, err := h.metrics.ComputeDaily(ctx, tenantID, day)
	if err != nil {
		h.writeError(w, "metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from timestamp"})
			return from, to, false
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to timestamp"})
			return from, to, false
		}
		to = t
	}
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid days"})
			return from, to, false
		}
		from = to.AddDate(0, 0, -n)
	}
	return from, to, true
}
