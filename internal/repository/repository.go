// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// --- Transactions ---

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, tenant_id, account_id, type, amount, currency, status,
			description, reference_number, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.AccountID, tx.Type,
		tx.Amount, tx.Currency, tx.Status,
		tx.Description, tx.ReferenceNumber,
		tx.Timestamp, tx.CreatedAt, string(metadata),
	)
	return err
}

const txColumns = `id, tenant_id, account_id, type, amount, currency, status,
	   description, reference_number, timestamp, created_at, metadata`

func scanTransaction(scan func(...any) error) (*domain.Transaction, error) {
	var tx domain.Transaction
	var description, reference, metadata sql.NullString

	err := scan(
		&tx.ID, &tx.TenantID, &tx.AccountID, &tx.Type,
		&tx.Amount, &tx.Currency, &tx.Status,
		&description, &reference,
		&tx.Timestamp, &tx.CreatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	tx.Description = description.String
	tx.ReferenceNumber = reference.String
	if metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &tx.Metadata)
	}
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + txColumns + ` FROM transactions WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID)
	tx, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// RecentTransactionsByAccount returns the account's most recent completed
// transactions, newest first.
func (r *SQLRepository) RecentTransactionsByAccount(ctx context.Context, tenantID, accountID string, limit int) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE tenant_id = ? AND account_id = ? AND status = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	return r.queryTransactions(ctx, r.rebind(query), tenantID, accountID, domain.TxStatusCompleted, limit)
}

// RecentTransactions returns the tenant's most recent completed
// transactions, newest first. Used as the model training corpus.
func (r *SQLRepository) RecentTransactions(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10000
	}

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE tenant_id = ? AND status = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	return r.queryTransactions(ctx, r.rebind(query), tenantID, domain.TxStatusCompleted, limit)
}

func (r *SQLRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// CountTransactionsByAccount counts the account's transactions since the
// given time. Backs velocity rules.
func (r *SQLRepository) CountTransactionsByAccount(ctx context.Context, tenantID, accountID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE tenant_id = ? AND account_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID, since).Scan(&count)
	return count, err
}

// CountTransactionsBetween counts completed transactions in [from, to).
// Backs the daily metrics rollup.
func (r *SQLRepository) CountTransactionsBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE tenant_id = ? AND status = ? AND timestamp >= ? AND timestamp < ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, domain.TxStatusCompleted, from, to).Scan(&count)
	return count, err
}

// --- Detection rules ---

// SaveRule stores or updates a detection rule with tenant isolation.
// The rule must validate before it is persisted.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.DetectionRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	params, _ := json.Marshal(rule.Params)

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO detection_rules (
			id, tenant_id, name, description, rule_type, severity,
			params, active, auto_block, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rule_type = excluded.rule_type,
			severity = excluded.severity,
			params = excluded.params,
			active = excluded.active,
			auto_block = excluded.auto_block,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		string(rule.Type), string(rule.Severity), string(params),
		boolToInt(rule.Active), boolToInt(rule.AutoBlock),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

const ruleColumns = `id, tenant_id, name, description, rule_type, severity,
	   params, active, auto_block, created_at, updated_at`

func scanRule(scan func(...any) error) (*domain.DetectionRule, error) {
	var rule domain.DetectionRule
	var description sql.NullString
	var ruleType, severity, params string
	var active, autoBlock int

	err := scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description,
		&ruleType, &severity, &params,
		&active, &autoBlock,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Type = domain.RuleType(ruleType)
	rule.Severity = domain.Severity(severity)
	rule.Active = active == 1
	rule.AutoBlock = autoBlock == 1
	if err := json.Unmarshal([]byte(params), &rule.Params); err != nil {
		return nil, fmt.Errorf("failed to parse rule params for %s: %w", rule.ID, err)
	}
	return &rule, nil
}

// GetRule retrieves a detection rule with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.DetectionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + ` FROM detection_rules WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID)
	rule, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListActiveRules retrieves all active detection rules for a tenant.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.DetectionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM detection_rules
		WHERE tenant_id = ? AND active = 1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.DetectionRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeactivateRule soft-deletes a rule by setting active = 0.
func (r *SQLRepository) DeactivateRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE detection_rules SET active = 0, updated_at = ? WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// --- Alerts ---

// SaveAlert stores an alert. Idempotent per (tenant, transaction): a
// duplicate insert for the same transaction is a no-op, making at-least-once
// event delivery safe.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.FraudAlert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	factors, _ := json.Marshal(alert.AnomalyFactors)
	indicators, _ := json.Marshal(alert.RiskIndicators)

	query := `
		INSERT INTO fraud_alerts (
			id, tenant_id, transaction_id, account_id, rule_id, rule_name,
			risk_score, confidence_score, status, reason,
			anomaly_factors, risk_indicators, auto_blocked, escalated,
			assigned_to, resolution_notes, resolved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, transaction_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.TransactionID, alert.AccountID,
		alert.RuleID, alert.RuleName,
		alert.RiskScore, alert.ConfidenceScore, alert.Status, alert.Reason,
		string(factors), string(indicators),
		boolToInt(alert.AutoBlocked), boolToInt(alert.Escalated),
		alert.AssignedTo, alert.ResolutionNotes, alert.ResolvedAt,
		alert.CreatedAt, alert.UpdatedAt,
	)
	return err
}

const alertColumns = `id, tenant_id, transaction_id, account_id, rule_id, rule_name,
	   risk_score, confidence_score, status, reason,
	   anomaly_factors, risk_indicators, auto_blocked, escalated,
	   assigned_to, resolution_notes, resolved_at, created_at, updated_at`

func scanAlert(scan func(...any) error) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var ruleID, ruleName, assignedTo, notes sql.NullString
	var factors, indicators sql.NullString
	var autoBlocked, escalated int
	var resolvedAt sql.NullTime

	err := scan(
		&a.ID, &a.TenantID, &a.TransactionID, &a.AccountID,
		&ruleID, &ruleName,
		&a.RiskScore, &a.ConfidenceScore, &a.Status, &a.Reason,
		&factors, &indicators, &autoBlocked, &escalated,
		&assignedTo, &notes, &resolvedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ruleID.Valid {
		a.RuleID = &ruleID.String
	}
	a.RuleName = ruleName.String
	a.AssignedTo = assignedTo.String
	a.ResolutionNotes = notes.String
	a.AutoBlocked = autoBlocked == 1
	a.Escalated = escalated == 1
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if factors.String != "" {
		json.Unmarshal([]byte(factors.String), &a.AnomalyFactors)
	}
	if indicators.String != "" {
		json.Unmarshal([]byte(indicators.String), &a.RiskIndicators)
	}
	return &a, nil
}

// GetAlert retrieves an alert by ID with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID)
	alert, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// GetAlertByTransaction retrieves the alert for a transaction, if one
// exists.
func (r *SQLRepository) GetAlertByTransaction(ctx context.Context, tenantID string, txID string) (*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE tenant_id = ? AND transaction_id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID)
	alert, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// UpdateAlert persists lifecycle mutations of an alert.
func (r *SQLRepository) UpdateAlert(ctx context.Context, tenantID string, alert *domain.FraudAlert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	alert.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE fraud_alerts
		SET status = ?, escalated = ?, assigned_to = ?,
		    resolution_notes = ?, resolved_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.Status, boolToInt(alert.Escalated), alert.AssignedTo,
		alert.ResolutionNotes, alert.ResolvedAt, alert.UpdatedAt,
		tenantID, alert.ID,
	)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE tenant_id = ?`
	args := []any{tenantID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.MinRisk > 0 {
		query += ` AND risk_score >= ?`
		args = append(args, filter.MinRisk)
	}
	if filter.AutoBlocked != nil {
		query += ` AND auto_blocked = ?`
		args = append(args, boolToInt(*filter.AutoBlocked))
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.To)
	}

	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		alert, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// --- Investigations ---

// SaveInvestigation stores a new investigation with tenant isolation.
func (r *SQLRepository) SaveInvestigation(ctx context.Context, tenantID string, inv *domain.FraudInvestigation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	notes, _ := json.Marshal(inv.Notes)
	evidence, _ := json.Marshal(inv.Evidence)

	query := `
		INSERT INTO fraud_investigations (
			id, tenant_id, alert_id, case_number, status, priority,
			investigator, notes, evidence, resolution_summary,
			assigned_at, closed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, tenantID, inv.AlertID, inv.CaseNumber,
		inv.Status, inv.Priority, inv.Investigator,
		string(notes), string(evidence), inv.ResolutionSummary,
		inv.AssignedAt, inv.ClosedAt, inv.CreatedAt, inv.UpdatedAt,
	)
	return err
}

const invColumns = `id, tenant_id, alert_id, case_number, status, priority,
	   investigator, notes, evidence, resolution_summary,
	   assigned_at, closed_at, created_at, updated_at`

func scanInvestigation(scan func(...any) error) (*domain.FraudInvestigation, error) {
	var inv domain.FraudInvestigation
	var investigator, notes, evidence, summary sql.NullString
	var assignedAt, closedAt sql.NullTime

	err := scan(
		&inv.ID, &inv.TenantID, &inv.AlertID, &inv.CaseNumber,
		&inv.Status, &inv.Priority,
		&investigator, &notes, &evidence, &summary,
		&assignedAt, &closedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Investigator = investigator.String
	inv.ResolutionSummary = summary.String
	if assignedAt.Valid {
		t := assignedAt.Time
		inv.AssignedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		inv.ClosedAt = &t
	}
	if notes.String != "" {
		json.Unmarshal([]byte(notes.String), &inv.Notes)
	}
	if evidence.String != "" {
		json.Unmarshal([]byte(evidence.String), &inv.Evidence)
	}
	return &inv, nil
}

// GetInvestigation retrieves an investigation by ID with tenant isolation.
func (r *SQLRepository) GetInvestigation(ctx context.Context, tenantID string, invID string) (*domain.FraudInvestigation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invColumns + ` FROM fraud_investigations WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, invID)
	inv, err := scanInvestigation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

// GetInvestigationByAlert retrieves the investigation opened from an
// alert, if one exists.
func (r *SQLRepository) GetInvestigationByAlert(ctx context.Context, tenantID string, alertID string) (*domain.FraudInvestigation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + invColumns + `
		FROM fraud_investigations
		WHERE tenant_id = ? AND alert_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID)
	inv, err := scanInvestigation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

// UpdateInvestigation persists lifecycle mutations of an investigation.
func (r *SQLRepository) UpdateInvestigation(ctx context.Context, tenantID string, inv *domain.FraudInvestigation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	notes, _ := json.Marshal(inv.Notes)
	evidence, _ := json.Marshal(inv.Evidence)
	inv.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE fraud_investigations
		SET status = ?, priority = ?, investigator = ?, notes = ?,
		    evidence = ?, resolution_summary = ?, assigned_at = ?,
		    closed_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.Status, inv.Priority, inv.Investigator, string(notes),
		string(evidence), inv.ResolutionSummary, inv.AssignedAt,
		inv.ClosedAt, inv.UpdatedAt,
		tenantID, inv.ID,
	)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// ListInvestigations retrieves investigations, optionally filtered by
// status, newest first.
func (r *SQLRepository) ListInvestigations(ctx context.Context, tenantID string, status string) ([]*domain.FraudInvestigation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + invColumns + ` FROM fraud_investigations WHERE tenant_id = ?`
	args := []any{tenantID}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var investigations []*domain.FraudInvestigation
	for rows.Next() {
		inv, err := scanInvestigation(rows.Scan)
		if err != nil {
			return nil, err
		}
		investigations = append(investigations, inv)
	}
	return investigations, rows.Err()
}

// --- Whitelist ---

// SaveWhitelistEntry stores a whitelist entry with tenant isolation.
func (r *SQLRepository) SaveWhitelistEntry(ctx context.Context, tenantID string, entry *domain.WhitelistEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO whitelist_entries (
			id, tenant_id, entity_type, entity_value, reason, added_by,
			active, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, tenantID, entry.EntityType, entry.EntityValue,
		entry.Reason, entry.AddedBy, boolToInt(entry.Active),
		entry.ExpiresAt, entry.CreatedAt,
	)
	return err
}

const whitelistColumns = `id, tenant_id, entity_type, entity_value, reason, added_by,
	   active, expires_at, created_at`

func scanWhitelistEntry(scan func(...any) error) (*domain.WhitelistEntry, error) {
	var w domain.WhitelistEntry
	var reason, addedBy sql.NullString
	var active int
	var expiresAt sql.NullTime

	err := scan(
		&w.ID, &w.TenantID, &w.EntityType, &w.EntityValue,
		&reason, &addedBy, &active, &expiresAt, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.Reason = reason.String
	w.AddedBy = addedBy.String
	w.Active = active == 1
	if expiresAt.Valid {
		t := expiresAt.Time
		w.ExpiresAt = &t
	}
	return &w, nil
}

// ActiveWhitelistEntry finds an active, unexpired whitelist entry for the
// entity. Returns ErrNotFound when no effective entry exists.
func (r *SQLRepository) ActiveWhitelistEntry(ctx context.Context, tenantID, entityType, entityValue string) (*domain.WhitelistEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + whitelistColumns + `
		FROM whitelist_entries
		WHERE tenant_id = ? AND entity_type = ? AND entity_value = ?
		  AND active = 1
		  AND (expires_at IS NULL OR expires_at > ?)
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, entityType, entityValue, time.Now().UTC())
	entry, err := scanWhitelistEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// ListWhitelistEntries retrieves all whitelist entries for a tenant.
func (r *SQLRepository) ListWhitelistEntries(ctx context.Context, tenantID string) ([]*domain.WhitelistEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + whitelistColumns + ` FROM whitelist_entries WHERE tenant_id = ? ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.WhitelistEntry
	for rows.Next() {
		entry, err := scanWhitelistEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteWhitelistEntry removes a whitelist entry.
func (r *SQLRepository) DeleteWhitelistEntry(ctx context.Context, tenantID string, entryID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM whitelist_entries WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, entryID)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// --- Behavioral profiles ---

// SaveProfile upserts an account's behavioral profile. Last-writer-wins:
// concurrent refreshes of the same account are safe.
func (r *SQLRepository) SaveProfile(ctx context.Context, tenantID string, profile *domain.BehavioralProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	hours, _ := json.Marshal(profile.TypicalHours)
	days, _ := json.Marshal(profile.TypicalDays)

	query := `
		INSERT INTO behavioral_profiles (
			tenant_id, account_id, avg_amount, std_amount,
			max_daily_amount, max_daily_count, typical_hours, typical_days,
			sample_size, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, account_id) DO UPDATE SET
			avg_amount = excluded.avg_amount,
			std_amount = excluded.std_amount,
			max_daily_amount = excluded.max_daily_amount,
			max_daily_count = excluded.max_daily_count,
			typical_hours = excluded.typical_hours,
			typical_days = excluded.typical_days,
			sample_size = excluded.sample_size,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, profile.AccountID, profile.AvgAmount, profile.StdAmount,
		profile.MaxDailyAmount, profile.MaxDailyCount,
		string(hours), string(days), profile.SampleSize, profile.UpdatedAt,
	)
	return err
}

// GetProfile retrieves an account's behavioral profile.
func (r *SQLRepository) GetProfile(ctx context.Context, tenantID string, accountID string) (*domain.BehavioralProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, account_id, avg_amount, std_amount,
		       max_daily_amount, max_daily_count, typical_hours, typical_days,
		       sample_size, updated_at
		FROM behavioral_profiles
		WHERE tenant_id = ? AND account_id = ?
	`

	var p domain.BehavioralProfile
	var hours, days string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID).Scan(
		&p.TenantID, &p.AccountID, &p.AvgAmount, &p.StdAmount,
		&p.MaxDailyAmount, &p.MaxDailyCount, &hours, &days,
		&p.SampleSize, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(hours), &p.TypicalHours)
	json.Unmarshal([]byte(days), &p.TypicalDays)
	return &p, nil
}

// --- Daily metrics ---

// SaveDailyMetrics upserts the rollup row for (tenant, day).
func (r *SQLRepository) SaveDailyMetrics(ctx context.Context, tenantID string, m *domain.DailyMetrics) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO fraud_metrics (
			tenant_id, date, total_transactions, flagged_transactions,
			confirmed_fraud, false_positives, fraud_rate, detection_rate,
			false_positive_rate, precision_rate, fraud_amount_detected,
			fraud_amount_prevented, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, date) DO UPDATE SET
			total_transactions = excluded.total_transactions,
			flagged_transactions = excluded.flagged_transactions,
			confirmed_fraud = excluded.confirmed_fraud,
			false_positives = excluded.false_positives,
			fraud_rate = excluded.fraud_rate,
			detection_rate = excluded.detection_rate,
			false_positive_rate = excluded.false_positive_rate,
			precision_rate = excluded.precision_rate,
			fraud_amount_detected = excluded.fraud_amount_detected,
			fraud_amount_prevented = excluded.fraud_amount_prevented,
			computed_at = excluded.computed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, m.Date,
		m.TotalTransactions, m.FlaggedTransactions,
		m.ConfirmedFraud, m.FalsePositives,
		m.FraudRate, m.DetectionRate, m.FalsePositiveRate, m.Precision,
		m.FraudAmountDetected, m.FraudAmountPrevented, m.ComputedAt,
	)
	return err
}

// ListDailyMetrics retrieves rollup rows for [from, to], oldest first.
func (r *SQLRepository) ListDailyMetrics(ctx context.Context, tenantID string, from, to time.Time) ([]*domain.DailyMetrics, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, date, total_transactions, flagged_transactions,
		       confirmed_fraud, false_positives, fraud_rate, detection_rate,
		       false_positive_rate, precision_rate, fraud_amount_detected,
		       fraud_amount_prevented, computed_at
		FROM fraud_metrics
		WHERE tenant_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*domain.DailyMetrics
	for rows.Next() {
		var m domain.DailyMetrics
		if err := rows.Scan(
			&m.TenantID, &m.Date,
			&m.TotalTransactions, &m.FlaggedTransactions,
			&m.ConfirmedFraud, &m.FalsePositives,
			&m.FraudRate, &m.DetectionRate, &m.FalsePositiveRate, &m.Precision,
			&m.FraudAmountDetected, &m.FraudAmountPrevented, &m.ComputedAt,
		); err != nil {
			return nil, err
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRows(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
