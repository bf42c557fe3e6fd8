// Package domain defines the core types and interfaces for Shrike.
package domain

import (
	"context"
	"time"
)

// Repository defines the persistence interface the engine depends on.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction history (written by ingest, read by profile/model/metrics)
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	RecentTransactionsByAccount(ctx context.Context, tenantID, accountID string, limit int) ([]*Transaction, error)
	RecentTransactions(ctx context.Context, tenantID string, limit int) ([]*Transaction, error)
	CountTransactionsByAccount(ctx context.Context, tenantID, accountID string, since time.Time) (int64, error)
	CountTransactionsBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error)

	// Detection rules (read-only to the engine)
	SaveRule(ctx context.Context, tenantID string, rule *DetectionRule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*DetectionRule, error)
	ListActiveRules(ctx context.Context, tenantID string) ([]*DetectionRule, error)
	DeactivateRule(ctx context.Context, tenantID string, ruleID string) error

	// Alerts
	SaveAlert(ctx context.Context, tenantID string, alert *FraudAlert) error
	GetAlert(ctx context.Context, tenantID string, alertID string) (*FraudAlert, error)
	GetAlertByTransaction(ctx context.Context, tenantID string, txID string) (*FraudAlert, error)
	UpdateAlert(ctx context.Context, tenantID string, alert *FraudAlert) error
	ListAlerts(ctx context.Context, tenantID string, filter AlertFilter) ([]*FraudAlert, error)

	// Investigations
	SaveInvestigation(ctx context.Context, tenantID string, inv *FraudInvestigation) error
	GetInvestigation(ctx context.Context, tenantID string, invID string) (*FraudInvestigation, error)
	GetInvestigationByAlert(ctx context.Context, tenantID string, alertID string) (*FraudInvestigation, error)
	UpdateInvestigation(ctx context.Context, tenantID string, inv *FraudInvestigation) error
	ListInvestigations(ctx context.Context, tenantID string, status string) ([]*FraudInvestigation, error)

	// Whitelist (read-only to the engine)
	SaveWhitelistEntry(ctx context.Context, tenantID string, entry *WhitelistEntry) error
	ActiveWhitelistEntry(ctx context.Context, tenantID, entityType, entityValue string) (*WhitelistEntry, error)
	ListWhitelistEntries(ctx context.Context, tenantID string) ([]*WhitelistEntry, error)
	DeleteWhitelistEntry(ctx context.Context, tenantID string, entryID string) error

	// Behavioral profiles
	SaveProfile(ctx context.Context, tenantID string, profile *BehavioralProfile) error
	GetProfile(ctx context.Context, tenantID string, accountID string) (*BehavioralProfile, error)

	// Daily metrics rollups
	SaveDailyMetrics(ctx context.Context, tenantID string, m *DailyMetrics) error
	ListDailyMetrics(ctx context.Context, tenantID string, from, to time.Time) ([]*DailyMetrics, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Status      string
	MinRisk     float64
	AutoBlocked *bool
	From        time.Time
	To          time.Time
	Limit       int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
