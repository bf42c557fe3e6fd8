package repository

// Schema definitions for the Shrike database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    description TEXT,
    reference_number TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(tenant_id, account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(tenant_id, status, timestamp);
`

const schemaDetectionRules = `
CREATE TABLE IF NOT EXISTS detection_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    rule_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    params TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    auto_block INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_detection_rules_tenant ON detection_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_detection_rules_active ON detection_rules(tenant_id, active);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    rule_id TEXT,
    rule_name TEXT,
    risk_score REAL NOT NULL,
    confidence_score REAL NOT NULL,
    status TEXT NOT NULL,
    reason TEXT NOT NULL,
    anomaly_factors TEXT,
    risk_indicators TEXT,
    auto_blocked INTEGER NOT NULL DEFAULT 0,
    escalated INTEGER NOT NULL DEFAULT 0,
    assigned_to TEXT,
    resolution_notes TEXT,
    resolved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, transaction_id)
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_tenant ON fraud_alerts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_created ON fraud_alerts(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_account ON fraud_alerts(tenant_id, account_id);
`

const schemaFraudInvestigations = `
CREATE TABLE IF NOT EXISTS fraud_investigations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    alert_id TEXT NOT NULL,
    case_number TEXT NOT NULL,
    status TEXT NOT NULL,
    priority TEXT NOT NULL,
    investigator TEXT,
    notes TEXT,
    evidence TEXT,
    resolution_summary TEXT,
    assigned_at TIMESTAMP,
    closed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_investigations_tenant ON fraud_investigations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fraud_investigations_alert ON fraud_investigations(tenant_id, alert_id);
CREATE INDEX IF NOT EXISTS idx_fraud_investigations_status ON fraud_investigations(tenant_id, status);
`

const schemaWhitelistEntries = `
CREATE TABLE IF NOT EXISTS whitelist_entries (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_value TEXT NOT NULL,
    reason TEXT,
    added_by TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    expires_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_whitelist_tenant ON whitelist_entries(tenant_id);
CREATE INDEX IF NOT EXISTS idx_whitelist_entity ON whitelist_entries(tenant_id, entity_type, entity_value);
`

const schemaBehavioralProfiles = `
CREATE TABLE IF NOT EXISTS behavioral_profiles (
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    avg_amount REAL NOT NULL,
    std_amount REAL NOT NULL,
    max_daily_amount REAL NOT NULL,
    max_daily_count INTEGER NOT NULL,
    typical_hours TEXT NOT NULL,
    typical_days TEXT NOT NULL,
    sample_size INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, account_id)
);
`

const schemaFraudMetrics = `
CREATE TABLE IF NOT EXISTS fraud_metrics (
    tenant_id TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    total_transactions INTEGER NOT NULL,
    flagged_transactions INTEGER NOT NULL,
    confirmed_fraud INTEGER NOT NULL,
    false_positives INTEGER NOT NULL,
    fraud_rate REAL NOT NULL,
    detection_rate REAL NOT NULL,
    false_positive_rate REAL NOT NULL,
    precision_rate REAL NOT NULL,
    fraud_amount_detected REAL NOT NULL,
    fraud_amount_prevented REAL NOT NULL,
    computed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, date)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaDetectionRules,
		schemaFraudAlerts,
		schemaFraudInvestigations,
		schemaWhitelistEntries,
		schemaBehavioralProfiles,
		schemaFraudMetrics,
	}
}
