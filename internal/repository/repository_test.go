package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "shrike-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:        "tx-001",
			AccountID: "acc-001",
			Type:      "purchase",
			Amount:    -120.50,
			Currency:  "USD",
			Status:    domain.TxStatusCompleted,
			Timestamp: time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
			Metadata:  map[string]any{"country": "US", "merchant": "acme"},
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if retrieved.Metadata["merchant"] != "acme" {
			t.Errorf("expected metadata merchant acme, got %v", retrieved.Metadata["merchant"])
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "tx-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx-test"}

		err := repo.SaveTransaction(ctx, "", tx)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetTransaction(ctx, "", "tx-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("RecentTransactionsByAccount", func(t *testing.T) {
		base := time.Now().UTC().Add(-2 * time.Hour)
		for i, status := range []string{domain.TxStatusCompleted, domain.TxStatusCompleted, domain.TxStatusPending} {
			tx := &domain.Transaction{
				ID:        "tx-recent-" + status + "-" + time.Now().Format("150405") + string(rune('a'+i)),
				AccountID: "acc-recent",
				Type:      "purchase",
				Amount:    -50.00,
				Currency:  "USD",
				Status:    status,
				Timestamp: base.Add(time.Duration(i) * time.Minute),
				CreatedAt: time.Now().UTC(),
			}
			if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		transactions, err := repo.RecentTransactionsByAccount(ctx, tenantID, "acc-recent", 10)
		if err != nil {
			t.Fatalf("RecentTransactionsByAccount failed: %v", err)
		}

		// Pending transaction must be excluded
		if len(transactions) != 2 {
			t.Fatalf("expected 2 completed transactions, got %d", len(transactions))
		}
		// Newest first
		if transactions[0].Timestamp.Before(transactions[1].Timestamp) {
			t.Error("expected newest-first ordering")
		}
	})

	t.Run("CountTransactionsByAccount", func(t *testing.T) {
		since := time.Now().UTC().Add(-3 * time.Hour)
		count, err := repo.CountTransactionsByAccount(ctx, tenantID, "acc-recent", since)
		if err != nil {
			t.Fatalf("CountTransactionsByAccount failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 transactions (all statuses), got %d", count)
		}
	})

	t.Run("SaveAndListRules", func(t *testing.T) {
		rule := &domain.DetectionRule{
			ID:       "rule-001",
			Name:     "Large amount",
			Type:     domain.RuleAmountThreshold,
			Severity: domain.SeverityHigh,
			Params: domain.RuleParams{
				AmountThreshold: &domain.AmountThresholdParams{MaxAmount: 10000},
			},
			Active: true,
		}

		if err := repo.SaveRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		retrieved, err := repo.GetRule(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if retrieved.Params.AmountThreshold == nil || retrieved.Params.AmountThreshold.MaxAmount != 10000 {
			t.Errorf("rule params not round-tripped: %+v", retrieved.Params)
		}

		rules, err := repo.ListActiveRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 active rule, got %d", len(rules))
		}

		if err := repo.DeactivateRule(ctx, tenantID, rule.ID); err != nil {
			t.Fatalf("DeactivateRule failed: %v", err)
		}

		rules, err = repo.ListActiveRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected 0 active rules after deactivation, got %d", len(rules))
		}
	})

	t.Run("SaveRuleRejectsInvalid", func(t *testing.T) {
		rule := &domain.DetectionRule{
			ID:       "rule-bad",
			Name:     "Missing params",
			Type:     domain.RuleVelocity,
			Severity: domain.SeverityLow,
			Active:   true,
		}

		if err := repo.SaveRule(ctx, tenantID, rule); err == nil {
			t.Error("expected validation error for rule without params")
		}
	})

	t.Run("AlertIdempotency", func(t *testing.T) {
		ruleID := "rule-001"
		alert := &domain.FraudAlert{
			ID:              "alert-001",
			TransactionID:   "tx-001",
			AccountID:       "acc-001",
			RuleID:          &ruleID,
			RuleName:        "Large amount",
			RiskScore:       90,
			ConfidenceScore: 95,
			Status:          domain.AlertOpen,
			Reason:          "amount exceeds threshold",
			AnomalyFactors:  []string{"amount_threshold"},
			RiskIndicators:  map[string]any{"amount": 12000.0},
			CreatedAt:       time.Now().UTC(),
			UpdatedAt:       time.Now().UTC(),
		}

		if err := repo.SaveAlert(ctx, tenantID, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		// Second insert for the same transaction is a no-op
		dup := *alert
		dup.ID = "alert-dup"
		if err := repo.SaveAlert(ctx, tenantID, &dup); err != nil {
			t.Fatalf("duplicate SaveAlert should not error: %v", err)
		}

		retrieved, err := repo.GetAlertByTransaction(ctx, tenantID, "tx-001")
		if err != nil {
			t.Fatalf("GetAlertByTransaction failed: %v", err)
		}
		if retrieved.ID != "alert-001" {
			t.Errorf("expected original alert-001 to win, got %s", retrieved.ID)
		}
		if retrieved.RuleID == nil || *retrieved.RuleID != ruleID {
			t.Errorf("rule ID not round-tripped: %v", retrieved.RuleID)
		}
	})

	t.Run("UpdateAlert", func(t *testing.T) {
		alert, err := repo.GetAlert(ctx, tenantID, "alert-001")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}

		now := time.Now().UTC()
		alert.Status = domain.AlertResolvedFraud
		alert.ResolutionNotes = "confirmed by analyst"
		alert.ResolvedAt = &now

		if err := repo.UpdateAlert(ctx, tenantID, alert); err != nil {
			t.Fatalf("UpdateAlert failed: %v", err)
		}

		retrieved, err := repo.GetAlert(ctx, tenantID, "alert-001")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if retrieved.Status != domain.AlertResolvedFraud {
			t.Errorf("expected status %s, got %s", domain.AlertResolvedFraud, retrieved.Status)
		}
		if retrieved.ResolvedAt == nil {
			t.Error("expected ResolvedAt to be set")
		}
	})

	t.Run("ListAlertsFilter", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, tenantID, domain.AlertFilter{Status: domain.AlertResolvedFraud})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 1 {
			t.Errorf("expected 1 resolved alert, got %d", len(alerts))
		}

		alerts, err = repo.ListAlerts(ctx, tenantID, domain.AlertFilter{MinRisk: 95})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 0 {
			t.Errorf("expected 0 alerts above risk 95, got %d", len(alerts))
		}
	})

	t.Run("SaveAndGetInvestigation", func(t *testing.T) {
		inv := &domain.FraudInvestigation{
			ID:         "inv-001",
			AlertID:    "alert-001",
			CaseNumber: "INV-20260829-A1B2C3D4",
			Status:     domain.InvestigationOpen,
			Priority:   domain.PriorityHigh,
			Notes: []domain.InvestigationNote{
				{Author: "system", Text: "auto-created", CreatedAt: time.Now().UTC()},
			},
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}

		if err := repo.SaveInvestigation(ctx, tenantID, inv); err != nil {
			t.Fatalf("SaveInvestigation failed: %v", err)
		}

		retrieved, err := repo.GetInvestigationByAlert(ctx, tenantID, "alert-001")
		if err != nil {
			t.Fatalf("GetInvestigationByAlert failed: %v", err)
		}
		if retrieved.CaseNumber != inv.CaseNumber {
			t.Errorf("expected case number %s, got %s", inv.CaseNumber, retrieved.CaseNumber)
		}
		if len(retrieved.Notes) != 1 || retrieved.Notes[0].Author != "system" {
			t.Errorf("notes not round-tripped: %+v", retrieved.Notes)
		}

		retrieved.Status = domain.InvestigationInProgress
		retrieved.Investigator = "analyst-7"
		now := time.Now().UTC()
		retrieved.AssignedAt = &now
		if err := repo.UpdateInvestigation(ctx, tenantID, retrieved); err != nil {
			t.Fatalf("UpdateInvestigation failed: %v", err)
		}

		open, err := repo.ListInvestigations(ctx, tenantID, domain.InvestigationInProgress)
		if err != nil {
			t.Fatalf("ListInvestigations failed: %v", err)
		}
		if len(open) != 1 {
			t.Errorf("expected 1 in-progress investigation, got %d", len(open))
		}
	})

	t.Run("Whitelist", func(t *testing.T) {
		entry := &domain.WhitelistEntry{
			ID:          "wl-001",
			EntityType:  domain.WhitelistAccount,
			EntityValue: "acc-trusted",
			Reason:      "corporate account",
			Active:      true,
			CreatedAt:   time.Now().UTC(),
		}

		if err := repo.SaveWhitelistEntry(ctx, tenantID, entry); err != nil {
			t.Fatalf("SaveWhitelistEntry failed: %v", err)
		}

		found, err := repo.ActiveWhitelistEntry(ctx, tenantID, domain.WhitelistAccount, "acc-trusted")
		if err != nil {
			t.Fatalf("ActiveWhitelistEntry failed: %v", err)
		}
		if found.ID != "wl-001" {
			t.Errorf("expected wl-001, got %s", found.ID)
		}

		_, err = repo.ActiveWhitelistEntry(ctx, tenantID, domain.WhitelistAccount, "acc-unknown")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for unlisted account, got: %v", err)
		}

		// Expired entry is not effective
		expired := time.Now().UTC().Add(-time.Hour)
		old := &domain.WhitelistEntry{
			ID:          "wl-002",
			EntityType:  domain.WhitelistMerchant,
			EntityValue: "old-merchant",
			Active:      true,
			ExpiresAt:   &expired,
			CreatedAt:   time.Now().UTC(),
		}
		if err := repo.SaveWhitelistEntry(ctx, tenantID, old); err != nil {
			t.Fatalf("SaveWhitelistEntry failed: %v", err)
		}
		_, err = repo.ActiveWhitelistEntry(ctx, tenantID, domain.WhitelistMerchant, "old-merchant")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for expired entry, got: %v", err)
		}

		if err := repo.DeleteWhitelistEntry(ctx, tenantID, "wl-001"); err != nil {
			t.Fatalf("DeleteWhitelistEntry failed: %v", err)
		}
		_, err = repo.ActiveWhitelistEntry(ctx, tenantID, domain.WhitelistAccount, "acc-trusted")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
	})

	t.Run("ProfileUpsert", func(t *testing.T) {
		profile := &domain.BehavioralProfile{
			AccountID:      "acc-001",
			AvgAmount:      250.00,
			StdAmount:      40.00,
			MaxDailyAmount: 1200.00,
			MaxDailyCount:  8,
			TypicalHours:   []int{9, 12, 18},
			TypicalDays:    []int{1, 2, 3, 4, 5},
			SampleSize:     120,
			UpdatedAt:      time.Now().UTC(),
		}

		if err := repo.SaveProfile(ctx, tenantID, profile); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}

		profile.AvgAmount = 275.00
		profile.SampleSize = 140
		if err := repo.SaveProfile(ctx, tenantID, profile); err != nil {
			t.Fatalf("SaveProfile upsert failed: %v", err)
		}

		retrieved, err := repo.GetProfile(ctx, tenantID, "acc-001")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if retrieved.AvgAmount != 275.00 {
			t.Errorf("expected upserted AvgAmount 275.00, got %.2f", retrieved.AvgAmount)
		}
		if len(retrieved.TypicalHours) != 3 {
			t.Errorf("typical hours not round-tripped: %v", retrieved.TypicalHours)
		}
	})

	t.Run("DailyMetricsUpsert", func(t *testing.T) {
		day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
		m := &domain.DailyMetrics{
			Date:                 day,
			TotalTransactions:    1000,
			FlaggedTransactions:  12,
			ConfirmedFraud:       3,
			FalsePositives:       2,
			FraudRate:            1.2,
			DetectionRate:        60.0,
			FalsePositiveRate:    40.0,
			Precision:            60.0,
			FraudAmountDetected:  4500.00,
			FraudAmountPrevented: 1500.00,
			ComputedAt:           time.Now().UTC(),
		}

		if err := repo.SaveDailyMetrics(ctx, tenantID, m); err != nil {
			t.Fatalf("SaveDailyMetrics failed: %v", err)
		}

		m.ConfirmedFraud = 4
		if err := repo.SaveDailyMetrics(ctx, tenantID, m); err != nil {
			t.Fatalf("SaveDailyMetrics upsert failed: %v", err)
		}

		rows, err := repo.ListDailyMetrics(ctx, tenantID, day.AddDate(0, 0, -1), day)
		if err != nil {
			t.Fatalf("ListDailyMetrics failed: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 metrics row, got %d", len(rows))
		}
		if rows[0].ConfirmedFraud != 4 {
			t.Errorf("expected upserted ConfirmedFraud 4, got %d", rows[0].ConfirmedFraud)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetAlert(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetProfile(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
