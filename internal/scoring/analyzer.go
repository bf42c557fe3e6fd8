// Package scoring reconciles rule and model signals into fraud alerts.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/model"
	"github.com/opensource-finance/shrike/internal/profile"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/rules"
)

// Analyzer runs the detection pipeline for one transaction: whitelist
// check, then rules, then the outlier model. Rules win outright; the
// model is consulted only when no rule fires.
type Analyzer struct {
	repo     domain.Repository
	bus      domain.EventBus
	profiles *profile.Store
	rules    *rules.Evaluator
	detector *model.Detector
	cfg      domain.EngineConfig
	logger   *slog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(repo domain.Repository, bus domain.EventBus, profiles *profile.Store, evaluator *rules.Evaluator, detector *model.Detector, cfg domain.EngineConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		repo:     repo,
		bus:      bus,
		profiles: profiles,
		rules:    evaluator,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
}

// Analyze scores a completed transaction and persists an alert when a
// detection fires. Returns nil when the transaction is clean, skipped or
// whitelisted. Analyze never panics: detection failures are logged and
// swallowed so a scoring bug cannot take down ingestion.
func (a *Analyzer) Analyze(ctx context.Context, tx *domain.Transaction) (alert *domain.FraudAlert, err error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is required")
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("analysis panicked",
				"tenant_id", tx.TenantID,
				"tx_id", tx.ID,
				"panic", r,
			)
			alert = nil
			err = nil
		}
	}()

	if !tx.Completed() {
		return nil, nil
	}

	if a.whitelisted(ctx, tx) {
		a.logger.Debug("transaction whitelisted, skipping analysis",
			"tenant_id", tx.TenantID,
			"tx_id", tx.ID,
		)
		return nil, nil
	}

	if alert := a.checkRules(ctx, tx); alert != nil {
		return a.record(ctx, alert)
	}

	if alert := a.checkModel(ctx, tx); alert != nil {
		return a.record(ctx, alert)
	}

	return nil, nil
}

// whitelisted reports whether the account or merchant carries an active,
// unexpired whitelist entry. Lookup failures fail open: a broken
// whitelist must not suppress detection.
func (a *Analyzer) whitelisted(ctx context.Context, tx *domain.Transaction) bool {
	entries := []struct {
		entityType  string
		entityValue string
	}{
		{domain.WhitelistAccount, tx.AccountID},
		{domain.WhitelistMerchant, tx.Merchant()},
	}

	for _, e := range entries {
		if e.entityValue == "" {
			continue
		}
		entry, err := a.repo.ActiveWhitelistEntry(ctx, tx.TenantID, e.entityType, e.entityValue)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				a.logger.Warn("whitelist lookup failed",
					"tenant_id", tx.TenantID,
					"tx_id", tx.ID,
					"entity_type", e.entityType,
					"error", err,
				)
			}
			continue
		}
		if entry != nil {
			return true
		}
	}
	return false
}

// checkRules evaluates the tenant's active rules and converts a match
// into an alert.
func (a *Analyzer) checkRules(ctx context.Context, tx *domain.Transaction) *domain.FraudAlert {
	activeRules, err := a.repo.ListActiveRules(ctx, tx.TenantID)
	if err != nil {
		a.logger.Error("failed to load detection rules",
			"tenant_id", tx.TenantID,
			"tx_id", tx.ID,
			"error", err,
		)
		return nil
	}
	if len(activeRules) == 0 {
		return nil
	}

	// The behavioral profile backs AMOUNT_ANOMALY rules. Thin history is
	// a normal cold-start condition, not an error.
	var prof *domain.BehavioralProfile
	if a.profiles != nil {
		prof, err = a.profiles.Get(ctx, tx.TenantID, tx.AccountID)
		if err != nil && !errors.Is(err, domain.ErrInsufficientHistory) {
			a.logger.Warn("behavioral profile unavailable",
				"tenant_id", tx.TenantID,
				"account_id", tx.AccountID,
				"error", err,
			)
		}
	}

	match, err := a.rules.Evaluate(ctx, tx, prof, activeRules)
	if err != nil {
		a.logger.Error("rule evaluation failed",
			"tenant_id", tx.TenantID,
			"tx_id", tx.ID,
			"error", err,
		)
		return nil
	}
	if match == nil {
		return nil
	}

	ruleID := match.RuleID
	now := time.Now().UTC()
	return &domain.FraudAlert{
		ID:              uuid.New().String(),
		TenantID:        tx.TenantID,
		TransactionID:   tx.ID,
		AccountID:       tx.AccountID,
		RuleID:          &ruleID,
		RuleName:        match.RuleName,
		RiskScore:       domain.ClampScore(match.RiskScore),
		ConfidenceScore: domain.ClampScore(match.Confidence),
		Status:          domain.AlertOpen,
		Reason:          match.Reason,
		AnomalyFactors:  match.Factors,
		RiskIndicators:  match.Indicators,
		AutoBlocked:     match.AutoBlock,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// checkModel scores the transaction against the outlier model, training
// it first under a soft deadline when no fit exists yet. An untrained
// model is a normal cold-start condition and yields no alert.
func (a *Analyzer) checkModel(ctx context.Context, tx *domain.Transaction) *domain.FraudAlert {
	if a.detector == nil {
		return nil
	}

	if !a.detector.Trained() {
		a.trainOpportunistically(ctx, tx.TenantID)
	}

	result, err := a.detector.Score(tx)
	if err != nil {
		if !errors.Is(err, model.ErrModelNotTrained) {
			a.logger.Error("model scoring failed",
				"tenant_id", tx.TenantID,
				"tx_id", tx.ID,
				"error", err,
			)
		}
		return nil
	}
	if !result.Outlier {
		return nil
	}

	now := time.Now().UTC()
	alert := &domain.FraudAlert{
		ID:              uuid.New().String(),
		TenantID:        tx.TenantID,
		TransactionID:   tx.ID,
		AccountID:       tx.AccountID,
		RiskScore:       result.RiskScore,
		ConfidenceScore: domain.ClampScore(result.Confidence),
		Status:          domain.AlertOpen,
		Reason:          fmt.Sprintf("statistical outlier: anomaly score %.3f", result.Score),
		AnomalyFactors:  []string{"model_outlier"},
		RiskIndicators: map[string]any{
			"anomaly_score": result.Score,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.enrichFromProfile(ctx, tx, alert)
	return alert
}

// enrichFromProfile annotates a model alert with the behavioral context
// an investigator reads first: whether the transaction landed in the
// account's usual hours and weekdays.
func (a *Analyzer) enrichFromProfile(ctx context.Context, tx *domain.Transaction, alert *domain.FraudAlert) {
	if a.profiles == nil {
		return
	}
	prof, err := a.profiles.Get(ctx, tx.TenantID, tx.AccountID)
	if err != nil || prof == nil {
		return
	}

	ts := tx.Timestamp.UTC()
	if !prof.TypicalHour(ts.Hour()) {
		alert.AnomalyFactors = append(alert.AnomalyFactors, "atypical_hour")
		alert.RiskIndicators["hour"] = ts.Hour()
		alert.RiskIndicators["typical_hours"] = prof.TypicalHours
	}
	if !prof.TypicalDay(int(ts.Weekday())) {
		alert.AnomalyFactors = append(alert.AnomalyFactors, "atypical_weekday")
		alert.RiskIndicators["weekday"] = int(ts.Weekday())
	}
}

func (a *Analyzer) trainOpportunistically(ctx context.Context, tenantID string) {
	timeout := a.cfg.TrainTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	trainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	corpus, err := a.repo.RecentTransactions(trainCtx, tenantID, a.cfg.MaxTrainingSize)
	if err != nil {
		a.logger.Warn("failed to load training corpus",
			"tenant_id", tenantID,
			"error", err,
		)
		return
	}

	if err := a.detector.Train(trainCtx, corpus); err != nil {
		if errors.Is(err, model.ErrInsufficientTrainingData) {
			a.logger.Debug("not enough history to train outlier model",
				"tenant_id", tenantID,
				"corpus_size", len(corpus),
			)
		} else {
			a.logger.Warn("outlier model training failed",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}
}

// record persists the alert idempotently and publishes the created
// event. At-least-once delivery can race two analyses of the same
// transaction; the repository keeps the first alert and the canonical
// row is re-read so both callers see the same alert.
func (a *Analyzer) record(ctx context.Context, alert *domain.FraudAlert) (*domain.FraudAlert, error) {
	if err := a.repo.SaveAlert(ctx, alert.TenantID, alert); err != nil {
		a.logger.Error("failed to persist alert",
			"tenant_id", alert.TenantID,
			"tx_id", alert.TransactionID,
			"error", err,
		)
		return nil, nil
	}

	canonical, err := a.repo.GetAlertByTransaction(ctx, alert.TenantID, alert.TransactionID)
	if err != nil {
		a.logger.Error("failed to re-read alert",
			"tenant_id", alert.TenantID,
			"tx_id", alert.TransactionID,
			"error", err,
		)
		return alert, nil
	}

	// Publish only for the insert that won
	if canonical.ID == alert.ID && a.bus != nil {
		payload, _ := json.Marshal(canonical)
		if err := a.bus.Publish(ctx, alert.TenantID, domain.TopicAlertCreated, payload); err != nil {
			a.logger.Warn("failed to publish alert event",
				"tenant_id", alert.TenantID,
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}

	a.logger.Info("fraud alert recorded",
		"tenant_id", canonical.TenantID,
		"tx_id", canonical.TransactionID,
		"alert_id", canonical.ID,
		"risk_score", canonical.RiskScore,
		"auto_blocked", canonical.AutoBlocked,
	)
	return canonical, nil
}
