// Package rules provides deterministic detection rule evaluation.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// VelocityGetter returns the transaction count for an account in a
// trailing time window.
type VelocityGetter func(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error)

// Match is the outcome of a fired rule. Risk is derived from the rule's
// severity; confidence is fixed because a rule match is near-certain.
type Match struct {
	RuleID     string
	RuleName   string
	Severity   domain.Severity
	RiskScore  float64
	Confidence float64
	Reason     string
	Factors    []string
	Indicators map[string]any
	AutoBlock  bool
}

// Evaluator runs detection rules against transactions. Rules are checked
// severity-descending, oldest first within a severity; the first match
// wins and evaluation stops.
type Evaluator struct {
	velocityGetter VelocityGetter
	compiler       *comparisonCompiler
	cfg            domain.EngineConfig
	logger         *slog.Logger
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(velocityGetter VelocityGetter, cfg domain.EngineConfig, logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	compiler, err := newComparisonCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to create comparison compiler: %w", err)
	}

	return &Evaluator{
		velocityGetter: velocityGetter,
		compiler:       compiler,
		cfg:            cfg,
		logger:         logger,
	}, nil
}

// Evaluate checks the transaction against the given rules and returns the
// first match, or nil when no rule fires. A rule that fails to evaluate is
// logged and skipped; it never blocks the remaining rules.
func (e *Evaluator) Evaluate(ctx context.Context, tx *domain.Transaction, profile *domain.BehavioralProfile, rules []*domain.DetectionRule) (*Match, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is required")
	}

	ordered := orderRules(rules)

	for _, rule := range ordered {
		if !rule.Active {
			continue
		}

		fired, reason, indicators, err := e.check(ctx, tx, profile, rule)
		if err != nil {
			e.logger.Warn("rule evaluation failed, skipping",
				"tenant_id", tx.TenantID,
				"tx_id", tx.ID,
				"rule_id", rule.ID,
				"rule_type", string(rule.Type),
				"error", err,
			)
			continue
		}
		if !fired {
			continue
		}

		return &Match{
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			Severity:   rule.Severity,
			RiskScore:  rule.Severity.RiskScore(),
			Confidence: e.cfg.RuleConfidence,
			Reason:     reason,
			Factors:    []string{factorFor(rule.Type)},
			Indicators: indicators,
			AutoBlock:  rule.AutoBlock,
		}, nil
	}

	return nil, nil
}

// orderRules sorts severity-descending, then CreatedAt ascending, then ID
// for full determinism. The input slice is not mutated.
func orderRules(rules []*domain.DetectionRule) []*domain.DetectionRule {
	ordered := make([]*domain.DetectionRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i], ordered[j]
		if ri.Severity.Rank() != rj.Severity.Rank() {
			return ri.Severity.Rank() > rj.Severity.Rank()
		}
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.Before(rj.CreatedAt)
		}
		return ri.ID < rj.ID
	})
	return ordered
}

func (e *Evaluator) check(ctx context.Context, tx *domain.Transaction, profile *domain.BehavioralProfile, rule *domain.DetectionRule) (bool, string, map[string]any, error) {
	switch rule.Type {
	case domain.RuleAmountThreshold:
		return e.checkAmountThreshold(tx, rule)
	case domain.RuleVelocity:
		return e.checkVelocity(ctx, tx, rule)
	case domain.RuleTimeAnomaly:
		return e.checkTimeAnomaly(tx, rule)
	case domain.RuleAmountAnomaly:
		return e.checkAmountAnomaly(tx, profile, rule)
	case domain.RuleComparison:
		return e.checkComparison(tx, rule)
	default:
		return false, "", nil, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

func (e *Evaluator) checkAmountThreshold(tx *domain.Transaction, rule *domain.DetectionRule) (bool, string, map[string]any, error) {
	p := rule.Params.AmountThreshold
	if p == nil {
		return false, "", nil, fmt.Errorf("rule %s: missing amountThreshold params", rule.ID)
	}

	amount := math.Abs(tx.Amount)
	if amount <= p.MaxAmount {
		return false, "", nil, nil
	}

	reason := fmt.Sprintf("amount %.2f exceeds threshold %.2f", amount, p.MaxAmount)
	indicators := map[string]any{
		"amount":    amount,
		"threshold": p.MaxAmount,
	}
	return true, reason, indicators, nil
}

func (e *Evaluator) checkVelocity(ctx context.Context, tx *domain.Transaction, rule *domain.DetectionRule) (bool, string, map[string]any, error) {
	p := rule.Params.Velocity
	if p == nil {
		return false, "", nil, fmt.Errorf("rule %s: missing velocity params", rule.ID)
	}
	if e.velocityGetter == nil {
		return false, "", nil, fmt.Errorf("rule %s: no velocity source configured", rule.ID)
	}

	count, err := e.velocityGetter(ctx, tx.TenantID, tx.AccountID, p.WindowMinutes*60)
	if err != nil {
		return false, "", nil, fmt.Errorf("rule %s: velocity lookup failed: %w", rule.ID, err)
	}
	if count <= int64(p.MaxTransactions) {
		return false, "", nil, nil
	}

	reason := fmt.Sprintf("%d transactions in %d minutes exceeds limit %d", count, p.WindowMinutes, p.MaxTransactions)
	indicators := map[string]any{
		"transaction_count": count,
		"window_minutes":    p.WindowMinutes,
		"max_transactions":  p.MaxTransactions,
	}
	return true, reason, indicators, nil
}

func (e *Evaluator) checkTimeAnomaly(tx *domain.Transaction, rule *domain.DetectionRule) (bool, string, map[string]any, error) {
	p := rule.Params.TimeAnomaly
	if p == nil {
		return false, "", nil, fmt.Errorf("rule %s: missing timeAnomaly params", rule.ID)
	}

	hour := tx.Timestamp.UTC().Hour()
	if hour >= p.StartHour && hour <= p.EndHour {
		return false, "", nil, nil
	}

	reason := fmt.Sprintf("transaction at hour %d outside allowed window %02d:00-%02d:59", hour, p.StartHour, p.EndHour)
	indicators := map[string]any{
		"hour":       hour,
		"start_hour": p.StartHour,
		"end_hour":   p.EndHour,
	}
	return true, reason, indicators, nil
}

func (e *Evaluator) checkAmountAnomaly(tx *domain.Transaction, profile *domain.BehavioralProfile, rule *domain.DetectionRule) (bool, string, map[string]any, error) {
	p := rule.Params.AmountAnomaly
	if p == nil {
		return false, "", nil, fmt.Errorf("rule %s: missing amountAnomaly params", rule.ID)
	}

	// Prefer the behavioral baseline; fall back to the configured
	// average. With neither, the rule stays silent on cold start.
	var average float64
	switch {
	case profile != nil && profile.AvgAmount > 0:
		average = profile.AvgAmount
	case p.FallbackAverage > 0:
		average = p.FallbackAverage
	default:
		return false, "", nil, nil
	}

	amount := math.Abs(tx.Amount)
	limit := average * p.Multiplier
	if amount <= limit {
		return false, "", nil, nil
	}

	reason := fmt.Sprintf("amount %.2f exceeds %.1fx account average %.2f", amount, p.Multiplier, average)
	indicators := map[string]any{
		"amount":     amount,
		"average":    average,
		"multiplier": p.Multiplier,
	}
	return true, reason, indicators, nil
}

func (e *Evaluator) checkComparison(tx *domain.Transaction, rule *domain.DetectionRule) (bool, string, map[string]any, error) {
	p := rule.Params.Comparison
	if p == nil {
		return false, "", nil, fmt.Errorf("rule %s: missing comparison params", rule.ID)
	}

	program, err := e.compiler.program(rule)
	if err != nil {
		return false, "", nil, err
	}

	fired, err := evalComparison(program, tx, e.cfg.HomeCountry)
	if err != nil {
		return false, "", nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	if !fired {
		return false, "", nil, nil
	}

	reason := fmt.Sprintf("all %d conditions matched", len(p.Conditions))
	indicators := map[string]any{
		"conditions": len(p.Conditions),
	}
	return true, reason, indicators, nil
}

func factorFor(t domain.RuleType) string {
	switch t {
	case domain.RuleAmountThreshold:
		return "amount_threshold"
	case domain.RuleVelocity:
		return "velocity"
	case domain.RuleTimeAnomaly:
		return "time_anomaly"
	case domain.RuleAmountAnomaly:
		return "amount_anomaly"
	case domain.RuleComparison:
		return "comparison"
	default:
		return "rule"
	}
}

// activationFor builds the variable bindings a comparison program sees.
func activationFor(tx *domain.Transaction, homeCountry string) map[string]any {
	ts := tx.Timestamp.UTC()
	return map[string]any{
		"amount":   math.Abs(tx.Amount),
		"hour":     int64(ts.Hour()),
		"weekday":  int64(ts.Weekday()),
		"type":     tx.Type,
		"currency": tx.Currency,
		"country":  tx.Country(homeCountry),
		"merchant": tx.Merchant(),
	}
}

// ruleVersion keys the compiled-program cache so edited rules recompile.
func ruleVersion(rule *domain.DetectionRule) string {
	return rule.ID + "@" + rule.UpdatedAt.UTC().Format(time.RFC3339Nano)
}
