package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func testTx(amount float64, hour int) *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-001",
		TenantID:  "tenant-001",
		AccountID: "acc-001",
		Type:      "purchase",
		Amount:    amount,
		Currency:  "USD",
		Status:    domain.TxStatusCompleted,
		Timestamp: time.Date(2026, 8, 24, hour, 30, 0, 0, time.UTC),
	}
}

func newTestEvaluator(t *testing.T, getter VelocityGetter) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(getter, domain.DefaultEngineConfig(), nil)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	return e
}

func TestEvaluatorAmountThreshold(t *testing.T) {
	e := newTestEvaluator(t, nil)
	ctx := context.Background()

	rule := &domain.DetectionRule{
		ID:       "rule-amount",
		Name:     "Large amount",
		Type:     domain.RuleAmountThreshold,
		Severity: domain.SeverityHigh,
		Params: domain.RuleParams{
			AmountThreshold: &domain.AmountThresholdParams{MaxAmount: 10000},
		},
		Active:    true,
		AutoBlock: true,
	}

	t.Run("Fires", func(t *testing.T) {
		match, err := e.Evaluate(ctx, testTx(-15000, 12), nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Fatal("expected a match")
		}
		if match.RuleID != "rule-amount" {
			t.Errorf("expected rule-amount, got %s", match.RuleID)
		}
		if match.RiskScore != 90 {
			t.Errorf("expected HIGH risk 90, got %.0f", match.RiskScore)
		}
		if match.Confidence != 95 {
			t.Errorf("expected confidence 95, got %.0f", match.Confidence)
		}
		if !match.AutoBlock {
			t.Error("expected auto-block to carry through")
		}
		if len(match.Factors) != 1 || match.Factors[0] != "amount_threshold" {
			t.Errorf("unexpected factors: %v", match.Factors)
		}
	})

	t.Run("MagnitudeNotSign", func(t *testing.T) {
		match, err := e.Evaluate(ctx, testTx(15000, 12), nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Error("expected a match for a large inflow")
		}
	})

	t.Run("Silent", func(t *testing.T) {
		match, err := e.Evaluate(ctx, testTx(-500, 12), nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match != nil {
			t.Errorf("expected no match, got %s", match.RuleID)
		}
	})

	t.Run("InactiveSkipped", func(t *testing.T) {
		inactive := *rule
		inactive.Active = false
		match, _ := e.Evaluate(ctx, testTx(-15000, 12), nil, []*domain.DetectionRule{&inactive})
		if match != nil {
			t.Error("inactive rule must not fire")
		}
	})
}

func TestEvaluatorVelocity(t *testing.T) {
	ctx := context.Background()

	rule := &domain.DetectionRule{
		ID:       "rule-velocity",
		Name:     "Rapid fire",
		Type:     domain.RuleVelocity,
		Severity: domain.SeverityMedium,
		Params: domain.RuleParams{
			Velocity: &domain.VelocityParams{WindowMinutes: 60, MaxTransactions: 10},
		},
		Active: true,
	}

	t.Run("Fires", func(t *testing.T) {
		e := newTestEvaluator(t, func(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error) {
			if windowSecs != 3600 {
				t.Errorf("expected window 3600s, got %d", windowSecs)
			}
			return 15, nil
		})

		match, err := e.Evaluate(ctx, testTx(-50, 12), nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Fatal("expected a match")
		}
		if match.RiskScore != 65 {
			t.Errorf("expected MEDIUM risk 65, got %.0f", match.RiskScore)
		}
	})

	t.Run("UnderLimit", func(t *testing.T) {
		e := newTestEvaluator(t, func(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error) {
			return 3, nil
		})

		match, _ := e.Evaluate(ctx, testTx(-50, 12), nil, []*domain.DetectionRule{rule})
		if match != nil {
			t.Error("expected no match under the limit")
		}
	})

	t.Run("LookupErrorSkipsRule", func(t *testing.T) {
		e := newTestEvaluator(t, func(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error) {
			return 0, fmt.Errorf("counter backend down")
		})

		// A second, checkable rule must still be evaluated
		fallback := &domain.DetectionRule{
			ID:       "rule-amount",
			Name:     "Large amount",
			Type:     domain.RuleAmountThreshold,
			Severity: domain.SeverityLow,
			Params: domain.RuleParams{
				AmountThreshold: &domain.AmountThresholdParams{MaxAmount: 100},
			},
			Active: true,
		}

		match, err := e.Evaluate(ctx, testTx(-500, 12), nil, []*domain.DetectionRule{rule, fallback})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil || match.RuleID != "rule-amount" {
			t.Errorf("expected fallback rule to fire after velocity error, got %+v", match)
		}
	})
}

func TestEvaluatorTimeAnomaly(t *testing.T) {
	e := newTestEvaluator(t, nil)
	ctx := context.Background()

	rule := &domain.DetectionRule{
		ID:       "rule-time",
		Name:     "Off-hours",
		Type:     domain.RuleTimeAnomaly,
		Severity: domain.SeverityLow,
		Params: domain.RuleParams{
			TimeAnomaly: &domain.TimeAnomalyParams{StartHour: 6, EndHour: 22},
		},
		Active: true,
	}

	t.Run("FiresOutsideWindow", func(t *testing.T) {
		match, err := e.Evaluate(ctx, testTx(-50, 3), nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Fatal("expected a match at 3am")
		}
		if match.RiskScore != 40 {
			t.Errorf("expected LOW risk 40, got %.0f", match.RiskScore)
		}
	})

	t.Run("SilentInsideWindow", func(t *testing.T) {
		match, _ := e.Evaluate(ctx, testTx(-50, 14), nil, []*domain.DetectionRule{rule})
		if match != nil {
			t.Error("expected no match at 2pm")
		}
	})

	t.Run("BoundariesInclusive", func(t *testing.T) {
		for _, hour := range []int{6, 22} {
			match, _ := e.Evaluate(ctx, testTx(-50, hour), nil, []*domain.DetectionRule{rule})
			if match != nil {
				t.Errorf("expected no match at boundary hour %d", hour)
			}
		}
	})
}

func TestEvaluatorAmountAnomaly(t *testing.T) {
	e := newTestEvaluator(t, nil)
	ctx := context.Background()

	rule := &domain.DetectionRule{
		ID:       "rule-anomaly",
		Name:     "Unusual amount",
		Type:     domain.RuleAmountAnomaly,
		Severity: domain.SeverityHigh,
		Params: domain.RuleParams{
			AmountAnomaly: &domain.AmountAnomalyParams{Multiplier: 3},
		},
		Active: true,
	}

	profile := &domain.BehavioralProfile{
		AccountID: "acc-001",
		AvgAmount: 100,
	}

	t.Run("FiresAgainstProfile", func(t *testing.T) {
		match, err := e.Evaluate(ctx, testTx(-500, 12), profile, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Fatal("expected a match at 5x average")
		}
	})

	t.Run("SilentWithinMultiplier", func(t *testing.T) {
		match, _ := e.Evaluate(ctx, testTx(-250, 12), profile, []*domain.DetectionRule{rule})
		if match != nil {
			t.Error("expected no match at 2.5x average")
		}
	})

	t.Run("ColdStartSilence", func(t *testing.T) {
		// No profile, no fallback: the rule must not fire
		match, err := e.Evaluate(ctx, testTx(-1000000, 12), nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match != nil {
			t.Error("profile-dependent rule must stay silent on cold start")
		}
	})

	t.Run("FallbackAverage", func(t *testing.T) {
		withFallback := *rule
		withFallback.Params = domain.RuleParams{
			AmountAnomaly: &domain.AmountAnomalyParams{Multiplier: 3, FallbackAverage: 50},
		}

		match, _ := e.Evaluate(ctx, testTx(-500, 12), nil, []*domain.DetectionRule{&withFallback})
		if match == nil {
			t.Error("expected fallback average to enable the rule on cold start")
		}
	})
}

func TestEvaluatorComparison(t *testing.T) {
	e := newTestEvaluator(t, nil)
	ctx := context.Background()

	t.Run("AllConditionsMustHold", func(t *testing.T) {
		rule := &domain.DetectionRule{
			ID:       "rule-cmp",
			Name:     "Large foreign purchase",
			Type:     domain.RuleComparison,
			Severity: domain.SeverityHigh,
			Params: domain.RuleParams{
				Comparison: &domain.ComparisonParams{
					Conditions: []domain.FieldCondition{
						{Field: "amount", Op: domain.OpGreaterThan, Value: 1000.0},
						{Field: "country", Op: domain.OpEquals, Value: "BR"},
					},
				},
			},
			Active: true,
		}

		tx := testTx(-2000, 12)
		tx.Metadata = map[string]any{"country": "BR"}

		match, err := e.Evaluate(ctx, tx, nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Fatal("expected a match when both conditions hold")
		}

		// Same amount, home country: no match
		domestic := testTx(-2000, 12)
		match, _ = e.Evaluate(ctx, domestic, nil, []*domain.DetectionRule{rule})
		if match != nil {
			t.Error("expected no match when one condition fails")
		}
	})

	t.Run("HourField", func(t *testing.T) {
		rule := &domain.DetectionRule{
			ID:       "rule-hour",
			Name:     "Night activity",
			Type:     domain.RuleComparison,
			Severity: domain.SeverityLow,
			Params: domain.RuleParams{
				Comparison: &domain.ComparisonParams{
					Conditions: []domain.FieldCondition{
						{Field: "hour", Op: domain.OpLessThan, Value: 6},
					},
				},
			},
			Active: true,
		}

		match, err := e.Evaluate(ctx, testTx(-10, 2), nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Error("expected a match at 2am")
		}

		match, _ = e.Evaluate(ctx, testTx(-10, 9), nil, []*domain.DetectionRule{rule})
		if match != nil {
			t.Error("expected no match at 9am")
		}
	})

	t.Run("TypeEquality", func(t *testing.T) {
		rule := &domain.DetectionRule{
			ID:       "rule-type",
			Name:     "Withdrawal watch",
			Type:     domain.RuleComparison,
			Severity: domain.SeverityMedium,
			Params: domain.RuleParams{
				Comparison: &domain.ComparisonParams{
					Conditions: []domain.FieldCondition{
						{Field: "type", Op: domain.OpEquals, Value: "withdrawal"},
					},
				},
			},
			Active: true,
		}

		tx := testTx(-10, 12)
		tx.Type = "withdrawal"

		match, err := e.Evaluate(ctx, tx, nil, []*domain.DetectionRule{rule})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Error("expected a match on transaction type")
		}
	})
}

func TestEvaluatorOrdering(t *testing.T) {
	e := newTestEvaluator(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	low := &domain.DetectionRule{
		ID:       "rule-low",
		Name:     "Low threshold",
		Type:     domain.RuleAmountThreshold,
		Severity: domain.SeverityLow,
		Params: domain.RuleParams{
			AmountThreshold: &domain.AmountThresholdParams{MaxAmount: 100},
		},
		Active:    true,
		CreatedAt: base,
	}
	highNewer := &domain.DetectionRule{
		ID:       "rule-high-newer",
		Name:     "High threshold newer",
		Type:     domain.RuleAmountThreshold,
		Severity: domain.SeverityHigh,
		Params: domain.RuleParams{
			AmountThreshold: &domain.AmountThresholdParams{MaxAmount: 100},
		},
		Active:    true,
		CreatedAt: base.Add(time.Hour),
	}
	highOlder := &domain.DetectionRule{
		ID:       "rule-high-older",
		Name:     "High threshold older",
		Type:     domain.RuleAmountThreshold,
		Severity: domain.SeverityHigh,
		Params: domain.RuleParams{
			AmountThreshold: &domain.AmountThresholdParams{MaxAmount: 100},
		},
		Active:    true,
		CreatedAt: base,
	}

	t.Run("SeverityThenAge", func(t *testing.T) {
		// All three would fire; the oldest HIGH rule must win
		match, err := e.Evaluate(ctx, testTx(-500, 12), nil, []*domain.DetectionRule{low, highNewer, highOlder})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match == nil {
			t.Fatal("expected a match")
		}
		if match.RuleID != "rule-high-older" {
			t.Errorf("expected rule-high-older to win, got %s", match.RuleID)
		}
	})

	t.Run("FirstMatchWins", func(t *testing.T) {
		// Only one match is ever returned even when several rules fire
		match, _ := e.Evaluate(ctx, testTx(-500, 12), nil, []*domain.DetectionRule{highOlder, low})
		if match == nil || match.RuleID != "rule-high-older" {
			t.Errorf("expected the single highest-priority match, got %+v", match)
		}
	})

	t.Run("NoRules", func(t *testing.T) {
		match, err := e.Evaluate(ctx, testTx(-500, 12), nil, nil)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if match != nil {
			t.Error("expected no match with no rules")
		}
	})
}
