package domain

import (
	"fmt"
	"time"
)

// RuleType identifies the detection rule kind.
type RuleType string

const (
	RuleAmountThreshold RuleType = "AMOUNT_THRESHOLD"
	RuleVelocity        RuleType = "VELOCITY"
	RuleTimeAnomaly     RuleType = "TIME_ANOMALY"
	RuleAmountAnomaly   RuleType = "AMOUNT_ANOMALY"
	RuleComparison      RuleType = "COMPARISON"
)

// Severity of a detection rule.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities for deterministic rule evaluation
// (higher rank evaluated first).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// RiskScore maps a severity to the risk score assigned when a rule of that
// severity fires.
func (s Severity) RiskScore() float64 {
	switch s {
	case SeverityHigh:
		return 90
	case SeverityMedium:
		return 65
	default:
		return 40
	}
}

// DetectionRule is an operator-configured fraud detection rule. The engine
// treats rules as read-only configuration.
type DetectionRule struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        RuleType `json:"type"`
	Severity    Severity `json:"severity"`

	// Params is the type-specific parameter bag; exactly the member
	// matching Type must be set.
	Params RuleParams `json:"params"`

	Active    bool      `json:"active"`
	AutoBlock bool      `json:"autoBlock"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RuleParams is a tagged union of per-type rule parameters. Validation at
// configuration time guarantees the evaluator never needs runtime type
// inspection.
type RuleParams struct {
	AmountThreshold *AmountThresholdParams `json:"amountThreshold,omitempty"`
	Velocity        *VelocityParams        `json:"velocity,omitempty"`
	TimeAnomaly     *TimeAnomalyParams     `json:"timeAnomaly,omitempty"`
	AmountAnomaly   *AmountAnomalyParams   `json:"amountAnomaly,omitempty"`
	Comparison      *ComparisonParams      `json:"comparison,omitempty"`
}

// AmountThresholdParams fires when the absolute transaction amount exceeds
// MaxAmount.
type AmountThresholdParams struct {
	MaxAmount float64 `json:"maxAmount"`
}

// VelocityParams fires when the account exceeds MaxTransactions within the
// trailing window.
type VelocityParams struct {
	WindowMinutes   int `json:"windowMinutes"`
	MaxTransactions int `json:"maxTransactions"`
}

// TimeAnomalyParams fires when the transaction hour falls outside
// [StartHour, EndHour].
type TimeAnomalyParams struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

// AmountAnomalyParams fires when the amount exceeds the account's average
// times Multiplier. FallbackAverage is used when no behavioral profile is
// available; zero means the rule stays silent on cold start.
type AmountAnomalyParams struct {
	Multiplier      float64 `json:"multiplier"`
	FallbackAverage float64 `json:"fallbackAverage,omitempty"`
}

// ComparisonOp is a comparison operator in a generic comparison rule.
type ComparisonOp string

const (
	OpGreaterThan ComparisonOp = "gt"
	OpLessThan    ComparisonOp = "lt"
	OpEquals      ComparisonOp = "eq"
)

// FieldCondition compares a named transaction field against a value.
type FieldCondition struct {
	Field string       `json:"field"`
	Op    ComparisonOp `json:"op"`
	Value any          `json:"value"`
}

// ComparisonParams holds the conditions of a generic comparison rule; the
// rule matches only when every condition holds.
type ComparisonParams struct {
	Conditions []FieldCondition `json:"conditions"`
}

// comparisonFields are the transaction fields addressable from a
// comparison rule.
var comparisonFields = map[string]bool{
	"amount":   true,
	"hour":     true,
	"weekday":  true,
	"type":     true,
	"currency": true,
	"country":  true,
	"merchant": true,
}

// Validate checks that the parameter bag matches the rule type and that the
// type-specific parameters are well formed. A rule failing validation is
// not evaluable.
func (r *DetectionRule) Validate() error {
	switch r.Type {
	case RuleAmountThreshold:
		p := r.Params.AmountThreshold
		if p == nil {
			return fmt.Errorf("rule %s: amountThreshold params required", r.ID)
		}
		if p.MaxAmount <= 0 {
			return fmt.Errorf("rule %s: maxAmount must be positive", r.ID)
		}
	case RuleVelocity:
		p := r.Params.Velocity
		if p == nil {
			return fmt.Errorf("rule %s: velocity params required", r.ID)
		}
		if p.WindowMinutes <= 0 || p.MaxTransactions <= 0 {
			return fmt.Errorf("rule %s: windowMinutes and maxTransactions must be positive", r.ID)
		}
	case RuleTimeAnomaly:
		p := r.Params.TimeAnomaly
		if p == nil {
			return fmt.Errorf("rule %s: timeAnomaly params required", r.ID)
		}
		if p.StartHour < 0 || p.StartHour > 23 || p.EndHour < 0 || p.EndHour > 23 {
			return fmt.Errorf("rule %s: hours must be within 0-23", r.ID)
		}
		if p.StartHour > p.EndHour {
			return fmt.Errorf("rule %s: startHour must not exceed endHour", r.ID)
		}
	case RuleAmountAnomaly:
		p := r.Params.AmountAnomaly
		if p == nil {
			return fmt.Errorf("rule %s: amountAnomaly params required", r.ID)
		}
		if p.Multiplier <= 1 {
			return fmt.Errorf("rule %s: multiplier must be greater than 1", r.ID)
		}
	case RuleComparison:
		p := r.Params.Comparison
		if p == nil {
			return fmt.Errorf("rule %s: comparison params required", r.ID)
		}
		if len(p.Conditions) == 0 {
			return fmt.Errorf("rule %s: at least one condition required", r.ID)
		}
		for _, c := range p.Conditions {
			if !comparisonFields[c.Field] {
				return fmt.Errorf("rule %s: unknown field %q", r.ID, c.Field)
			}
			switch c.Op {
			case OpGreaterThan, OpLessThan, OpEquals:
			default:
				return fmt.Errorf("rule %s: unknown operator %q", r.ID, c.Op)
			}
		}
	default:
		return fmt.Errorf("rule %s: unknown rule type %q", r.ID, r.Type)
	}

	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}

	return nil
}
