package domain

import (
	"time"
)

// FraudAlert statuses. OPEN is initial; the three resolution states are
// terminal.
const (
	AlertOpen               = "OPEN"
	AlertInvestigating      = "INVESTIGATING"
	AlertResolvedFraud      = "RESOLVED_FRAUD"
	AlertResolvedLegitimate = "RESOLVED_LEGITIMATE"
	AlertFalsePositive      = "FALSE_POSITIVE"
)

// Alert resolutions accepted by the lifecycle service.
const (
	ResolutionFraud         = "fraud"
	ResolutionLegitimate    = "legitimate"
	ResolutionFalsePositive = "false_positive"
)

// FraudAlert records one detection event for a transaction. Risk and
// confidence scores are always clamped to [0,100]. One alert exists per
// (tenant, transaction).
type FraudAlert struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	TransactionID string `json:"transactionId"`
	AccountID     string `json:"accountId"`

	// RuleID is nil for model-only alerts.
	RuleID   *string `json:"ruleId,omitempty"`
	RuleName string  `json:"ruleName,omitempty"`

	RiskScore       float64 `json:"riskScore"`
	ConfidenceScore float64 `json:"confidenceScore"`

	Status string `json:"status"`
	Reason string `json:"reason"`

	AnomalyFactors []string       `json:"anomalyFactors,omitempty"`
	RiskIndicators map[string]any `json:"riskIndicators,omitempty"`

	AutoBlocked bool   `json:"autoBlocked"`
	Escalated   bool   `json:"escalated"`
	AssignedTo  string `json:"assignedTo,omitempty"`

	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Resolved reports whether the alert is in a terminal state.
func (a *FraudAlert) Resolved() bool {
	switch a.Status {
	case AlertResolvedFraud, AlertResolvedLegitimate, AlertFalsePositive:
		return true
	}
	return false
}

// FraudInvestigation statuses.
const (
	InvestigationOpen               = "OPEN"
	InvestigationInProgress         = "IN_PROGRESS"
	InvestigationClosedFraud        = "CLOSED_FRAUD"
	InvestigationClosedLegitimate   = "CLOSED_LEGITIMATE"
	InvestigationClosedInconclusive = "CLOSED_INCONCLUSIVE"
)

// Investigation priorities.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

// FraudInvestigation is a formal case opened from an alert. At most one
// open investigation exists per alert.
type FraudInvestigation struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	AlertID    string `json:"alertId"`
	CaseNumber string `json:"caseNumber"`

	Status       string `json:"status"`
	Priority     string `json:"priority"`
	Investigator string `json:"investigator,omitempty"`

	Notes             []InvestigationNote `json:"notes,omitempty"`
	Evidence          []string            `json:"evidence,omitempty"`
	ResolutionSummary string              `json:"resolutionSummary,omitempty"`

	AssignedAt *time.Time `json:"assignedAt,omitempty"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Closed reports whether the investigation is in a terminal state.
func (i *FraudInvestigation) Closed() bool {
	switch i.Status {
	case InvestigationClosedFraud, InvestigationClosedLegitimate, InvestigationClosedInconclusive:
		return true
	}
	return false
}

// InvestigationNote is a timestamped, attributed note on an investigation.
type InvestigationNote struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClampScore bounds a risk or confidence score to [0,100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
