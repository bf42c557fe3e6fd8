package domain

import (
	"time"
)

// DailyMetrics is the per-tenant, per-day fraud detection rollup. Rows are
// pure aggregates over alert and transaction history.
type DailyMetrics struct {
	TenantID string    `json:"tenantId"`
	Date     time.Time `json:"date"` // midnight UTC of the covered day

	TotalTransactions   int64 `json:"totalTransactions"`
	FlaggedTransactions int64 `json:"flaggedTransactions"`
	ConfirmedFraud      int64 `json:"confirmedFraud"`
	FalsePositives      int64 `json:"falsePositives"`

	// Derived rates, in percent.
	FraudRate         float64 `json:"fraudRate"`
	DetectionRate     float64 `json:"detectionRate"`
	FalsePositiveRate float64 `json:"falsePositiveRate"`
	Precision         float64 `json:"precision"`

	// Monetary sums over flagged and auto-blocked transactions.
	FraudAmountDetected  float64 `json:"fraudAmountDetected"`
	FraudAmountPrevented float64 `json:"fraudAmountPrevented"`

	ComputedAt time.Time `json:"computedAt"`
}
