package domain

import (
	"time"
)

// Transaction is a completed financial transaction as seen by the engine.
// Transactions are produced by the host system; the engine reads them and
// never mutates them.
type Transaction struct {
	// Core identifiers
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	AccountID string `json:"accountId"`

	// Transaction type (e.g., "payment", "transfer", "withdrawal")
	Type string `json:"type"`

	// Financial details. Amount is signed: negative for outflows.
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Status; only "completed" transactions are scored.
	Status string `json:"status"`

	Description     string `json:"description,omitempty"`
	ReferenceNumber string `json:"referenceNumber,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Free-form location/context metadata ("country", "merchant", ...).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Transaction status values.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Completed reports whether the transaction is eligible for scoring.
func (t *Transaction) Completed() bool {
	return t.Status == TxStatusCompleted
}

// Country returns the transaction's country code from metadata, or the
// fallback when no country is recorded.
func (t *Transaction) Country(fallback string) string {
	if t.Metadata != nil {
		if c, ok := t.Metadata["country"].(string); ok && c != "" {
			return c
		}
	}
	return fallback
}

// Merchant returns the merchant identifier from metadata, if any.
func (t *Transaction) Merchant() string {
	if t.Metadata != nil {
		if m, ok := t.Metadata["merchant"].(string); ok {
			return m
		}
	}
	return ""
}

// TransactionEvent is the transaction-completed event consumed from the
// host system via the event bus.
type TransactionEvent struct {
	TransactionID   string         `json:"transactionId"`
	TenantID        string         `json:"tenantId"`
	AccountID       string         `json:"accountId"`
	Type            string         `json:"type"`
	Amount          float64        `json:"amount"`
	Currency        string         `json:"currency"`
	Status          string         `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
	ReferenceNumber string         `json:"referenceNumber,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ToTransaction converts the event payload to a Transaction.
func (e *TransactionEvent) ToTransaction() *Transaction {
	return &Transaction{
		ID:              e.TransactionID,
		TenantID:        e.TenantID,
		AccountID:       e.AccountID,
		Type:            e.Type,
		Amount:          e.Amount,
		Currency:        e.Currency,
		Status:          e.Status,
		ReferenceNumber: e.ReferenceNumber,
		Timestamp:       e.Timestamp,
		CreatedAt:       time.Now().UTC(),
		Metadata:        e.Metadata,
	}
}
