package domain

import (
	"time"
)

// Whitelist entity types.
const (
	WhitelistAccount  = "account"
	WhitelistMerchant = "merchant"
)

// WhitelistEntry suppresses alerts for a known-good entity. An active,
// unexpired match short-circuits scoring before rules or the model run.
type WhitelistEntry struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	EntityType  string `json:"entityType"`
	EntityValue string `json:"entityValue"`

	Reason  string `json:"reason,omitempty"`
	AddedBy string `json:"addedBy,omitempty"`
	Active  bool   `json:"active"`

	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Effective reports whether the entry suppresses alerts at time now.
func (w *WhitelistEntry) Effective(now time.Time) bool {
	if !w.Active {
		return false
	}
	if w.ExpiresAt != nil && now.After(*w.ExpiresAt) {
		return false
	}
	return true
}
