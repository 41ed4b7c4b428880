package types

import "time"

// ClientMetadata is the free-form bookkeeping kept on client records.
type ClientMetadata struct {
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	LastOrderRef  string    `json:"last_order_ref,omitempty"`
	PurchaseCount int       `json:"purchase_count"`
	Sources       []string  `json:"sources,omitempty"`
}
