package domain

import "time"

// User is the paying actor. The core never deletes a User record.
type User struct {
	ID                 string
	ExternalAuthID     string // nullable; identifier from the identity resolver
	Email              string
	BillingCustomerID  string // nullable; id in the payment provider
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProviderBlacklistEntry is an operator-curated provider address to skip
// during bid iteration. Mutated only by administrative paths (cmd/blacklist).
type ProviderBlacklistEntry struct {
	ProviderAddress string
	Reason          string
	CreatedAt       time.Time
}
