package monitor

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the class of a managed certificate.
type Kind string

// Certificate kinds
const (
	KindIdentity Kind = "identity"
	KindPublic   Kind = "public"
	KindCA       Kind = "ca"
)

// Outcome is the terminal state of one check.
type Outcome string

// Check outcomes
const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeRenewed Outcome = "renewed"
	OutcomeFailed  Outcome = "failed"
)

// RenewalRecord is the result of checking one certificate.
type RenewalRecord struct {
	ID            uuid.UUID `json:"id"`
	Subject       string    `json:"subject"`
	Kind          Kind      `json:"kind"`
	Path          string    `json:"path"`
	CheckedAt     time.Time `json:"checked_at"`
	DaysRemaining int       `json:"days_remaining"`
	OldNotAfter   time.Time `json:"old_not_after,omitzero"`
	NewNotAfter   time.Time `json:"new_not_after,omitzero"`
	Outcome       Outcome   `json:"outcome"`
	Reason        string    `json:"reason"`
}

// Key identifies the certificate a record is about.
func (r RenewalRecord) Key() string {
	return string(r.Kind) + ":" + r.Subject
}
