// Package consent implements profile access requests: a doctor asks to see a
// patient's health profile and the patient approves or rejects within a
// short window. Expiry is applied lazily whenever a request is read.
package consent

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// DefaultTTL is how long a request stays pending.
const DefaultTTL = 10 * time.Minute

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

type Request struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctorId"`
	PatientID   uuid.UUID  `json:"patientId"`
	RecordID    uuid.UUID  `json:"recordId"`
	Status      Status     `json:"status"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Lapsed reports whether r is still stored as pending although its window
// has closed. There is no grace period.
func (r *Request) Lapsed(now time.Time) bool {
	return r.Status == StatusPending && !now.Before(r.ExpiresAt)
}
