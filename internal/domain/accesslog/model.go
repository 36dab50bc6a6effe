package accesslog

import (
	"time"

	"github.com/google/uuid"
)

// Entry records one successful record view. Entries are never updated or
// deleted.
type Entry struct {
	ID        uuid.UUID         `json:"id"`
	PatientID uuid.UUID         `json:"patientId"`
	RecordID  uuid.UUID         `json:"recordId"`
	DoctorID  *uuid.UUID        `json:"doctorId,omitempty"`
	IP        string            `json:"ip"`
	UserAgent string            `json:"userAgent"`
	Meta      map[string]string `json:"meta"`
	CreatedAt time.Time         `json:"createdAt"`
}

// DoctorRef identifies the viewer of a record, when known.
type DoctorRef struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Specialization string    `json:"specialization,omitempty"`
}

// PatientEntry is an Entry as shown to the record's owner.
type PatientEntry struct {
	ID        uuid.UUID         `json:"id"`
	RecordID  uuid.UUID         `json:"recordId"`
	Doctor    *DoctorRef        `json:"doctor"`
	IP        string            `json:"ip"`
	UserAgent string            `json:"userAgent"`
	Meta      map[string]string `json:"meta"`
	CreatedAt time.Time         `json:"createdAt"`
}
