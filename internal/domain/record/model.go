package record

import (
	"time"

	"github.com/google/uuid"
)

const StatusActive = "active"

// Record is one uploaded report. AccessURL is the most recently issued link
// and is informational only; token validity never depends on it.
type Record struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patientId"`
	FileName  string    `json:"fileName"`
	FileType  string    `json:"fileType"`
	Size      int64     `json:"size"`
	BlobID    string    `json:"-"`
	AccessURL string    `json:"accessUrl,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MedicalData is the wire form of a record payload.
type MedicalData struct {
	File     string `json:"file"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
}

// AccessGrant is returned whenever a record token is minted.
type AccessGrant struct {
	RecordID       uuid.UUID `json:"recordId"`
	AccessURL      string    `json:"accessUrl"`
	QRCodeDataURL  string    `json:"qrCodeDataUrl"`
	TokenExpiresIn string    `json:"tokenExpiresIn"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// View is the payload returned by a token-gated fetch.
type View struct {
	RecordID      uuid.UUID   `json:"recordId"`
	MedicalData   MedicalData `json:"medicalData"`
	AccessedLogID uuid.UUID   `json:"accessedLogId"`
}
