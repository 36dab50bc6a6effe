package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("profile access request not found")
	// ErrDuplicatePending is returned by Create when a pending request for
	// the same doctor, patient and record already exists.
	ErrDuplicatePending = errors.New("pending profile access request already exists")
)

type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// FindPending returns the pending request for the triple, or ErrNotFound.
	FindPending(ctx context.Context, doctorID, patientID, recordID uuid.UUID) (*Request, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status Status) ([]*Request, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Request, int, error)
	// MarkExpired flips id to expired if it is pending and its expiry is at or
	// before now. It reports whether a row changed; repeating it is a no-op.
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// ExpireStale flips every lapsed pending request of the triple.
	ExpireStale(ctx context.Context, doctorID, patientID, recordID uuid.UUID, now time.Time) (int64, error)
	// Respond moves a pending, unexpired request to approved or rejected and
	// reports whether it did.
	Respond(ctx context.Context, id uuid.UUID, to Status, at time.Time) (bool, error)
}
