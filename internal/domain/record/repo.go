package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error)
	UpdateAccessURL(ctx context.Context, id uuid.UUID, accessURL string) error
	Delete(ctx context.Context, id uuid.UUID) error
}
