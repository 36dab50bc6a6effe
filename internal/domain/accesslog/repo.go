package accesslog

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PatientEntry, int, error)
}
