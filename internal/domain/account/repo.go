package account

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/healthlock/healthlock/internal/platform/auth"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already registered for this role")
)

// Repository persists both account kinds. Emails are unique per role,
// compared case-insensitively.
type Repository interface {
	Create(ctx context.Context, a Account) error
	GetByID(ctx context.Context, id uuid.UUID) (Account, error)
	GetByEmail(ctx context.Context, role auth.Role, email string) (Account, error)
	Update(ctx context.Context, a Account) error
	UpdateCredential(ctx context.Context, id uuid.UUID, c auth.Credential) error
	UpdateHealthProfile(ctx context.Context, id uuid.UUID, hp HealthProfile) error
}
