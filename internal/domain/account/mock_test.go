package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthlock/healthlock/internal/platform/auth"
)

// memRepo stores copies so callers cannot mutate stored accounts.
type memRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID]Account
}

func newMemRepo() *memRepo {
	return &memRepo{data: make(map[uuid.UUID]Account)}
}

func clone(a Account) Account {
	switch v := a.(type) {
	case *Patient:
		cp := *v
		return &cp
	case *Doctor:
		cp := *v
		return &cp
	}
	return nil
}

func (m *memRepo) emailTaken(role auth.Role, email string, except uuid.UUID) bool {
	for id, a := range m.data {
		if id != except && a.Role() == role && strings.EqualFold(a.Common().Email, email) {
			return true
		}
	}
	return false
}

func (m *memRepo) Create(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := a.Common()
	if m.emailTaken(a.Role(), b.Email, uuid.Nil) {
		return ErrDuplicateEmail
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	m.data[b.ID] = clone(a)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *memRepo) GetByEmail(_ context.Context, role auth.Role, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.data {
		if a.Role() == role && strings.EqualFold(a.Common().Email, email) {
			return clone(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) Update(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := a.Common()
	if _, ok := m.data[b.ID]; !ok {
		return ErrNotFound
	}
	if m.emailTaken(a.Role(), b.Email, b.ID) {
		return ErrDuplicateEmail
	}
	m.data[b.ID] = clone(a)
	return nil
}

func (m *memRepo) UpdateCredential(_ context.Context, id uuid.UUID, c auth.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[id]
	if !ok {
		return ErrNotFound
	}
	a.Common().Credential = c
	return nil
}

func (m *memRepo) UpdateHealthProfile(_ context.Context, id uuid.UUID, hp HealthProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id].(*Patient)
	if !ok {
		return ErrNotFound
	}
	p.HealthProfile = hp
	return nil
}
