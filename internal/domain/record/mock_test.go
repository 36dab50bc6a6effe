package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthlock/healthlock/internal/domain/account"
	"github.com/healthlock/healthlock/internal/platform/apperr"
)

type memRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID]Record
	fail error
}

func newMemRepo() *memRepo {
	return &memRepo{data: make(map[uuid.UUID]Record)}
}

func (m *memRepo) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	m.data[r.ID] = *r
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.data {
		if r.PatientID == patientID {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *memRepo) UpdateAccessURL(_ context.Context, id uuid.UUID, accessURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok {
		return ErrNotFound
	}
	r.AccessURL = accessURL
	m.data[id] = r
	return nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return ErrNotFound
	}
	delete(m.data, id)
	return nil
}

type fakeAccounts struct {
	patients map[uuid.UUID]*account.Patient
	doctors  map[uuid.UUID]*account.Doctor
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		patients: make(map[uuid.UUID]*account.Patient),
		doctors:  make(map[uuid.UUID]*account.Doctor),
	}
}

func (f *fakeAccounts) addPatient(name, email string) *account.Patient {
	p := &account.Patient{Base: account.Base{ID: uuid.New(), Name: name, Email: email}}
	f.patients[p.ID] = p
	return p
}

func (f *fakeAccounts) addDoctor(name, email string) *account.Doctor {
	d := &account.Doctor{Base: account.Base{ID: uuid.New(), Name: name, Email: email}, Specialization: "Cardiology"}
	f.doctors[d.ID] = d
	return d
}

func (f *fakeAccounts) GetPatient(_ context.Context, id uuid.UUID) (*account.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, apperr.WithCode(apperr.KindNotFound, "PATIENT_NOT_FOUND", "Patient not found")
	}
	return p, nil
}

func (f *fakeAccounts) GetDoctor(_ context.Context, id uuid.UUID) (*account.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, apperr.WithCode(apperr.KindNotFound, "DOCTOR_NOT_FOUND", "Doctor not found")
	}
	return d, nil
}
