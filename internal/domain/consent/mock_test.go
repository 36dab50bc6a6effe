package consent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthlock/healthlock/internal/domain/account"
	"github.com/healthlock/healthlock/internal/domain/record"
	"github.com/healthlock/healthlock/internal/platform/apperr"
)

type memRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID]Request
	seq  int
	// beforeCreate runs without the lock held, just before an insert.
	beforeCreate func()
}

func newMemRepo() *memRepo {
	return &memRepo{data: make(map[uuid.UUID]Request)}
}

func (m *memRepo) Create(_ context.Context, r *Request) error {
	if hook := m.beforeCreate; hook != nil {
		m.beforeCreate = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.data {
		if ex.Status == StatusPending && ex.DoctorID == r.DoctorID && ex.PatientID == r.PatientID && ex.RecordID == r.RecordID {
			return ErrDuplicatePending
		}
	}
	m.seq++
	r.ID = uuid.New()
	// Sequence-based timestamps keep ordering stable regardless of clock.
	r.CreatedAt = time.Unix(int64(m.seq), 0).UTC()
	r.UpdatedAt = r.CreatedAt
	m.data[r.ID] = *r
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memRepo) FindPending(_ context.Context, doctorID, patientID, recordID uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.data {
		if r.Status == StatusPending && r.DoctorID == doctorID && r.PatientID == patientID && r.RecordID == recordID {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) filter(keep func(Request) bool) []*Request {
	var out []*Request
	for _, r := range m.data {
		if keep(r) {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status Status) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(r Request) bool { return r.PatientID == patientID && r.Status == status }), nil
}

func (m *memRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(func(r Request) bool { return r.DoctorID == doctorID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) MarkExpired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok || r.Status != StatusPending || now.Before(r.ExpiresAt) {
		return false, nil
	}
	r.Status = StatusExpired
	m.data[id] = r
	return true, nil
}

func (m *memRepo) ExpireStale(_ context.Context, doctorID, patientID, recordID uuid.UUID, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.data {
		if r.DoctorID == doctorID && r.PatientID == patientID && r.RecordID == recordID && r.Lapsed(now) {
			r.Status = StatusExpired
			m.data[id] = r
			n++
		}
	}
	return n, nil
}

func (m *memRepo) Respond(_ context.Context, id uuid.UUID, to Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok || r.Status != StatusPending || !at.Before(r.ExpiresAt) {
		return false, nil
	}
	r.Status = to
	r.RespondedAt = &at
	if to == StatusApproved {
		r.ApprovedAt = &at
	}
	m.data[id] = r
	return true, nil
}

// set overwrites a stored request. Used to stage races.
func (m *memRepo) set(r Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[r.ID] = r
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
	glucose := 92.0
	p := &account.Patient{
		Base:          account.Base{ID: uuid.New(), Name: name, Email: email},
		Phone:         "+91-555-0100",
		HealthProfile: account.HealthProfile{Glucose: &glucose, LastReportName: "labs.pdf"},
	}
	f.patients[p.ID] = p
	return p
}

func (f *fakeAccounts) addDoctor(name, email string) *account.Doctor {
	d := &account.Doctor{Base: account.Base{ID: uuid.New(), Name: name, Email: email}, Specialization: "Endocrinology"}
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

type fakeRecords map[uuid.UUID]*record.Record

func (f fakeRecords) add(patientID uuid.UUID) *record.Record {
	r := &record.Record{ID: uuid.New(), PatientID: patientID, FileName: "labs.pdf", FileType: "application/pdf"}
	f[r.ID] = r
	return r
}

func (f fakeRecords) GetByID(_ context.Context, id uuid.UUID) (*record.Record, error) {
	r, ok := f[id]
	if !ok {
		return nil, record.ErrNotFound
	}
	return r, nil
}
