package accesslog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository.
// Doctor references carry only the ID.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
	// Fail, when set, is returned by Append.
	Fail error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{now: time.Now}
}

func (m *MemoryRepo) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	e.ID = uuid.New()
	e.CreatedAt = m.now().UTC()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MemoryRepo) ListForPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*PatientEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*PatientEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.PatientID != patientID {
			continue
		}
		pe := &PatientEntry{
			ID: e.ID, RecordID: e.RecordID, IP: e.IP, UserAgent: e.UserAgent,
			Meta: e.Meta, CreatedAt: e.CreatedAt,
		}
		if e.DoctorID != nil {
			pe.Doctor = &DoctorRef{ID: *e.DoctorID}
		}
		matched = append(matched, pe)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Len reports the number of stored entries.
func (m *MemoryRepo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
