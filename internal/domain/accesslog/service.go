package accesslog

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

const maxUserAgent = 512

// ViewEvent describes a record view to be logged.
type ViewEvent struct {
	PatientID uuid.UUID
	RecordID  uuid.UUID
	DoctorID  *uuid.UUID
	IP        string
	UserAgent string
	Meta      map[string]string
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "accesslog").Logger()}
}

// LogRecordViewed appends an entry for ev. Unlike notifications this write is
// mandatory: if it fails the view must fail too.
func (s *Service) LogRecordViewed(ctx context.Context, ev ViewEvent) (*Entry, error) {
	ua := truncateUTF8(ev.UserAgent, maxUserAgent)
	meta := ev.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	e := &Entry{
		PatientID: ev.PatientID,
		RecordID:  ev.RecordID,
		DoctorID:  ev.DoctorID,
		IP:        strings.TrimSpace(ev.IP),
		UserAgent: ua,
		Meta:      meta,
	}
	if err := s.repo.Append(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("record_id", ev.RecordID.String()).Msg("access log write failed")
		return nil, apperr.Wrap(apperr.KindUnavailable, "Access log unavailable", err)
	}
	return e, nil
}

// truncateUTF8 replaces invalid byte sequences and cuts s to at most n bytes
// on a rune boundary. Postgres rejects invalid UTF-8 in text columns.
func truncateUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PatientEntry, int, error) {
	items, total, err := s.repo.ListForPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	if items == nil {
		items = []*PatientEntry{}
	}
	return items, total, nil
}
