package consent

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/domain/account"
	"github.com/healthlock/healthlock/internal/domain/record"
	"github.com/healthlock/healthlock/internal/platform/apperr"
	"github.com/healthlock/healthlock/internal/platform/metrics"
	"github.com/healthlock/healthlock/internal/platform/notification"
)

type Accounts interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*account.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*account.Doctor, error)
}

// Records is the slice of the record store needed to check ownership.
type Records interface {
	GetByID(ctx context.Context, id uuid.UUID) (*record.Record, error)
}

type Config struct {
	TTL             time.Duration
	FrontendBaseURL string
}

type Deps struct {
	Repo     Repository
	Accounts Accounts
	Records  Records
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Service struct {
	repo     Repository
	accounts Accounts
	records  Records
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	cfg.FrontendBaseURL = strings.TrimRight(cfg.FrontendBaseURL, "/")
	return &Service{
		repo:     d.Repo,
		accounts: d.Accounts,
		records:  d.Records,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger.With().Str("component", "consent").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type CreateInput struct {
	PatientID string `json:"patientId"`
	RecordID  string `json:"recordId"`
}

// PendingItem is a pending request as the patient sees it.
type PendingItem struct {
	Request *Request
	Doctor  *account.Doctor
}

// DoctorStatus carries the profile only when the request is approved.
type DoctorStatus struct {
	Request *Request
	Profile *account.PatientView
}

func notFound() error {
	return apperr.WithCode(apperr.KindNotFound, "REQUEST_NOT_FOUND", "Request not found")
}

func errExpired() error {
	return apperr.WithCode(apperr.KindRequestExpired, "REQUEST_EXPIRED", "Request has expired")
}

// ApprovalURL is the patient-facing link sent with a new request.
func (s *Service) ApprovalURL(id uuid.UUID) string {
	return s.cfg.FrontendBaseURL + "/patient?tab=requests&requestId=" + url.QueryEscape(id.String())
}

// Create opens a request for the doctor, or returns the live pending one for
// the same doctor, patient and record.
func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, in CreateInput) (*Request, error) {
	if strings.TrimSpace(in.PatientID) == "" || strings.TrimSpace(in.RecordID) == "" {
		return nil, apperr.WithCode(apperr.KindValidation, "INVALID_REQUEST_PAYLOAD",
			"patientId and recordId are required")
	}
	doctor, err := s.accounts.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(strings.TrimSpace(in.PatientID))
	if err != nil {
		return nil, apperr.WithCode(apperr.KindNotFound, "PATIENT_NOT_FOUND", "Patient not found")
	}
	patient, err := s.accounts.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	recordID, err := uuid.Parse(strings.TrimSpace(in.RecordID))
	if err != nil {
		return nil, recordNotFound()
	}
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, recordNotFound()
		}
		return nil, apperr.Internal(err)
	}
	if rec.PatientID != patientID {
		return nil, recordNotFound()
	}

	now := s.now()
	if _, err := s.repo.ExpireStale(ctx, doctorID, patientID, recordID, now); err != nil {
		return nil, apperr.Internal(err)
	}
	if existing, err := s.livePending(ctx, doctorID, patientID, recordID, now); err != nil || existing != nil {
		return existing, err
	}

	req := &Request{
		DoctorID:  doctorID,
		PatientID: patientID,
		RecordID:  recordID,
		Status:    StatusPending,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		if !errors.Is(err, ErrDuplicatePending) {
			return nil, apperr.Internal(err)
		}
		// Lost a race with a concurrent create for the same triple.
		existing, err := s.livePending(ctx, doctorID, patientID, recordID, now)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperr.New(apperr.KindConflict, "Request changed concurrently, retry")
		}
		return existing, nil
	}

	s.metrics.ConsentTransition(string(StatusPending))
	s.logger.Info().Str("request_id", req.ID.String()).Str("doctor_id", doctorID.String()).
		Str("patient_id", patientID.String()).Msg("profile access requested")
	s.notifier.Notify(notification.Request{
		To:         patient.Email,
		TemplateID: notification.TemplateProfileAccessRequested,
		Data: map[string]string{
			"name":         patient.Name,
			"doctor_name":  doctor.Name,
			"expires_at":   req.ExpiresAt.UTC().Format(time.RFC1123),
			"approval_url": s.ApprovalURL(req.ID),
		},
	})
	return req, nil
}

func recordNotFound() error {
	return apperr.WithCode(apperr.KindNotFound, "RECORD_NOT_FOUND", "Record not found")
}

// livePending returns the unexpired pending request for the triple, or nil.
func (s *Service) livePending(ctx context.Context, doctorID, patientID, recordID uuid.UUID, now time.Time) (*Request, error) {
	req, err := s.repo.FindPending(ctx, doctorID, patientID, recordID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.materialize(ctx, req, now); err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, nil
	}
	return req, nil
}

// materialize persists the expired status of a lapsed request and updates
// req in place. Concurrent callers converge on the stored status.
func (s *Service) materialize(ctx context.Context, req *Request, now time.Time) error {
	if !req.Lapsed(now) {
		return nil
	}
	flipped, err := s.repo.MarkExpired(ctx, req.ID, now)
	if err != nil {
		return apperr.Internal(err)
	}
	if flipped {
		s.metrics.ConsentTransition(string(StatusExpired))
		req.Status = StatusExpired
		return nil
	}
	return s.reload(ctx, req)
}

func (s *Service) reload(ctx context.Context, req *Request) error {
	fresh, err := s.repo.GetByID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound()
		}
		return apperr.Internal(err)
	}
	*req = *fresh
	return nil
}

// load fetches a request and applies lazy expiry. owner picks the account the
// request must belong to; a mismatch is reported as not found.
func (s *Service) load(ctx context.Context, id uuid.UUID, owner func(*Request) uuid.UUID, caller uuid.UUID) (*Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound()
		}
		return nil, apperr.Internal(err)
	}
	if owner(req) != caller {
		return nil, notFound()
	}
	if err := s.materialize(ctx, req, s.now()); err != nil {
		return nil, err
	}
	return req, nil
}

func byPatient(r *Request) uuid.UUID { return r.PatientID }
func byDoctor(r *Request) uuid.UUID  { return r.DoctorID }

// ListPendingForPatient returns the patient's live requests, newest first.
// Lapsed requests are expired on the way and left out.
func (s *Service) ListPendingForPatient(ctx context.Context, patientID uuid.UUID) ([]*PendingItem, error) {
	reqs, err := s.repo.ListByPatient(ctx, patientID, StatusPending)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.now()
	doctors := make(map[uuid.UUID]*account.Doctor)
	items := make([]*PendingItem, 0, len(reqs))
	for _, req := range reqs {
		if err := s.materialize(ctx, req, now); err != nil {
			return nil, err
		}
		if req.Status != StatusPending {
			continue
		}
		doc, seen := doctors[req.DoctorID]
		if !seen {
			doc, err = s.accounts.GetDoctor(ctx, req.DoctorID)
			if err != nil {
				s.logger.Warn().Err(err).Str("doctor_id", req.DoctorID.String()).Msg("requesting doctor lookup failed")
				doc = nil
			}
			doctors[req.DoctorID] = doc
		}
		items = append(items, &PendingItem{Request: req, Doctor: doc})
	}
	return items, nil
}

// Approve grants the request. Approving an approved request returns it
// unchanged.
func (s *Service) Approve(ctx context.Context, patientID, requestID uuid.UUID) (*Request, error) {
	req, err := s.load(ctx, requestID, byPatient, patientID)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusPending {
		changed, err := s.respond(ctx, req, StatusApproved)
		if err != nil {
			return nil, err
		}
		if changed {
			s.notifyApproved(ctx, req)
		}
	}
	switch req.Status {
	case StatusApproved:
		return req, nil
	case StatusExpired:
		return nil, errExpired()
	default:
		return nil, apperr.WithCode(apperr.KindRequestNotApprovable, "REQUEST_NOT_APPROVABLE",
			"Request can no longer be approved")
	}
}

// Reject declines the request. Rejecting a rejected request returns it
// unchanged.
func (s *Service) Reject(ctx context.Context, patientID, requestID uuid.UUID) (*Request, error) {
	req, err := s.load(ctx, requestID, byPatient, patientID)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusPending {
		if _, err := s.respond(ctx, req, StatusRejected); err != nil {
			return nil, err
		}
	}
	switch req.Status {
	case StatusRejected:
		return req, nil
	case StatusExpired:
		return nil, errExpired()
	default:
		return nil, apperr.WithCode(apperr.KindRequestNotApprovable, "REQUEST_NOT_REJECTABLE",
			"Request can no longer be rejected")
	}
}

// respond applies a patient decision to a pending request and reports
// whether it took effect. When the conditional update loses to expiry or a
// concurrent decision, req is refreshed to the stored state instead.
func (s *Service) respond(ctx context.Context, req *Request, to Status) (bool, error) {
	now := s.now()
	ok, err := s.repo.Respond(ctx, req.ID, to, now)
	if err != nil {
		return false, apperr.Internal(err)
	}
	if !ok {
		if err := s.reload(ctx, req); err != nil {
			return false, err
		}
		return false, s.materialize(ctx, req, now)
	}
	req.Status = to
	req.RespondedAt = &now
	if to == StatusApproved {
		req.ApprovedAt = &now
	}
	s.metrics.ConsentTransition(string(to))
	s.logger.Info().Str("request_id", req.ID.String()).Str("status", string(to)).Msg("profile access answered")
	return true, nil
}

func (s *Service) notifyApproved(ctx context.Context, req *Request) {
	doctor, err := s.accounts.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("approved doctor lookup failed")
		return
	}
	patient, err := s.accounts.GetPatient(ctx, req.PatientID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("approving patient lookup failed")
		return
	}
	s.notifier.Notify(notification.Request{
		To:         doctor.Email,
		TemplateID: notification.TemplateProfileAccessApproved,
		Data:       map[string]string{"name": doctor.Name, "patient_name": patient.Name},
	})
}

// StatusForDoctor is the only path through which a doctor reads a patient's
// health profile.
func (s *Service) StatusForDoctor(ctx context.Context, doctorID, requestID uuid.UUID) (*DoctorStatus, error) {
	req, err := s.load(ctx, requestID, byDoctor, doctorID)
	if err != nil {
		return nil, err
	}
	out := &DoctorStatus{Request: req}
	if req.Status != StatusApproved {
		return out, nil
	}
	patient, err := s.accounts.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	view := patient.View()
	out.Profile = &view
	return out, nil
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Request, int, error) {
	reqs, total, err := s.repo.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	now := s.now()
	for _, req := range reqs {
		if err := s.materialize(ctx, req, now); err != nil {
			return nil, 0, err
		}
	}
	if reqs == nil {
		reqs = []*Request{}
	}
	return reqs, total, nil
}
