package record

import (
	"bytes"
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/domain/accesslog"
	"github.com/healthlock/healthlock/internal/domain/account"
	"github.com/healthlock/healthlock/internal/platform/apperr"
	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/blobstore"
	"github.com/healthlock/healthlock/internal/platform/metrics"
	"github.com/healthlock/healthlock/internal/platform/notification"
	"github.com/healthlock/healthlock/internal/platform/qr"
)

// Accounts resolves the owners and viewers of records.
type Accounts interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*account.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*account.Doctor, error)
}

// ViewLogger writes the audit entry for a record view.
type ViewLogger interface {
	LogRecordViewed(ctx context.Context, ev accesslog.ViewEvent) (*accesslog.Entry, error)
}

type Config struct {
	FrontendBaseURL string
	TokenTTL        time.Duration
	MaxUploadBytes  int64
}

type Deps struct {
	Repo     Repository
	Blobs    blobstore.BlobStore
	Tokens   *auth.TokenService
	Accounts Accounts
	Logs     ViewLogger
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Service struct {
	repo     Repository
	blobs    blobstore.BlobStore
	tokens   *auth.TokenService
	accounts Accounts
	logs     ViewLogger
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = auth.DefaultRecordTokenTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = blobstore.DefaultMaxSize
	}
	cfg.FrontendBaseURL = strings.TrimRight(cfg.FrontendBaseURL, "/")
	return &Service{
		repo:     d.Repo,
		blobs:    d.Blobs,
		tokens:   d.Tokens,
		accounts: d.Accounts,
		logs:     d.Logs,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger.With().Str("component", "record").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
}

type UploadInput struct {
	MedicalData MedicalData `json:"medicalData"`
	DoctorEmail string      `json:"doctorEmail"`
}

// OpenInput is a token-gated fetch. Viewer is the caller's session, if any.
type OpenInput struct {
	RecordID  string
	Token     string
	Viewer    *auth.Identity
	IP        string
	UserAgent string
}

func recordNotFound() error {
	return apperr.WithCode(apperr.KindNotFound, "RECORD_NOT_FOUND", "Record not found")
}

// AccessURL is the frontend link a QR code points at.
func (s *Service) AccessURL(recordID uuid.UUID, token string) string {
	q := url.Values{}
	q.Set("id", recordID.String())
	q.Set("token", token)
	return s.cfg.FrontendBaseURL + "/doctor?" + q.Encode()
}

// Upload stores a PDF for patientID and mints its first access link.
func (s *Service) Upload(ctx context.Context, patientID uuid.UUID, in UploadInput) (*AccessGrant, error) {
	data, err := decodeUpload(in.MedicalData, s.cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	patient, err := s.accounts.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	fileName := cleanFileName(in.MedicalData.FileName)
	blob, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    fileName,
		ContentType: pdfType,
		OwnerID:     patientID.String(),
	}, bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, apperr.WithCode(apperr.KindValidation, "FILE_TOO_LARGE", "PDF is too large")
		}
		return nil, apperr.Internal(err)
	}

	rec := &Record{
		PatientID: patientID,
		FileName:  fileName,
		FileType:  pdfType,
		Size:      blob.Size,
		BlobID:    blob.ID,
		Status:    StatusActive,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), blob.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("blob_id", blob.ID).Msg("orphaned blob after failed record insert")
		}
		return nil, apperr.Internal(err)
	}

	grant, png, err := s.grant(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("record_id", rec.ID.String()).Str("patient_id", patientID.String()).Msg("record uploaded")

	attachment := []notification.Attachment{{Name: "access-qr.png", ContentType: "image/png", Data: png}}
	s.notifier.Notify(notification.Request{
		To:         patient.Email,
		TemplateID: notification.TemplateQRGenerated,
		Data: map[string]string{
			"name":       patient.Name,
			"file_name":  rec.FileName,
			"access_url": grant.AccessURL,
			"expires_in": grant.TokenExpiresIn,
		},
		Attachments: attachment,
	})
	if doctorEmail := strings.TrimSpace(in.DoctorEmail); doctorEmail != "" {
		if _, err := mail.ParseAddress(doctorEmail); err == nil {
			s.notifier.Notify(notification.Request{
				To:         doctorEmail,
				TemplateID: notification.TemplateRecordShared,
				Data: map[string]string{
					"patient_name": patient.Name,
					"file_name":    rec.FileName,
					"access_url":   grant.AccessURL,
					"expires_in":   grant.TokenExpiresIn,
				},
				Attachments: attachment,
			})
		}
	}
	return grant, nil
}

// grant mints a token for rec, renders its QR code and records the link.
func (s *Service) grant(ctx context.Context, rec *Record) (*AccessGrant, []byte, error) {
	token, exp, err := s.tokens.IssueRecordToken(rec.ID.String(), s.cfg.TokenTTL)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	link := s.AccessURL(rec.ID, token)
	png, err := qr.PNG(link, qr.DefaultSize)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	dataURL, err := qr.DataURL(link)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	if err := s.repo.UpdateAccessURL(ctx, rec.ID, link); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, recordNotFound()
		}
		return nil, nil, apperr.Internal(err)
	}
	rec.AccessURL = link

	return &AccessGrant{
		RecordID:       rec.ID,
		AccessURL:      link,
		QRCodeDataURL:  dataURL,
		TokenExpiresIn: formatTTL(s.cfg.TokenTTL),
		ExpiresAt:      exp,
	}, png, nil
}

// getOwned loads a record, hiding records owned by someone else.
func (s *Service) getOwned(ctx context.Context, patientID, recordID uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, recordNotFound()
		}
		return nil, apperr.Internal(err)
	}
	if rec.PatientID != patientID {
		return nil, recordNotFound()
	}
	return rec, nil
}

// GetForPatient returns a record only if patientID owns it.
func (s *Service) GetForPatient(ctx context.Context, patientID, recordID uuid.UUID) (*Record, error) {
	return s.getOwned(ctx, patientID, recordID)
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	if items == nil {
		items = []*Record{}
	}
	return items, total, nil
}

// ReissueQR mints a fresh link for an existing record. Earlier links stay
// valid until they expire.
func (s *Service) ReissueQR(ctx context.Context, patientID, recordID uuid.UUID) (*AccessGrant, error) {
	rec, err := s.getOwned(ctx, patientID, recordID)
	if err != nil {
		return nil, err
	}
	grant, _, err := s.grant(ctx, rec)
	return grant, err
}

// Delete removes the record and its payload. Access log entries and profile
// access requests that reference it are kept.
func (s *Service) Delete(ctx context.Context, patientID, recordID uuid.UUID) error {
	rec, err := s.getOwned(ctx, patientID, recordID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return recordNotFound()
		}
		return apperr.Internal(err)
	}
	if err := s.blobs.Delete(ctx, rec.BlobID); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("blob_id", rec.BlobID).Msg("blob delete failed")
	}
	s.logger.Info().Str("record_id", rec.ID.String()).Msg("record deleted")
	return nil
}

// Open verifies a record token, writes the access log entry and returns the
// payload. The log entry exists before Open returns.
func (s *Service) Open(ctx context.Context, in OpenInput) (*View, error) {
	if in.Token == "" {
		return nil, apperr.WithCode(apperr.KindAuthRequired, "TOKEN_REQUIRED", "token is required")
	}
	_, err := s.tokens.VerifyRecordToken(in.Token, in.RecordID)
	s.metrics.TokenVerification(err)
	if err != nil {
		ev := s.logger.Warn().Str("record_id", in.RecordID).Str("ip", in.IP)
		if e, ok := apperr.As(err); ok {
			ev = ev.Str("code", e.Code)
		}
		ev.Msg("record token rejected")
		return nil, err
	}

	recordID, err := uuid.Parse(in.RecordID)
	if err != nil {
		return nil, recordNotFound()
	}
	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, recordNotFound()
		}
		return nil, apperr.Internal(err)
	}
	data, _, err := blobstore.ReadAll(ctx, s.blobs, rec.BlobID)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, recordNotFound()
		}
		return nil, apperr.Internal(err)
	}

	var doctorID *uuid.UUID
	if in.Viewer != nil && in.Viewer.Role == auth.RoleDoctor {
		id := in.Viewer.AccountID
		doctorID = &id
	}
	entry, err := s.logs.LogRecordViewed(ctx, accesslog.ViewEvent{
		PatientID: rec.PatientID,
		RecordID:  rec.ID,
		DoctorID:  doctorID,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Meta:      map[string]string{"via": "qr"},
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordViewed()
	s.notifyViewed(ctx, rec, doctorID, in.IP)

	return &View{
		RecordID: rec.ID,
		MedicalData: MedicalData{
			File:     encodeDataURL(rec.FileType, data),
			FileType: rec.FileType,
			FileName: rec.FileName,
		},
		AccessedLogID: entry.ID,
	}, nil
}

// notifyViewed tells the owner, and the viewing doctor if known, about a
// view. Lookup failures only skip the notification.
func (s *Service) notifyViewed(ctx context.Context, rec *Record, doctorID *uuid.UUID, ip string) {
	when := s.now().UTC().Format(time.RFC1123)
	viewer := "someone holding the access link"

	var doctor *account.Doctor
	if doctorID != nil {
		d, err := s.accounts.GetDoctor(ctx, *doctorID)
		if err != nil {
			s.logger.Debug().Err(err).Msg("viewing doctor lookup failed")
		} else {
			doctor = d
			viewer = "Dr. " + d.Name
		}
	}

	patient, err := s.accounts.GetPatient(ctx, rec.PatientID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("record owner lookup failed")
		return
	}
	s.notifier.Notify(notification.Request{
		To:         patient.Email,
		TemplateID: notification.TemplateRecordAccessed,
		Data: map[string]string{
			"name":      patient.Name,
			"file_name": rec.FileName,
			"viewer":    viewer,
			"time":      when,
			"ip":        ip,
		},
	})
	if doctor != nil {
		s.notifier.Notify(notification.Request{
			To:         doctor.Email,
			TemplateID: notification.TemplateRecordViewed,
			Data: map[string]string{
				"name":         doctor.Name,
				"patient_name": patient.Name,
				"file_name":    rec.FileName,
				"time":         when,
			},
		})
	}
}
