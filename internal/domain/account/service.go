package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/platform/apperr"
	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/notification"
)

// MinPasswordLength applies to signup and password changes.
const MinPasswordLength = 8

type Service struct {
	repo     Repository
	notifier notification.Notifier
	logger   zerolog.Logger
	appURL   string
	now      func() time.Time
}

func NewService(repo Repository, notifier notification.Notifier, logger zerolog.Logger, appURL string) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("component", "account").Logger(),
		appURL:   appURL,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type SignupInput struct {
	Role           string `json:"role"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Phone          string `json:"phone"`
	Specialization string `json:"specialization"`
}

type SigninInput struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ClientInfo describes where a sign-in came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type ProfileUpdate struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Specialization  string `json:"specialization"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type HealthProfileInput struct {
	ReportName string       `json:"reportName"`
	Metrics    Observations `json:"metrics"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func parseRole(s string) (auth.Role, error) {
	role, ok := auth.ParseRole(s)
	if !ok {
		return "", apperr.WithCode(apperr.KindValidation, "INVALID_ROLE", "Role must be patient or doctor")
	}
	return role, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Signup creates an account of the requested role.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Account, error) {
	role, err := parseRole(in.Role)
	if err != nil {
		return nil, err
	}
	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, apperr.New(apperr.KindValidation, "Name is required")
	case email == "":
		return nil, apperr.New(apperr.KindValidation, "Email is required")
	case !validEmail(email):
		return nil, apperr.WithCode(apperr.KindValidation, "INVALID_EMAIL", "Email is invalid")
	case in.Password == "":
		return nil, apperr.New(apperr.KindValidation, "Password is required")
	case len(in.Password) < MinPasswordLength:
		return nil, apperr.WithCode(apperr.KindValidation, "WEAK_PASSWORD", "Password must be at least 8 characters")
	}

	cred, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	base := Base{Name: name, Email: email, Credential: cred}
	var a Account
	if role == auth.RolePatient {
		a = &Patient{Base: base, Phone: strings.TrimSpace(in.Phone)}
	} else {
		a = &Doctor{Base: base, Specialization: strings.TrimSpace(in.Specialization)}
	}

	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, apperr.WithCode(apperr.KindConflict, "EMAIL_TAKEN", "An account with this email already exists")
		}
		return nil, apperr.Internal(err)
	}

	s.logger.Info().Str("account_id", base.ID.String()).Str("role", string(role)).Msg("account created")
	s.notifier.Notify(notification.Request{
		To:         email,
		TemplateID: notification.TemplateSignupWelcome,
		Data:       map[string]string{"name": name, "role": string(role), "app_url": s.appURL},
	})
	return a, nil
}

// Signin checks the credential for (role, email). Unknown accounts and wrong
// passwords produce the same error.
func (s *Service) Signin(ctx context.Context, in SigninInput, client ClientInfo) (Account, error) {
	role, err := parseRole(in.Role)
	if err != nil {
		return nil, err
	}
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperr.New(apperr.KindValidation, "Email and password are required")
	}

	invalid := apperr.WithCode(apperr.KindAuthRequired, "INVALID_CREDENTIALS", "Invalid credentials")
	a, err := s.repo.GetByEmail(ctx, role, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid
		}
		return nil, apperr.Internal(err)
	}
	b := a.Common()
	if !b.Credential.Verify(in.Password) {
		return nil, invalid
	}

	if b.Credential.NeedsRehash() {
		if cred, err := auth.HashPassword(in.Password); err == nil {
			if err := s.repo.UpdateCredential(ctx, b.ID, cred); err != nil {
				s.logger.Warn().Err(err).Str("account_id", b.ID.String()).Msg("credential upgrade failed")
			} else {
				b.Credential = cred
			}
		}
	}

	s.notifier.Notify(notification.Request{
		To:         b.Email,
		TemplateID: notification.TemplateLoginAlert,
		Data: map[string]string{
			"name": b.Name,
			"time": s.now().UTC().Format(time.RFC1123),
			"ip":   client.IP,
		},
	})
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.WithCode(apperr.KindNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
		}
		return nil, apperr.Internal(err)
	}
	return a, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	p, ok := a.(*Patient)
	if !ok {
		return nil, apperr.WithCode(apperr.KindNotFound, "PATIENT_NOT_FOUND", "Patient not found")
	}
	return p, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	d, ok := a.(*Doctor)
	if !ok {
		return nil, apperr.WithCode(apperr.KindNotFound, "DOCTOR_NOT_FOUND", "Doctor not found")
	}
	return d, nil
}

// UpdateProfile changes contact details and, when NewPassword is set, the
// password.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileUpdate) (Account, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" {
		return nil, apperr.New(apperr.KindValidation, "Name and email are required")
	}
	if !validEmail(email) {
		return nil, apperr.WithCode(apperr.KindValidation, "INVALID_EMAIL", "Email is invalid")
	}

	b := a.Common()
	if in.NewPassword != "" {
		if in.CurrentPassword == "" || !b.Credential.Verify(in.CurrentPassword) {
			return nil, apperr.WithCode(apperr.KindValidation, "INVALID_CURRENT_PASSWORD", "Current password is incorrect")
		}
		if len(in.NewPassword) < MinPasswordLength {
			return nil, apperr.WithCode(apperr.KindValidation, "WEAK_PASSWORD", "Password must be at least 8 characters")
		}
		cred, err := auth.HashPassword(in.NewPassword)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		b.Credential = cred
	}

	b.Name = name
	b.Email = email
	switch v := a.(type) {
	case *Patient:
		v.Phone = strings.TrimSpace(in.Phone)
	case *Doctor:
		v.Specialization = strings.TrimSpace(in.Specialization)
	}

	if err := s.repo.Update(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, apperr.WithCode(apperr.KindConflict, "EMAIL_TAKEN", "An account with this email already exists")
		}
		return nil, apperr.Internal(err)
	}
	return a, nil
}

// UpdateHealthProfile merges extracted observations into a patient's profile.
func (s *Service) UpdateHealthProfile(ctx context.Context, patientID uuid.UUID, in HealthProfileInput) (*HealthProfile, error) {
	if in.Metrics.empty() {
		return nil, apperr.WithCode(apperr.KindValidation, "NO_METRICS", "At least one metric is required")
	}
	p, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	hp := p.HealthProfile
	hp.Merge(in.Metrics, strings.TrimSpace(in.ReportName), s.now())
	if err := s.repo.UpdateHealthProfile(ctx, patientID, hp); err != nil {
		return nil, apperr.Internal(err)
	}
	return &hp, nil
}
