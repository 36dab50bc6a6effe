package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthlock/healthlock/internal/platform/auth"
	"github.com/healthlock/healthlock/internal/platform/db"
)

const emailKey = "account_role_email_key"

const accountCols = `id, role, name, email, phone, specialization,
	password_salt, password_hash, password_iterations, password_keylen, password_digest,
	hp_hemoglobin, hp_glucose, hp_cholesterol, hp_bmi, hp_heart_rate, hp_bp_systolic, hp_bp_diastolic,
	hp_last_analyzed_at, hp_last_report_name, created_at, updated_at`

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		b              Base
		role           string
		phone, spec    *string
		reportName     *string
		hp             HealthProfile
		iterations, kl int
	)
	err := row.Scan(&b.ID, &role, &b.Name, &b.Email, &phone, &spec,
		&b.Credential.Salt, &b.Credential.Hash, &iterations, &kl, &b.Credential.Digest,
		&hp.Hemoglobin, &hp.Glucose, &hp.Cholesterol, &hp.BMI, &hp.HeartRate,
		&hp.BloodPressureSystolic, &hp.BloodPressureDiastolic,
		&hp.LastAnalyzedAt, &reportName, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.Credential.Iterations = iterations
	b.Credential.KeyLen = kl

	switch auth.Role(role) {
	case auth.RolePatient:
		p := &Patient{Base: b, HealthProfile: hp}
		p.Phone = deref(phone)
		p.HealthProfile.LastReportName = deref(reportName)
		return p, nil
	case auth.RoleDoctor:
		return &Doctor{Base: b, Specialization: deref(spec)}, nil
	default:
		return nil, fmt.Errorf("unknown role %q for account %s", role, b.ID)
	}
}

func (r *repoPG) Create(ctx context.Context, a Account) error {
	b := a.Common()
	b.ID = uuid.New()
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	phone, spec := roleFields(a)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO account (id, role, name, email, phone, specialization,
			password_salt, password_hash, password_iterations, password_keylen, password_digest,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		b.ID, string(a.Role()), b.Name, b.Email, phone, spec,
		b.Credential.Salt, b.Credential.Hash, b.Credential.Iterations, b.Credential.KeyLen, b.Credential.Digest,
		b.CreatedAt, b.UpdatedAt)
	if db.IsUniqueViolation(err, emailKey) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, role auth.Role, email string) (Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM account WHERE role = $1 AND lower(email) = $2`,
		string(role), strings.ToLower(email)))
}

func (r *repoPG) Update(ctx context.Context, a Account) error {
	b := a.Common()
	phone, spec := roleFields(a)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE account SET name=$2, email=$3, phone=$4, specialization=$5,
			password_salt=$6, password_hash=$7, password_iterations=$8, password_keylen=$9,
			password_digest=$10, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.Name, b.Email, phone, spec,
		b.Credential.Salt, b.Credential.Hash, b.Credential.Iterations, b.Credential.KeyLen, b.Credential.Digest)
	if db.IsUniqueViolation(err, emailKey) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateCredential(ctx context.Context, id uuid.UUID, c auth.Credential) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE account SET password_salt=$2, password_hash=$3, password_iterations=$4,
			password_keylen=$5, password_digest=$6, updated_at=NOW()
		WHERE id = $1`,
		id, c.Salt, c.Hash, c.Iterations, c.KeyLen, c.Digest)
	return err
}

func (r *repoPG) UpdateHealthProfile(ctx context.Context, id uuid.UUID, hp HealthProfile) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE account SET hp_hemoglobin=$2, hp_glucose=$3, hp_cholesterol=$4, hp_bmi=$5,
			hp_heart_rate=$6, hp_bp_systolic=$7, hp_bp_diastolic=$8,
			hp_last_analyzed_at=$9, hp_last_report_name=$10, updated_at=NOW()
		WHERE id = $1 AND role = 'patient'`,
		id, hp.Hemoglobin, hp.Glucose, hp.Cholesterol, hp.BMI,
		hp.HeartRate, hp.BloodPressureSystolic, hp.BloodPressureDiastolic,
		hp.LastAnalyzedAt, hp.LastReportName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func roleFields(a Account) (phone, spec *string) {
	switch v := a.(type) {
	case *Patient:
		return nullable(v.Phone), nil
	case *Doctor:
		return nil, nullable(v.Specialization)
	}
	return nil, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
