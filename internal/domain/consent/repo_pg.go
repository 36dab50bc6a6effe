package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthlock/healthlock/internal/platform/db"
)

const (
	requestCols = `id, doctor_id, patient_id, record_id, status, expires_at,
	approved_at, responded_at, created_at, updated_at`
	pendingKey = "profile_access_request_pending_key"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.DoctorID, &req.PatientID, &req.RecordID, &req.Status, &req.ExpiresAt,
		&req.ApprovedAt, &req.RespondedAt, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func collect(rows pgx.Rows) ([]*Request, error) {
	defer rows.Close()
	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, req *Request) error {
	req.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO profile_access_request (id, doctor_id, patient_id, record_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		req.ID, req.DoctorID, req.PatientID, req.RecordID, req.Status, req.ExpiresAt,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if db.IsUniqueViolation(err, pendingKey) {
		return ErrDuplicatePending
	}
	if err != nil {
		return fmt.Errorf("insert profile access request: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM profile_access_request WHERE id = $1`, id))
}

func (r *repoPG) FindPending(ctx context.Context, doctorID, patientID, recordID uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx, `
		SELECT `+requestCols+` FROM profile_access_request
		WHERE doctor_id = $1 AND patient_id = $2 AND record_id = $3 AND status = 'pending'`,
		doctorID, patientID, recordID))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status Status) ([]*Request, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+requestCols+` FROM profile_access_request
		WHERE patient_id = $1 AND status = $2
		ORDER BY created_at DESC`, patientID, status)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Request, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM profile_access_request WHERE doctor_id = $1`, doctorID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+requestCols+` FROM profile_access_request
		WHERE doctor_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE profile_access_request SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND expires_at <= $2`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) ExpireStale(ctx context.Context, doctorID, patientID, recordID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE profile_access_request SET status = 'expired', updated_at = NOW()
		WHERE doctor_id = $1 AND patient_id = $2 AND record_id = $3
		  AND status = 'pending' AND expires_at <= $4`, doctorID, patientID, recordID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) Respond(ctx context.Context, id uuid.UUID, to Status, at time.Time) (bool, error) {
	if to != StatusApproved && to != StatusRejected {
		return false, fmt.Errorf("cannot respond with status %q", to)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE profile_access_request
		SET status = $2,
		    approved_at = CASE WHEN $2 = 'approved' THEN $3::timestamptz ELSE approved_at END,
		    responded_at = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND expires_at > $3`, id, string(to), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
