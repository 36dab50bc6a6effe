package accesslog

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthlock/healthlock/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return err
	}
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO access_log (id, patient_id, record_id, doctor_id, ip_address, user_agent, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		e.ID, e.PatientID, e.RecordID, e.DoctorID, e.IP, e.UserAgent, meta).Scan(&e.CreatedAt)
}

func (r *repoPG) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PatientEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM access_log WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT l.id, l.record_id, l.ip_address, l.user_agent, l.meta, l.created_at,
			d.id, d.name, d.email, d.specialization
		FROM access_log l
		LEFT JOIN account d ON d.id = l.doctor_id
		WHERE l.patient_id = $1
		ORDER BY l.created_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*PatientEntry
	for rows.Next() {
		var (
			e                     PatientEntry
			ip, ua                *string
			meta                  []byte
			docID                 *uuid.UUID
			docName, docEmail, sp *string
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &ip, &ua, &meta, &e.CreatedAt,
			&docID, &docName, &docEmail, &sp); err != nil {
			return nil, 0, err
		}
		e.IP, e.UserAgent = str(ip), str(ua)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, 0, err
			}
		}
		if docID != nil {
			e.Doctor = &DoctorRef{ID: *docID, Name: str(docName), Email: str(docEmail), Specialization: str(sp)}
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
