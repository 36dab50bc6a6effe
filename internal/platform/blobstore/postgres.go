package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthlock/healthlock/internal/platform/db"
)

const blobMetaCols = `id, file_name, content_type, size_bytes, owner_id, sha256, created_at`

// PostgresBlobStore keeps payloads in the record_blob table. Writes join the
// transaction carried by ctx, if any.
type PostgresBlobStore struct {
	pool    *pgxpool.Pool
	maxSize int64
}

func NewPostgresBlobStore(pool *pgxpool.Pool, maxSize int64) *PostgresBlobStore {
	return &PostgresBlobStore{pool: pool, maxSize: maxSize}
}

func (s *PostgresBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}

	_, err = db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO record_blob (id, file_name, content_type, size_bytes, owner_id, sha256, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		meta.ID, meta.FileName, meta.ContentType, meta.Size, meta.OwnerID, meta.Hash, data, meta.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert blob: %w", err)
	}
	return &meta, nil
}

func (s *PostgresBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	var meta BlobMetadata
	var data []byte
	row := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+blobMetaCols+`, content FROM record_blob WHERE id = $1`, id)
	err := row.Scan(&meta.ID, &meta.FileName, &meta.ContentType, &meta.Size, &meta.OwnerID, &meta.Hash, &meta.CreatedAt, &data)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return io.NopCloser(bytes.NewReader(data)), &meta, nil
}

func (s *PostgresBlobStore) Delete(ctx context.Context, id string) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM record_blob WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlobNotFound
	}
	return nil
}

func (s *PostgresBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	var meta BlobMetadata
	row := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+blobMetaCols+` FROM record_blob WHERE id = $1`, id)
	err := row.Scan(&meta.ID, &meta.FileName, &meta.ContentType, &meta.Size, &meta.OwnerID, &meta.Hash, &meta.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &meta, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBlobNotFound
	}
	return fmt.Errorf("query blob: %w", err)
}
