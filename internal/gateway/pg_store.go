package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the part of *pgxpool.Pool the stores need.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore keeps every collection in a single JSONB documents table.
type PgStore struct {
	db DBTX
}

func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) CreateRecord(ctx context.Context, collection string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode %s record: %w", collection, err)
	}

	var id string
	err = s.db.QueryRow(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id
	`, collection, uuid.NewString(), raw).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create %s record: %w", collection, err)
	}

	return id, nil
}

func (s *PgStore) SetRecord(ctx context.Context, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, collection, id, raw)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}

	return nil
}

func (s *PgStore) GetRecord(ctx context.Context, collection, id string) (*Document, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT data
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(collection, id)
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	return &Document{ID: id, Data: raw}, nil
}

func (s *PgStore) ListRecords(ctx context.Context, collection string, filter *Filter) ([]Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter == nil {
		rows, err = s.db.Query(ctx, `
			SELECT id, data
			FROM documents
			WHERE collection = $1
			ORDER BY created_at, id
		`, collection)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, data
			FROM documents
			WHERE collection = $1 AND data->>$2 = $3
			ORDER BY created_at, id
		`, collection, filter.Field, filter.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		result = append(result, Document{ID: id, Data: raw})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}

	return result, nil
}

func (s *PgStore) UpdateRecord(ctx context.Context, collection, id string, patch map[string]any) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch for %s/%s: %w", collection, id, err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET data = data || $3::jsonb,
		    updated_at = now()
		WHERE collection = $1 AND id = $2
	`, collection, id, raw)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(collection, id)
	}

	return nil
}

func (s *PgStore) DeleteRecord(ctx context.Context, collection, id string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}
