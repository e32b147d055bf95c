package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
)

// PgBlobStore keeps blobs in the blobs table.
type PgBlobStore struct {
	db DBTX
}

func NewPgBlobStore(db DBTX) *PgBlobStore {
	return &PgBlobStore{db: db}
}

func (s *PgBlobStore) Put(ctx context.Context, key, contentType string, content io.Reader) (*BlobObject, error) {
	data, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	obj := BlobObject{Key: key, ContentType: contentType, Size: int64(len(data))}
	err = s.db.QueryRow(ctx, `
		INSERT INTO blobs (key, content_type, size, content, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (key)
		DO UPDATE SET content_type = EXCLUDED.content_type,
		              size = EXCLUDED.size,
		              content = EXCLUDED.content,
		              updated_at = now()
		RETURNING updated_at
	`, key, contentType, obj.Size, data).Scan(&obj.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("put blob %s: %w", key, err)
	}

	return &obj, nil
}

func (s *PgBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *BlobObject, error) {
	obj := BlobObject{Key: key}
	var data []byte

	err := s.db.QueryRow(ctx, `
		SELECT content_type, size, content, updated_at
		FROM blobs
		WHERE key = $1
	`, key).Scan(&obj.ContentType, &obj.Size, &data, &obj.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, notFound("blobs", key)
		}
		return nil, nil, fmt.Errorf("get blob %s: %w", key, err)
	}

	return io.NopCloser(bytes.NewReader(data)), &obj, nil
}
