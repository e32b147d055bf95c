package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// MaxBlobSize caps uploaded files (5 MB).
const MaxBlobSize = 5 << 20

var ErrBlobTooLarge = errors.New("file exceeds maximum allowed size")

// BlobObject describes a stored file.
type BlobObject struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BlobStore stores opaque files under caller-chosen keys. Put overwrites.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*BlobObject, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *BlobObject, error)
}

func readLimited(content io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if len(data) > MaxBlobSize {
		return nil, ErrBlobTooLarge
	}
	return data, nil
}

type storedBlob struct {
	object  BlobObject
	content []byte
}

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]storedBlob
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string]storedBlob)}
}

func (s *MemoryBlobStore) Put(_ context.Context, key, contentType string, content io.Reader) (*BlobObject, error) {
	data, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	obj := BlobObject{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		UpdatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = storedBlob{object: obj, content: data}
	s.mu.Unlock()

	return &obj, nil
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) (io.ReadCloser, *BlobObject, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, notFound("blobs", key)
	}
	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}
