package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryDoc struct {
	data json.RawMessage
	seq  int64
}

// MemoryStore is a thread-safe, in-process Gateway for tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  int64
	docs map[string]map[string]memoryDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]memoryDoc)}
}

func (s *MemoryStore) put(collection, id string, data json.RawMessage) {
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]memoryDoc)
		s.docs[collection] = coll
	}
	seq := coll[id].seq
	if seq == 0 {
		s.seq++
		seq = s.seq
	}
	coll[id] = memoryDoc{data: data, seq: seq}
}

func (s *MemoryStore) CreateRecord(_ context.Context, collection string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode %s record: %w", collection, err)
	}

	id := uuid.NewString()

	s.mu.Lock()
	s.put(collection, id, raw)
	s.mu.Unlock()

	return id, nil
}

func (s *MemoryStore) SetRecord(_ context.Context, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	s.mu.Lock()
	s.put(collection, id, raw)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, notFound(collection, id)
	}
	return &Document{ID: id, Data: doc.data}, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, collection string, filter *Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		doc Document
		seq int64
	}
	var entries []entry
	for id, doc := range s.docs[collection] {
		if filter != nil {
			ok, err := matches(doc.data, filter)
			if err != nil {
				return nil, fmt.Errorf("filter %s/%s: %w", collection, id, err)
			}
			if !ok {
				continue
			}
		}
		entries = append(entries, entry{doc: Document{ID: id, Data: doc.data}, seq: doc.seq})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	result := make([]Document, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.doc)
	}
	return result, nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, collection, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return notFound(collection, id)
	}

	merged, err := mergePatch(doc.data, patch)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	s.put(collection, id, merged)
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, collection, id string) error {
	s.mu.Lock()
	delete(s.docs[collection], id)
	s.mu.Unlock()
	return nil
}

// matches emulates Postgres `data->>field = value`.
func matches(data json.RawMessage, filter *Filter) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	raw, ok := fields[filter.Field]
	if !ok {
		return false, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str == filter.Value, nil
	}
	return string(raw) == filter.Value, nil
}

// mergePatch emulates Postgres `data || patch` (top-level keys only).
func mergePatch(data json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range patch {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}
