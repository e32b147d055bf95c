// Package gateway is the remote data gateway the clinic core talks to: a
// collection/document store with a Firestore-like contract plus blob storage
// for profile pictures. Callers never see SQL; they see collections, ids and
// JSON documents.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collections used by the clinic.
const (
	CollectionUsers          = "users"
	CollectionCredentials    = "credentials"
	CollectionAppointments   = "appointments"
	CollectionAvailableSlots = "availableSlots"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Document is a stored record: its id and raw JSON body.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Filter is an equality predicate on one top-level field.
type Filter struct {
	Field string
	Value string
}

// Where builds a Filter.
func Where(field, value string) *Filter {
	return &Filter{Field: field, Value: value}
}

// Gateway is the document contract consumed by the state store, session
// manager and profile service.
type Gateway interface {
	CreateRecord(ctx context.Context, collection string, data any) (string, error)
	SetRecord(ctx context.Context, collection, id string, data any) error
	GetRecord(ctx context.Context, collection, id string) (*Document, error)
	ListRecords(ctx context.Context, collection string, filter *Filter) ([]Document, error)
	// UpdateRecord shallow-merges patch into the stored document.
	UpdateRecord(ctx context.Context, collection, id string, patch map[string]any) error
	// DeleteRecord succeeds when the record is already gone.
	DeleteRecord(ctx context.Context, collection, id string) error
}

func notFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
}
