// Package store is the entity-store contract the pipeline persists through,
// with a typed repository on top of untyped JSON document collections.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// Filter selects documents whose top-level members equal the given values.
type Filter map[string]any

// Patch is a partial update of top-level members.
type Patch map[string]any

// Collection stores the documents of one entity type.
type Collection interface {
	List(ctx context.Context, sort string, limit int) ([]json.RawMessage, error)
	Filter(ctx context.Context, f Filter, sort string) ([]json.RawMessage, error)
	Create(ctx context.Context, doc json.RawMessage) (json.RawMessage, error)
	BulkCreate(ctx context.Context, docs []json.RawMessage) ([]json.RawMessage, error)
	Update(ctx context.Context, id string, patch Patch) (json.RawMessage, error)
	Delete(ctx context.Context, id string) error
}

// User is the authenticated caller.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Backend provides collections per entity type.
type Backend interface {
	Name() string
	Collection(entity string) Collection
	Me(ctx context.Context, token string) (*User, error)
	Close() error
}

// Repository is a typed view of a Collection.
type Repository[T any] struct {
	entity string
	c      Collection
}

// NewRepository wraps c for entity.
func NewRepository[T any](entity string, c Collection) Repository[T] {
	return Repository[T]{entity: entity, c: c}
}

func (r Repository[T]) Entity() string { return r.entity }

func (r Repository[T]) List(ctx context.Context, sort string, limit int) ([]T, error) {
	docs, err := r.c.List(ctx, sort, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](r.entity, docs)
}

func (r Repository[T]) Filter(ctx context.Context, f Filter, sort string) ([]T, error) {
	docs, err := r.c.Filter(ctx, f, sort)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](r.entity, docs)
}

// Get returns the entity with id or ErrNotFound.
func (r Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	items, err := r.Filter(ctx, Filter{"id": id}, "")
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, &domain.ErrNotFound{Resource: r.entity, ID: id}
	}
	return items[0], nil
}

func (r Repository[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	doc, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", r.entity, err)
	}
	out, err := r.c.Create(ctx, doc)
	if err != nil {
		return zero, err
	}
	return decode[T](r.entity, out)
}

func (r Repository[T]) BulkCreate(ctx context.Context, vs []T) ([]T, error) {
	docs := make([]json.RawMessage, 0, len(vs))
	for _, v := range vs {
		doc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.entity, err)
		}
		docs = append(docs, doc)
	}
	out, err := r.c.BulkCreate(ctx, docs)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](r.entity, out)
}

func (r Repository[T]) Update(ctx context.Context, id string, patch Patch) (T, error) {
	var zero T
	out, err := r.c.Update(ctx, id, patch)
	if err != nil {
		return zero, err
	}
	return decode[T](r.entity, out)
}

func (r Repository[T]) Delete(ctx context.Context, id string) error {
	return r.c.Delete(ctx, id)
}

func decode[T any](entity string, doc json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", entity, err)
	}
	return v, nil
}

func decodeAll[T any](entity string, docs []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := decode[T](entity, d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Store groups the repositories of the three entity types.
type Store struct {
	Projects   Repository[domain.Project]
	Premises   Repository[domain.Premise]
	Activities Repository[domain.Activity]

	backend Backend
}

// New builds a Store over backend.
func New(b Backend) *Store {
	return &Store{
		Projects:   NewRepository[domain.Project](domain.EntityProject, b.Collection(domain.EntityProject)),
		Premises:   NewRepository[domain.Premise](domain.EntityPremise, b.Collection(domain.EntityPremise)),
		Activities: NewRepository[domain.Activity](domain.EntityActivity, b.Collection(domain.EntityActivity)),
		backend:    b,
	}
}

func (s *Store) Backend() string { return s.backend.Name() }

// Me resolves the caller behind token.
func (s *Store) Me(ctx context.Context, token string) (*User, error) {
	return s.backend.Me(ctx, token)
}

func (s *Store) Close() error { return s.backend.Close() }

// ByProject selects the records of one project.
func ByProject(projectID string) Filter {
	return Filter{"project_id": projectID}
}

// StatsPatch writes the four project counters.
func StatsPatch(s domain.Stats) Patch {
	return Patch{
		"totale_locali":   s.Total,
		"totale_sfitti":   s.Vacant,
		"totale_occupati": s.Occupied,
		"totale_altri":    s.Other,
	}
}
