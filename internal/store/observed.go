package store

import (
	"context"
	"encoding/json"
	"time"
)

// ObserveFunc receives the duration of one collection call, labelled
// "<entity>.<Operation>".
type ObserveFunc func(operation string, d time.Duration)

// Observed times every collection call of b.
func Observed(b Backend, observe ObserveFunc) Backend {
	if observe == nil {
		return b
	}
	return observedBackend{Backend: b, observe: observe}
}

type observedBackend struct {
	Backend
	observe ObserveFunc
}

func (o observedBackend) Collection(entity string) Collection {
	return observedCollection{c: o.Backend.Collection(entity), entity: entity, observe: o.observe}
}

type observedCollection struct {
	c       Collection
	entity  string
	observe ObserveFunc
}

func (o observedCollection) since(op string, start time.Time) {
	o.observe(o.entity+"."+op, time.Since(start))
}

func (o observedCollection) List(ctx context.Context, sort string, limit int) ([]json.RawMessage, error) {
	defer o.since("List", time.Now())
	return o.c.List(ctx, sort, limit)
}

func (o observedCollection) Filter(ctx context.Context, f Filter, sort string) ([]json.RawMessage, error) {
	defer o.since("Filter", time.Now())
	return o.c.Filter(ctx, f, sort)
}

func (o observedCollection) Create(ctx context.Context, doc json.RawMessage) (json.RawMessage, error) {
	defer o.since("Create", time.Now())
	return o.c.Create(ctx, doc)
}

func (o observedCollection) BulkCreate(ctx context.Context, docs []json.RawMessage) ([]json.RawMessage, error) {
	defer o.since("BulkCreate", time.Now())
	return o.c.BulkCreate(ctx, docs)
}

func (o observedCollection) Update(ctx context.Context, id string, patch Patch) (json.RawMessage, error) {
	defer o.since("Update", time.Now())
	return o.c.Update(ctx, id, patch)
}

func (o observedCollection) Delete(ctx context.Context, id string) error {
	defer o.since("Delete", time.Now())
	return o.c.Delete(ctx, id)
}
