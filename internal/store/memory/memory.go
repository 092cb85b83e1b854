// Package memory is an in-process entity store. With a data directory it
// snapshots each collection to a JSON file after every mutation.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// Backend holds one collection per entity type.
type Backend struct {
	dataDir string
	now     func() time.Time

	mu          sync.Mutex
	collections map[string]*Collection
	missing     map[string]bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithDataDir enables JSON snapshots under dir.
func WithDataDir(dir string) Option {
	return func(b *Backend) { b.dataDir = dir }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithoutEntity makes every call on entity fail as not provisioned.
func WithoutEntity(entity string) Option {
	return func(b *Backend) { b.missing[entity] = true }
}

// New creates an in-memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		now:         time.Now,
		collections: make(map[string]*Collection),
		missing:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "memory" }

// Collection returns the collection for entity, loading its snapshot once.
func (b *Backend) Collection(entity string) store.Collection {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.collections[entity]; ok {
		return c
	}
	c := &Collection{
		entity:  entity,
		backend: b,
		docs:    make(map[string]store.Doc),
	}
	c.loadFromDisk()
	b.collections[entity] = c
	return c
}

// Me accepts any token; the in-memory backend has a single local user.
func (b *Backend) Me(ctx context.Context, token string) (*store.User, error) {
	return &store.User{ID: "local", Email: "local@localhost"}, nil
}

func (b *Backend) Close() error { return nil }

// Collection is an ordered set of documents.
type Collection struct {
	entity  string
	backend *Backend

	mu    sync.RWMutex
	order []string
	docs  map[string]store.Doc
}

func (c *Collection) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.backend.missing[c.entity] {
		return &domain.ErrEntityNotProvisioned{Entity: c.entity}
	}
	return nil
}

func (c *Collection) List(ctx context.Context, sort string, limit int) ([]json.RawMessage, error) {
	return c.query(ctx, nil, sort, limit)
}

func (c *Collection) Filter(ctx context.Context, f store.Filter, sort string) ([]json.RawMessage, error) {
	return c.query(ctx, f, sort, 0)
}

func (c *Collection) query(ctx context.Context, f store.Filter, sort string, limit int) ([]json.RawMessage, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	var docs []store.Doc
	for _, id := range c.order {
		d := c.docs[id]
		if store.Matches(d.Fields, f) {
			docs = append(docs, d)
		}
	}
	c.mu.RUnlock()

	store.SortDocs(docs, store.ParseSort(sort))
	return store.Raws(store.Limit(docs, limit)), nil
}

func (c *Collection) Create(ctx context.Context, doc json.RawMessage) (json.RawMessage, error) {
	out, err := c.BulkCreate(ctx, []json.RawMessage{doc})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// BulkCreate inserts all documents or none.
func (c *Collection) BulkCreate(ctx context.Context, docs []json.RawMessage) ([]json.RawMessage, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	now := c.backend.now()
	stamped := make([]store.Doc, 0, len(docs))
	for _, doc := range docs {
		raw, fields, err := store.Stamp(doc, now)
		if err != nil {
			return nil, err
		}
		stamped = append(stamped, store.Doc{Raw: raw, Fields: fields})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range stamped {
		id := store.StringField(d.Fields, "id")
		if _, exists := c.docs[id]; exists {
			return nil, fmt.Errorf("%s with id %q already exists", c.entity, id)
		}
	}
	out := make([]json.RawMessage, 0, len(stamped))
	for _, d := range stamped {
		id := store.StringField(d.Fields, "id")
		c.docs[id] = d
		c.order = append(c.order, id)
		out = append(out, d.Raw)
	}
	if err := c.saveToDisk(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Collection) Update(ctx context.Context, id string, patch store.Patch) (json.RawMessage, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.docs[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: c.entity, ID: id}
	}
	raw, err := store.Merge(d.Raw, patch, c.backend.now())
	if err != nil {
		return nil, err
	}
	fields, err := store.Fields(raw)
	if err != nil {
		return nil, err
	}
	c.docs[id] = store.Doc{Raw: raw, Fields: fields}
	if err := c.saveToDisk(); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.docs[id]; !ok {
		return &domain.ErrNotFound{Resource: c.entity, ID: id}
	}
	delete(c.docs, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return c.saveToDisk()
}

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// snapshotFile returns the path of the collection snapshot.
func (c *Collection) snapshotFile() string {
	return filepath.Join(c.backend.dataDir, domain.TableName(c.entity)+".json")
}

// loadFromDisk restores the snapshot, starting empty when there is none.
func (c *Collection) loadFromDisk() {
	if c.backend.dataDir == "" {
		return
	}
	data, err := os.ReadFile(c.snapshotFile())
	if err != nil {
		return
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return
	}
	for _, raw := range docs {
		fields, err := store.Fields(raw)
		if err != nil {
			continue
		}
		id := store.StringField(fields, "id")
		if id == "" {
			continue
		}
		if _, dup := c.docs[id]; !dup {
			c.order = append(c.order, id)
		}
		c.docs[id] = store.Doc{Raw: raw, Fields: fields}
	}
}

// saveToDisk writes the snapshot. Callers hold c.mu.
func (c *Collection) saveToDisk() error {
	if c.backend.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.backend.dataDir, 0755); err != nil {
		return err
	}
	docs := make([]json.RawMessage, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, c.docs[id].Raw)
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.snapshotFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.snapshotFile())
}
