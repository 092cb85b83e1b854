package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/resilience"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// row maps the table columns.
type row struct {
	ID          string          `json:"id"`
	ProjectID   *string         `json:"project_id"`
	CreatedDate string          `json:"created_date"`
	Doc         json.RawMessage `json:"doc"`
}

// Collection maps one entity type onto one PostgREST table.
type Collection struct {
	entity string
	table  string
	b      *Backend
}

func (c *Collection) List(ctx context.Context, sort string, limit int) ([]json.RawMessage, error) {
	return c.query(ctx, nil, sort, limit)
}

func (c *Collection) Filter(ctx context.Context, f store.Filter, sort string) ([]json.RawMessage, error) {
	return c.query(ctx, f, sort, 0)
}

// query pushes string filters down to PostgREST and re-checks every filter
// on the returned documents.
func (c *Collection) query(ctx context.Context, f store.Filter, sort string, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("select", "doc")
	q.Set("order", "created_date.asc")
	for k, v := range f {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || rv.Kind() != reflect.String {
			continue
		}
		column := k
		if k != "id" && k != "project_id" {
			column = "doc->>" + k
		}
		q.Add(column, "eq."+rv.String())
	}

	var docs []store.Doc
	err := c.b.call(ctx, "Filter", c.table, func(ctx context.Context) error {
		body, err := c.b.doRequest(ctx, http.MethodGet, "/rest/v1/"+c.table+"?"+q.Encode(), nil, c.b.serviceRoleKey)
		if err != nil {
			return err
		}
		var rows []row
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode %s rows: %w", c.table, err))
		}
		docs = docs[:0]
		for _, r := range rows {
			fields, err := store.Fields(r.Doc)
			if err != nil {
				return resilience.Permanent(err)
			}
			if store.Matches(fields, f) {
				docs = append(docs, store.Doc{Raw: r.Doc, Fields: fields})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

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

// BulkCreate inserts all documents in a single request.
func (c *Collection) BulkCreate(ctx context.Context, docs []json.RawMessage) ([]json.RawMessage, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	now := time.Now()
	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		raw, fields, err := store.Stamp(doc, now)
		if err != nil {
			return nil, err
		}
		rows = append(rows, newRow(raw, fields))
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}

	var out []json.RawMessage
	err = c.b.call(ctx, "BulkCreate", c.table, func(ctx context.Context) error {
		body, err := c.b.doRequest(ctx, http.MethodPost, "/rest/v1/"+c.table, payload, c.b.serviceRoleKey)
		if err != nil {
			return err
		}
		var created []row
		if err := json.Unmarshal(body, &created); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode created %s: %w", c.table, err))
		}
		out = out[:0]
		for _, r := range created {
			out = append(out, r.Doc)
		}
		return nil
	})
	return out, err
}

// Update reads the document, merges the patch and writes it back.
func (c *Collection) Update(ctx context.Context, id string, patch store.Patch) (json.RawMessage, error) {
	path := "/rest/v1/" + c.table + "?id=eq." + url.QueryEscape(id)

	var out json.RawMessage
	err := c.b.call(ctx, "Update", c.table, func(ctx context.Context) error {
		body, err := c.b.doRequest(ctx, http.MethodGet, path+"&select=doc", nil, c.b.serviceRoleKey)
		if err != nil {
			return err
		}
		var rows []row
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(err)
		}
		if len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: c.entity, ID: id})
		}

		merged, err := store.Merge(rows[0].Doc, patch, time.Now())
		if err != nil {
			return resilience.Permanent(err)
		}
		fields, err := store.Fields(merged)
		if err != nil {
			return resilience.Permanent(err)
		}
		r := newRow(merged, fields)
		payload, err := json.Marshal(map[string]any{"doc": r.Doc, "project_id": r.ProjectID})
		if err != nil {
			return resilience.Permanent(err)
		}
		if _, err := c.b.doRequest(ctx, http.MethodPatch, path, payload, c.b.serviceRoleKey); err != nil {
			return err
		}
		out = merged
		return nil
	})
	return out, err
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	path := "/rest/v1/" + c.table + "?id=eq." + url.QueryEscape(id)
	return c.b.call(ctx, "Delete", c.table, func(ctx context.Context) error {
		body, err := c.b.doRequest(ctx, http.MethodDelete, path, nil, c.b.serviceRoleKey)
		if err != nil {
			return err
		}
		var rows []row
		if err := json.Unmarshal(body, &rows); err == nil && len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: c.entity, ID: id})
		}
		return nil
	})
}

func newRow(raw json.RawMessage, fields map[string]json.RawMessage) row {
	r := row{
		ID:          store.StringField(fields, "id"),
		CreatedDate: store.StringField(fields, "created_date"),
		Doc:         raw,
	}
	if pid := store.StringField(fields, "project_id"); pid != "" {
		r.ProjectID = &pid
	}
	return r
}
