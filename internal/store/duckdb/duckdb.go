// Package duckdb stores entity documents in a local DuckDB file, one table
// per entity type.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// Config holds database configuration.
type Config struct {
	DataDir     string // empty means an in-memory database
	DBName      string
	AutoMigrate bool
}

// Backend is a DuckDB-backed entity store.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database and, with AutoMigrate, its tables.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	dbPath := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		dbPath = filepath.Join(duckdbDir, cfg.DBName+".duckdb")
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	b := &Backend{db: db, now: time.Now}
	if cfg.AutoMigrate {
		if err := b.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return b, nil
}

// Migrate creates the entity tables if they do not exist.
func (b *Backend) Migrate(ctx context.Context) error {
	for _, entity := range []string{domain.EntityProject, domain.EntityPremise, domain.EntityActivity} {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR PRIMARY KEY,
			project_id VARCHAR,
			created_date VARCHAR,
			doc VARCHAR NOT NULL
		)`, domain.TableName(entity))
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table for %s: %w", entity, err)
		}
	}
	return nil
}

func (b *Backend) Name() string { return "duckdb" }

// DB exposes the connection for ad-hoc queries.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) Collection(entity string) store.Collection {
	return &Collection{entity: entity, table: domain.TableName(entity), b: b}
}

// Me returns the single local user; a DuckDB file has no auth.
func (b *Backend) Me(ctx context.Context, token string) (*store.User, error) {
	return &store.User{ID: "local"}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

// Collection maps one entity type onto one table.
type Collection struct {
	entity string
	table  string
	b      *Backend
}

// wrap turns a missing-table catalog error into ErrEntityNotProvisioned.
func (c *Collection) wrap(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "Catalog Error") && strings.Contains(msg, "does not exist") {
		return &domain.ErrEntityNotProvisioned{Entity: c.entity}
	}
	return fmt.Errorf("duckdb %s: %w", c.table, err)
}

func (c *Collection) List(ctx context.Context, sort string, limit int) ([]json.RawMessage, error) {
	return c.query(ctx, nil, sort, limit)
}

func (c *Collection) Filter(ctx context.Context, f store.Filter, sort string) ([]json.RawMessage, error) {
	return c.query(ctx, f, sort, 0)
}

// query pushes id and project_id filters down to SQL and checks the rest
// against the decoded documents.
func (c *Collection) query(ctx context.Context, f store.Filter, sort string, limit int) ([]json.RawMessage, error) {
	q := "SELECT doc FROM " + c.table + " WHERE 1=1"
	var args []any
	for _, col := range []string{"id", "project_id"} {
		if v, ok := f[col].(string); ok {
			q += " AND " + col + " = ?"
			args = append(args, v)
		}
	}
	q += " ORDER BY rowid"

	rows, err := c.b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, c.wrap(err)
	}
	defer rows.Close()

	var docs []store.Doc
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, c.wrap(err)
		}
		fields, err := store.Fields(json.RawMessage(raw))
		if err != nil {
			return nil, err
		}
		if store.Matches(fields, f) {
			docs = append(docs, store.Doc{Raw: json.RawMessage(raw), Fields: fields})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, c.wrap(err)
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

// BulkCreate inserts all documents in one transaction.
func (c *Collection) BulkCreate(ctx context.Context, docs []json.RawMessage) ([]json.RawMessage, error) {
	tx, err := c.b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.wrap(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+c.table+" (id, project_id, created_date, doc) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, c.wrap(err)
	}
	defer stmt.Close()

	now := c.b.now()
	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, fields, err := store.Stamp(doc, now)
		if err != nil {
			return nil, err
		}
		_, err = stmt.ExecContext(ctx,
			store.StringField(fields, "id"),
			nullable(store.StringField(fields, "project_id")),
			store.StringField(fields, "created_date"),
			string(raw),
		)
		if err != nil {
			return nil, c.wrap(err)
		}
		out = append(out, raw)
	}
	if err := tx.Commit(); err != nil {
		return nil, c.wrap(err)
	}
	return out, nil
}

func (c *Collection) Update(ctx context.Context, id string, patch store.Patch) (json.RawMessage, error) {
	tx, err := c.b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.wrap(err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT doc FROM "+c.table+" WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: c.entity, ID: id}
	}
	if err != nil {
		return nil, c.wrap(err)
	}

	raw, err := store.Merge(json.RawMessage(current), patch, c.b.now())
	if err != nil {
		return nil, err
	}
	fields, err := store.Fields(raw)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, "UPDATE "+c.table+" SET doc = ?, project_id = ? WHERE id = ?",
		string(raw), nullable(store.StringField(fields, "project_id")), id)
	if err != nil {
		return nil, c.wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, c.wrap(err)
	}
	return raw, nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	res, err := c.b.db.ExecContext(ctx, "DELETE FROM "+c.table+" WHERE id = ?", id)
	if err != nil {
		return c.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return c.wrap(err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: c.entity, ID: id}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
