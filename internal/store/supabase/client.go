// Package supabase stores entity documents through a Supabase PostgREST
// endpoint. Each entity table has the columns id, project_id, created_date
// and doc (json, so key order survives).
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/resilience"
	"github.com/joeblew999/plat-webgis/internal/store"
)

var tracer = otel.Tracer("supabase")

// Backend wraps HTTP calls to the Supabase PostgREST and Auth APIs.
type Backend struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	bulkhead       *resilience.Bulkhead
	logger         *zap.Logger
}

// NewBackend creates a Supabase backend.
func NewBackend(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Backend {
	return &Backend{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		logger:         logger,
	}
}

func (b *Backend) Name() string { return "supabase" }

func (b *Backend) Collection(entity string) store.Collection {
	return &Collection{entity: entity, table: domain.TableName(entity), b: b}
}

func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// doRequest executes an authenticated request against the REST API.
// Client errors are marked permanent so they are not retried.
func (b *Backend) doRequest(ctx context.Context, method, path string, body []byte, bearer string) ([]byte, error) {
	url := b.baseURL + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		b.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		serr := &statusError{Status: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(serr)
		}
		return nil, serr
	}

	b.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return respBody, nil
}

// call runs fn under a span, the bulkhead, the circuit breaker and retry,
// and maps the outcome onto domain errors.
func (b *Backend) call(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "Supabase."+op)
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	err := b.bulkhead.Acquire(ctx)
	if err == nil {
		_, err = b.cb.Execute(func() (any, error) {
			return nil, resilience.RetryWithBackoff(ctx, b.cfg, func() error {
				return fn(ctx)
			})
		})
		b.bulkhead.Release()
	}
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: "supabase"}
	}
	var (
		notFound *domain.ErrNotFound
		missing  *domain.ErrEntityNotProvisioned
		unauth   *domain.ErrUnauthorized
		serr     *statusError
	)
	switch {
	case errors.As(err, &notFound):
		return notFound
	case errors.As(err, &missing):
		return missing
	case errors.As(err, &unauth):
		return unauth
	case errors.As(err, &serr) && isMissingTable(serr):
		return &domain.ErrEntityNotProvisioned{Entity: entityOf(table)}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: "supabase " + op}
	}
	return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
}

// isMissingTable recognizes PostgREST's "relation does not exist" answers.
func isMissingTable(e *statusError) bool {
	if e.Status != http.StatusNotFound && e.Status != http.StatusBadRequest {
		return false
	}
	return strings.Contains(e.Body, "PGRST205") ||
		strings.Contains(e.Body, "42P01") ||
		strings.Contains(e.Body, "does not exist")
}

func entityOf(table string) string {
	for _, e := range []string{domain.EntityProject, domain.EntityPremise, domain.EntityActivity} {
		if domain.TableName(e) == table {
			return e
		}
	}
	return table
}

// supabaseUser is the subset of /auth/v1/user we read.
type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Me resolves an end-user access token through the Auth API.
func (b *Backend) Me(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, &domain.ErrUnauthorized{Message: "missing access token"}
	}
	var user *store.User
	err := b.call(ctx, "Me", "auth", func(ctx context.Context) error {
		body, err := b.doRequest(ctx, http.MethodGet, "/auth/v1/user", nil, token)
		var serr *statusError
		if errors.As(err, &serr) && (serr.Status == http.StatusUnauthorized || serr.Status == http.StatusForbidden) {
			return resilience.Permanent(&domain.ErrUnauthorized{Message: "invalid access token"})
		}
		if err != nil {
			return err
		}
		var u supabaseUser
		if err := json.Unmarshal(body, &u); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode user: %w", err))
		}
		user = &store.User{ID: u.ID, Email: u.Email}
		return nil
	})
	return user, err
}
