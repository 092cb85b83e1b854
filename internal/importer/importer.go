// Package importer replaces the premises or activities of a project with the
// records normalized from an uploaded FeatureCollection.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/observability"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
)

var tracer = otel.Tracer("importer")

// Config bounds the store traffic of one import.
type Config struct {
	MaxConcurrency int // parallel deletes
	BatchSize      int // records per bulk create
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Import steps reported through ProgressFunc.
const (
	StepFetch     = "fetch"
	StepTransform = "transform"
	StepDelete    = "delete"
	StepCreate    = "create"
	StepProject   = "project"
	StepDone      = "done"
)

// Progress is one progress report.
type Progress struct {
	Step    string `json:"step"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// ProgressFunc receives progress reports. It may be nil.
type ProgressFunc func(Progress)

// Result summarises a finished import.
type Result struct {
	Kind      mapping.Kind  `json:"kind"`
	ProjectID string        `json:"project_id"`
	Deleted   int           `json:"deleted"`
	Created   int           `json:"created"`
	Stats     *domain.Stats `json:"stats,omitempty"` // premises only
	Duration  time.Duration `json:"duration"`
}

// Message is the user-facing summary of the import.
func (r Result) Message() string {
	if r.Kind == mapping.KindActivities {
		return fmt.Sprintf("Importate %d attività commerciali con successo", r.Created)
	}
	return fmt.Sprintf("Importati %d locali con successo", r.Created)
}

// Importer runs replace-imports and clears against the entity store.
type Importer struct {
	store   *store.Store
	guard   Guard
	bus     *service.EventBus
	metrics *observability.Metrics
	cfg     Config
	logger  *zap.Logger
}

// New creates an Importer. bus and metrics may be nil.
func New(st *store.Store, guard Guard, bus *service.EventBus, metrics *observability.Metrics, cfg Config, logger *zap.Logger) *Importer {
	if guard == nil {
		guard = NewLocalGuard()
	}
	return &Importer{
		store:   st,
		guard:   guard,
		bus:     bus,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Import dispatches on kind.
func (im *Importer) Import(ctx context.Context, kind mapping.Kind, projectID string, fc *geo.FeatureCollection, m domain.FieldMapping, progress ProgressFunc) (*Result, error) {
	if kind == mapping.KindActivities {
		return im.ImportActivities(ctx, projectID, fc, m, progress)
	}
	return im.ImportPremises(ctx, projectID, fc, m, progress)
}

// ImportPremises replaces every premise of the project, then rewrites the
// project counters and saves the mapping into its config.
func (im *Importer) ImportPremises(ctx context.Context, projectID string, fc *geo.FeatureCollection, m domain.FieldMapping, progress ProgressFunc) (*Result, error) {
	m = mapping.WithDefaultTriggers(m)
	run := func(ctx context.Context, project domain.Project, report ProgressFunc) (*Result, error) {
		records := mapping.Premises(fc, projectID, m)
		report(Progress{Step: StepTransform, Percent: 20, Message: fmt.Sprintf("Normalizzati %d locali", len(records))})

		deleted, created, err := replace(ctx, im, im.store.Premises, mapping.KindPremises, projectID, records,
			func(p domain.Premise) string { return p.ID }, report)
		if err != nil {
			return nil, err
		}

		stats := domain.StatsOf(records)
		cfg := project.Config
		cfg.Mapping = cfg.Mapping.Merge(m)
		report(Progress{Step: StepProject, Percent: 95, Message: "Aggiornamento statistiche del progetto"})
		if _, err := im.store.Projects.Update(ctx, projectID, statsPatch(stats, store.Patch{"config": cfg})); err != nil {
			return nil, fmt.Errorf("update project %s: %w", projectID, err)
		}
		return &Result{Deleted: deleted, Created: created, Stats: &stats}, nil
	}
	return im.run(ctx, mapping.KindPremises, projectID, fc, progress, run)
}

// ImportActivities replaces every activity of the project and saves the
// mapping as the project's activity config.
func (im *Importer) ImportActivities(ctx context.Context, projectID string, fc *geo.FeatureCollection, m domain.FieldMapping, progress ProgressFunc) (*Result, error) {
	run := func(ctx context.Context, project domain.Project, report ProgressFunc) (*Result, error) {
		records := mapping.Activities(fc, projectID, m)
		report(Progress{Step: StepTransform, Percent: 20, Message: fmt.Sprintf("Normalizzate %d attività", len(records))})

		deleted, created, err := replace(ctx, im, im.store.Activities, mapping.KindActivities, projectID, records,
			func(a domain.Activity) string { return a.ID }, report)
		if err != nil {
			return nil, err
		}

		report(Progress{Step: StepProject, Percent: 95, Message: "Salvataggio configurazione"})
		if _, err := im.store.Projects.Update(ctx, projectID, store.Patch{"config_attivita": m}); err != nil {
			return nil, fmt.Errorf("update project %s: %w", projectID, err)
		}
		return &Result{Deleted: deleted, Created: created}, nil
	}
	return im.run(ctx, mapping.KindActivities, projectID, fc, progress, run)
}

type importFunc func(ctx context.Context, project domain.Project, report ProgressFunc) (*Result, error)

// run holds the shared preamble and bookkeeping of both imports.
func (im *Importer) run(ctx context.Context, kind mapping.Kind, projectID string, fc *geo.FeatureCollection, progress ProgressFunc, fn importFunc) (*Result, error) {
	if fc == nil {
		return nil, &domain.ErrValidation{Field: "features", Message: "GeoJSON non valido: manca features array"}
	}
	report := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}

	ctx, span := tracer.Start(ctx, "Importer.Import")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("project_id", projectID),
		attribute.Int("features", fc.Len()),
	)

	project, err := im.store.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	release, err := im.guard.Acquire(ctx, GuardKey(projectID, string(kind)))
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	im.logger.Info("import started",
		zap.String("kind", string(kind)),
		zap.String("project_id", projectID),
		zap.Int("features", fc.Len()),
	)

	res, err := fn(ctx, project, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		phase := "other"
		var partial *domain.ErrPartialImport
		if errors.As(err, &partial) {
			phase = partial.Phase
		}
		im.metrics.IncrImportFailure(string(kind), phase)
		im.logger.Error("import failed",
			zap.String("kind", string(kind)),
			zap.String("project_id", projectID),
			zap.String("phase", phase),
			zap.Error(err),
		)
		return nil, err
	}

	res.Kind = kind
	res.ProjectID = projectID
	res.Duration = time.Since(start)
	im.metrics.RecordImport(string(kind), res.Duration, res.Created)
	im.bus.Publish(service.Event{Resource: string(kind), Action: "replaced", ProjectID: projectID, Count: res.Created})
	if res.Stats != nil {
		im.bus.Publish(service.Event{Resource: service.ResourceProjects, Action: "updated", ID: projectID})
	}
	report(Progress{Step: StepDone, Percent: 100, Message: res.Message()})

	im.logger.Info("import completed",
		zap.String("kind", string(kind)),
		zap.String("project_id", projectID),
		zap.Int("deleted", res.Deleted),
		zap.Int("created", res.Created),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// replace deletes the existing records of the project and bulk-creates the
// new set. There is no rollback between the two phases.
func replace[T any](ctx context.Context, im *Importer, repo store.Repository[T], kind mapping.Kind, projectID string, records []T, idOf func(T) string, report ProgressFunc) (deleted, created int, err error) {
	report(Progress{Step: StepFetch, Percent: 5, Message: "Lettura dei record esistenti"})
	existing, err := repo.Filter(ctx, store.ByProject(projectID), "")
	if err != nil {
		return 0, 0, fmt.Errorf("list existing %s: %w", repo.Entity(), err)
	}

	ids := make([]string, len(existing))
	for i, e := range existing {
		ids[i] = idOf(e)
	}
	report(Progress{Step: StepDelete, Percent: 30, Message: fmt.Sprintf("Eliminazione di %d record esistenti", len(ids))})
	deleted, err = deleteAll(ctx, ids, repo.Delete, im.cfg.MaxConcurrency)
	im.metrics.AddCleared(string(kind), deleted)
	if err != nil {
		return deleted, 0, &domain.ErrPartialImport{Entity: repo.Entity(), Phase: "delete", Deleted: deleted, Err: err}
	}

	for start := 0; start < len(records); start += im.cfg.BatchSize {
		end := min(start+im.cfg.BatchSize, len(records))
		out, err := repo.BulkCreate(ctx, records[start:end])
		if err != nil {
			im.logger.Warn("bulk create failed",
				zap.String("entity", repo.Entity()),
				zap.Int("created_before_failure", created),
				zap.Error(err),
			)
			return deleted, created, &domain.ErrPartialImport{Entity: repo.Entity(), Phase: "create", Deleted: deleted, Err: err}
		}
		created += len(out)
		report(Progress{
			Step:    StepCreate,
			Percent: 40 + 50*end/len(records),
			Message: fmt.Sprintf("Creati %d di %d record", created, len(records)),
		})
	}
	return deleted, created, nil
}

// deleteAll deletes ids with at most limit calls in flight. Records that
// are already gone count as deleted.
func deleteAll(ctx context.Context, ids []string, del func(context.Context, string) error, limit int) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var deleted atomic.Int64
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := del(gctx, id)
			var notFound *domain.ErrNotFound
			if err != nil && !errors.As(err, &notFound) {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			deleted.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(deleted.Load()), err
}

// ClearPremises deletes every premise of the project and zeroes its counters.
func (im *Importer) ClearPremises(ctx context.Context, projectID string) (int, error) {
	n, err := clearAll(ctx, im, im.store.Premises, mapping.KindPremises, projectID, func(p domain.Premise) string { return p.ID })
	if err != nil {
		return n, err
	}
	if _, err := im.store.Projects.Update(ctx, projectID, statsPatch(domain.Stats{}, nil)); err != nil {
		return n, fmt.Errorf("reset counters of %s: %w", projectID, err)
	}
	im.bus.Publish(service.Event{Resource: service.ResourceProjects, Action: "updated", ID: projectID})
	return n, nil
}

// ClearActivities deletes every activity of the project.
func (im *Importer) ClearActivities(ctx context.Context, projectID string) (int, error) {
	return clearAll(ctx, im, im.store.Activities, mapping.KindActivities, projectID, func(a domain.Activity) string { return a.ID })
}

// Clear dispatches on kind.
func (im *Importer) Clear(ctx context.Context, kind mapping.Kind, projectID string) (int, error) {
	if kind == mapping.KindActivities {
		return im.ClearActivities(ctx, projectID)
	}
	return im.ClearPremises(ctx, projectID)
}

func clearAll[T any](ctx context.Context, im *Importer, repo store.Repository[T], kind mapping.Kind, projectID string, idOf func(T) string) (int, error) {
	if _, err := im.store.Projects.Get(ctx, projectID); err != nil {
		return 0, err
	}
	release, err := im.guard.Acquire(ctx, GuardKey(projectID, string(kind)))
	if err != nil {
		return 0, err
	}
	defer release()

	existing, err := repo.Filter(ctx, store.ByProject(projectID), "")
	if err != nil {
		return 0, fmt.Errorf("list existing %s: %w", repo.Entity(), err)
	}
	ids := make([]string, len(existing))
	for i, e := range existing {
		ids[i] = idOf(e)
	}
	n, err := deleteAll(ctx, ids, repo.Delete, im.cfg.MaxConcurrency)
	im.metrics.AddCleared(string(kind), n)
	if err != nil {
		return n, err
	}

	im.logger.Info("records cleared",
		zap.String("kind", string(kind)),
		zap.String("project_id", projectID),
		zap.Int("deleted", n),
	)
	im.bus.Publish(service.Event{Resource: string(kind), Action: "cleared", ProjectID: projectID, Count: n})
	return n, nil
}

// statsPatch writes the four project counters, plus extra members.
func statsPatch(s domain.Stats, extra store.Patch) store.Patch {
	p := store.StatsPatch(s)
	for k, v := range extra {
		p[k] = v
	}
	return p
}
