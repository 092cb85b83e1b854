package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/observability"
	"github.com/joeblew999/plat-webgis/internal/service"
)

// Runner replaces the records of a project.
type Runner interface {
	Import(ctx context.Context, kind mapping.Kind, projectID string, fc *geo.FeatureCollection, m domain.FieldMapping, progress importer.ProgressFunc) (*importer.Result, error)
}

// Projects creates and loads projects.
type Projects interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
	CreateProject(ctx context.Context, in service.CreateProjectInput) (domain.Project, error)
}

// Options tune session lifetime.
type Options struct {
	TTL        time.Duration // idle time before a session is dropped
	CloseDelay time.Duration // how long a successful result stays visible
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Minute
	}
	if o.CloseDelay <= 0 {
		o.CloseDelay = 2 * time.Second
	}
	return o
}

// Manager owns the open wizard sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	runner   Runner
	projects Projects
	opts     Options
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a session manager. metrics may be nil.
func NewManager(runner Runner, projects Projects, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		runner:   runner,
		projects: projects,
		opts:     opts.withDefaults(),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Start opens a session. An empty projectID starts a session that creates
// a new project, which only premises can do.
func (m *Manager) Start(ctx context.Context, kind mapping.Kind, projectID, owner string) (*Session, error) {
	s := &Session{
		id:        uuid.NewString(),
		kind:      kind,
		projectID: projectID,
		owner:     owner,
		step:      StepUpload,
	}
	if projectID == "" {
		if kind != mapping.KindPremises {
			return nil, &domain.ErrValidation{Field: "project_id", Message: "activities can only be imported into an existing project"}
		}
	} else {
		project, err := m.projects.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		s.name = project.Name
		s.saved = project.Config.Mapping
		if kind == mapping.KindActivities {
			s.saved = project.ActivityMapping
		}
	}

	m.mu.Lock()
	s.touched = m.now()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetWizardSessions(n)
	m.logger.Debug("wizard session started",
		zap.String("session_id", s.id),
		zap.String("kind", string(kind)),
		zap.String("project_id", projectID),
	)
	return s, nil
}

// Get returns an open session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "wizard", ID: id}
	}
	s.touched = m.now()
	return s, nil
}

// Close drops a session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetWizardSessions(n)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL. Sessions with an
// import running are kept.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.opts.TTL)
	m.mu.Lock()
	dropped := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := !s.busy && s.touched.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			dropped++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if dropped > 0 {
		m.metrics.SetWizardSessions(n)
		m.logger.Debug("wizard sessions expired", zap.Int("dropped", dropped))
	}
	return dropped
}

// Run sweeps expired sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(max(m.opts.TTL/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Import runs the import of a session in PREVIEW, or retries a failed one.
// An import failure is reported in the Outcome; the returned error covers
// only requests the session cannot take. A successful session closes after
// the close delay.
func (m *Manager) Import(ctx context.Context, id string, progress importer.ProgressFunc) (*Outcome, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	j, err := s.begin()
	if err != nil {
		return nil, err
	}

	report := func(p importer.Progress) {
		s.report(p)
		if progress != nil {
			progress(p)
		}
	}

	var out *Outcome
	if j.projectID == "" {
		out = m.create(ctx, j, report)
	} else {
		out = m.replace(ctx, j, report)
	}
	s.finish(out)

	if out.Success {
		time.AfterFunc(m.opts.CloseDelay, func() { m.Close(id) })
	}
	return out, nil
}

func (m *Manager) create(ctx context.Context, j job, report importer.ProgressFunc) *Outcome {
	report(importer.Progress{Step: importer.StepCreate, Percent: 10, Message: "Creazione del progetto"})
	project, err := m.projects.CreateProject(ctx, service.CreateProjectInput{
		Name:       j.name,
		Collection: j.collection,
		Mapping:    j.mapping,
		Owner:      j.owner,
	})
	if err != nil {
		m.logger.Error("wizard project creation failed", zap.Error(err))
		out := failure(err)
		// a project created before the premises failed is retried as an import
		out.ProjectID = project.ID
		return out
	}
	report(importer.Progress{Step: importer.StepDone, Percent: 100, Message: "Configurazione completata"})
	return &Outcome{
		Success:   true,
		Message:   fmt.Sprintf("Progetto %q creato con %d locali", project.Name, project.Total),
		Count:     project.Total,
		ProjectID: project.ID,
	}
}

func (m *Manager) replace(ctx context.Context, j job, report importer.ProgressFunc) *Outcome {
	res, err := m.runner.Import(ctx, j.kind, j.projectID, j.collection, j.mapping, report)
	if err != nil {
		return failure(err)
	}
	return &Outcome{
		Success:   true,
		Message:   res.Message(),
		Count:     res.Created,
		ProjectID: j.projectID,
	}
}

// failure builds a retry-eligible outcome. A missing entity type gets the
// setup instructions instead of the raw error.
func failure(err error) *Outcome {
	msg := "Errore: " + err.Error()
	var missing *domain.ErrEntityNotProvisioned
	if errors.As(err, &missing) {
		msg = missing.SetupInstructions()
	}
	return &Outcome{Message: msg, Retry: true}
}
