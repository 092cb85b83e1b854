package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// DefaultProjectName is used when a project is created without a name.
const DefaultProjectName = "Nuovo Progetto"

// Clearer deletes every record of one kind in a project.
type Clearer interface {
	Clear(ctx context.Context, kind mapping.Kind, projectID string) (int, error)
}

// ProjectService manages projects and the records they own.
type ProjectService struct {
	store     *store.Store
	clearer   Clearer
	bus       *EventBus
	batchSize int
	logger    *zap.Logger
}

// NewProjectService creates a project service. batchSize bounds the bulk
// create calls issued when a project is created with its premises.
func NewProjectService(st *store.Store, clearer Clearer, bus *EventBus, batchSize int, logger *zap.Logger) *ProjectService {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ProjectService{
		store:     st,
		clearer:   clearer,
		bus:       bus,
		batchSize: batchSize,
		logger:    logger,
	}
}

// CreateProjectInput describes a project created at the end of the wizard.
type CreateProjectInput struct {
	Name        string
	Description string
	Collection  *geo.FeatureCollection
	Mapping     domain.FieldMapping
	Owner       string
}

// CreateProject creates a project from an uploaded collection: the map
// center is the mean of the feature centroids, the counters come from the
// normalized records and the premises are created in batches.
//
// When a batch fails the project is returned along with the error, so the
// caller can still reach it.
func (s *ProjectService) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	if in.Collection == nil {
		return domain.Project{}, &domain.ErrValidation{Field: "features", Message: "GeoJSON non valido: manca features array"}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = DefaultProjectName
	}

	m := mapping.WithDefaultTriggers(in.Mapping)
	records := mapping.Premises(in.Collection, "", m)

	points := make([]orb.Point, 0, len(records))
	for _, r := range records {
		if r.Coordinates != nil {
			points = append(points, *r.Coordinates)
		}
	}

	project, err := s.store.Projects.Create(ctx, domain.Project{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Center:      geo.MeanPoint(points, domain.DefaultCenter),
		Zoom:        domain.DefaultZoom,
		Stats:       domain.StatsOf(records),
		Config:      domain.ProjectConfig{Mapping: m},
		CreatedBy:   in.Owner,
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	s.bus.Publish(Event{Resource: ResourceProjects, Action: "created", ID: project.ID})

	for i := range records {
		records[i].ProjectID = project.ID
	}
	created := 0
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		out, err := s.store.Premises.BulkCreate(ctx, records[start:end])
		if err != nil {
			s.logger.Error("create premises failed",
				zap.String("project_id", project.ID),
				zap.Int("created", created),
				zap.Error(err),
			)
			return project, fmt.Errorf("create premises of project %s (%d of %d created): %w", project.ID, created, len(records), err)
		}
		created += len(out)
	}
	if created > 0 {
		s.bus.Publish(Event{Resource: ResourcePremises, Action: "replaced", ProjectID: project.ID, Count: created})
	}

	s.logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("name", project.Name),
		zap.Int("premises", created),
	)
	return project, nil
}

// ListProjects returns every project, newest first.
func (s *ProjectService) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.store.Projects.List(ctx, "-created_date", 0)
}

func (s *ProjectService) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return s.store.Projects.Get(ctx, id)
}

// RenameProject sets the project name. A blank or unchanged name leaves the
// project as it is.
func (s *ProjectService) RenameProject(ctx context.Context, id, name string) (domain.Project, error) {
	project, err := s.store.Projects.Get(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || name == project.Name {
		return project, nil
	}
	project, err = s.store.Projects.Update(ctx, id, store.Patch{"nome": name})
	if err != nil {
		return domain.Project{}, fmt.Errorf("rename project %s: %w", id, err)
	}
	s.bus.Publish(Event{Resource: ResourceProjects, Action: "updated", ID: id})
	return project, nil
}

// DeleteProject deletes the premises and activities of the project, then
// the project itself. A backend without the activity entity is not an error.
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.store.Projects.Get(ctx, id); err != nil {
		return err
	}
	premises, err := s.clearer.Clear(ctx, mapping.KindPremises, id)
	if err != nil {
		return fmt.Errorf("delete premises of project %s: %w", id, err)
	}
	activities, err := s.clearer.Clear(ctx, mapping.KindActivities, id)
	var missing *domain.ErrEntityNotProvisioned
	if err != nil && !errors.As(err, &missing) {
		return fmt.Errorf("delete activities of project %s: %w", id, err)
	}
	if err := s.store.Projects.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	s.bus.Publish(Event{Resource: ResourceProjects, Action: "deleted", ID: id})

	s.logger.Info("project deleted",
		zap.String("project_id", id),
		zap.Int("premises", premises),
		zap.Int("activities", activities),
	)
	return nil
}

// RecomputeStats rewrites the project counters from its stored premises.
func (s *ProjectService) RecomputeStats(ctx context.Context, projectID string) (domain.Project, error) {
	premises, err := s.store.Premises.Filter(ctx, store.ByProject(projectID), "")
	if err != nil {
		return domain.Project{}, fmt.Errorf("list premises of %s: %w", projectID, err)
	}
	project, err := s.store.Projects.Update(ctx, projectID, store.StatsPatch(domain.StatsOf(premises)))
	if err != nil {
		return domain.Project{}, fmt.Errorf("update counters of %s: %w", projectID, err)
	}
	s.bus.Publish(Event{Resource: ResourceProjects, Action: "updated", ID: projectID})
	return project, nil
}

// ListPremises returns the premises of a project that pass f.
func (s *ProjectService) ListPremises(ctx context.Context, projectID string, f PremiseFilter) ([]domain.Premise, error) {
	premises, err := s.store.Premises.Filter(ctx, store.ByProject(projectID), "created_date")
	if err != nil {
		return nil, err
	}
	return FilterPremises(premises, f), nil
}

// ListActivities returns the activities of a project.
func (s *ProjectService) ListActivities(ctx context.Context, projectID string) ([]domain.Activity, error) {
	return s.store.Activities.Filter(ctx, store.ByProject(projectID), "created_date")
}

// PremiseChanges are the editable fields of a premise. Nil fields are kept.
type PremiseChanges struct {
	Address *string  `json:"indirizzo,omitempty"`
	Surface *float64 `json:"superficie,omitempty" minimum:"0"`
	Status  *string  `json:"stato,omitempty"`
	Rent    *float64 `json:"canone,omitempty" minimum:"0"`
	Tenant  *string  `json:"conduttore,omitempty"`
}

func (c PremiseChanges) patch() (store.Patch, error) {
	p := store.Patch{}
	if c.Address != nil {
		p["indirizzo"] = *c.Address
	}
	if c.Surface != nil {
		if *c.Surface < 0 {
			return nil, &domain.ErrValidation{Field: "superficie", Message: "la superficie non può essere negativa"}
		}
		p["superficie"] = *c.Surface
	}
	if c.Status != nil {
		st, err := domain.ParseStatus(*c.Status)
		if err != nil {
			return nil, err
		}
		p["stato"] = st
	}
	if c.Rent != nil {
		if *c.Rent < 0 {
			return nil, &domain.ErrValidation{Field: "canone", Message: "il canone non può essere negativo"}
		}
		p["canone"] = *c.Rent
	}
	if c.Tenant != nil {
		p["conduttore"] = *c.Tenant
	}
	return p, nil
}

// UpdatePremise edits a premise and recomputes the counters of its project.
func (s *ProjectService) UpdatePremise(ctx context.Context, id string, c PremiseChanges) (domain.Premise, error) {
	patch, err := c.patch()
	if err != nil {
		return domain.Premise{}, err
	}
	if len(patch) == 0 {
		return s.store.Premises.Get(ctx, id)
	}
	premise, err := s.store.Premises.Update(ctx, id, patch)
	if err != nil {
		return domain.Premise{}, err
	}
	s.bus.Publish(Event{Resource: ResourcePremises, Action: "updated", ID: id, ProjectID: premise.ProjectID})
	if _, err := s.RecomputeStats(ctx, premise.ProjectID); err != nil {
		return premise, err
	}
	return premise, nil
}

// DeletePremise deletes a premise and recomputes the counters of its project.
func (s *ProjectService) DeletePremise(ctx context.Context, id string) error {
	premise, err := s.store.Premises.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Premises.Delete(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(Event{Resource: ResourcePremises, Action: "deleted", ID: id, ProjectID: premise.ProjectID})
	_, err = s.RecomputeStats(ctx, premise.ProjectID)
	return err
}

// ActivityEditable lists the activity members the popup editor may change.
var ActivityEditable = []string{
	"ragione_sociale",
	"partita_iva",
	"mestiere",
	"ateco2025",
	"strada",
	"civico",
	"comune",
	"cap",
	"provincia",
}

// UpdateActivity edits the whitelisted members of an activity.
func (s *ProjectService) UpdateActivity(ctx context.Context, id string, changes map[string]string) (domain.Activity, error) {
	patch := store.Patch{}
	for k, v := range changes {
		if !editable(k) {
			return domain.Activity{}, &domain.ErrValidation{Field: k, Message: "field is not editable"}
		}
		patch[k] = strings.TrimSpace(v)
	}
	if len(patch) == 0 {
		return s.store.Activities.Get(ctx, id)
	}
	activity, err := s.store.Activities.Update(ctx, id, patch)
	if err != nil {
		return domain.Activity{}, err
	}
	s.bus.Publish(Event{Resource: ResourceActivities, Action: "updated", ID: id, ProjectID: activity.ProjectID})
	return activity, nil
}

func editable(key string) bool {
	for _, k := range ActivityEditable {
		if k == key {
			return true
		}
	}
	return false
}

// SavePopupFields stores both popup selections in the project config.
// Unknown field keys are rejected.
func (s *ProjectService) SavePopupFields(ctx context.Context, projectID string, premises, activities []string) (domain.Project, error) {
	if err := validFields(mapping.KindPremises, premises); err != nil {
		return domain.Project{}, err
	}
	if err := validFields(mapping.KindActivities, activities); err != nil {
		return domain.Project{}, err
	}
	project, err := s.store.Projects.Get(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	cfg := project.Config
	cfg.PopupFields = nonNil(premises)
	cfg.PopupFieldsActivity = nonNil(activities)
	project, err = s.store.Projects.Update(ctx, projectID, store.Patch{"config": cfg})
	if err != nil {
		return domain.Project{}, fmt.Errorf("save popup fields of %s: %w", projectID, err)
	}
	s.bus.Publish(Event{Resource: ResourceProjects, Action: "updated", ID: projectID})
	return project, nil
}

func validFields(kind mapping.Kind, fields []string) error {
	for _, f := range fields {
		if _, ok := LabelFor(kind, f); !ok {
			return &domain.ErrValidation{Field: "popup_fields", Message: fmt.Sprintf("unknown %s field %q", kind, f)}
		}
	}
	return nil
}

// nonNil keeps an explicit empty selection distinct from "use defaults".
func nonNil(fields []string) []string {
	if fields == nil {
		return []string{}
	}
	return fields
}
