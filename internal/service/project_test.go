package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
	"github.com/joeblew999/plat-webgis/internal/store/memory"
)

const threeFeatures = `{"type":"FeatureCollection","features":[
	{"type":"Feature","geometry":{"type":"Point","coordinates":[12,42]},"properties":{"STRADA":"Via Roma 1","STATO":"SFITTO","MQ":"80.5"}},
	{"type":"Feature","geometry":{"type":"Point","coordinates":[14,44]},"properties":{"STRADA":"Via Po 2","STATO":"occupato","MQ":120}},
	{"type":"Feature","geometry":null,"properties":{"STRADA":"Via Nuova","STATO":""}}
]}`

var stradaMapping = domain.FieldMapping{
	mapping.KeyAddress: "STRADA",
	mapping.KeyStatus:  "STATO",
	mapping.KeySurface: "MQ",
}

type fixture struct {
	store    *store.Store
	projects *service.ProjectService
	bus      *service.EventBus
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := memory.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	st := store.New(memory.New(append([]memory.Option{clock}, opts...)...))
	bus := service.NewEventBus()
	imp := importer.New(st, nil, bus, nil, importer.Config{}, zap.NewNop())
	return &fixture{
		store:    st,
		projects: service.NewProjectService(st, imp, bus, 2, zap.NewNop()),
		bus:      bus,
	}
}

func decode(t *testing.T, s string) *geo.FeatureCollection {
	t.Helper()
	fc, err := geo.Decode([]byte(s))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return fc
}

func (f *fixture) create(t *testing.T) domain.Project {
	t.Helper()
	p, err := f.projects.CreateProject(context.Background(), service.CreateProjectInput{
		Name:       "  Centro Storico ",
		Collection: decode(t, threeFeatures),
		Mapping:    stradaMapping,
		Owner:      "u1",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func TestCreateProject(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	if p.Name != "Centro Storico" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Center != (orb.Point{13, 43}) {
		t.Errorf("center = %v, want [13 43]", p.Center)
	}
	if p.Zoom != domain.DefaultZoom {
		t.Errorf("zoom = %v", p.Zoom)
	}
	want := domain.Stats{Total: 3, Vacant: 2, Occupied: 1}
	if p.Stats != want {
		t.Errorf("stats = %+v, want %+v", p.Stats, want)
	}
	if p.Config.Mapping[mapping.TriggerOccupied] != "OCCUPATO" || p.Config.Mapping[mapping.KeyAddress] != "STRADA" {
		t.Errorf("mapping not stored: %v", p.Config.Mapping)
	}

	premises, err := f.store.Premises.Filter(context.Background(), store.ByProject(p.ID), "created_date")
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(premises) != 3 {
		t.Fatalf("got %d premises, want 3", len(premises))
	}
	statuses := [3]domain.Status{premises[0].Status, premises[1].Status, premises[2].Status}
	if statuses != [3]domain.Status{domain.StatusVacant, domain.StatusOccupied, domain.StatusVacant} {
		t.Errorf("statuses = %v", statuses)
	}
	if premises[0].Surface != 80.5 {
		t.Errorf("surface = %v, want 80.5", premises[0].Surface)
	}
	if premises[2].Coordinates != nil {
		t.Errorf("null geometry should have no coordinates, got %v", premises[2].Coordinates)
	}
}

func TestCreateProjectDefaults(t *testing.T) {
	f := newFixture(t)
	p, err := f.projects.CreateProject(context.Background(), service.CreateProjectInput{
		Collection: decode(t, `{"features":[]}`),
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.Name != service.DefaultProjectName {
		t.Errorf("name = %q", p.Name)
	}
	if p.Center != domain.DefaultCenter {
		t.Errorf("center = %v, want %v", p.Center, domain.DefaultCenter)
	}

	_, err = f.projects.CreateProject(context.Background(), service.CreateProjectInput{Name: "x"})
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("nil collection: expected ErrValidation, got %v", err)
	}
}

func TestListProjectsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := f.projects.CreateProject(ctx, service.CreateProjectInput{Name: name, Collection: &geo.FeatureCollection{}}); err != nil {
			t.Fatal(err)
		}
	}
	list, err := f.projects.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(list) != 3 || list[0].Name != "c" || list[2].Name != "a" {
		t.Fatalf("order = %v", names(list))
	}
}

func names(ps []domain.Project) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestRenameProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)

	tests := []struct {
		in   string
		want string
	}{
		{"   ", "Centro Storico"},
		{"Centro Storico", "Centro Storico"},
		{"  Borgo  ", "Borgo"},
	}
	for _, tt := range tests {
		got, err := f.projects.RenameProject(ctx, p.ID, tt.in)
		if err != nil {
			t.Fatalf("RenameProject(%q): %v", tt.in, err)
		}
		if got.Name != tt.want {
			t.Errorf("RenameProject(%q) = %q, want %q", tt.in, got.Name, tt.want)
		}
	}

	var nf *domain.ErrNotFound
	if _, err := f.projects.RenameProject(ctx, "missing", "x"); !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProject(t *testing.T) {
	f := newFixture(t, memory.WithoutEntity(domain.EntityActivity))
	ctx := context.Background()
	p := f.create(t)
	other := f.create(t)

	if err := f.projects.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	var nf *domain.ErrNotFound
	if _, err := f.store.Projects.Get(ctx, p.ID); !errors.As(err, &nf) {
		t.Fatalf("project still there: %v", err)
	}
	left, _ := f.store.Premises.Filter(ctx, store.ByProject(p.ID), "")
	if len(left) != 0 {
		t.Errorf("%d premises left", len(left))
	}
	kept, _ := f.store.Premises.Filter(ctx, store.ByProject(other.ID), "")
	if len(kept) != 3 {
		t.Errorf("other project has %d premises, want 3", len(kept))
	}
}

func TestUpdatePremiseRecomputesCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)
	premises, _ := f.store.Premises.Filter(ctx, store.ByProject(p.ID), "created_date")

	status := "altri"
	tenant := "Bar Sport"
	got, err := f.projects.UpdatePremise(ctx, premises[0].ID, service.PremiseChanges{Status: &status, Tenant: &tenant})
	if err != nil {
		t.Fatalf("UpdatePremise: %v", err)
	}
	if got.Status != domain.StatusOther || got.Tenant != "Bar Sport" {
		t.Errorf("premise = %+v", got)
	}
	project, _ := f.store.Projects.Get(ctx, p.ID)
	if want := (domain.Stats{Total: 3, Vacant: 1, Occupied: 1, Other: 1}); project.Stats != want {
		t.Errorf("stats = %+v, want %+v", project.Stats, want)
	}

	bad := "chiuso"
	var verr *domain.ErrValidation
	if _, err := f.projects.UpdatePremise(ctx, premises[0].ID, service.PremiseChanges{Status: &bad}); !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	negative := -50.0
	for _, c := range []service.PremiseChanges{{Surface: &negative}, {Rent: &negative}} {
		if _, err := f.projects.UpdatePremise(ctx, premises[0].ID, c); !errors.As(err, &verr) {
			t.Fatalf("negative amount: expected ErrValidation, got %v", err)
		}
	}
	stored, _ := f.store.Premises.Get(ctx, premises[0].ID)
	if stored.Surface < 0 || stored.Rent < 0 {
		t.Errorf("negative amount stored: %+v", stored)
	}

	if err := f.projects.DeletePremise(ctx, premises[1].ID); err != nil {
		t.Fatalf("DeletePremise: %v", err)
	}
	project, _ = f.store.Projects.Get(ctx, p.ID)
	if want := (domain.Stats{Total: 2, Vacant: 1, Other: 1}); project.Stats != want {
		t.Errorf("stats after delete = %+v, want %+v", project.Stats, want)
	}
}

func TestUpdateActivityWhitelist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)
	a, err := f.store.Activities.Create(ctx, domain.Activity{ProjectID: p.ID, LegalName: "Rossi SRL"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.projects.UpdateActivity(ctx, a.ID, map[string]string{"ragione_sociale": " Rossi SpA ", "civico": "12"})
	if err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}
	if got.LegalName != "Rossi SpA" || got.HouseNumber != "12" {
		t.Errorf("activity = %+v", got)
	}

	var verr *domain.ErrValidation
	if _, err := f.projects.UpdateActivity(ctx, a.ID, map[string]string{"project_id": "other"}); !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSavePopupFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)

	if got := service.PopupFields(p.Config, mapping.KindPremises); len(got) != 5 {
		t.Fatalf("default premise popup = %v", got)
	}

	draft := service.NewPopupDraft(p.Config, mapping.KindActivities)
	draft.DeselectAll()
	if err := draft.Toggle("comune"); err != nil {
		t.Fatal(err)
	}

	saved, err := f.projects.SavePopupFields(ctx, p.ID, []string{}, draft.Fields())
	if err != nil {
		t.Fatalf("SavePopupFields: %v", err)
	}
	reloaded, _ := f.store.Projects.Get(ctx, saved.ID)
	if got := service.PopupFields(reloaded.Config, mapping.KindPremises); len(got) != 0 {
		t.Errorf("premise popup = %v, want empty", got)
	}
	if got := service.PopupFields(reloaded.Config, mapping.KindActivities); len(got) != 1 || got[0] != "comune" {
		t.Errorf("activity popup = %v, want [comune]", got)
	}
	if reloaded.Config.Mapping[mapping.KeyAddress] != "STRADA" {
		t.Errorf("saving popup fields lost the mapping: %v", reloaded.Config.Mapping)
	}

	var verr *domain.ErrValidation
	if _, err := f.projects.SavePopupFields(ctx, p.ID, []string{"bogus"}, nil); !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProjectEvents(t *testing.T) {
	f := newFixture(t)
	ch := f.bus.Subscribe()
	defer f.bus.Unsubscribe(ch)

	p := f.create(t)
	e := <-ch
	if e.Resource != service.ResourceProjects || e.Action != "created" || e.ID != p.ID {
		t.Errorf("first event = %+v", e)
	}
	e = <-ch
	if e.Resource != service.ResourcePremises || e.Action != "replaced" || e.Count != 3 {
		t.Errorf("second event = %+v", e)
	}
}
