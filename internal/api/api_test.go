package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/api"
	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/export"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
	"github.com/joeblew999/plat-webgis/internal/store/memory"
	"github.com/joeblew999/plat-webgis/internal/tiler/gotiler"
	"github.com/joeblew999/plat-webgis/internal/wizard"
)

const threeFeatures = `{"type":"FeatureCollection","features":[
	{"type":"Feature","geometry":{"type":"Point","coordinates":[12.49,41.90]},"properties":{"STRADA":"Via Roma 1","STATO":"SFITTO","MQ":80,"FOGLIO":"12"}},
	{"type":"Feature","geometry":{"type":"Point","coordinates":[12.50,41.91]},"properties":{"STRADA":"Via Po 2","STATO":"occupato","MQ":120,"FOGLIO":"13"}},
	{"type":"Feature","geometry":null,"properties":{"STRADA":"Via Nuova","STATO":""}}
]}`

const stradaMapping = `{"campo_indirizzo":"STRADA","campo_stato":"STATO","campo_superficie":"MQ"}`

type testAPI struct {
	humatest.TestAPI
	svc *api.Services
}

func newTestAPI(t *testing.T, sink export.Sink) *testAPI {
	t.Helper()
	st := store.New(memory.New())
	bus := service.NewEventBus()
	logger := zap.NewNop()
	imp := importer.New(st, nil, bus, nil, importer.Config{}, logger)
	projects := service.NewProjectService(st, imp, bus, 50, logger)
	svc := &api.Services{
		Store:    st,
		Projects: projects,
		Importer: imp,
		Wizard:   wizard.NewManager(imp, projects, wizard.Options{}, nil, logger),
		Exporter: export.New(st, logger),
		Sink:     sink,
		Tiles:    service.NewTileService(st, t.TempDir(), gotiler.Config{MinZoom: 12, MaxZoom: 13}, bus, logger),
	}

	_, tapi := humatest.New(t, api.Config(""))
	api.Register(tapi, svc)
	return &testAPI{TestAPI: tapi, svc: svc}
}

func (a *testAPI) createProject(t *testing.T) domain.Project {
	t.Helper()
	path := "/api/v1/projects?nome=Centro&file_name=locali.geojson&mapping=" + url.QueryEscape(stradaMapping)
	resp := a.Post(path, strings.NewReader(threeFeatures))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create project: %d %s", resp.Code, resp.Body.String())
	}
	var p domain.Project
	if err := json.Unmarshal(resp.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHealthAndInfo(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.Get("/health")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", resp.Code, resp.Body.String())
	}

	resp = a.Get("/api/v1/info")
	var info api.InfoBody
	if err := json.Unmarshal(resp.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Backend != "memory" || info.Sessions != 0 {
		t.Errorf("info = %+v", info)
	}

	resp = a.Get("/api/v1/fields/attivita")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "ragione_sociale") {
		t.Errorf("fields: %d %s", resp.Code, resp.Body.String())
	}
	if resp := a.Get("/api/v1/fields/other"); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown kind: %d", resp.Code)
	}
}

func TestProjectLifecycle(t *testing.T) {
	a := newTestAPI(t, nil)
	p := a.createProject(t)
	if p.Name != "Centro" || p.Total != 3 || p.Occupied != 1 || p.CreatedBy != "local" {
		t.Fatalf("project = %+v", p)
	}

	resp := a.Get("/api/v1/projects/" + p.ID)
	if resp.Code != http.StatusOK {
		t.Fatalf("get: %d", resp.Code)
	}
	links := strings.Join(resp.Header().Values("Link"), ", ")
	if !strings.Contains(links, fmt.Sprintf(`</api/v1/projects/%s/tiles>; rel="tiles"; method="POST"`, p.ID)) {
		t.Errorf("missing action link in %q", links)
	}

	resp = a.Patch("/api/v1/projects/"+p.ID, map[string]any{"nome": "Centro storico"})
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Centro storico") {
		t.Errorf("rename: %d %s", resp.Code, resp.Body.String())
	}

	resp = a.Put("/api/v1/projects/"+p.ID+"/popup-fields", map[string]any{"popup_fields": []string{"indirizzo"}})
	if resp.Code != http.StatusOK {
		t.Errorf("popup fields: %d %s", resp.Code, resp.Body.String())
	}
	resp = a.Put("/api/v1/projects/"+p.ID+"/popup-fields", map[string]any{"popup_fields": []string{"nope"}})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown popup field: %d", resp.Code)
	}

	resp = a.Get("/api/v1/projects")
	var all []domain.Project
	if err := json.Unmarshal(resp.Body.Bytes(), &all); err != nil || len(all) != 1 {
		t.Errorf("list = %s (%v)", resp.Body.String(), err)
	}

	if resp := a.Delete("/api/v1/projects/" + p.ID); resp.Code != http.StatusOK {
		t.Errorf("delete: %d %s", resp.Code, resp.Body.String())
	}
	if resp := a.Get("/api/v1/projects/" + p.ID); resp.Code != http.StatusNotFound {
		t.Errorf("deleted project: %d", resp.Code)
	}
}

func TestCreateProjectRejectsBadInput(t *testing.T) {
	a := newTestAPI(t, nil)

	tests := []struct {
		name, path, body string
	}{
		{"no features", "/api/v1/projects", `{"type":"FeatureCollection"}`},
		{"not json", "/api/v1/projects", `{`},
		{"bad extension", "/api/v1/projects?file_name=locali.shp", threeFeatures},
		{"bad mapping", "/api/v1/projects?mapping=" + url.QueryEscape("[1]"), threeFeatures},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.Post(tt.path, strings.NewReader(tt.body))
			if resp.Code != http.StatusUnprocessableEntity {
				t.Errorf("got %d %s", resp.Code, resp.Body.String())
			}
		})
	}
}

func TestListPremisesFiltersAndPaginates(t *testing.T) {
	a := newTestAPI(t, nil)
	p := a.createProject(t)

	resp := a.Get("/api/v1/projects/" + p.ID + "/locali?hide_occupati=true&limit=1")
	if resp.Code != http.StatusOK {
		t.Fatalf("list: %d %s", resp.Code, resp.Body.String())
	}
	var page api.PremisePage
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Data) != 1 || page.Stats.Occupied != 0 || page.Stats.VacancyRate != 100 {
		t.Errorf("page = %+v", page)
	}
	if links := strings.Join(resp.Header().Values("Link"), ", "); !strings.Contains(links, `rel="next"`) {
		t.Errorf("missing next link in %q", links)
	}

	resp = a.Get("/api/v1/projects/" + p.ID + "/locali?foglio=13")
	page = api.PremisePage{}
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Data[0].Address != "Via Po 2" {
		t.Errorf("foglio filter = %+v", page.Data)
	}

	if resp := a.Get("/api/v1/projects/missing/locali"); resp.Code != http.StatusNotFound {
		t.Errorf("missing project: %d", resp.Code)
	}
}

func TestEditPremiseRecomputesStats(t *testing.T) {
	a := newTestAPI(t, nil)
	p := a.createProject(t)

	var page api.PremisePage
	resp := a.Get("/api/v1/projects/" + p.ID + "/locali?q=roma")
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil || len(page.Data) != 1 {
		t.Fatalf("search = %s (%v)", resp.Body.String(), err)
	}
	id := page.Data[0].ID

	resp = a.Patch("/api/v1/locali/"+id, map[string]any{"stato": "occupato"})
	if resp.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", resp.Code, resp.Body.String())
	}
	got, err := a.svc.Projects.GetProject(t.Context(), p.ID)
	if err != nil || got.Occupied != 2 {
		t.Errorf("stats after edit = %+v (%v)", got.Stats, err)
	}

	if resp := a.Patch("/api/v1/locali/"+id, map[string]any{"stato": "demolito"}); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad status: %d", resp.Code)
	}
	for _, body := range []map[string]any{{"superficie": -50}, {"canone": -1}} {
		if resp := a.Patch("/api/v1/locali/"+id, body); resp.Code != http.StatusUnprocessableEntity {
			t.Errorf("patch %v: %d", body, resp.Code)
		}
	}
	if resp := a.Delete("/api/v1/locali/" + id); resp.Code != http.StatusOK {
		t.Errorf("delete: %d", resp.Code)
	}
	got, _ = a.svc.Projects.GetProject(t.Context(), p.ID)
	if got.Total != 2 {
		t.Errorf("total after delete = %d", got.Total)
	}
}

func TestImportAndClear(t *testing.T) {
	a := newTestAPI(t, nil)
	p := a.createProject(t)

	activities := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[12.49,41.90]},"properties":{"RAGIONE_SOCIALE":"Bar Roma","PARTITA_IVA":"01234567890"}}
	]}`
	resp := a.Post("/api/v1/projects/"+p.ID+"/import/attivita?file_name=attivita.json", strings.NewReader(activities))
	if resp.Code != http.StatusOK {
		t.Fatalf("import: %d %s", resp.Code, resp.Body.String())
	}
	var body api.ImportBody
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Created != 1 || !strings.Contains(body.Message, "1 attività") {
		t.Errorf("import = %+v", body)
	}

	resp = a.Get("/api/v1/projects/" + p.ID + "/attivita")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"total":1`) {
		t.Errorf("list activities: %d %s", resp.Code, resp.Body.String())
	}

	resp = a.Delete("/api/v1/projects/" + p.ID + "/locali")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"deleted":3`) {
		t.Errorf("clear: %d %s", resp.Code, resp.Body.String())
	}
	if resp := a.Delete("/api/v1/projects/" + p.ID + "/edifici"); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown kind: %d", resp.Code)
	}
}

func TestExportDownloadAndPublish(t *testing.T) {
	dir := t.TempDir()
	a := newTestAPI(t, export.DirSink{Dir: dir})
	p := a.createProject(t)

	resp := a.Get("/api/v1/projects/" + p.ID + "/export/locali?format=csv")
	if resp.Code != http.StatusOK {
		t.Fatalf("export: %d %s", resp.Code, resp.Body.String())
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != `attachment; filename="locali_export.csv"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(resp.Header().Get("Content-Type"), "text/csv") {
		t.Errorf("Content-Type = %q", resp.Header().Get("Content-Type"))
	}

	rows := strings.Count(resp.Body.String(), "\n")
	resp = a.Get("/api/v1/projects/" + p.ID + "/export/locali?format=csv&hide_sfitti=true")
	if resp.Code != http.StatusOK {
		t.Fatalf("filtered export: %d %s", resp.Code, resp.Body.String())
	}
	if got := strings.Count(resp.Body.String(), "\n"); rows != 4 || got != 2 || strings.Contains(resp.Body.String(), ",sfitto,") {
		t.Errorf("filtered csv kept %d of %d lines:\n%s", got, rows, resp.Body.String())
	}

	if resp := a.Get("/api/v1/projects/" + p.ID + "/export/attivita?format=csv"); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("activity csv: %d", resp.Code)
	}

	resp = a.Post("/api/v1/projects/" + p.ID + "/export/locali/publish")
	if resp.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", resp.Code, resp.Body.String())
	}
	want := filepath.Join(dir, "Centro_export.geojson")
	if !strings.Contains(resp.Body.String(), filepath.Base(want)) {
		t.Errorf("publish location = %s", resp.Body.String())
	}

	noSink := newTestAPI(t, nil)
	q := noSink.createProject(t)
	if resp := noSink.Post("/api/v1/projects/" + q.ID + "/export/locali/publish"); resp.Code != http.StatusNotImplemented {
		t.Errorf("publish without sink: %d", resp.Code)
	}
}

func TestWizardOverHTTP(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.Post("/api/v1/wizard", map[string]any{"kind": "locali", "nome": "Quartiere"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", resp.Code, resp.Body.String())
	}
	var view wizard.View
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	base := "/api/v1/wizard/" + view.ID

	if resp := a.Post(base + "/next"); resp.Code != http.StatusConflict {
		t.Errorf("next before upload: %d", resp.Code)
	}
	if resp := a.Post(base+"/upload?file_name=locali.geojson", strings.NewReader(threeFeatures)); resp.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", resp.Code, resp.Body.String())
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(stradaMapping), &m); err != nil {
		t.Fatal(err)
	}
	if resp := a.Post(base+"/config", map[string]any{"mapping": m}); resp.Code != http.StatusOK {
		t.Fatalf("config: %d %s", resp.Code, resp.Body.String())
	}
	resp = a.Post(base + "/next")
	view = wizard.View{}
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Step != wizard.StepPreview || view.Preview == nil || view.Preview.Total != 3 {
		t.Fatalf("preview = %+v", view)
	}

	resp = a.Post(base + "/import")
	var out wizard.Outcome
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Count != 3 || out.ProjectID == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if resp := a.Post(base + "/import"); resp.Code != http.StatusConflict {
		t.Errorf("second import: %d", resp.Code)
	}

	if resp := a.Delete(base); resp.Code != http.StatusOK {
		t.Errorf("close: %d", resp.Code)
	}
	if resp := a.Get(base); resp.Code != http.StatusNotFound {
		t.Errorf("closed session: %d", resp.Code)
	}
}

func TestGenerateTiles(t *testing.T) {
	a := newTestAPI(t, nil)
	p := a.createProject(t)

	resp := a.Post("/api/v1/projects/" + p.ID + "/tiles")
	if resp.Code != http.StatusOK {
		t.Fatalf("tiles: %d %s", resp.Code, resp.Body.String())
	}
	var set service.TileSet
	if err := json.Unmarshal(resp.Body.Bytes(), &set); err != nil {
		t.Fatal(err)
	}
	if set.Features != 2 || set.File != service.FileName(p.ID) {
		t.Errorf("tile set = %+v", set)
	}

	resp = a.Get("/api/v1/tiles")
	if !strings.Contains(resp.Body.String(), set.File) {
		t.Errorf("tiles list = %s", resp.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ErrNotFound{Resource: "progetti", ID: "x"}, http.StatusNotFound},
		{&domain.ErrValidation{Field: "f", Message: "bad"}, http.StatusUnprocessableEntity},
		{domain.ErrImportInProgress, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", domain.ErrImportInProgress), http.StatusConflict},
		{&domain.ErrEntityNotProvisioned{Entity: "Attivita"}, http.StatusServiceUnavailable},
		{&domain.ErrUnauthorized{}, http.StatusUnauthorized},
		{&domain.ErrCircuitOpen{Service: "supabase"}, http.StatusServiceUnavailable},
		{&domain.ErrTimeout{Operation: "Filter"}, http.StatusGatewayTimeout},
		{&domain.ErrPartialImport{Entity: "Locale", Phase: "create", Err: errors.New("boom")}, http.StatusBadGateway},
		{&domain.ErrExternalService{Service: "supabase", Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		var se huma.StatusError
		if !errors.As(api.ToHTTP(tt.err), &se) || se.GetStatus() != tt.want {
			t.Errorf("%v: status %v, want %d", tt.err, se, tt.want)
		}
	}
}
