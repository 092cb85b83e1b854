package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
	"github.com/joeblew999/plat-webgis/internal/store/memory"
)

func samplePremises() []domain.Premise {
	return []domain.Premise{
		{
			ID: "a", Address: "Via Roma, 1", Surface: 80.5, Status: domain.StatusOccupied, Rent: 1200, Tenant: `Bar "Sport"`,
			Geometry:      json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`),
			PropertiesRaw: domain.NewPropertyBag("stato", "OCCUPATO", "FOGLIO", "12"),
		},
		{ID: "b", Address: "Via Po", Status: domain.StatusVacant, Coordinates: &orb.Point{9.1, 45.4}},
		{ID: "c", Address: "Locale 3", Status: domain.StatusOther},
	}
}

func TestPremisesGeoJSON(t *testing.T) {
	data, err := PremisesGeoJSON(samplePremises())
	if err != nil {
		t.Fatalf("PremisesGeoJSON: %v", err)
	}
	fc, err := geo.Decode(data)
	if err != nil {
		t.Fatalf("exported file does not decode: %v", err)
	}
	if fc.Len() != 3 {
		t.Fatalf("got %d features, want 3", fc.Len())
	}

	first := fc.Features[0].Properties
	want := []string{"indirizzo", "superficie", "stato", "canone", "conduttore", "FOGLIO"}
	if got := first.Keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", got, want)
	}
	if v, _ := first.Get("stato"); v.Text() != "OCCUPATO" {
		t.Errorf("raw stato should win, got %q", v.Text())
	}

	if !strings.Contains(string(fc.Features[0].Geometry), "Polygon") {
		t.Errorf("stored geometry not kept: %s", fc.Features[0].Geometry)
	}
	if got := compact(t, fc.Features[1].Geometry); got != `{"coordinates":[9.1,45.4],"type":"Point"}` {
		t.Errorf("coordinates geometry = %s", got)
	}
	if got := compact(t, fc.Features[2].Geometry); got != `{"coordinates":[0,0],"type":"Point"}` {
		t.Errorf("fallback geometry = %s", got)
	}
}

func compact(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatal(err)
	}
	out, _ := json.Marshal(v)
	return string(out)
}

func TestPremiseRoundTrip(t *testing.T) {
	in := samplePremises()[1:]
	in[0].Surface, in[0].Rent, in[0].Tenant = 42, 700, "Rossi"

	data, err := PremisesGeoJSON(in)
	if err != nil {
		t.Fatal(err)
	}
	fc, err := geo.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	m := mapping.WithDefaultTriggers(domain.FieldMapping{
		mapping.KeyAddress: "indirizzo",
		mapping.KeySurface: "superficie",
		mapping.KeyStatus:  "stato",
		mapping.KeyRent:    "canone",
		mapping.KeyTenant:  "conduttore",
	})
	out := mapping.Premises(fc, "p", m)
	for i := range in {
		a, b := in[i], out[i]
		if a.Address != b.Address || a.Surface != b.Surface || a.Status != b.Status || a.Rent != b.Rent || a.Tenant != b.Tenant {
			t.Errorf("record %d: exported %+v, re-imported %+v", i, a, b)
		}
	}
	if *out[0].Coordinates != *in[0].Coordinates {
		t.Errorf("coordinates = %v, want %v", out[0].Coordinates, in[0].Coordinates)
	}
}

func TestActivitiesGeoJSON(t *testing.T) {
	data, err := ActivitiesGeoJSON([]domain.Activity{{
		LegalName:     "Rossi SRL",
		Street:        "Via Po",
		PropertiesRaw: domain.NewPropertyBag("ragione_sociale", "ROSSI S.R.L.", "ATECO", "47.11"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	fc, err := geo.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	props := fc.Features[0].Properties
	if keys := props.Keys(); keys[0] != "ragione_sociale" || keys[len(keys)-1] != "ATECO" || len(keys) != 15 {
		t.Errorf("keys = %v", keys)
	}
	if v, _ := props.Get("ragione_sociale"); v.Text() != "ROSSI S.R.L." {
		t.Errorf("ragione_sociale = %q", v.Text())
	}
}

func TestEmptyExportIsACollection(t *testing.T) {
	data, err := PremisesGeoJSON(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := geo.Decode(data); err != nil {
		t.Fatalf("empty export: %v\n%s", err, data)
	}
}

func TestPremisesCSV(t *testing.T) {
	data, err := PremisesCSV(samplePremises())
	if err != nil {
		t.Fatal(err)
	}
	want := "Indirizzo,Superficie,Stato,Canone,Conduttore\n" +
		`"Via Roma, 1",80.5,occupato,1200,"Bar ""Sport"""` + "\n" +
		"Via Po,,sfitto,,\n" +
		"Locale 3,,altri,,\n"
	if string(data) != want {
		t.Errorf("csv =\n%s\nwant\n%s", data, want)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name   string
		kind   mapping.Kind
		format Format
		want   string
	}{
		{"Centro", mapping.KindPremises, FormatGeoJSON, "Centro_export.geojson"},
		{"Centro", mapping.KindActivities, FormatGeoJSON, "Centro_attivita_export.geojson"},
		{"", mapping.KindPremises, FormatGeoJSON, "progetto_export.geojson"},
		{"a/b", mapping.KindPremises, FormatGeoJSON, "a_b_export.geojson"},
		{"Centro", mapping.KindPremises, FormatCSV, "locali_export.csv"},
	}
	for _, tt := range tests {
		if got := FileName(tt.name, tt.kind, tt.format); got != tt.want {
			t.Errorf("FileName(%q, %s, %s) = %q, want %q", tt.name, tt.kind, tt.format, got, tt.want)
		}
	}
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestExporterSinks(t *testing.T) {
	ctx := context.Background()
	st := store.New(memory.New())
	project, err := st.Projects.Create(ctx, domain.Project{Name: "Centro"})
	if err != nil {
		t.Fatal(err)
	}
	premises := samplePremises()
	for i := range premises {
		premises[i].ID = ""
		premises[i].ProjectID = project.ID
	}
	if _, err := st.Premises.BulkCreate(ctx, premises); err != nil {
		t.Fatal(err)
	}
	e := New(st, zap.NewNop())

	fake := &fakeS3{}
	loc, err := e.ExportTo(ctx, NewS3SinkWithClient(fake, "eu-south-1", "exports", "webgis"), project.ID, mapping.KindPremises, FormatCSV, service.PremiseFilter{})
	if err != nil {
		t.Fatalf("ExportTo s3: %v", err)
	}
	if loc != "s3://exports/webgis/locali_export.csv" {
		t.Errorf("location = %q", loc)
	}
	if *fake.in.ContentType != "text/csv" || !strings.HasPrefix(fake.body, "Indirizzo,") {
		t.Errorf("upload = %s %q", *fake.in.ContentType, fake.body)
	}

	fake.err = errors.New("denied")
	var ext *domain.ErrExternalService
	if _, err := e.ExportTo(ctx, NewS3SinkWithClient(fake, "", "exports", ""), project.ID, mapping.KindPremises, FormatGeoJSON, service.PremiseFilter{}); !errors.As(err, &ext) {
		t.Errorf("expected ErrExternalService, got %v", err)
	}

	dir := t.TempDir()
	loc, err = e.ExportTo(ctx, DirSink{Dir: dir}, project.ID, mapping.KindPremises, FormatGeoJSON, service.PremiseFilter{})
	if err != nil {
		t.Fatalf("ExportTo dir: %v", err)
	}
	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatal(err)
	}
	if fc, err := geo.Decode(data); err != nil || fc.Len() != 3 {
		t.Errorf("written file: %v", err)
	}

	var verr *domain.ErrValidation
	if _, err := e.Export(ctx, project.ID, mapping.KindActivities, FormatCSV, service.PremiseFilter{}); !errors.As(err, &verr) {
		t.Errorf("activities CSV: expected ErrValidation, got %v", err)
	}
	var nf *domain.ErrNotFound
	if _, err := e.Export(ctx, "missing", mapping.KindPremises, FormatGeoJSON, service.PremiseFilter{}); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExportKeepsOnlyFilteredPremises(t *testing.T) {
	ctx := context.Background()
	st := store.New(memory.New())
	project, err := st.Projects.Create(ctx, domain.Project{Name: "Centro"})
	if err != nil {
		t.Fatal(err)
	}
	premises := samplePremises()
	for i := range premises {
		premises[i].ID = ""
		premises[i].ProjectID = project.ID
	}
	if _, err := st.Premises.BulkCreate(ctx, premises); err != nil {
		t.Fatal(err)
	}
	e := New(st, zap.NewNop())

	f, err := e.Export(ctx, project.ID, mapping.KindPremises, FormatCSV, service.PremiseFilter{HideOccupied: true, Search: "via"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	csv := string(f.Data)
	if strings.Contains(csv, "Via Roma") || strings.Contains(csv, "Locale 3") {
		t.Errorf("hidden premises exported:\n%s", csv)
	}
	if !strings.Contains(csv, "Via Po") || strings.Count(csv, "\n") != 2 {
		t.Errorf("csv = %q, want header and Via Po", csv)
	}
}
