package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/api"
	"github.com/joeblew999/plat-webgis/internal/export"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/observability"
	"github.com/joeblew999/plat-webgis/internal/server"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
	"github.com/joeblew999/plat-webgis/internal/store/memory"
	"github.com/joeblew999/plat-webgis/internal/tiler/gotiler"
	"github.com/joeblew999/plat-webgis/internal/wizard"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	st := store.New(store.Observed(memory.New(), metrics.RecordStoreDuration))
	bus := service.NewEventBus()
	imp := importer.New(st, nil, bus, metrics, importer.Config{}, logger)
	projects := service.NewProjectService(st, imp, bus, 50, logger)
	tilesDir := t.TempDir()

	svc := &api.Services{
		Store:    st,
		Projects: projects,
		Importer: imp,
		Wizard:   wizard.NewManager(imp, projects, wizard.Options{}, metrics, logger),
		Exporter: export.New(st, logger),
		Tiles:    service.NewTileService(st, tilesDir, gotiler.Config{}, bus, logger),
	}
	srv, err := server.New(server.Config{BaseURL: "http://localhost:8086"}, svc, bus, metrics, logger)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts, tilesDir
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := get(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/ping")
	if resp.StatusCode != http.StatusOK || body != "." {
		t.Errorf("ping: %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/")
	var root map[string]string
	if err := json.Unmarshal([]byte(body), &root); err != nil || root["service"] != "plat-webgis" {
		t.Errorf("root: %d %s", resp.StatusCode, body)
	}

	resp, body = get(t, ts.URL+"/api/v1/projects")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("projects: %d %s", resp.StatusCode, body)
	}

	// the store calls above are timed
	resp, body = get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "webgis_store_request_duration_seconds") {
		t.Errorf("metrics: %d\n%s", resp.StatusCode, body)
	}
}

func TestOpenAPI(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := get(t, ts.URL+"/openapi.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", resp.StatusCode)
	}
	for _, path := range []string{"/api/v1/projects/{id}/locali", "/api/v1/wizard/{id}/progress", "/api/v1/events"} {
		if !strings.Contains(body, path) {
			t.Errorf("OpenAPI lacks %s", path)
		}
	}
}

func TestTilesCORS(t *testing.T) {
	ts, dir := newTestServer(t)
	if err := os.WriteFile(filepath.Join(dir, "p1.pmtiles"), []byte("PMTiles"), 0o644); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/tiles/p1.pmtiles", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: %d %v", resp.StatusCode, resp.Header)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/tiles/p1.pmtiles", nil)
	req.Header.Set("Range", "bytes=0-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent || string(body) != "PM" {
		t.Errorf("range: %d %q", resp.StatusCode, body)
	}
}
