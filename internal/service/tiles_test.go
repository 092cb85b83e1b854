package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/tiler/gotiler"
)

func TestTileServiceGenerate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.projects.CreateProject(ctx, service.CreateProjectInput{
		Name:       "Centro",
		Collection: decode(t, threeFeatures),
		Mapping:    stradaMapping,
	})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	tiles := service.NewTileService(f.store, dir, gotiler.Config{MinZoom: 10, MaxZoom: 12}, f.bus, zap.NewNop())
	events := f.bus.Subscribe()
	defer f.bus.Unsubscribe(events)

	var last int
	set, err := tiles.Generate(ctx, p.ID, func(pct int, _ string) { last = pct })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if set.Features != 2 || set.File != service.FileName(p.ID) || last != 100 {
		t.Errorf("tile set = %+v, progress %d", set, last)
	}
	if e := <-events; e.Resource != service.ResourceTiles || e.ProjectID != p.ID {
		t.Errorf("event = %+v", e)
	}

	files, err := tiles.List()
	if err != nil || len(files) != 1 || files[0].Name != set.File {
		t.Fatalf("List = %+v, %v", files, err)
	}
	path, err := tiles.Path(set.File)
	if err != nil || path != filepath.Join(dir, set.File) {
		t.Errorf("Path = %q, %v", path, err)
	}

	var verr *domain.ErrValidation
	if _, err := tiles.Path("../secret.pmtiles"); !errors.As(err, &verr) {
		t.Errorf("traversal: expected ErrValidation, got %v", err)
	}
	var nf *domain.ErrNotFound
	if _, err := tiles.Path("other.pmtiles"); !errors.As(err, &nf) {
		t.Errorf("missing file: expected ErrNotFound, got %v", err)
	}
	if _, err := tiles.Generate(ctx, "missing", nil); !errors.As(err, &nf) {
		t.Errorf("missing project: expected ErrNotFound, got %v", err)
	}
}

func TestTileServiceListEmptyDir(t *testing.T) {
	tiles := service.NewTileService(nil, filepath.Join(t.TempDir(), "none"), gotiler.Config{}, nil, zap.NewNop())
	files, err := tiles.List()
	if err != nil || len(files) != 0 {
		t.Errorf("List = %+v, %v", files, err)
	}
}
