package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/store"
	"github.com/joeblew999/plat-webgis/internal/tiler/gotiler"
)

// ResourceTiles names tile events.
const ResourceTiles = "tiles"

// TileFile represents a PMTiles file.
type TileFile struct {
	Name string `json:"name" doc:"PMTiles file name" example:"0b6c.pmtiles"`
	Size string `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
}

// TileSet is the result of a tiling run.
type TileSet struct {
	ProjectID string `json:"project_id"`
	File      string `json:"file"`
	gotiler.Summary
}

// ProgressFunc is called with progress updates during tile generation.
type ProgressFunc func(progress int, status string)

// TileService builds and lists the PMTiles archives of projects.
type TileService struct {
	store    *store.Store
	tilesDir string
	cfg      gotiler.Config
	bus      *EventBus
	logger   *zap.Logger
}

// NewTileService creates a tile service writing into tilesDir.
func NewTileService(st *store.Store, tilesDir string, cfg gotiler.Config, bus *EventBus, logger *zap.Logger) *TileService {
	return &TileService{store: st, tilesDir: tilesDir, cfg: cfg, bus: bus, logger: logger}
}

// FileName is the archive name of a project.
func FileName(projectID string) string {
	return projectID + ".pmtiles"
}

// Generate renders the premises of a project into {tilesDir}/{id}.pmtiles.
func (s *TileService) Generate(ctx context.Context, projectID string, onProgress ProgressFunc) (*TileSet, error) {
	report := func(pct int, msg string) {
		if onProgress != nil {
			onProgress(pct, msg)
		}
	}

	if _, err := s.store.Projects.Get(ctx, projectID); err != nil {
		return nil, err
	}
	report(10, "Caricamento locali...")
	premises, err := s.store.Premises.Filter(ctx, store.ByProject(projectID), "")
	if err != nil {
		return nil, fmt.Errorf("load premises: %w", err)
	}

	fc := gotiler.PremiseFeatures(premises)
	if len(fc.Features) == 0 {
		return nil, &domain.ErrValidation{Field: "geometry", Message: "nessun locale con geometria da rappresentare"}
	}
	report(30, fmt.Sprintf("Generazione tile per %d locali...", len(fc.Features)))

	name := FileName(projectID)
	sum, err := gotiler.WriteFile(filepath.Join(s.tilesDir, name), fc, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("tile generation failed: %w", err)
	}
	report(100, "Tile generate.")

	s.logger.Info("tiles generated",
		zap.String("project_id", projectID),
		zap.Int("features", sum.Features),
		zap.Int("tiles", sum.Tiles),
		zap.Int64("bytes", sum.Bytes),
	)
	s.bus.Publish(Event{Resource: ResourceTiles, Action: "created", ProjectID: projectID, Count: sum.Tiles})
	return &TileSet{ProjectID: projectID, File: name, Summary: sum}, nil
}

// List returns all available PMTiles files.
func (s *TileService) List() ([]TileFile, error) {
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileFile{}, nil
		}
		return nil, err
	}

	files := []TileFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, TileFile{Name: entry.Name(), Size: formatSize(info.Size())})
	}
	return files, nil
}

// Path resolves a tile file name inside the tiles directory.
func (s *TileService) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || filepath.Ext(name) != ".pmtiles" {
		return "", &domain.ErrValidation{Field: "file", Message: "invalid tile file name"}
	}
	p := filepath.Join(s.tilesDir, name)
	if _, err := os.Stat(p); err != nil {
		return "", &domain.ErrNotFound{Resource: "tiles", ID: name}
	}
	return p, nil
}

// TilesDir returns the path to the tiles directory.
func (s *TileService) TilesDir() string {
	return s.tilesDir
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
