// Package export writes stored premises and activities back out as GeoJSON
// or CSV, to a local directory or an S3 bucket.
package export

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatCSV     Format = "csv"
)

// ParseFormat accepts the export formats; empty means GeoJSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatGeoJSON:
		return FormatGeoJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", &domain.ErrValidation{Field: "format", Message: fmt.Sprintf("unknown export format %q", s)}
}

// File is a rendered export.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileName returns the download name of an export.
func FileName(projectName string, kind mapping.Kind, format Format) string {
	if format == FormatCSV {
		return "locali_export.csv"
	}
	name := safeName(projectName)
	if kind == mapping.KindActivities {
		return name + "_attivita_export.geojson"
	}
	return name + "_export.geojson"
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "progetto"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

// Exporter renders the records of a project.
type Exporter struct {
	store  *store.Store
	logger *zap.Logger
}

func New(st *store.Store, logger *zap.Logger) *Exporter {
	return &Exporter{store: st, logger: logger}
}

// Export renders the records of kind in format. Premises are narrowed by
// only, as on the map; activities are always exported whole. CSV is only
// available for premises.
func (e *Exporter) Export(ctx context.Context, projectID string, kind mapping.Kind, format Format, only service.PremiseFilter) (*File, error) {
	project, err := e.store.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	f := &File{Name: FileName(project.Name, kind, format)}

	switch {
	case kind == mapping.KindActivities && format == FormatCSV:
		return nil, &domain.ErrValidation{Field: "format", Message: "CSV export is available for premises only"}
	case kind == mapping.KindActivities:
		activities, err := e.store.Activities.Filter(ctx, store.ByProject(projectID), "created_date")
		if err != nil {
			return nil, err
		}
		f.ContentType = "application/geo+json"
		f.Data, err = ActivitiesGeoJSON(activities)
		if err != nil {
			return nil, err
		}
	default:
		premises, err := e.store.Premises.Filter(ctx, store.ByProject(projectID), "created_date")
		if err != nil {
			return nil, err
		}
		premises = service.FilterPremises(premises, only)
		if format == FormatCSV {
			f.ContentType = "text/csv"
			f.Data, err = PremisesCSV(premises)
		} else {
			f.ContentType = "application/geo+json"
			f.Data, err = PremisesGeoJSON(premises)
		}
		if err != nil {
			return nil, err
		}
	}

	e.logger.Info("export rendered",
		zap.String("project_id", projectID),
		zap.String("kind", string(kind)),
		zap.String("format", string(format)),
		zap.Int("bytes", len(f.Data)),
	)
	return f, nil
}

// ExportTo renders an export and hands it to sink, returning where it went.
func (e *Exporter) ExportTo(ctx context.Context, sink Sink, projectID string, kind mapping.Kind, format Format, only service.PremiseFilter) (string, error) {
	f, err := e.Export(ctx, projectID, kind, format, only)
	if err != nil {
		return "", err
	}
	loc, err := sink.Put(ctx, f.Name, f.ContentType, f.Data)
	if err != nil {
		return "", fmt.Errorf("store export %s: %w", f.Name, err)
	}
	e.logger.Info("export stored", zap.String("location", loc))
	return loc, nil
}
