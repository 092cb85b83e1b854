package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/service"
)

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	Backend  string   `json:"backend" doc:"Entity store backend" example:"memory"`
	Sessions int      `json:"wizard_sessions" doc:"Open import wizard sessions"`
	Features []string `json:"features" doc:"Available features"`
}

type FieldsBody struct {
	Kind   mapping.Kind         `json:"kind"`
	Fields []mapping.Field      `json:"fields" doc:"Mappable config keys"`
	Popup  []service.FieldLabel `json:"popup" doc:"Selectable popup fields"`
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/fields/{kind}", h.GetFields, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"geojson-import", "wizard", "export-geojson", "export-csv"}
	if h.svc.Sink != nil {
		features = append(features, "export-publish")
	}
	if h.svc.Tiles != nil {
		features = append(features, "pmtiles")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-webgis",
		Version:  Version,
		Backend:  h.svc.Store.Backend(),
		Sessions: h.svc.Wizard.Len(),
		Features: features,
	}}, nil
}

// GetFields lists the mapping keys and popup fields of a record kind.
func (h *APIHandler) GetFields(ctx context.Context, input *KindInput) (*struct{ Body FieldsBody }, error) {
	kind := mapping.Kind(input.Kind)
	return &struct{ Body FieldsBody }{Body: FieldsBody{
		Kind:   kind,
		Fields: mapping.FieldsFor(kind),
		Popup:  service.LabelsFor(kind),
	}}, nil
}
