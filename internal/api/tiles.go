package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/service"
)

// RegisterTiles registers tile generation and listing routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
	huma.Post(api, "/api/v1/projects/{id}/tiles", h.GenerateTiles, huma.OperationTags("tiles"))
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	tiles, err := h.svc.Tiles.List()
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

// GenerateTiles renders the premises of a project into a PMTiles archive
// served under /tiles/.
func (h *APIHandler) GenerateTiles(ctx context.Context, input *IDInput) (*struct{ Body service.TileSet }, error) {
	set, err := h.svc.Tiles.Generate(ctx, input.ID, nil)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body service.TileSet }{Body: *set}, nil
}
