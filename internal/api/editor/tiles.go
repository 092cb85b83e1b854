package editor

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/templates"
)

var noTiles = humastar.EmptyState{
	Title:   "Nessun file PMTiles",
	Message: "Genera i tile di un progetto per vederli sulla mappa.",
}

// TileHandler handles tile-related SSE endpoints.
type TileHandler struct {
	humastar.Handler
	tiles *service.TileService
}

// NewTileHandler creates a new tile handler.
func NewTileHandler(tiles *service.TileService, renderer *templates.Renderer) *TileHandler {
	return &TileHandler{
		Handler: humastar.Handler{Renderer: renderer},
		tiles:   tiles,
	}
}

// RegisterRoutes registers tile editor routes with Huma.
func (h *TileHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/editor/tiles", h.ListTiles, huma.OperationTags("editor"))
	huma.Get(api, "/api/v1/editor/tiles/select", h.ListTilesSelect, huma.OperationTags("editor"))
	huma.Post(api, "/api/v1/editor/projects/{id}/tiles", h.Generate, huma.OperationTags("editor"))
}

type GenerateInput struct {
	ID string `path:"id" doc:"Project ID"`
}

// Generate renders the tiles of a project and streams progress signals.
func (h *TileHandler) Generate(ctx context.Context, input *GenerateInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		set, err := h.tiles.Generate(ctx, input.ID, func(progress int, status string) {
			sse.Signals(map[string]any{
				"tileStatus":   status,
				"tileProgress": progress,
			})
		})
		if err != nil {
			sse.Error(err.Error())
			return
		}

		sse.Signals(map[string]any{
			"tileStatus":   fmt.Sprintf("Completato: %s", set.File),
			"tileProgress": 100,
			"success":      fmt.Sprintf("Generate %d tile per %d locali", set.Tiles, set.Features),
		})
		h.patchLists(sse)
	}), nil
}

// ListTiles streams the tile list as SSE HTML fragments.
func (h *TileHandler) ListTiles(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(h.patchLists), nil
}

// ListTilesSelect streams tiles as select options.
func (h *TileHandler) ListTilesSelect(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		tiles, err := h.tiles.List()
		if err != nil {
			sse.Error("Impossibile elencare i tile: " + err.Error())
			return
		}
		sse.Patch(h.tileSelect(tiles), "#pmtiles-select")
	}), nil
}

func (h *TileHandler) patchLists(sse humastar.SSE) {
	tiles, err := h.tiles.List()
	if err != nil {
		sse.Error("Impossibile elencare i tile: " + err.Error())
		return
	}
	sse.Patch(humastar.RenderList(h.Renderer, "tile-card", tiles, noTiles), "#tile-list")
	sse.Patch(h.tileSelect(tiles), "#pmtiles-select")
}

func (h *TileHandler) tileSelect(tiles []service.TileFile) string {
	opts := make([]humastar.SelectOption, len(tiles))
	for i, t := range tiles {
		opts[i] = humastar.SelectOption{Value: "/tiles/" + t.Name, Label: t.Name + " (" + t.Size + ")"}
	}
	return humastar.RenderSelect(h.Renderer, "-- Seleziona un file PMTiles --", opts)
}
