// Package editor contains Datastar SSE handlers for the web UI.
package editor

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/templates"
)

var noProjects = humastar.EmptyState{
	Title:   "Nessun progetto",
	Message: "Importa un file GeoJSON di locali per creare il primo progetto.",
}

// EventHandler streams resource change events to the Datastar UI via SSE.
type EventHandler struct {
	humastar.Handler
	projects *service.ProjectService
	bus      *service.EventBus
}

// NewEventHandler creates a new event handler.
func NewEventHandler(projects *service.ProjectService, bus *service.EventBus, renderer *templates.Renderer) *EventHandler {
	return &EventHandler{
		Handler:  humastar.Handler{Renderer: renderer},
		projects: projects,
		bus:      bus,
	}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events,
		huma.OperationTags("editor"),
	)
}

// Events sends the project list on connect, then re-renders it on every
// project change and forwards each event as a "resource-changed" DOM event.
func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		h.patchProjects(ctx, sse)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if ev.Resource == service.ResourceProjects {
					h.patchProjects(ctx, sse)
				}
				sse.Event("resource-changed", ev)
			}
		}
	}), nil
}

func (h *EventHandler) patchProjects(ctx context.Context, sse humastar.SSE) {
	projects, err := h.projects.ListProjects(ctx)
	if err != nil {
		sse.Error("Impossibile caricare i progetti: " + err.Error())
		return
	}
	sse.Patch(humastar.RenderList(h.Renderer, "project-card", projects, noProjects), "#project-list")
}
