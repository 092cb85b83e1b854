package editor

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/templates"
	"github.com/joeblew999/plat-webgis/internal/wizard"
)

// WizardHandler streams the progress of a wizard import.
type WizardHandler struct {
	humastar.Handler
	wizard   *wizard.Manager
	interval time.Duration
}

// NewWizardHandler creates a handler polling sessions every interval.
func NewWizardHandler(m *wizard.Manager, renderer *templates.Renderer, interval time.Duration) *WizardHandler {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &WizardHandler{
		Handler:  humastar.Handler{Renderer: renderer},
		wizard:   m,
		interval: interval,
	}
}

func (h *WizardHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/wizard/{id}/progress", h.Progress,
		huma.OperationTags("editor"),
	)
}

type ProgressInput struct {
	ID string `path:"id" doc:"Wizard session ID"`
}

// Progress sends the step, percent and message of a running import until
// it settles, then the result panel. A session closed meanwhile ends the
// stream.
func (h *WizardHandler) Progress(ctx context.Context, input *ProgressInput) (*huma.StreamResponse, error) {
	if _, err := h.wizard.Get(input.ID); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		var last wizard.View
		for {
			s, err := h.wizard.Get(input.ID)
			if err != nil {
				sse.Signals(map[string]any{"wizardStep": "closed"})
				return
			}
			view := s.View()
			if view.Progress != nil && (last.Progress == nil || *view.Progress != *last.Progress) {
				sse.Signals(map[string]any{
					"wizardStep":     view.Progress.Step,
					"wizardProgress": view.Progress.Percent,
					"wizardStatus":   view.Progress.Message,
				})
			}
			if view.Result != nil && !view.Busy {
				h.sendResult(sse, view)
				return
			}
			last = view

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}), nil
}

func (h *WizardHandler) sendResult(sse humastar.SSE, view wizard.View) {
	html, err := h.Renderer.Render("wizard-result", view.Result)
	if err != nil {
		sse.Error(err.Error())
		return
	}
	sse.Patch(html, "#wizard-result")
	if view.Result.Success {
		sse.Success(view.Result.Message)
	} else {
		sse.Error(view.Result.Message)
	}
}
