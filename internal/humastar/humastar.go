// Package humastar connects Huma operations to Datastar server-sent events
// and adds RFC 8288 hypermedia links to JSON responses.
//
// Streaming handlers embed [Handler] and return [Handler.Stream]:
//
//	func (h *EventHandler) Events(ctx context.Context, _ *humastar.EmptyInput) (*huma.StreamResponse, error) {
//		return h.Stream(func(sse humastar.SSE) {
//			sse.Patch(humastar.RenderList(h.Renderer, "project-card", projects, noProjects), "#project-list")
//		}), nil
//	}
//
// Streams need the humago adapter: [NewSSE] unwraps the net/http writer.
package humastar

import (
	"bytes"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-webgis/internal/templates"
)

// EmptyInput is the input of operations without parameters.
type EmptyInput struct{}

// Handler is embedded by handlers producing Datastar streams.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn as a Huma streaming response.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// SSE is a Datastar event generator with the patches the UI uses.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE starts an event stream on a humago request.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the children of the element matching selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
		datastar.WithViewTransitions(),
	)
}

// Error sets the error signal.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Success sets the success signal.
func (s SSE) Success(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"success": msg})
}

func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Event dispatches a DOM CustomEvent named name with detail.
func (s SSE) Event(name string, detail any) {
	s.DispatchCustomEvent(name, detail)
}

// EmptyState is shown by [RenderList] in place of an empty list.
type EmptyState struct {
	Title   string
	Message string
}

// SelectOption is one <option> of a select.
type SelectOption struct {
	Value string
	Label string
}

// RenderList renders each item with tmpl, or empty when there is none.
// Items that fail to render are skipped.
func RenderList[T any](r *templates.Renderer, tmpl string, items []T, empty EmptyState) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		r.RenderToBuffer(&buf, "empty-state", empty)
		return buf.String()
	}
	for _, item := range items {
		r.RenderToBuffer(&buf, tmpl, item)
	}
	return buf.String()
}

// RenderSelect renders a placeholder option followed by options.
func RenderSelect(r *templates.Renderer, placeholder string, options []SelectOption) string {
	var buf bytes.Buffer
	r.RenderToBuffer(&buf, "select-option", SelectOption{Label: placeholder})
	for _, opt := range options {
		r.RenderToBuffer(&buf, "select-option", opt)
	}
	return buf.String()
}
