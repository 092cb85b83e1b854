package api

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/mapping"
)

type ImportInput struct {
	IDInput
	KindInput
	UploadInput
}

type ImportBody struct {
	importer.Result
	Message string `json:"message" doc:"User-facing summary"`
}

type ClearInput struct {
	IDInput
	KindInput
}

type ClearBody struct {
	Deleted int    `json:"deleted" doc:"Records deleted"`
	Message string `json:"message" doc:"Result message"`
}

// RegisterImports registers direct import and clear routes.
func (h *APIHandler) RegisterImports(api huma.API) {
	huma.Post(api, "/api/v1/projects/{id}/import/{kind}", h.Import, huma.OperationTags("import"), uploadLimit)
	huma.Delete(api, "/api/v1/projects/{id}/{kind}", h.Clear, huma.OperationTags("import"))
}

// Import replaces the records of one kind with an uploaded file. Without an
// explicit mapping the saved project mapping is used, completed by
// auto-detection.
func (h *APIHandler) Import(ctx context.Context, input *ImportInput) (*struct{ Body ImportBody }, error) {
	kind := mapping.Kind(input.Kind)
	project, err := h.svc.Projects.GetProject(ctx, input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	fc, m, err := input.collection()
	if err != nil {
		return nil, toHTTP(err)
	}
	if m == nil {
		saved := project.Config.Mapping
		if kind == mapping.KindActivities {
			saved = project.ActivityMapping
		}
		m = mapping.AutoMap(fc.Keys(), mapping.AliasesFor(kind)).Merge(saved)
	}
	if kind == mapping.KindPremises {
		m = mapping.WithDefaultTriggers(m)
	}

	res, err := h.svc.Importer.Import(ctx, kind, input.ID, fc, m, nil)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body ImportBody }{Body: ImportBody{Result: *res, Message: res.Message()}}, nil
}

// Clear deletes every record of one kind in a project.
func (h *APIHandler) Clear(ctx context.Context, input *ClearInput) (*struct{ Body ClearBody }, error) {
	if _, err := h.svc.Projects.GetProject(ctx, input.ID); err != nil {
		return nil, toHTTP(err)
	}
	n, err := h.svc.Importer.Clear(ctx, mapping.Kind(input.Kind), input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body ClearBody }{Body: ClearBody{Deleted: n, Message: clearMessage(mapping.Kind(input.Kind), n)}}, nil
}

func clearMessage(kind mapping.Kind, n int) string {
	if kind == mapping.KindActivities {
		return fmt.Sprintf("Eliminate %d attività", n)
	}
	return fmt.Sprintf("Eliminati %d locali", n)
}
