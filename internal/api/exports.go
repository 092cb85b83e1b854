package api

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/export"
	"github.com/joeblew999/plat-webgis/internal/mapping"
)

type ExportInput struct {
	IDInput
	KindInput
	FilterInput
	Format string `query:"format" enum:"geojson,csv" default:"geojson" doc:"Export format"`
}

type ExportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

type PublishBody struct {
	Location string `json:"location" doc:"Where the export was stored" example:"s3://webgis-exports/exports/Centro_export.geojson"`
}

// RegisterExports registers download and publish routes.
func (h *APIHandler) RegisterExports(api huma.API) {
	huma.Get(api, "/api/v1/projects/{id}/export/{kind}", h.Export, huma.OperationTags("export"))
	huma.Post(api, "/api/v1/projects/{id}/export/{kind}/publish", h.Publish, huma.OperationTags("export"))
}

func (h *APIHandler) Export(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, toHTTP(err)
	}
	f, err := h.svc.Exporter.Export(ctx, input.ID, mapping.Kind(input.Kind), format, input.filter())
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ExportOutput{
		ContentType:        f.ContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", f.Name),
		Body:               f.Data,
	}, nil
}

// Publish writes an export to the configured sink, a directory or S3.
func (h *APIHandler) Publish(ctx context.Context, input *ExportInput) (*struct{ Body PublishBody }, error) {
	if h.svc.Sink == nil {
		return nil, huma.Error501NotImplemented("no export sink configured")
	}
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, toHTTP(err)
	}
	loc, err := h.svc.Exporter.ExportTo(ctx, h.svc.Sink, input.ID, mapping.Kind(input.Kind), format, input.filter())
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body PublishBody }{Body: PublishBody{Location: loc}}, nil
}
