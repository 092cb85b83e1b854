// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/export"
	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
	"github.com/joeblew999/plat-webgis/internal/wizard"
)

// Version is reported by /health and /api/v1/info.
const Version = "1.0.0"

// MaxUploadBytes bounds GeoJSON uploads.
const MaxUploadBytes = 50 << 20

// Services holds the service dependencies for API handlers.
type Services struct {
	Store    *store.Store
	Projects *service.ProjectService
	Importer *importer.Importer
	Wizard   *wizard.Manager
	Exporter *export.Exporter
	Sink     export.Sink // nil disables publishing exports
	Tiles    *service.TileService
}

// Common types

type IDInput struct {
	ID string `path:"id" doc:"Record ID" example:"0b6c9d6e-8f0e-4a55-9a53-0d1c6f2b8c1a"`
}

type KindInput struct {
	Kind string `path:"kind" enum:"locali,attivita" doc:"Record kind"`
}

type AuthInput struct {
	Authorization string `header:"Authorization" doc:"Bearer access token of the caller"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type MessageOutput struct {
	Body MessageBody
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// Config returns the Huma configuration shared by the server and the
// OpenAPI export.
func Config(serverURL string) huma.Config {
	cfg := huma.DefaultConfig("plat-webgis API", Version)
	cfg.Info.Description = "WebGIS API for importing, browsing and exporting premises (locali) and activities (attività) from GeoJSON."
	if serverURL != "" {
		cfg.Servers = []*huma.Server{{URL: serverURL, Description: "Local server"}}
	}
	// Disable $schema property in responses (cleaner JSON)
	cfg.CreateHooks = []func(huma.Config) huma.Config{}
	cfg.Transformers = append(cfg.Transformers, humastar.LinkTransformer())
	return cfg
}

// Register adds every REST route to api.
func Register(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// owner resolves the caller from the Authorization header.
func (h *APIHandler) owner(ctx context.Context, authorization string) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	user, err := h.svc.Store.Me(ctx, token)
	if err != nil {
		return "", toHTTP(err)
	}
	return user.ID, nil
}

func uploadLimit(o *huma.Operation) {
	o.MaxBodyBytes = MaxUploadBytes
}
