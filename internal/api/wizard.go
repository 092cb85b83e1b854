package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/wizard"
)

type StartWizardInput struct {
	AuthInput
	Body struct {
		Kind      string `json:"kind" enum:"locali,attivita" doc:"Record kind to import"`
		ProjectID string `json:"project_id,omitempty" doc:"Project whose records are replaced; empty creates a project"`
		Name      string `json:"nome,omitempty" doc:"Name of the project to create"`
	}
}

type WizardOutput struct {
	Body wizard.View
}

type WizardUploadInput struct {
	IDInput
	FileName string `query:"file_name" required:"true" doc:"Original file name, .geojson or .json" example:"locali.geojson"`
	Name     string `query:"nome" doc:"Name of the project to create"`
	RawBody  []byte `contentType:"application/geo+json"`
}

type WizardConfigInput struct {
	IDInput
	Body struct {
		Mapping domain.FieldMapping `json:"mapping" doc:"Config key to source property; _none leaves a key unmapped"`
	}
}

type WizardImportOutput struct {
	Body wizard.Outcome
}

// RegisterWizard registers the import wizard routes.
func (h *APIHandler) RegisterWizard(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-wizard",
		Method:        http.MethodPost,
		Path:          "/api/v1/wizard",
		Summary:       "Open an import wizard session",
		Tags:          []string{"wizard"},
		DefaultStatus: http.StatusCreated,
	}, h.StartWizard)
	huma.Get(api, "/api/v1/wizard/{id}", h.GetWizard, huma.OperationTags("wizard"))
	huma.Delete(api, "/api/v1/wizard/{id}", h.CloseWizard, huma.OperationTags("wizard"))
	huma.Post(api, "/api/v1/wizard/{id}/upload", h.UploadWizard, huma.OperationTags("wizard"), uploadLimit)
	huma.Post(api, "/api/v1/wizard/{id}/config", h.ConfigureWizard, huma.OperationTags("wizard"))
	huma.Post(api, "/api/v1/wizard/{id}/next", h.NextWizard, huma.OperationTags("wizard"))
	huma.Post(api, "/api/v1/wizard/{id}/back", h.BackWizard, huma.OperationTags("wizard"))
	huma.Post(api, "/api/v1/wizard/{id}/import", h.ImportWizard, huma.OperationTags("wizard"))
}

func (h *APIHandler) StartWizard(ctx context.Context, input *StartWizardInput) (*WizardOutput, error) {
	owner, err := h.owner(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	s, err := h.svc.Wizard.Start(ctx, mapping.Kind(input.Body.Kind), input.Body.ProjectID, owner)
	if err != nil {
		return nil, toHTTP(err)
	}
	if input.Body.Name != "" {
		s.SetName(input.Body.Name)
	}
	return &WizardOutput{Body: s.View()}, nil
}

// step runs fn on a session and returns its new state.
func (h *APIHandler) step(id string, fn func(*wizard.Session) error) (*WizardOutput, error) {
	s, err := h.svc.Wizard.Get(id)
	if err != nil {
		return nil, toHTTP(err)
	}
	if fn != nil {
		if err := fn(s); err != nil {
			return nil, toHTTP(err)
		}
	}
	return &WizardOutput{Body: s.View()}, nil
}

func (h *APIHandler) GetWizard(ctx context.Context, input *IDInput) (*WizardOutput, error) {
	return h.step(input.ID, nil)
}

func (h *APIHandler) CloseWizard(ctx context.Context, input *IDInput) (*MessageOutput, error) {
	if _, err := h.svc.Wizard.Get(input.ID); err != nil {
		return nil, toHTTP(err)
	}
	h.svc.Wizard.Close(input.ID)
	return &MessageOutput{Body: MessageBody{Message: "Sessione chiusa"}}, nil
}

func (h *APIHandler) UploadWizard(ctx context.Context, input *WizardUploadInput) (*WizardOutput, error) {
	return h.step(input.ID, func(s *wizard.Session) error {
		if input.Name != "" {
			s.SetName(input.Name)
		}
		return s.Upload(input.FileName, input.RawBody)
	})
}

func (h *APIHandler) ConfigureWizard(ctx context.Context, input *WizardConfigInput) (*WizardOutput, error) {
	return h.step(input.ID, func(s *wizard.Session) error {
		return s.Configure(input.Body.Mapping)
	})
}

func (h *APIHandler) NextWizard(ctx context.Context, input *IDInput) (*WizardOutput, error) {
	return h.step(input.ID, (*wizard.Session).Next)
}

func (h *APIHandler) BackWizard(ctx context.Context, input *IDInput) (*WizardOutput, error) {
	return h.step(input.ID, (*wizard.Session).Back)
}

// ImportWizard runs the import of a session and waits for it. Progress is
// streamed by the wizard progress SSE endpoint meanwhile.
func (h *APIHandler) ImportWizard(ctx context.Context, input *IDInput) (*WizardImportOutput, error) {
	// the import outlives a dropped request; its outcome stays on the session
	out, err := h.svc.Wizard.Import(context.WithoutCancel(ctx), input.ID, nil)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &WizardImportOutput{Body: *out}, nil
}
