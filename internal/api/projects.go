package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/service"
)

var projectActions = []humastar.ActionDef{
	{Rel: "import", Path: "/api/v1/projects/{id}/import/locali", Method: "POST", Title: "Importa locali"},
	{Rel: "stats", Path: "/api/v1/projects/{id}/stats", Method: "POST", Title: "Ricalcola contatori", Needs: "locali"},
	{Rel: "tiles", Path: "/api/v1/projects/{id}/tiles", Method: "POST", Title: "Genera tile", Needs: "locali"},
	{Rel: "export", Path: "/api/v1/projects/{id}/export/locali", Method: "GET", Title: "Esporta locali", Needs: "locali"},
	{Rel: "clear", Path: "/api/v1/projects/{id}/locali", Method: "DELETE", Title: "Elimina tutti i locali", Needs: "locali"},
	{Rel: "delete", Path: "/api/v1/projects/{id}", Method: "DELETE", Title: "Elimina progetto"},
}

// ProjectBody is a project with its state-dependent action links. Actions
// on premises are offered only while the project has some.
type ProjectBody struct {
	domain.Project
}

func (p ProjectBody) Actions() []humastar.Action {
	return humastar.ActionsFor(p.ID, projectActions, func(cond string) bool {
		return cond == "locali" && p.Total > 0
	})
}

type ProjectOutput struct {
	Body ProjectBody
}

type ProjectsOutput struct {
	Body []domain.Project
}

// UploadInput carries a GeoJSON file as the raw request body.
type UploadInput struct {
	FileName string `query:"file_name" doc:"Original file name, .geojson or .json" example:"locali.geojson"`
	Mapping  string `query:"mapping" doc:"Field mapping as a JSON object; auto-detected when empty"`
	RawBody  []byte `contentType:"application/geo+json"`
}

// collection decodes the uploaded file and its optional mapping.
func (in *UploadInput) collection() (*geo.FeatureCollection, domain.FieldMapping, error) {
	if in.FileName != "" && !geo.AcceptedFile(in.FileName) {
		return nil, nil, &domain.ErrValidation{Field: "file_name", Message: "formato non supportato, usa un file .geojson o .json"}
	}
	fc, err := geo.Decode(in.RawBody)
	if err != nil {
		return nil, nil, err
	}
	if in.Mapping == "" {
		return fc, nil, nil
	}
	var m domain.FieldMapping
	if err := json.Unmarshal([]byte(in.Mapping), &m); err != nil {
		return nil, nil, &domain.ErrValidation{Field: "mapping", Message: "mapping must be a JSON object of strings"}
	}
	return fc, m, nil
}

type CreateProjectInput struct {
	AuthInput
	UploadInput
	Name        string `query:"nome" doc:"Project name" example:"Centro storico"`
	Description string `query:"descrizione" doc:"Project description"`
}

type RenameProjectInput struct {
	IDInput
	Body struct {
		Name string `json:"nome" doc:"New project name" minLength:"1"`
	}
}

type PopupFieldsInput struct {
	IDInput
	Body struct {
		Premises   []string `json:"popup_fields,omitempty" doc:"Premise popup fields"`
		Activities []string `json:"popup_fields_attivita,omitempty" doc:"Activity popup fields"`
	}
}

// RegisterProjects registers project CRUD routes.
func (h *APIHandler) RegisterProjects(api huma.API) {
	huma.Get(api, "/api/v1/projects", h.ListProjects, huma.OperationTags("projects"))
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/api/v1/projects",
		Summary:       "Create a project from a GeoJSON file of premises",
		Tags:          []string{"projects"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  MaxUploadBytes,
	}, h.CreateProject)
	huma.Get(api, "/api/v1/projects/{id}", h.GetProject, huma.OperationTags("projects"))
	huma.Patch(api, "/api/v1/projects/{id}", h.RenameProject, huma.OperationTags("projects"))
	huma.Delete(api, "/api/v1/projects/{id}", h.DeleteProject, huma.OperationTags("projects"))
	huma.Post(api, "/api/v1/projects/{id}/stats", h.RecomputeStats, huma.OperationTags("projects"))
	huma.Put(api, "/api/v1/projects/{id}/popup-fields", h.SavePopupFields, huma.OperationTags("projects"))
}

func (h *APIHandler) ListProjects(ctx context.Context, input *struct{}) (*ProjectsOutput, error) {
	projects, err := h.svc.Projects.ListProjects(ctx)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ProjectsOutput{Body: projects}, nil
}

func (h *APIHandler) CreateProject(ctx context.Context, input *CreateProjectInput) (*ProjectOutput, error) {
	owner, err := h.owner(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}
	fc, m, err := input.collection()
	if err != nil {
		return nil, toHTTP(err)
	}
	if m == nil {
		m = mapping.AutoMap(fc.Keys(), mapping.AliasesFor(mapping.KindPremises))
	}
	project, err := h.svc.Projects.CreateProject(ctx, service.CreateProjectInput{
		Name:        input.Name,
		Description: input.Description,
		Collection:  fc,
		Mapping:     m,
		Owner:       owner,
	})
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ProjectOutput{Body: ProjectBody{project}}, nil
}

func (h *APIHandler) GetProject(ctx context.Context, input *IDInput) (*ProjectOutput, error) {
	project, err := h.svc.Projects.GetProject(ctx, input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ProjectOutput{Body: ProjectBody{project}}, nil
}

func (h *APIHandler) RenameProject(ctx context.Context, input *RenameProjectInput) (*ProjectOutput, error) {
	project, err := h.svc.Projects.RenameProject(ctx, input.ID, input.Body.Name)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ProjectOutput{Body: ProjectBody{project}}, nil
}

func (h *APIHandler) DeleteProject(ctx context.Context, input *IDInput) (*MessageOutput, error) {
	if err := h.svc.Projects.DeleteProject(ctx, input.ID); err != nil {
		return nil, toHTTP(err)
	}
	return &MessageOutput{Body: MessageBody{Message: "Progetto eliminato"}}, nil
}

func (h *APIHandler) RecomputeStats(ctx context.Context, input *IDInput) (*ProjectOutput, error) {
	if _, err := h.svc.Projects.GetProject(ctx, input.ID); err != nil {
		return nil, toHTTP(err)
	}
	project, err := h.svc.Projects.RecomputeStats(ctx, input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ProjectOutput{Body: ProjectBody{project}}, nil
}

func (h *APIHandler) SavePopupFields(ctx context.Context, input *PopupFieldsInput) (*ProjectOutput, error) {
	project, err := h.svc.Projects.SavePopupFields(ctx, input.ID, input.Body.Premises, input.Body.Activities)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ProjectOutput{Body: ProjectBody{project}}, nil
}
