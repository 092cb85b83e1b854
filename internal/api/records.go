package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/service"
)

const defaultPageSize = 100

type PageInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Page size"`
}

// FilterInput carries the map filters as query parameters.
type FilterInput struct {
	HideVacant   bool    `query:"hide_sfitti" doc:"Hide vacant premises"`
	HideOccupied bool    `query:"hide_occupati" doc:"Hide occupied premises"`
	HideOther    bool    `query:"hide_altri" doc:"Hide premises of other status"`
	Search       string  `query:"q" doc:"Case-insensitive address search"`
	MinSurface   float64 `query:"min_superficie" minimum:"0" doc:"Minimum surface in m², 0 for none"`
	MaxSurface   float64 `query:"max_superficie" minimum:"0" doc:"Maximum surface in m², 0 for none"`
	Sheet        string  `query:"foglio" doc:"Cadastral sheet"`
	Parcel       string  `query:"particella" doc:"Cadastral parcel"`
}

type PremisesInput struct {
	IDInput
	PageInput
	FilterInput
}

func (in *FilterInput) filter() service.PremiseFilter {
	f := service.PremiseFilter{
		HideVacant:   in.HideVacant,
		HideOccupied: in.HideOccupied,
		HideOther:    in.HideOther,
		Search:       in.Search,
		Sheet:        in.Sheet,
		Parcel:       in.Parcel,
	}
	if in.MinSurface > 0 {
		f.MinSurface = &in.MinSurface
	}
	if in.MaxSurface > 0 {
		f.MaxSurface = &in.MaxSurface
	}
	return f
}

// PremisePage is a page of filtered premises and the counters of the whole
// filtered set.
type PremisePage struct {
	humastar.PageBody[domain.Premise]
	Stats service.FilteredStats `json:"stats" doc:"Counters of the filtered premises"`
}

type PremisePageOutput struct {
	Body PremisePage
}

type ActivitiesInput struct {
	IDInput
	PageInput
}

type ActivityPageOutput struct {
	Body humastar.PageBody[domain.Activity]
}

type PremiseOutput struct {
	Body domain.Premise
}

type ActivityOutput struct {
	Body domain.Activity
}

type UpdatePremiseInput struct {
	IDInput
	Body service.PremiseChanges
}

type UpdateActivityInput struct {
	IDInput
	Body map[string]string
}

// RegisterRecords registers premise and activity routes.
func (h *APIHandler) RegisterRecords(api huma.API) {
	huma.Get(api, "/api/v1/projects/{id}/locali", h.ListPremises, huma.OperationTags("locali"))
	huma.Patch(api, "/api/v1/locali/{id}", h.UpdatePremise, huma.OperationTags("locali"))
	huma.Delete(api, "/api/v1/locali/{id}", h.DeletePremise, huma.OperationTags("locali"))
	huma.Get(api, "/api/v1/projects/{id}/attivita", h.ListActivities, huma.OperationTags("attivita"))
	huma.Patch(api, "/api/v1/attivita/{id}", h.UpdateActivity, huma.OperationTags("attivita"))
}

func page[T any](items []T, in PageInput) humastar.PageBody[T] {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	start := min(in.Offset, len(items))
	end := min(start+limit, len(items))
	return humastar.PageBody[T]{
		Total:  len(items),
		Offset: in.Offset,
		Limit:  limit,
		Data:   items[start:end],
	}
}

func (h *APIHandler) ListPremises(ctx context.Context, input *PremisesInput) (*PremisePageOutput, error) {
	if _, err := h.svc.Projects.GetProject(ctx, input.ID); err != nil {
		return nil, toHTTP(err)
	}
	premises, err := h.svc.Projects.ListPremises(ctx, input.ID, input.filter())
	if err != nil {
		return nil, toHTTP(err)
	}
	return &PremisePageOutput{Body: PremisePage{
		PageBody: page(premises, input.PageInput),
		Stats:    service.StatsFor(premises),
	}}, nil
}

func (h *APIHandler) ListActivities(ctx context.Context, input *ActivitiesInput) (*ActivityPageOutput, error) {
	if _, err := h.svc.Projects.GetProject(ctx, input.ID); err != nil {
		return nil, toHTTP(err)
	}
	activities, err := h.svc.Projects.ListActivities(ctx, input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ActivityPageOutput{Body: page(activities, input.PageInput)}, nil
}

func (h *APIHandler) UpdatePremise(ctx context.Context, input *UpdatePremiseInput) (*PremiseOutput, error) {
	premise, err := h.svc.Projects.UpdatePremise(ctx, input.ID, input.Body)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &PremiseOutput{Body: premise}, nil
}

func (h *APIHandler) DeletePremise(ctx context.Context, input *IDInput) (*MessageOutput, error) {
	if err := h.svc.Projects.DeletePremise(ctx, input.ID); err != nil {
		return nil, toHTTP(err)
	}
	return &MessageOutput{Body: MessageBody{Message: "Locale eliminato"}}, nil
}

func (h *APIHandler) UpdateActivity(ctx context.Context, input *UpdateActivityInput) (*ActivityOutput, error) {
	activity, err := h.svc.Projects.UpdateActivity(ctx, input.ID, input.Body)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &ActivityOutput{Body: activity}, nil
}
