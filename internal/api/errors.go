package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// toHTTP maps domain errors to Huma status errors.
func toHTTP(err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound     *domain.ErrNotFound
		invalid      *domain.ErrValidation
		conflict     *domain.ErrConflict
		missing      *domain.ErrEntityNotProvisioned
		unauthorized *domain.ErrUnauthorized
		partial      *domain.ErrPartialImport
		open         *domain.ErrCircuitOpen
		timeout      *domain.ErrTimeout
		external     *domain.ErrExternalService
		statusErr    huma.StatusError
	)
	switch {
	case errors.As(err, &statusErr):
		return err
	case errors.As(err, &notFound):
		return huma.Error404NotFound(notFound.Error())
	case errors.As(err, &invalid):
		return huma.Error422UnprocessableEntity(invalid.Message, &huma.ErrorDetail{
			Message:  invalid.Message,
			Location: invalid.Field,
		})
	case errors.Is(err, domain.ErrImportInProgress):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &conflict):
		return huma.Error409Conflict(conflict.Error())
	case errors.As(err, &missing):
		return huma.Error503ServiceUnavailable(missing.SetupInstructions())
	case errors.As(err, &unauthorized):
		return huma.Error401Unauthorized(unauthorized.Error())
	case errors.As(err, &partial):
		return huma.Error502BadGateway(partial.Error())
	case errors.As(err, &open):
		return huma.Error503ServiceUnavailable(open.Error())
	case errors.As(err, &timeout):
		return huma.Error504GatewayTimeout(timeout.Error())
	case errors.As(err, &external):
		return huma.Error502BadGateway(external.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
