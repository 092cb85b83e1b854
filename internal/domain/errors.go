package domain

import (
	"errors"
	"fmt"
)

// Error types shared by the pipeline, the stores and the HTTP edge.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates bad input, caught before any destructive action.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrExternalService indicates a failure in the backing entity store.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrEntityNotProvisioned indicates the backend has no table for an entity type.
type ErrEntityNotProvisioned struct {
	Entity string
}

func (e *ErrEntityNotProvisioned) Error() string {
	return fmt.Sprintf("entity %s is not provisioned in the backend", e.Entity)
}

// SetupInstructions is shown to users when an entity type is missing.
func (e *ErrEntityNotProvisioned) SetupInstructions() string {
	return fmt.Sprintf("L'entità %s non esiste nel backend. Crea la tabella %q con le colonne id, project_id, created_date e doc, poi ripeti l'operazione.",
		e.Entity, TableName(e.Entity))
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrImportInProgress is returned when another import or clear holds the project.
var ErrImportInProgress = errors.New("an import is already running for this project")

// ErrPartialImport reports a replace-import that stopped between its two
// destructive phases. There is no rollback.
type ErrPartialImport struct {
	Entity  string
	Phase   string // "delete" or "create"
	Deleted int
	Err     error
}

func (e *ErrPartialImport) Error() string {
	if e.Phase == "create" {
		return fmt.Sprintf("import of %s failed after deleting %d existing records, the project has no %s left: %v",
			e.Entity, e.Deleted, e.Entity, e.Err)
	}
	return fmt.Sprintf("import of %s failed while deleting existing records (%d deleted): %v", e.Entity, e.Deleted, e.Err)
}

func (e *ErrPartialImport) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates a missing or rejected access token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a request that does not fit the current state of a
// resource.
type ErrConflict struct {
	Resource string
	Message  string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}
