// README: Error kinds shared by the core modules; the HTTP layer maps them to status codes.
package types

import "errors"

var (
	ErrValidation      = errors.New("validation error")
	ErrExternalService = errors.New("external service error")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("concurrent modification")
)
