package v1

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/custos/internal/domain"
)

// guardError maps gate and repository errors onto HTTP problems.
func guardError(msg string, err error) error {
	var denial *domain.AccountabilityError
	switch {
	case errors.As(err, &denial):
		return huma.Error403Forbidden(denial.Error())
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("note not found")
	case errors.Is(err, domain.ErrInvalidAction), errors.Is(err, domain.ErrConflict):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError(msg, err)
}
