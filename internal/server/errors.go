package server

import (
	"net/http"

	"github.com/autoapply/autoapply/internal/automation"
	"github.com/autoapply/autoapply/internal/db"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch err.(type) {
	case *automation.ValidationError:
		return http.StatusUnprocessableEntity
	case *automation.DependencyMissingError:
		return http.StatusNotFound
	case *db.ConcurrencyLimitError:
		return http.StatusConflict
	case *db.RunNotFoundError:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
