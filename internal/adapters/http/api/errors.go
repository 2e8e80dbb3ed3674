package api

import (
	"fmt"
	"net/http"

	"github.com/okian/ascent/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = fmt.Errorf("%w: bad request", model.ErrValidation)
)

// errorCode names the error body code for a status.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "not_eligible"
	case http.StatusTooManyRequests:
		return "backpressure"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}
