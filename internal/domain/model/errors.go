package model

import (
	"errors"
	"net/http"
)

// Sentinel kinds shared by every layer. Callers classify with errors.Is.
var (
	// ErrValidation marks a malformed role or requirement definition.
	ErrValidation = errors.New("validation error")
	// ErrNotEligible marks a completed evaluation whose answer is "no".
	ErrNotEligible = errors.New("not eligible")
	// ErrConflict marks a target state that is already satisfied or blocked by a higher tier.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a member, role or thread unknown to its source.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks a timeout or unavailability of an external lookup.
	ErrTransient = errors.New("transient failure")
	// ErrInternal marks an unexpected failure while applying a decision.
	ErrInternal = errors.New("internal failure")
	// ErrAlreadyVoted is returned when a (thread, voter) pair already has a vote.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrThreadClosed is returned when a vote targets a closed thread.
	ErrThreadClosed = errors.New("thread closed")
	// ErrForbidden marks an actor lacking the role needed for an action.
	ErrForbidden = errors.New("forbidden")
)

// StatusOf maps an error to the HTTP-style status code used in outcomes.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyVoted), errors.Is(err, ErrThreadClosed):
		return http.StatusConflict
	case errors.Is(err, ErrNotEligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
