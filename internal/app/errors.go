package service

import (
	"errors"
	"fmt"

	"github.com/okian/ascent/internal/domain/model"
)

var (
	// ErrNotStarted is returned when an operation runs before Init.
	ErrNotStarted = errors.New("service not initialized")
	// ErrNotFunded is returned when a claimed account does not exist on the ledger.
	ErrNotFunded = fmt.Errorf("%w: account is not funded", model.ErrNotEligible)
	// ErrAccountRequired is returned when a verification names no account.
	ErrAccountRequired = fmt.Errorf("%w: account key is required", model.ErrValidation)
	// ErrMemberRequired is returned when a request names no member.
	ErrMemberRequired = fmt.Errorf("%w: member id is required", model.ErrValidation)
)
