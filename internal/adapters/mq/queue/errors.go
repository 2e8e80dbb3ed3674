package queue

import (
	"errors"
	"fmt"

	"github.com/okian/ascent/internal/domain/model"
)

// Sentinel kinds for queue errors.
var (
	ErrClosed         = fmt.Errorf("%w: queue closed", model.ErrTransient)
	ErrFull           = errors.New("queue full")
	ErrMemberRequired = fmt.Errorf("%w: job has no member", model.ErrValidation)
)
