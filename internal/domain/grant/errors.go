package grant

import (
	"fmt"

	"github.com/okian/ascent/internal/domain/model"
)

var (
	// ErrMemberRequired is returned when a request names no member.
	ErrMemberRequired = fmt.Errorf("%w: member id is required", model.ErrValidation)
	// ErrRoleRequired is returned when a request names no role.
	ErrRoleRequired = fmt.Errorf("%w: role is required", model.ErrValidation)
)
