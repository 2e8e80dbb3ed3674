package requirement

import (
	"fmt"
	"strings"

	"github.com/okian/ascent/internal/domain/model"
)

// GroupDocument is the stored shape of a requirement group.
type GroupDocument struct {
	ID           string     `json:"id" koanf:"id"`
	Name         string     `json:"name" koanf:"name"`
	Mode         string     `json:"mode" koanf:"mode"`
	Requirements []Document `json:"requirements" koanf:"requirements"`
}

// RoleDocument is the stored shape of a role definition.
type RoleDocument struct {
	ID                 string          `json:"id" koanf:"id"`
	Name               string          `json:"name" koanf:"name"`
	Tier               string          `json:"tier,omitempty" koanf:"tier"`
	RequirementsMode   string          `json:"requirements_mode" koanf:"requirements_mode"`
	Groups             []GroupDocument `json:"groups" koanf:"groups"`
	NominationEnabled  bool            `json:"nomination_enabled,omitempty" koanf:"nomination_enabled"`
	VotesRequired      int             `json:"votes_required,omitempty" koanf:"votes_required"`
	EligibleNominators []string        `json:"eligible_nominators,omitempty" koanf:"eligible_nominators"`
}

// DecodeRole builds and validates a role. An empty requirements mode means
// ANY_GROUP and an empty group mode means ALL.
func DecodeRole(d RoleDocument) (*model.Role, error) {
	r := &model.Role{
		ID:                 d.ID,
		Name:               strings.TrimSpace(d.Name),
		RequirementsMode:   model.RequirementsMode(strings.ToUpper(strings.TrimSpace(d.RequirementsMode))),
		NominationEnabled:  d.NominationEnabled,
		VotesRequired:      d.VotesRequired,
		EligibleNominators: d.EligibleNominators,
	}
	if r.RequirementsMode == "" {
		r.RequirementsMode = model.AnyGroup
	}
	if d.Tier != "" {
		t, err := model.ParseTier(d.Tier)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", d.Name, err)
		}
		r.Tier = t
	}
	for i, g := range d.Groups {
		reqs, err := FromDocuments(g.Requirements)
		if err != nil {
			return nil, fmt.Errorf("role %q group %d: %w", d.Name, i, err)
		}
		mode := model.GroupMode(strings.ToUpper(strings.TrimSpace(g.Mode)))
		if mode == "" {
			mode = model.GroupAll
		}
		r.Groups = append(r.Groups, model.RequirementGroup{ID: g.ID, Name: g.Name, Mode: mode, Requirements: reqs})
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// EncodeRole is the inverse of DecodeRole.
func EncodeRole(r *model.Role) RoleDocument {
	d := RoleDocument{
		ID:                 r.ID,
		Name:               r.Name,
		RequirementsMode:   string(r.RequirementsMode),
		NominationEnabled:  r.NominationEnabled,
		VotesRequired:      r.VotesRequired,
		EligibleNominators: r.EligibleNominators,
	}
	if r.Tier.Valid() {
		d.Tier = r.Tier.String()
	}
	for _, g := range r.Groups {
		gd := GroupDocument{ID: g.ID, Name: g.Name, Mode: string(g.Mode)}
		for _, req := range g.Requirements {
			gd.Requirements = append(gd.Requirements, ToDocument(req))
		}
		d.Groups = append(d.Groups, gd)
	}
	return d
}
