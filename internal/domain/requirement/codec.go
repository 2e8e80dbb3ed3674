package requirement

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/ascent/internal/domain/model"
)

// Document is the stored shape of a requirement: a type discriminant plus the
// fields of whichever kind it names. Only FromDocument reads it.
type Document struct {
	Type                string   `json:"type" koanf:"type"`
	Provider            string   `json:"provider,omitempty" koanf:"provider"`
	Category            string   `json:"category,omitempty" koanf:"category"`
	MinCount            int      `json:"min_count,omitempty" koanf:"min_count"`
	RoleName            string   `json:"role_name,omitempty" koanf:"role_name"`
	EligibleVoterRoles  []string `json:"eligible_voter_roles,omitempty" koanf:"eligible_voter_roles"`
	RequiredVotes       int      `json:"required_votes,omitempty" koanf:"required_votes"`
	ParticipationRounds int      `json:"participation_rounds,omitempty" koanf:"participation_rounds"`
}

// FromDocument builds the typed requirement for d and validates it.
// Unrecognised types decode to Unknown so evaluation can report them.
func FromDocument(d Document) (model.Requirement, error) {
	kind := model.RequirementKind(strings.ToLower(strings.TrimSpace(d.Type)))
	var r model.Requirement
	switch kind {
	case "":
		return nil, fmt.Errorf("%w: requirement has no type", model.ErrValidation)
	case model.KindDiscord:
		r = Discord{}
	case model.KindSocialVerification:
		r = SocialVerification{Provider: d.Provider}
	case model.KindStellarAccount:
		r = StellarAccount{}
	case model.KindBadgeCount:
		r = BadgeCount{Category: d.Category, MinCount: d.MinCount}
	case model.KindConcurrentRole:
		r = ConcurrentRole{RoleName: d.RoleName}
	case model.KindExistingRole:
		r = ExistingRole{RoleName: d.RoleName}
	case model.KindNomination:
		r = Nomination{EligibleVoterRoles: d.EligibleVoterRoles, RequiredVotes: d.RequiredVotes}
	case model.KindCommunityVote:
		r = CommunityVote{ParticipationRounds: d.ParticipationRounds}
	default:
		r = Unknown{Type: d.Type}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ToDocument is the inverse of FromDocument.
func ToDocument(r model.Requirement) Document {
	switch v := r.(type) {
	case Discord:
		return Document{Type: string(model.KindDiscord)}
	case SocialVerification:
		return Document{Type: string(model.KindSocialVerification), Provider: v.Provider}
	case StellarAccount:
		return Document{Type: string(model.KindStellarAccount)}
	case BadgeCount:
		return Document{Type: string(model.KindBadgeCount), Category: v.Category, MinCount: v.MinCount}
	case ConcurrentRole:
		return Document{Type: string(model.KindConcurrentRole), RoleName: v.RoleName}
	case ExistingRole:
		return Document{Type: string(model.KindExistingRole), RoleName: v.RoleName}
	case Nomination:
		return Document{Type: string(model.KindNomination), EligibleVoterRoles: v.EligibleVoterRoles, RequiredVotes: v.RequiredVotes}
	case CommunityVote:
		return Document{Type: string(model.KindCommunityVote), ParticipationRounds: v.ParticipationRounds}
	case Unknown:
		return Document{Type: v.Type}
	default:
		return Document{Type: string(r.Kind())}
	}
}

// FromDocuments decodes a list, failing on the first malformed entry.
func FromDocuments(docs []Document) ([]model.Requirement, error) {
	out := make([]model.Requirement, 0, len(docs))
	for i, d := range docs {
		r, err := FromDocument(d)
		if err != nil {
			return nil, fmt.Errorf("requirement %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// MarshalList encodes requirements as a JSON array of documents.
func MarshalList(reqs []model.Requirement) ([]byte, error) {
	docs := make([]Document, len(reqs))
	for i, r := range reqs {
		docs[i] = ToDocument(r)
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("marshal requirements: %w", err)
	}
	return b, nil
}

// UnmarshalList decodes a JSON array of documents.
func UnmarshalList(b []byte) ([]model.Requirement, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var docs []Document
	if err := json.Unmarshal(b, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode requirements: %v", model.ErrValidation, err)
	}
	return FromDocuments(docs)
}
