package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/requirement"
)

// LoadRoles reads role definitions from the "roles" list of a YAML file and
// decodes them through the requirement codec. Any malformed role fails the
// whole file.
func LoadRoles(path string) ([]*model.Role, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	var docs []requirement.RoleDocument
	if err := k.UnmarshalWithConf("roles", &docs, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: roles in %s: %w", ErrLoadConfig, path, err)
	}
	roles := make([]*model.Role, 0, len(docs))
	for i, d := range docs {
		r, err := requirement.DecodeRole(d)
		if err != nil {
			return nil, fmt.Errorf("role %d in %s: %w", i, path, err)
		}
		roles = append(roles, r)
	}
	return roles, nil
}
