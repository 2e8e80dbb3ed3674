// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// Tier is one of the four strictly ordered community ranks.
// The zero value is TierNone and ranks below every real tier.
type Tier int

// Tier values in ascending order.
const (
	TierNone Tier = iota
	TierVerified
	TierPathfinder
	TierNavigator
	TierPilot
)

// Tiers lists every real tier in ascending order.
var Tiers = []Tier{TierVerified, TierPathfinder, TierNavigator, TierPilot} //nolint:gochecknoglobals // fixed enum table

func (t Tier) String() string {
	switch t {
	case TierVerified:
		return "Verified"
	case TierPathfinder:
		return "Pathfinder"
	case TierNavigator:
		return "Navigator"
	case TierPilot:
		return "Pilot"
	default:
		return "None"
	}
}

// Valid reports whether t is one of the four real tiers.
func (t Tier) Valid() bool {
	return t >= TierVerified && t <= TierPilot
}

// Next returns the tier directly above t, or TierNone past the top.
func (t Tier) Next() Tier {
	if t >= TierPilot {
		return TierNone
	}
	return t + 1
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(strings.TrimSpace(s), t.String()) {
			return t, nil
		}
	}
	return TierNone, fmt.Errorf("%w: unknown tier %q", ErrValidation, s)
}

// TierOfRoleName maps a role name to its tier. Non-tier roles return TierNone.
func TierOfRoleName(name string) Tier {
	t, err := ParseTier(name)
	if err != nil {
		return TierNone
	}
	return t
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
