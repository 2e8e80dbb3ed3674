package model

import (
	"strings"
	"time"
	"unicode"
)

// HeldRole is a role currently assigned to a member.
type HeldRole struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ShortName  string    `json:"short_name,omitempty"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// LinkedAccount is a Stellar account key proven to belong to a member.
type LinkedAccount struct {
	Key      string    `json:"key"`
	Funded   bool      `json:"funded"`
	LinkedAt time.Time `json:"linked_at"`
}

// SocialAccount is a verified third-party identity.
type SocialAccount struct {
	Provider string `json:"provider"`
	Handle   string `json:"handle"`
}

// Member is a snapshot of one community member. Roles is the authoritative
// current state as last synced from the chat platform.
type Member struct {
	DiscordID string          `json:"discord_id"`
	GuildID   string          `json:"guild_id"`
	Username  string          `json:"username"`
	Roles     []HeldRole      `json:"roles"`
	Accounts  []LinkedAccount `json:"accounts"`
	Socials   []SocialAccount `json:"socials,omitempty"`
	JoinedAt  time.Time       `json:"joined_at"`
	// GuildJoinedAt is when the member joined the guild, distinct from the account record.
	GuildJoinedAt time.Time `json:"guild_joined_at"`
}

// HoldsRole reports whether the member currently holds a role named name.
func (m *Member) HoldsRole(name string) bool {
	if m == nil {
		return false
	}
	for _, r := range m.Roles {
		if strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

// CurrentTier returns the highest tier role held, or TierNone.
func (m *Member) CurrentTier() Tier {
	best := TierNone
	if m == nil {
		return best
	}
	for _, r := range m.Roles {
		if t := TierOfRoleName(r.Name); t > best {
			best = t
		}
	}
	return best
}

// TierRoles returns every held role that is one of the four tiers.
func (m *Member) TierRoles() []HeldRole {
	var out []HeldRole
	for _, r := range m.Roles {
		if TierOfRoleName(r.Name).Valid() {
			out = append(out, r)
		}
	}
	return out
}

// HasKnownAccount reports whether a linked account key is on record.
func (m *Member) HasKnownAccount() bool {
	for _, a := range m.Accounts {
		if strings.TrimSpace(a.Key) != "" {
			return true
		}
	}
	return false
}

// HasSocial reports whether the member verified an identity with provider.
func (m *Member) HasSocial(provider string) bool {
	for _, s := range m.Socials {
		if strings.EqualFold(s.Provider, provider) && s.Handle != "" {
			return true
		}
	}
	return false
}

// Badge is a precomputed achievement earned by one of the member's accounts.
type Badge struct {
	Code       string    `json:"code"`
	Category   string    `json:"category,omitempty"`
	AccountKey string    `json:"account_key"`
	EarnedAt   time.Time `json:"earned_at"`
}

const uncategorized = "uncategorized"

// CategoryName returns the explicit category, else the code prefix before
// its first digit.
func (b Badge) CategoryName() string {
	if c := strings.TrimSpace(b.Category); c != "" {
		return c
	}
	i := strings.IndexFunc(b.Code, unicode.IsDigit)
	prefix := b.Code
	if i >= 0 {
		prefix = b.Code[:i]
	}
	if prefix == "" {
		return uncategorized
	}
	return prefix
}

// reputationPerBadge converts badge counts to externally surfaced reputation.
const reputationPerBadge = 5

// Reputation returns the reputation score for a badge count.
func Reputation(badgeCount int) int {
	return badgeCount * reputationPerBadge
}
