package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/requirement"
)

type roleRecord struct {
	ID                 string `gorm:"primaryKey;size:64"`
	Name               string `gorm:"uniqueIndex;size:128;not null"`
	Tier               int
	RequirementsMode   string `gorm:"size:32"`
	NominationEnabled  bool
	VotesRequired      int
	EligibleNominators string `gorm:"type:text"`
	Groups             string `gorm:"type:text"`
	DeletedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (roleRecord) TableName() string { return "roles" }

type memberRecord struct {
	DiscordID     string `gorm:"primaryKey;size:64"`
	GuildID       string `gorm:"size:64;index"`
	Username      string `gorm:"size:128"`
	JoinedAt      time.Time
	GuildJoinedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (memberRecord) TableName() string { return "members" }

type heldRoleRecord struct {
	ID         uint   `gorm:"primaryKey"`
	MemberID   string `gorm:"size:64;not null;uniqueIndex:idx_member_role"`
	RoleName   string `gorm:"size:128;not null;uniqueIndex:idx_member_role"`
	RoleID     string `gorm:"size:64"`
	ShortName  string `gorm:"size:32"`
	ObtainedAt time.Time
}

func (heldRoleRecord) TableName() string { return "member_roles" }

type accountRecord struct {
	Key      string `gorm:"column:account_key;primaryKey;size:64"`
	MemberID string `gorm:"size:64;not null;index"`
	Funded   bool
	LinkedAt time.Time
}

func (accountRecord) TableName() string { return "linked_accounts" }

type socialRecord struct {
	ID       uint   `gorm:"primaryKey"`
	MemberID string `gorm:"size:64;not null;uniqueIndex:idx_member_provider"`
	Provider string `gorm:"size:32;not null;uniqueIndex:idx_member_provider"`
	Handle   string `gorm:"size:128"`
}

func (socialRecord) TableName() string { return "member_socials" }

type badgeRecord struct {
	ID         uint   `gorm:"primaryKey"`
	MemberID   string `gorm:"size:64;not null;uniqueIndex:idx_badge_owner_code"`
	AccountKey string `gorm:"size:64;not null;index;uniqueIndex:idx_badge_owner_code"`
	Code       string `gorm:"size:64;not null;uniqueIndex:idx_badge_owner_code"`
	Category   string `gorm:"size:64"`
	EarnedAt   time.Time
}

func (badgeRecord) TableName() string { return "badges" }

type threadRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	GuildID     string `gorm:"size:64"`
	NominatorID string `gorm:"size:64;not null"`
	NomineeID   string `gorm:"size:64;not null;index:idx_nominee_role"`
	RoleID      string `gorm:"size:64"`
	RoleName    string `gorm:"size:128;not null;index:idx_nominee_role"`
	VoteCount   int    `gorm:"not null;default:0"`
	Status      string `gorm:"size:16;index"`
	CloseReason string `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (threadRecord) TableName() string { return "nomination_threads" }

type voteRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	ThreadID  string `gorm:"size:64;not null;uniqueIndex:idx_thread_voter"`
	VoterID   string `gorm:"size:64;not null;uniqueIndex:idx_thread_voter"`
	CreatedAt time.Time
}

func (voteRecord) TableName() string { return "votes" }

type decisionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	GuildID   string `gorm:"size:64"`
	MemberID  string `gorm:"size:64;index"`
	Action    string `gorm:"size:16"`
	Requested string `gorm:"size:128"`
	Role      string `gorm:"size:128"`
	Success   bool
	Status    int
	Reason    string `gorm:"type:text"`
	DryRun    bool
	Override  bool
	CreatedAt time.Time `gorm:"index"`
}

func (decisionRecord) TableName() string { return "decisions" }

func roleToRecord(r *model.Role) (roleRecord, error) {
	doc := requirement.EncodeRole(r)
	groups, err := json.Marshal(doc.Groups)
	if err != nil {
		return roleRecord{}, fmt.Errorf("encode groups of %s: %w", r.Name, err)
	}
	nominators, err := json.Marshal(r.EligibleNominators)
	if err != nil {
		return roleRecord{}, fmt.Errorf("encode nominators of %s: %w", r.Name, err)
	}
	return roleRecord{
		ID:                 r.ID,
		Name:               r.Name,
		Tier:               int(r.Tier),
		RequirementsMode:   string(r.RequirementsMode),
		NominationEnabled:  r.NominationEnabled,
		VotesRequired:      r.VotesRequired,
		EligibleNominators: string(nominators),
		Groups:             string(groups),
		DeletedAt:          r.DeletedAt,
	}, nil
}

// toModel decodes a stored role. Stored definitions were validated on the
// way in, so they are decoded without re-validating.
func (rec roleRecord) toModel() (model.Role, error) {
	r := model.Role{
		ID:                rec.ID,
		Name:              rec.Name,
		Tier:              model.Tier(rec.Tier),
		RequirementsMode:  model.RequirementsMode(rec.RequirementsMode),
		NominationEnabled: rec.NominationEnabled,
		VotesRequired:     rec.VotesRequired,
		DeletedAt:         rec.DeletedAt,
	}
	if rec.EligibleNominators != "" {
		if err := json.Unmarshal([]byte(rec.EligibleNominators), &r.EligibleNominators); err != nil {
			return model.Role{}, fmt.Errorf("decode nominators of %s: %w", rec.Name, err)
		}
	}
	var groups []requirement.GroupDocument
	if rec.Groups != "" {
		if err := json.Unmarshal([]byte(rec.Groups), &groups); err != nil {
			return model.Role{}, fmt.Errorf("decode groups of %s: %w", rec.Name, err)
		}
	}
	for _, g := range groups {
		reqs, err := requirement.FromDocuments(g.Requirements)
		if err != nil {
			return model.Role{}, fmt.Errorf("decode group %q of %s: %w", g.Name, rec.Name, err)
		}
		r.Groups = append(r.Groups, model.RequirementGroup{ID: g.ID, Name: g.Name, Mode: model.GroupMode(g.Mode), Requirements: reqs})
	}
	return r, nil
}

func threadToRecord(t *model.NominationThread) threadRecord {
	return threadRecord{
		ID:          t.ID,
		GuildID:     t.GuildID,
		NominatorID: t.NominatorID,
		NomineeID:   t.NomineeID,
		RoleID:      t.RoleID,
		RoleName:    t.RoleName,
		VoteCount:   t.VoteCount,
		Status:      string(t.Status),
		CloseReason: string(t.CloseReason),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (rec threadRecord) toModel() model.NominationThread {
	return model.NominationThread{
		ID:          rec.ID,
		GuildID:     rec.GuildID,
		NominatorID: rec.NominatorID,
		NomineeID:   rec.NomineeID,
		RoleID:      rec.RoleID,
		RoleName:    rec.RoleName,
		VoteCount:   rec.VoteCount,
		Status:      model.ThreadStatus(rec.Status),
		CloseReason: model.CloseReason(rec.CloseReason),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (rec decisionRecord) toModel() model.DecisionRecord {
	return model.DecisionRecord{
		ID:        rec.ID,
		GuildID:   rec.GuildID,
		MemberID:  rec.MemberID,
		Action:    rec.Action,
		Requested: rec.Requested,
		Role:      rec.Role,
		Success:   rec.Success,
		Status:    rec.Status,
		Reason:    rec.Reason,
		DryRun:    rec.DryRun,
		Override:  rec.Override,
		CreatedAt: rec.CreatedAt,
	}
}
