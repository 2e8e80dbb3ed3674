package model

import "time"

// ThreadStatus is the lifecycle state of a nomination thread.
type ThreadStatus string

// Thread statuses. The empty value is "unset" for legacy threads and is
// treated as open.
const (
	ThreadUnset  ThreadStatus = ""
	ThreadOpen   ThreadStatus = "OPEN"
	ThreadClosed ThreadStatus = "CLOSED"
)

// CloseReason records why a thread closed.
type CloseReason string

// Close reasons.
const (
	ClosedNone     CloseReason = ""
	ClosedPromoted CloseReason = "promoted"
	ClosedExpired  CloseReason = "expired"
)

// ThreadTTL is the fixed lifetime of a nomination thread.
const ThreadTTL = 5 * 24 * time.Hour

// NominationThread is a peer nomination of a nominee for a role.
type NominationThread struct {
	ID          string       `json:"id"`
	GuildID     string       `json:"guild_id"`
	NominatorID string       `json:"nominator_id"`
	NomineeID   string       `json:"nominee_id"`
	RoleID      string       `json:"role_id"`
	RoleName    string       `json:"role_name"`
	VoteCount   int          `json:"vote_count"`
	Status      ThreadStatus `json:"status"`
	CloseReason CloseReason  `json:"close_reason,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// IsOpen reports whether the thread still accepts votes.
func (t *NominationThread) IsOpen() bool {
	return t.Status == ThreadOpen || t.Status == ThreadUnset
}

// Expired reports whether the thread outlived ThreadTTL at now.
func (t *NominationThread) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) > ThreadTTL
}

// Vote is one voter's support for a thread. (ThreadID, VoterID) is unique.
type Vote struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	VoterID   string    `json:"voter_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Tally summarises every thread nominating one member for one role.
type Tally struct {
	Nominations int `json:"nominations"`
	TotalVotes  int `json:"total_votes"`
	Successful  int `json:"successful"`
	// Winner is the successful thread with the greatest vote count.
	Winner *NominationThread `json:"winner,omitempty"`
}
