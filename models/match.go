package models

import (
	"time"
)

type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "pending"
	MatchStatusAccepted   MatchStatus = "accepted"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusDisputed   MatchStatus = "disputed"
	MatchStatusCancelled  MatchStatus = "cancelled"
	MatchStatusExpired    MatchStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusCancelled || s == MatchStatusExpired
}

// Live statuses block overlapping schedules and count for the rematch cooldown.
func (s MatchStatus) Live() bool {
	return s == MatchStatusPending || s == MatchStatusAccepted || s == MatchStatusInProgress
}

type MatchMode string

const (
	MatchModeStandard MatchMode = "standard"
	MatchModeHardcore MatchMode = "hardcore"
)

func (m MatchMode) Valid() bool {
	return m == MatchModeStandard || m == MatchModeHardcore
}

type MapPolicy string

const (
	MapPolicyFixed  MapPolicy = "fixed"
	MapPolicyRandom MapPolicy = "random"
)

type HostTeam string

const (
	HostChallenger HostTeam = "challenger"
	HostOpponent   HostTeam = "opponent"
)

// RosterEntry is a player snapshot taken when a squad commits to a match.
type RosterEntry struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	IsHelper    bool   `json:"is_helper"`
}

type ResultMethod string

const (
	ResultDeclared ResultMethod = "declared"
	ResultReported ResultMethod = "reported"
	ResultStaff    ResultMethod = "staff"
)

type MatchResult struct {
	Winner          string       `json:"winner"`
	ReportedBy      string       `json:"reported_by"`
	ReportedAt      time.Time    `json:"reported_at"`
	ChallengerScore *int         `json:"challenger_score,omitempty"`
	OpponentScore   *int         `json:"opponent_score,omitempty"`
	Confirmed       bool         `json:"confirmed"`
	ConfirmedBy     string       `json:"confirmed_by,omitempty"`
	ConfirmedAt     *time.Time   `json:"confirmed_at,omitempty"`
	Method          ResultMethod `json:"method"`
}

type Evidence struct {
	ID          string    `json:"id"`
	SquadID     string    `json:"squad_id,omitempty"` // empty for staff uploads
	SubmittedBy string    `json:"submitted_by"`
	URL         string    `json:"url"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type DisputeResolution string

const (
	ResolutionWinnerAssigned DisputeResolution = "winner_assigned"
	ResolutionCancelled      DisputeResolution = "cancelled"
	ResolutionReverted       DisputeResolution = "reverted"
)

type Dispute struct {
	IsDisputed bool              `json:"is_disputed"`
	DisputedBy string            `json:"disputed_by"`
	Reason     string            `json:"reason"`
	DisputedAt time.Time         `json:"disputed_at"`
	Evidence   []Evidence        `json:"evidence"`
	ResolvedBy string            `json:"resolved_by,omitempty"`
	Resolution DisputeResolution `json:"resolution,omitempty"`
	Winner     string            `json:"winner,omitempty"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// EvidenceCount returns how many items squadID has attached.
func (d *Dispute) EvidenceCount(squadID string) int {
	n := 0
	for _, e := range d.Evidence {
		if e.SquadID == squadID {
			n++
		}
	}
	return n
}

// Match is a challenge between two squads on a ladder. Every write goes
// through a compare-and-swap on Version.
type Match struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	LadderID  string    `gorm:"index;not null" json:"ladder_id"`
	Mode      MatchMode `gorm:"type:varchar(16);not null" json:"mode"`
	GameMode  string    `gorm:"type:varchar(64)" json:"game_mode"`
	TeamSize  int       `gorm:"not null" json:"team_size"`
	MapPolicy MapPolicy `gorm:"type:varchar(16);not null" json:"map_policy"`
	FixedMap  string    `json:"fixed_map,omitempty"`
	Maps      []GameMap `gorm:"serializer:json" json:"maps"`

	Status MatchStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	ChallengerID     string        `gorm:"index;not null" json:"challenger_id"`
	OpponentID       *string       `gorm:"index" json:"opponent_id,omitempty"`
	ChallengerRoster []RosterEntry `gorm:"serializer:json" json:"challenger_roster"`
	OpponentRoster   []RosterEntry `gorm:"serializer:json" json:"opponent_roster"`
	HostTeam         HostTeam      `gorm:"type:varchar(16)" json:"host_team,omitempty"`
	CreatedBy        string        `json:"created_by"`
	AcceptedBy       string        `json:"accepted_by,omitempty"`

	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	ReadyCreatedAt *time.Time `json:"ready_created_at,omitempty"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`

	Result         *MatchResult  `gorm:"serializer:json" json:"result,omitempty"`
	Dispute        *Dispute      `gorm:"serializer:json" json:"dispute,omitempty"`
	CancelRequests []string      `gorm:"serializer:json" json:"cancel_requests"`
	CancelledBy    string        `json:"cancelled_by,omitempty"`
	RewardsGiven   *RewardLedger `gorm:"serializer:json" json:"rewards_given,omitempty"`
	// RewardsDistributed flips to true in the same transaction that credits the ledger.
	RewardsDistributed bool `gorm:"not null;default:false;index" json:"rewards_distributed"`

	Version int64 `gorm:"not null;default:1" json:"version"`

	Timestamps
}

func (m *Match) IsReady() bool {
	return m.ScheduledAt == nil
}

func (m *Match) Opponent() string {
	if m.OpponentID == nil {
		return ""
	}
	return *m.OpponentID
}

// IsParticipant reports whether squadID is the challenger or the opponent.
func (m *Match) IsParticipant(squadID string) bool {
	return squadID != "" && (squadID == m.ChallengerID || squadID == m.Opponent())
}

// OtherSquad returns the participant that is not squadID.
func (m *Match) OtherSquad(squadID string) string {
	if squadID == m.ChallengerID {
		return m.Opponent()
	}
	return m.ChallengerID
}

func (m *Match) HasCancelRequest(squadID string) bool {
	for _, s := range m.CancelRequests {
		if s == squadID {
			return true
		}
	}
	return false
}

// Clone copies the match deeply enough that mutating the copy's slices and
// nested structs leaves the original untouched.
func (m *Match) Clone() *Match {
	c := *m
	c.Maps = append([]GameMap(nil), m.Maps...)
	c.ChallengerRoster = append([]RosterEntry(nil), m.ChallengerRoster...)
	c.OpponentRoster = append([]RosterEntry(nil), m.OpponentRoster...)
	c.CancelRequests = append([]string(nil), m.CancelRequests...)
	if m.OpponentID != nil {
		id := *m.OpponentID
		c.OpponentID = &id
	}
	if m.Result != nil {
		r := *m.Result
		c.Result = &r
	}
	if m.Dispute != nil {
		d := *m.Dispute
		d.Evidence = append([]Evidence(nil), m.Dispute.Evidence...)
		c.Dispute = &d
	}
	if m.RewardsGiven != nil {
		l := *m.RewardsGiven
		l.Players = append([]PlayerReward(nil), m.RewardsGiven.Players...)
		c.RewardsGiven = &l
	}
	return &c
}
