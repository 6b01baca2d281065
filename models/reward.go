package models

import "time"

type RewardScope string

const (
	RewardScopeLadder RewardScope = "ladder"
	RewardScopeRanked RewardScope = "ranked"
)

// RewardTable is the point and currency schedule applied when a match completes.
type RewardTable struct {
	WinPoints       int64 `json:"win_points"`
	LossPoints      int64 `json:"loss_points"`
	SquadWinPoints  int64 `json:"squad_win_points"`
	SquadLossPoints int64 `json:"squad_loss_points"`
	WinCurrency     int64 `json:"win_currency"`
	LossCurrency    int64 `json:"loss_currency"`
	XPMin           int64 `json:"xp_min"`
	XPMax           int64 `json:"xp_max"`
}

// RewardConfig stores one reward table, keyed either by ladder or by
// (game mode, match mode) for ranked ladders.
type RewardConfig struct {
	ID       string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Scope    RewardScope `gorm:"type:varchar(16);not null;uniqueIndex:idx_reward_config_key" json:"scope"`
	LadderID string      `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_reward_config_key" json:"ladder_id,omitempty"`
	GameMode string      `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_reward_config_key" json:"game_mode,omitempty"`
	Mode     MatchMode   `gorm:"type:varchar(16);not null;default:'';uniqueIndex:idx_reward_config_key" json:"mode,omitempty"`

	RewardTable `gorm:"embedded"`

	Timestamps
}

// StandingDelta records a points movement. Applied differs from Requested
// only when the floor at zero clamped a decrement.
type StandingDelta struct {
	Requested int64 `json:"requested"`
	Applied   int64 `json:"applied"`
	Before    int64 `json:"before"`
	After     int64 `json:"after"`
}

type SquadReward struct {
	SquadID        string        `json:"squad_id"`
	LadderPoints   StandingDelta `json:"ladder_points"`
	SquadPoints    StandingDelta `json:"squad_points"`
	RosterFallback bool          `json:"roster_fallback"`
}

type PlayerReward struct {
	PlayerID string `json:"player_id"`
	SquadID  string `json:"squad_id"`
	IsHelper bool   `json:"is_helper"`
	Won      bool   `json:"won"`
	Currency int64  `json:"currency"`
	XP       int64  `json:"xp"`
}

// RewardLedger is the persisted record of exactly what a completed match credited.
type RewardLedger struct {
	Scope         RewardScope    `json:"scope"`
	Table         RewardTable    `json:"table"`
	Winner        SquadReward    `json:"winner"`
	Loser         SquadReward    `json:"loser"`
	Players       []PlayerReward `json:"players"`
	DistributedAt time.Time      `json:"distributed_at"`
}
