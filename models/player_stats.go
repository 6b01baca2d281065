package models

import "time"

// PlayerStats tracks per-player progression across every ladder. Helpers get
// a row too.
type PlayerStats struct {
	PlayerID        string `gorm:"primaryKey;type:varchar(64)" json:"player_id"`
	Wins            int64  `gorm:"not null;default:0" json:"wins"`
	Losses          int64  `gorm:"not null;default:0" json:"losses"`
	XP              int64  `gorm:"not null;default:0" json:"xp"`
	Level           int    `gorm:"not null;default:1" json:"level"`
	Rank            int    `gorm:"not null;default:1" json:"rank"` // Bronze(1)→Diamond(5)
	CurrencyBalance int64  `gorm:"not null;default:0" json:"currency_balance"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
	LastRankUpAt  *time.Time `json:"last_rank_up_at,omitempty"`

	Timestamps
}

// SquadStats holds squad-wide aggregates. TotalPoints never goes below zero.
type SquadStats struct {
	SquadID     string `gorm:"primaryKey;type:varchar(64)" json:"squad_id"`
	TotalPoints int64  `gorm:"not null;default:0" json:"total_points"`
	TotalWins   int64  `gorm:"not null;default:0" json:"total_wins"`
	TotalLosses int64  `gorm:"not null;default:0" json:"total_losses"`

	Timestamps
}
