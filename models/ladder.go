package models

import "time"

// Ladder is a competitive bracket squads register to. Ranked ladders draw
// their rewards from the (game mode, match mode) table instead of a ladder table.
type Ladder struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	GameMode    string    `gorm:"type:varchar(64);not null" json:"game_mode"`
	Mode        MatchMode `gorm:"type:varchar(16);not null" json:"mode"`
	MinTeamSize int       `gorm:"not null" json:"min_team_size"`
	MaxTeamSize int       `gorm:"not null" json:"max_team_size"`
	Ranked      bool      `gorm:"not null;default:false" json:"ranked"`
	Active      bool      `gorm:"not null;default:true" json:"active"`

	Timestamps
}

type LadderRegistration struct {
	LadderID     string    `gorm:"primaryKey;type:varchar(64)" json:"ladder_id"`
	SquadID      string    `gorm:"primaryKey;type:varchar(64)" json:"squad_id"`
	RegisteredBy string    `json:"registered_by"`
	RegisteredAt time.Time `json:"registered_at"`
}

// LadderStanding is a squad's record on a single ladder. Points never go below zero.
type LadderStanding struct {
	LadderID string `gorm:"primaryKey;type:varchar(64)" json:"ladder_id"`
	SquadID  string `gorm:"primaryKey;type:varchar(64)" json:"squad_id"`
	Points   int64  `gorm:"not null;default:0" json:"points"`
	Wins     int64  `gorm:"not null;default:0" json:"wins"`
	Losses   int64  `gorm:"not null;default:0" json:"losses"`

	Timestamps
}
