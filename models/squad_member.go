package models

import "time"

type SquadRole string

const (
	SquadRoleLeader  SquadRole = "leader"
	SquadRoleOfficer SquadRole = "officer"
	SquadRoleMember  SquadRole = "member"
)

// SquadMember mirrors the external squad service's roster. Rows are
// upserted by the sync worker and read for role checks and roster fallback.
type SquadMember struct {
	SquadID     string    `gorm:"primaryKey;type:varchar(64)" json:"squad_id"`
	PlayerID    string    `gorm:"primaryKey;type:varchar(64);index" json:"player_id"`
	Role        SquadRole `gorm:"type:varchar(16);not null" json:"role"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}
