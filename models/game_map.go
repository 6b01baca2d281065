package models

// GameMap is a playable map. An empty LadderID makes it available to every
// ladder running its game mode.
type GameMap struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	GameMode string `gorm:"type:varchar(64);index;not null" json:"game_mode"`
	LadderID string `gorm:"type:varchar(64);index;not null;default:''" json:"ladder_id,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Active   bool   `gorm:"not null;default:true" json:"active"`
}
