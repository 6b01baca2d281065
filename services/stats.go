package services

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"squad-ladder/models"
)

// StatsService reads the aggregates the reward engine maintains.
type StatsService struct {
	DB *gorm.DB
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db}
}

// PlayerProgress is a player's stats plus the derived level view.
type PlayerProgress struct {
	models.PlayerStats
	RankName    string `json:"rank_name"`
	NextLevelXP int64  `json:"next_level_xp"`
}

// SquadSummary is a squad's aggregate plus its standing on every ladder.
type SquadSummary struct {
	models.SquadStats
	Standings []models.LadderStanding `json:"standings"`
}

// Player returns the player's progress; players without a row are at level 1.
func (s *StatsService) Player(ctx context.Context, playerID string) (*PlayerProgress, error) {
	p := models.PlayerStats{PlayerID: playerID, Level: 1, Rank: 1}
	err := s.DB.WithContext(ctx).Where("player_id = ?", playerID).First(&p).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, eris.Wrapf(err, "failed to load stats of %s", playerID)
	}
	return &PlayerProgress{
		PlayerStats: p,
		RankName:    RankName(p.Rank),
		NextLevelXP: levelThreshold(p.Level),
	}, nil
}

func (s *StatsService) Squad(ctx context.Context, squadID string) (*SquadSummary, error) {
	out := &SquadSummary{SquadStats: models.SquadStats{SquadID: squadID}}
	err := s.DB.WithContext(ctx).Where("squad_id = ?", squadID).First(&out.SquadStats).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, eris.Wrapf(err, "failed to load squad stats of %s", squadID)
	}
	err = s.DB.WithContext(ctx).Where("squad_id = ?", squadID).Order("ladder_id ASC").Find(&out.Standings).Error
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load standings of %s", squadID)
	}
	return out, nil
}
