package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-ladder/models"
)

// DefaultRewardTable applies when no row exists for a ladder or ranked key.
var DefaultRewardTable = models.RewardTable{
	WinPoints:       25,
	LossPoints:      15,
	SquadWinPoints:  10,
	SquadLossPoints: 5,
	WinCurrency:     100,
	LossCurrency:    25,
	XPMin:           50,
	XPMax:           150,
}

// RewardConfigResolver returns the reward table for a completed match.
type RewardConfigResolver interface {
	LadderRewards(ctx context.Context, ladderID string) (models.RewardTable, error)
	RankedRewards(ctx context.Context, gameMode string, mode models.MatchMode) (models.RewardTable, error)
	Invalidate(ctx context.Context) error
}

type RewardConfigService struct {
	DB       *gorm.DB
	Cache    RewardCache
	Defaults models.RewardTable
	Log      zerolog.Logger
}

func NewRewardConfigService(db *gorm.DB, cache RewardCache, log zerolog.Logger) *RewardConfigService {
	return &RewardConfigService{
		DB:       db,
		Cache:    cache,
		Defaults: DefaultRewardTable,
		Log:      log.With().Str("component", "reward_config").Logger(),
	}
}

func ladderKey(ladderID string) string { return "ladder:" + ladderID }

func rankedKey(gameMode string, mode models.MatchMode) string {
	return fmt.Sprintf("ranked:%s:%s", gameMode, mode)
}

func (s *RewardConfigService) LadderRewards(ctx context.Context, ladderID string) (models.RewardTable, error) {
	return s.resolve(ctx, ladderKey(ladderID), func(q *gorm.DB) *gorm.DB {
		return q.Where("scope = ? AND ladder_id = ?", models.RewardScopeLadder, ladderID)
	})
}

func (s *RewardConfigService) RankedRewards(ctx context.Context, gameMode string, mode models.MatchMode) (models.RewardTable, error) {
	return s.resolve(ctx, rankedKey(gameMode, mode), func(q *gorm.DB) *gorm.DB {
		return q.Where("scope = ? AND game_mode = ? AND mode = ?", models.RewardScopeRanked, gameMode, mode)
	})
}

// resolve consults the cache, then storage. A storage error is returned to
// the caller; only a missing row falls back to the defaults. Cache failures
// are logged and bypassed.
func (s *RewardConfigService) resolve(ctx context.Context, key string, scope func(*gorm.DB) *gorm.DB) (models.RewardTable, error) {
	if table, ok, err := s.Cache.Get(ctx, key); err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("reward cache read failed")
	} else if ok {
		return table, nil
	}

	var row models.RewardConfig
	err := scope(s.DB.WithContext(ctx)).First(&row).Error
	table := row.RewardTable
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		table = s.Defaults
	case err != nil:
		return models.RewardTable{}, eris.Wrapf(err, "failed to load reward config %s", key)
	}

	if err := s.Cache.Set(ctx, key, table); err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("reward cache write failed")
	}
	return table, nil
}

func (s *RewardConfigService) Invalidate(ctx context.Context) error {
	if err := s.Cache.Flush(ctx); err != nil {
		return eris.Wrap(err, "failed to invalidate reward cache")
	}
	s.Log.Info().Msg("reward config cache invalidated")
	return nil
}

func validateRewardTable(t models.RewardTable) error {
	if t.WinPoints < 0 || t.LossPoints < 0 || t.SquadWinPoints < 0 || t.SquadLossPoints < 0 ||
		t.WinCurrency < 0 || t.LossCurrency < 0 || t.XPMin < 0 {
		return preconditionErr(CodeInvalidRequest, "reward amounts must not be negative")
	}
	if t.XPMax < t.XPMin {
		return preconditionErr(CodeInvalidRequest, "xp_max %d is below xp_min %d", t.XPMax, t.XPMin)
	}
	return nil
}

// SetLadderRewards upserts the table for a non-ranked ladder and drops the cache.
func (s *RewardConfigService) SetLadderRewards(ctx context.Context, actor Actor, ladderID string, table models.RewardTable) (*models.RewardConfig, error) {
	return s.upsert(ctx, actor, models.RewardConfig{
		Scope:       models.RewardScopeLadder,
		LadderID:    ladderID,
		RewardTable: table,
	})
}

// SetRankedRewards upserts the table shared by every ranked ladder of a game mode and match mode.
func (s *RewardConfigService) SetRankedRewards(ctx context.Context, actor Actor, gameMode string, mode models.MatchMode, table models.RewardTable) (*models.RewardConfig, error) {
	if !mode.Valid() {
		return nil, preconditionErr(CodeInvalidRequest, "unknown mode %q", mode)
	}
	return s.upsert(ctx, actor, models.RewardConfig{
		Scope:       models.RewardScopeRanked,
		GameMode:    gameMode,
		Mode:        mode,
		RewardTable: table,
	})
}

func (s *RewardConfigService) upsert(ctx context.Context, actor Actor, cfg models.RewardConfig) (*models.RewardConfig, error) {
	if !Can(staffRole(actor), CanConfigureReward) {
		return nil, forbiddenErr(CodeInsufficientRole, "only staff can configure rewards")
	}
	if err := validateRewardTable(cfg.RewardTable); err != nil {
		return nil, err
	}
	cfg.ID = uuid.NewString()
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}, {Name: "ladder_id"}, {Name: "game_mode"}, {Name: "mode"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"win_points", "loss_points", "squad_win_points", "squad_loss_points",
			"win_currency", "loss_currency", "xp_min", "xp_max", "updated_at",
		}),
	}).Create(&cfg).Error
	if err != nil {
		return nil, eris.Wrap(err, "failed to save reward config")
	}
	var saved models.RewardConfig
	err = s.DB.WithContext(ctx).
		Where("scope = ? AND ladder_id = ? AND game_mode = ? AND mode = ?", cfg.Scope, cfg.LadderID, cfg.GameMode, cfg.Mode).
		First(&saved).Error
	if err != nil {
		return nil, eris.Wrap(err, "failed to reload reward config")
	}
	if err := s.Invalidate(ctx); err != nil {
		s.Log.Error().Err(err).Msg("reward config saved but cache invalidation failed")
	}
	return &saved, nil
}

func staffRole(actor Actor) Role {
	if actor.IsStaff() {
		return RoleStaff
	}
	return RoleNone
}
