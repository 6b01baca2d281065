// services/reward_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-ladder/models"
)

// errStaleStanding means a standing or aggregate moved between read and
// write inside the completion transaction.
var errStaleStanding = errors.New("standing changed during distribution")

// RewardService credits ladder standings, squad aggregates and player stats
// exactly once per completed match.
type RewardService struct {
	DB       *gorm.DB
	Store    *MatchStore
	Config   RewardConfigResolver
	Ladders  LadderRegistry
	Squads   SquadDirectory
	Notifier *Notifier
	Clock    clockwork.Clock
	Rand     Randomizer
	Log      zerolog.Logger
}

func NewRewardService(db *gorm.DB, store *MatchStore, cfg RewardConfigResolver, ladders LadderRegistry,
	squads SquadDirectory, notifier *Notifier, clock clockwork.Clock, rnd Randomizer, log zerolog.Logger,
) *RewardService {
	return &RewardService{
		DB:       db,
		Store:    store,
		Config:   cfg,
		Ladders:  ladders,
		Squads:   squads,
		Notifier: notifier,
		Clock:    clock,
		Rand:     rnd,
		Log:      log.With().Str("component", "rewards").Logger(),
	}
}

type distributionPlan struct {
	scope          models.RewardScope
	table          models.RewardTable
	winnerID       string
	loserID        string
	winnerRoster   []models.RosterEntry
	loserRoster    []models.RosterEntry
	winnerFallback bool
	loserFallback  bool
	xpRolls        []int64
}

// plan resolves everything distribution needs from collaborators before the
// transaction opens. Any lookup failure aborts the completion.
func (s *RewardService) plan(ctx context.Context, m *models.Match) (*distributionPlan, error) {
	if m.Result == nil || !m.IsParticipant(m.Result.Winner) || m.Opponent() == "" {
		return nil, preconditionErr(CodeInvalidWinner, "match %s has no valid winner", m.ID)
	}
	p := &distributionPlan{
		scope:    models.RewardScopeLadder,
		winnerID: m.Result.Winner,
		loserID:  m.OtherSquad(m.Result.Winner),
	}

	ladder, err := s.Ladders.GetLadder(ctx, m.LadderID)
	switch {
	case errors.Is(err, ErrLadderNotFound):
		ladder = nil
	case err != nil:
		return nil, dependencyErr(CodeRegistryUnavailable, err, "ladder registry unavailable")
	}
	if ladder != nil && ladder.Ranked {
		p.scope = models.RewardScopeRanked
		p.table, err = s.Config.RankedRewards(ctx, ladder.GameMode, m.Mode)
	} else {
		p.table, err = s.Config.LadderRewards(ctx, m.LadderID)
	}
	if err != nil {
		return nil, dependencyErr(CodeRewardConfigFailure, err, "reward config unavailable")
	}

	winnerRoster, loserRoster := m.ChallengerRoster, m.OpponentRoster
	if p.winnerID != m.ChallengerID {
		winnerRoster, loserRoster = loserRoster, winnerRoster
	}
	if p.winnerRoster, p.winnerFallback, err = s.rosterFor(ctx, p.winnerID, winnerRoster, m.TeamSize); err != nil {
		return nil, err
	}
	if p.loserRoster, p.loserFallback, err = s.rosterFor(ctx, p.loserID, loserRoster, m.TeamSize); err != nil {
		return nil, err
	}

	p.xpRolls = make([]int64, len(p.winnerRoster))
	for i := range p.xpRolls {
		p.xpRolls[i] = rollBetween(s.Rand, p.table.XPMin, p.table.XPMax)
	}
	return p, nil
}

// rosterFor falls back to the squad's current membership when no snapshot was taken.
func (s *RewardService) rosterFor(ctx context.Context, squadID string, snapshot []models.RosterEntry, teamSize int) ([]models.RosterEntry, bool, error) {
	if len(snapshot) > 0 {
		return snapshot, false, nil
	}
	members, err := s.Squads.Members(ctx, squadID)
	if err != nil {
		return nil, false, dependencyErr(CodeDirectoryUnavailable, err, "failed to derive roster for %s", squadID)
	}
	if teamSize > 0 && len(members) > teamSize {
		members = members[:teamSize]
	}
	out := make([]models.RosterEntry, 0, len(members))
	for _, mem := range members {
		out = append(out, models.RosterEntry{PlayerID: mem.PlayerID, DisplayName: mem.DisplayName})
	}
	return out, true, nil
}

// completeAndDistribute commits a completed match together with its rewards.
// m must already carry status completed and its result; on success it also
// carries the ledger and the bumped version.
func (s *RewardService) completeAndDistribute(ctx context.Context, m *models.Match) error {
	if m.Status != models.MatchStatusCompleted {
		return preconditionErr(CodeRewardsNotDue, "match %s is %s, not completed", m.ID, m.Status)
	}
	if m.RewardsDistributed {
		return nil
	}
	p, err := s.plan(ctx, m)
	if err != nil {
		return err
	}
	now := s.Clock.Now().UTC()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger, err := s.apply(tx, m, p, now)
		if err != nil {
			return err
		}
		m.RewardsGiven = ledger
		m.RewardsDistributed = true
		return saveMatch(tx, m)
	})
	if err != nil {
		m.RewardsGiven = nil
		m.RewardsDistributed = false
		return err
	}

	s.Log.Info().
		Str("match_id", m.ID).
		Str("winner", p.winnerID).
		Str("loser", p.loserID).
		Int64("winner_points", m.RewardsGiven.Winner.LadderPoints.Applied).
		Int64("loser_points", m.RewardsGiven.Loser.LadderPoints.Applied).
		Int64("loser_points_requested", m.RewardsGiven.Loser.LadderPoints.Requested).
		Int("players", len(m.RewardsGiven.Players)).
		Msg("🏆 rewards distributed")
	return nil
}

func (s *RewardService) apply(tx *gorm.DB, m *models.Match, p *distributionPlan, now time.Time) (*models.RewardLedger, error) {
	ledger := &models.RewardLedger{
		Scope:         p.scope,
		Table:         p.table,
		Winner:        models.SquadReward{SquadID: p.winnerID, RosterFallback: p.winnerFallback},
		Loser:         models.SquadReward{SquadID: p.loserID, RosterFallback: p.loserFallback},
		DistributedAt: now,
	}

	var err error
	if ledger.Winner.LadderPoints, err = adjustStanding(tx, m.LadderID, p.winnerID, p.table.WinPoints, true); err != nil {
		return nil, err
	}
	if ledger.Loser.LadderPoints, err = adjustStanding(tx, m.LadderID, p.loserID, -p.table.LossPoints, false); err != nil {
		return nil, err
	}
	if ledger.Winner.SquadPoints, err = adjustSquad(tx, p.winnerID, p.table.SquadWinPoints, true); err != nil {
		return nil, err
	}
	if ledger.Loser.SquadPoints, err = adjustSquad(tx, p.loserID, -p.table.SquadLossPoints, false); err != nil {
		return nil, err
	}

	for i, entry := range p.winnerRoster {
		reward := models.PlayerReward{
			PlayerID: entry.PlayerID,
			SquadID:  p.winnerID,
			IsHelper: entry.IsHelper,
			Won:      true,
			Currency: p.table.WinCurrency,
			XP:       p.xpRolls[i],
		}
		if err := creditPlayer(tx, reward, now); err != nil {
			return nil, err
		}
		ledger.Players = append(ledger.Players, reward)
	}
	for _, entry := range p.loserRoster {
		reward := models.PlayerReward{
			PlayerID: entry.PlayerID,
			SquadID:  p.loserID,
			IsHelper: entry.IsHelper,
			Currency: p.table.LossCurrency,
		}
		if err := creditPlayer(tx, reward, now); err != nil {
			return nil, err
		}
		ledger.Players = append(ledger.Players, reward)
	}
	return ledger, nil
}

// ensureRow inserts row unless it exists, then loads the stored version into it.
func ensureRow(tx *gorm.DB, row any, query string, args ...any) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return err
	}
	return tx.Where(query, args...).First(row).Error
}

// clampedDelta applies delta to cur without going below zero.
func clampedDelta(cur, delta int64) models.StandingDelta {
	next := cur + delta
	if next < 0 {
		next = 0
	}
	return models.StandingDelta{Requested: delta, Applied: next - cur, Before: cur, After: next}
}

func adjustStanding(tx *gorm.DB, ladderID, squadID string, delta int64, won bool) (models.StandingDelta, error) {
	standing := models.LadderStanding{LadderID: ladderID, SquadID: squadID}
	if err := ensureRow(tx, &standing, "ladder_id = ? AND squad_id = ?", ladderID, squadID); err != nil {
		return models.StandingDelta{}, eris.Wrapf(err, "failed to load standing of %s", squadID)
	}
	d := clampedDelta(standing.Points, delta)
	counter := "losses"
	if won {
		counter = "wins"
	}
	res := tx.Model(&models.LadderStanding{}).
		Where("ladder_id = ? AND squad_id = ? AND points = ?", ladderID, squadID, d.Before).
		Updates(map[string]any{"points": d.After, counter: gorm.Expr(counter + " + 1")})
	if res.Error != nil {
		return models.StandingDelta{}, eris.Wrapf(res.Error, "failed to update standing of %s", squadID)
	}
	if res.RowsAffected == 0 {
		return models.StandingDelta{}, errStaleStanding
	}
	return d, nil
}

func adjustSquad(tx *gorm.DB, squadID string, delta int64, won bool) (models.StandingDelta, error) {
	stats := models.SquadStats{SquadID: squadID}
	if err := ensureRow(tx, &stats, "squad_id = ?", squadID); err != nil {
		return models.StandingDelta{}, eris.Wrapf(err, "failed to load squad stats of %s", squadID)
	}
	d := clampedDelta(stats.TotalPoints, delta)
	counter := "total_losses"
	if won {
		counter = "total_wins"
	}
	res := tx.Model(&models.SquadStats{}).
		Where("squad_id = ? AND total_points = ?", squadID, d.Before).
		Updates(map[string]any{"total_points": d.After, counter: gorm.Expr(counter + " + 1")})
	if res.Error != nil {
		return models.StandingDelta{}, eris.Wrapf(res.Error, "failed to update squad stats of %s", squadID)
	}
	if res.RowsAffected == 0 {
		return models.StandingDelta{}, errStaleStanding
	}
	return d, nil
}

func creditPlayer(tx *gorm.DB, r models.PlayerReward, now time.Time) error {
	p := models.PlayerStats{PlayerID: r.PlayerID, Level: 1, Rank: 1}
	if err := ensureRow(tx, &p, "player_id = ?", r.PlayerID); err != nil {
		return eris.Wrapf(err, "failed to load stats of %s", r.PlayerID)
	}
	prevXP := p.XP
	applyXP(&p, r.XP, now)

	updates := map[string]any{
		"xp":               p.XP,
		"level":            p.Level,
		"rank":             p.Rank,
		"last_level_up_at": p.LastLevelUpAt,
		"last_rank_up_at":  p.LastRankUpAt,
		"currency_balance": gorm.Expr("currency_balance + ?", r.Currency),
	}
	if r.Won {
		updates["wins"] = gorm.Expr("wins + 1")
	} else {
		updates["losses"] = gorm.Expr("losses + 1")
	}
	res := tx.Model(&models.PlayerStats{}).Where("player_id = ? AND xp = ?", r.PlayerID, prevXP).Updates(updates)
	if res.Error != nil {
		return eris.Wrapf(res.Error, "failed to credit %s", r.PlayerID)
	}
	if res.RowsAffected == 0 {
		return errStaleStanding
	}
	return nil
}

// Distribute credits a completed match that was left unrewarded. Calling it
// on an already rewarded match returns the match unchanged.
func (s *RewardService) Distribute(ctx context.Context, actor Actor, matchID string) (*models.Match, error) {
	if !Can(staffRole(actor), CanRepairRewards) {
		return nil, forbiddenErr(CodeInsufficientRole, "only staff can trigger reward distribution")
	}
	return s.distribute(ctx, matchID)
}

func (s *RewardService) distribute(ctx context.Context, matchID string) (*models.Match, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		m, err := s.Store.Get(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if m.Status != models.MatchStatusCompleted {
			return nil, preconditionErr(CodeRewardsNotDue, "match %s is %s, not completed", m.ID, m.Status)
		}
		if m.RewardsDistributed {
			return m, nil
		}
		next := m.Clone()
		err = s.completeAndDistribute(ctx, next)
		if errors.Is(err, errStaleVersion) || errors.Is(err, errStaleStanding) {
			continue
		}
		if err != nil {
			return nil, asCommandError(err, "reward distribution failed")
		}
		if s.Notifier != nil {
			s.Notifier.Notify(ctx, newMatchEvent(TopicRewardsDistributed, next, "", s.Clock.Now().UTC()))
		}
		return next, nil
	}
	return nil, conflictErr(CodeConcurrentUpdate, "match %s kept changing, retry", matchID)
}

// ResumePending credits every completed match still missing its rewards.
func (s *RewardService) ResumePending(ctx context.Context) (int, error) {
	pending, err := s.Store.Unrewarded(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, m := range pending {
		if _, err := s.distribute(ctx, m.ID); err != nil {
			s.Log.Error().Err(err).Str("match_id", m.ID).Msg("reward repair failed")
			continue
		}
		done++
	}
	return done, nil
}
