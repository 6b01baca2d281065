package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-ladder/models"
)

// completedUnrewarded inserts a match that completed without its rewards,
// as left behind by a crash between the two writes.
func (f *fixture) completedUnrewarded(t *testing.T, winner string) *models.Match {
	t.Helper()
	opp := "bravo"
	now := f.clock.Now().UTC()
	m := &models.Match{
		ID:               uuid.NewString(),
		LadderID:         "squad-team",
		Mode:             models.MatchModeStandard,
		GameMode:         "tdm",
		TeamSize:         2,
		MapPolicy:        models.MapPolicyRandom,
		Status:           models.MatchStatusCompleted,
		ChallengerID:     "alpha",
		OpponentID:       &opp,
		ChallengerRoster: []models.RosterEntry{{PlayerID: "alpha-lead"}, {PlayerID: "alpha-m1"}},
		OpponentRoster:   []models.RosterEntry{{PlayerID: "bravo-lead"}, {PlayerID: "bravo-m1"}},
		AcceptedAt:       &now,
		CompletedAt:      &now,
		Result: &models.MatchResult{
			Winner: winner, ReportedBy: winner, ReportedAt: now,
			Confirmed: true, ConfirmedAt: &now, Method: models.ResultDeclared,
		},
	}
	require.NoError(t, f.store.Insert(context.Background(), m))
	return m
}

func TestLossIsClampedAtZero(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	require.NoError(t, f.db.Model(&models.LadderStanding{}).
		Where("ladder_id = ? AND squad_id = ?", "squad-team", "bravo").
		Update("points", 5).Error)

	m := f.acceptedReadyMatch(t)
	m, err := f.matches.DeclareResult(context.Background(), player("alpha-lead"), m.ID, ResultInput{Winner: "alpha"})
	require.NoError(t, err)

	loser := m.RewardsGiven.Loser.LadderPoints
	assert.Equal(t, models.StandingDelta{Requested: -15, Applied: -5, Before: 5, After: 0}, loser)
	assert.Equal(t, int64(0), f.standing(t, "squad-team", "bravo").Points)

	winner := m.RewardsGiven.Winner.LadderPoints
	assert.Equal(t, models.StandingDelta{Requested: 25, Applied: 25, Before: 0, After: 25}, winner)

	squadLoss := m.RewardsGiven.Loser.SquadPoints
	assert.Equal(t, int64(-5), squadLoss.Requested)
	assert.Equal(t, int64(0), squadLoss.Applied)
}

func TestLedgerIsPersistedWithMatch(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	ctx := context.Background()

	m := f.acceptedReadyMatch(t)
	_, err := f.matches.DeclareResult(ctx, player("bravo-lead"), m.ID, ResultInput{Winner: "bravo"})
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.RewardsDistributed)
	require.NotNil(t, stored.RewardsGiven)
	assert.Equal(t, models.RewardScopeLadder, stored.RewardsGiven.Scope)
	assert.Equal(t, DefaultRewardTable, stored.RewardsGiven.Table)
	assert.Equal(t, "bravo", stored.RewardsGiven.Winner.SquadID)
	assert.Equal(t, "alpha", stored.RewardsGiven.Loser.SquadID)
	assert.Len(t, stored.RewardsGiven.Players, 4)
	assert.True(t, stored.RewardsGiven.DistributedAt.Equal(t0))
}

func TestDistributeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	ctx := context.Background()
	m := f.completedUnrewarded(t, "alpha")

	_, err := f.rewards.Distribute(ctx, player("alpha-lead"), m.ID)
	requireCode(t, err, KindForbidden, CodeInsufficientRole)

	first, err := f.rewards.Distribute(ctx, staff, m.ID)
	require.NoError(t, err)
	assert.True(t, first.RewardsDistributed)
	assert.Equal(t, int64(2), first.Version)

	again, err := f.rewards.Distribute(ctx, staff, m.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, again.Version)

	assert.Equal(t, int64(25), f.standing(t, "squad-team", "alpha").Points)
	assert.Equal(t, int64(1), f.standing(t, "squad-team", "alpha").Wins)
	assert.Equal(t, int64(100), f.playerStats(t, "alpha-lead").CurrencyBalance)
	assert.Equal(t, 1, f.events.count(TopicRewardsDistributed))
}

func TestDistributeRejectsUnfinishedMatch(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	m := f.acceptedReadyMatch(t)

	_, err := f.rewards.Distribute(context.Background(), staff, m.ID)
	requireCode(t, err, KindPrecondition, CodeRewardsNotDue)
}

func TestResumePendingCreditsEachMatchOnce(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	ctx := context.Background()
	f.completedUnrewarded(t, "alpha")
	f.clock.Advance(time.Minute)
	f.completedUnrewarded(t, "bravo")

	n, err := f.rewards.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.rewards.ResumePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	alpha := f.standing(t, "squad-team", "alpha")
	assert.Equal(t, int64(1), alpha.Wins)
	assert.Equal(t, int64(1), alpha.Losses)
	assert.Equal(t, int64(10), alpha.Points) // +25, then -15
}

func TestEmptyRosterFallsBackToMembership(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	ctx := context.Background()

	m, err := f.matches.CreateMatch(ctx, player("alpha-lead"), CreateMatchInput{LadderID: "squad-team", SquadID: "alpha", TeamSize: 3})
	require.NoError(t, err)
	m, err = f.matches.AcceptMatch(ctx, player("bravo-lead"), m.ID, AcceptMatchInput{SquadID: "bravo"})
	require.NoError(t, err)
	m, err = f.matches.DeclareResult(ctx, player("alpha-lead"), m.ID, ResultInput{Winner: "alpha"})
	require.NoError(t, err)

	ledger := m.RewardsGiven
	assert.True(t, ledger.Winner.RosterFallback)
	assert.True(t, ledger.Loser.RosterFallback)

	var credited []string
	for _, p := range ledger.Players {
		credited = append(credited, p.PlayerID)
	}
	assert.Equal(t, []string{"alpha-lead", "alpha-off", "alpha-m1", "bravo-lead", "bravo-off", "bravo-m1"}, credited)
}

func TestHelpersAreRewardedLikeMembers(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	ctx := context.Background()

	m, err := f.matches.CreateMatch(ctx, player("alpha-lead"), CreateMatchInput{
		LadderID: "squad-team", SquadID: "alpha", TeamSize: 2,
		Roster: []RosterInput{{PlayerID: "alpha-lead"}, {PlayerID: "ringer", DisplayName: "Ringer", IsHelper: true}},
	})
	require.NoError(t, err)
	m, err = f.matches.AcceptMatch(ctx, player("bravo-lead"), m.ID, AcceptMatchInput{SquadID: "bravo", Roster: roster("bravo", "lead", "m1")})
	require.NoError(t, err)
	m, err = f.matches.DeclareResult(ctx, player("bravo-lead"), m.ID, ResultInput{Winner: "alpha"})
	require.NoError(t, err)

	ringer := f.playerStats(t, "ringer")
	lead := f.playerStats(t, "alpha-lead")
	assert.Equal(t, lead.Wins, ringer.Wins)
	assert.Equal(t, lead.CurrencyBalance, ringer.CurrencyBalance)

	var helper *models.PlayerReward
	for i := range m.RewardsGiven.Players {
		if m.RewardsGiven.Players[i].PlayerID == "ringer" {
			helper = &m.RewardsGiven.Players[i]
		}
	}
	require.NotNil(t, helper)
	assert.True(t, helper.IsHelper)
	assert.Equal(t, "alpha", helper.SquadID)
}

func TestRankedLadderUsesRankedTable(t *testing.T) {
	f := newFixture(t)
	f.ladder(t, "ranked-tdm", 2, 4, true)
	f.squad(t, "alpha", 2)
	f.squad(t, "bravo", 2)
	f.register(t, "ranked-tdm", "alpha", "bravo")
	f.seedMaps(t, "tdm", "Harbor", "Refinery", "Quarry")
	ctx := context.Background()

	table := DefaultRewardTable
	table.WinPoints = 40
	table.WinCurrency = 250
	_, err := f.config.SetRankedRewards(ctx, staff, "tdm", models.MatchModeStandard, table)
	require.NoError(t, err)
	// a ladder row must not leak into ranked resolution
	ladderTable := DefaultRewardTable
	ladderTable.WinPoints = 1
	_, err = f.config.SetLadderRewards(ctx, staff, "ranked-tdm", ladderTable)
	require.NoError(t, err)

	m, err := f.matches.CreateMatch(ctx, player("alpha-lead"), CreateMatchInput{LadderID: "ranked-tdm", SquadID: "alpha", TeamSize: 2})
	require.NoError(t, err)
	m, err = f.matches.AcceptMatch(ctx, player("bravo-lead"), m.ID, AcceptMatchInput{SquadID: "bravo"})
	require.NoError(t, err)
	m, err = f.matches.DeclareResult(ctx, player("alpha-lead"), m.ID, ResultInput{Winner: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, models.RewardScopeRanked, m.RewardsGiven.Scope)
	assert.Equal(t, int64(40), f.standing(t, "ranked-tdm", "alpha").Points)
	assert.Equal(t, int64(250), f.playerStats(t, "alpha-lead").CurrencyBalance)
}

type brokenRewardConfig struct{}

func (brokenRewardConfig) LadderRewards(context.Context, string) (models.RewardTable, error) {
	return models.RewardTable{}, errors.New("config store offline")
}

func (brokenRewardConfig) RankedRewards(context.Context, string, models.MatchMode) (models.RewardTable, error) {
	return models.RewardTable{}, errors.New("config store offline")
}

func (brokenRewardConfig) Invalidate(context.Context) error { return nil }

func TestRewardConfigFailureBlocksCompletion(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	ctx := context.Background()
	m := f.acceptedReadyMatch(t)
	f.rewards.Config = brokenRewardConfig{}

	_, err := f.matches.DeclareResult(ctx, player("alpha-lead"), m.ID, ResultInput{Winner: "alpha"})
	requireCode(t, err, KindDependency, CodeRewardConfigFailure)

	got, err := f.matches.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusInProgress, got.Status)
	assert.False(t, got.RewardsDistributed)
	assert.Nil(t, got.Result)
	assert.Equal(t, int64(0), f.standing(t, "squad-team", "alpha").Points)
	assert.Zero(t, f.events.count(TopicMatchCompleted))
}

func TestWinnerXPIsRolledWithinRange(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	ctx := context.Background()
	m := f.acceptedReadyMatch(t)

	f.rand.push(100, 30)
	m, err := f.matches.DeclareResult(ctx, player("alpha-lead"), m.ID, ResultInput{Winner: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, int64(150), f.playerStats(t, "alpha-lead").XP)
	assert.Equal(t, int64(80), f.playerStats(t, "alpha-m1").XP)
	for _, p := range m.RewardsGiven.Players {
		if p.Won {
			assert.GreaterOrEqual(t, p.XP, int64(50))
			assert.LessOrEqual(t, p.XP, int64(150))
		} else {
			assert.Zero(t, p.XP)
		}
	}
}

func TestRealRandomizerStaysWithinBounds(t *testing.T) {
	r := DefaultRandomizer()
	for i := 0; i < 500; i++ {
		v := rollBetween(r, 50, 150)
		require.GreaterOrEqual(t, v, int64(50))
		require.LessOrEqual(t, v, int64(150))
	}
	assert.Equal(t, int64(7), rollBetween(r, 7, 7))
	assert.Equal(t, int64(7), rollBetween(r, 7, 3))
}

func TestRewardsUseCompletionTime(t *testing.T) {
	f := newFixture(t)
	f.standardSetup(t)
	m := f.acceptedReadyMatch(t)
	f.clock.Advance(42 * time.Minute)

	m, err := f.matches.DeclareResult(context.Background(), player("alpha-lead"), m.ID, ResultInput{Winner: "alpha"})
	require.NoError(t, err)
	assert.True(t, m.RewardsGiven.DistributedAt.Equal(t0.Add(42*time.Minute)))
	assert.True(t, m.CompletedAt.Equal(t0.Add(42*time.Minute)))
}
