package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-ladder/models"
)

func TestCreateLadder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ladders.CreateLadder(ctx, player("alpha-lead"), CreateLadderInput{Name: "Squad Team", GameMode: "tdm", MinTeamSize: 2, MaxTeamSize: 6})
	requireCode(t, err, KindForbidden, CodeInsufficientRole)

	_, err = f.ladders.CreateLadder(ctx, staff, CreateLadderInput{Name: "Bad", GameMode: "tdm", MinTeamSize: 4, MaxTeamSize: 2})
	requireCode(t, err, KindPrecondition, CodeInvalidRequest)

	_, err = f.ladders.CreateLadder(ctx, staff, CreateLadderInput{ID: "Not A Slug", Name: "Bad", GameMode: "tdm", MinTeamSize: 1, MaxTeamSize: 2})
	requireCode(t, err, KindPrecondition, CodeInvalidRequest)

	l, err := f.ladders.CreateLadder(ctx, staff, CreateLadderInput{Name: "Squad Team Ladder", GameMode: "tdm", MinTeamSize: 2, MaxTeamSize: 6})
	require.NoError(t, err)
	assert.Equal(t, "squad-team-ladder", l.ID)
	assert.Equal(t, models.MatchModeStandard, l.Mode)

	got, err := f.ladders.GetLadder(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Squad Team Ladder", got.Name)

	_, err = f.ladders.GetLadder(ctx, "missing")
	assert.ErrorIs(t, err, ErrLadderNotFound)
}

func TestRegisterSquad(t *testing.T) {
	f := newFixture(t)
	f.ladder(t, "squad-team", 2, 6, false)
	f.squad(t, "alpha", 1)
	ctx := context.Background()

	_, err := f.ladders.RegisterSquad(ctx, player("alpha-off"), "squad-team", "alpha")
	requireCode(t, err, KindForbidden, CodeInsufficientRole)

	_, err = f.ladders.RegisterSquad(ctx, player("alpha-lead"), "missing", "alpha")
	requireCode(t, err, KindNotFound, CodeLadderNotFound)

	st, err := f.ladders.RegisterSquad(ctx, player("alpha-lead"), "squad-team", "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Points)

	_, err = f.ladders.RegisterSquad(ctx, player("alpha-lead"), "squad-team", "alpha")
	require.NoError(t, err)

	ok, err := f.ladders.IsRegistered(ctx, "alpha", "squad-team")
	require.NoError(t, err)
	assert.True(t, ok)

	// staff can register any squad
	_, err = f.ladders.RegisterSquad(ctx, staff, "squad-team", "bravo")
	require.NoError(t, err)

	require.NoError(t, f.ladders.UnregisterSquad(ctx, player("alpha-lead"), "squad-team", "alpha"))
	ok, err = f.ladders.IsRegistered(ctx, "alpha", "squad-team")
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := f.ladders.Standings(ctx, "squad-team", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStandingsOrder(t *testing.T) {
	f := newFixture(t)
	f.ladder(t, "squad-team", 2, 6, false)
	ctx := context.Background()
	for _, s := range []models.LadderStanding{
		{LadderID: "squad-team", SquadID: "charlie", Points: 50, Wins: 2},
		{LadderID: "squad-team", SquadID: "alpha", Points: 50, Wins: 3},
		{LadderID: "squad-team", SquadID: "bravo", Points: 75, Wins: 1},
		{LadderID: "other", SquadID: "delta", Points: 999},
	} {
		require.NoError(t, f.db.Create(&s).Error)
	}

	rows, err := f.ladders.Standings(ctx, "squad-team", 10)
	require.NoError(t, err)
	var order []string
	for _, r := range rows {
		order = append(order, r.SquadID)
	}
	assert.Equal(t, []string{"bravo", "alpha", "charlie"}, order)

	list, err := f.ladders.ListLadders(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
