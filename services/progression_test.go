package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-ladder/models"
)

func TestApplyXPLevelsUp(t *testing.T) {
	p := &models.PlayerStats{Level: 1, Rank: 1}

	applyXP(p, 150, t0)
	assert.Equal(t, 1, p.Level)
	assert.Nil(t, p.LastLevelUpAt)

	applyXP(p, 100, t0)
	assert.Equal(t, int64(250), p.XP)
	assert.Equal(t, 2, p.Level)
	require.NotNil(t, p.LastLevelUpAt)
	assert.Nil(t, p.LastRankUpAt)
}

func TestApplyXPCrossesSeveralLevelsAndRank(t *testing.T) {
	p := &models.PlayerStats{}
	applyXP(p, levelThreshold(9), t0)

	assert.Equal(t, 10, p.Level)
	assert.Equal(t, 2, p.Rank)
	require.NotNil(t, p.LastRankUpAt)
	assert.Equal(t, "Silver", RankName(p.Rank))
}

func TestRankNames(t *testing.T) {
	assert.Equal(t, "Bronze", RankName(0))
	assert.Equal(t, "Gold", RankName(3))
	assert.Equal(t, "Diamond", RankName(5))
	assert.Equal(t, "Legend", RankName(6))
	assert.Equal(t, 5, determineRank(150))
	assert.Equal(t, 1, determineRank(9))
}
