package services

import (
	"math"
	"time"

	"squad-ladder/models"
)

// LevelConfig: XP needed for *next* level (e.g., level 1 → 2 needs BaseXPPerLevel * 1^1.2)
const BaseXPPerLevel = 100

// xpForNextLevel returns XP required to reach level+1 from current level
func xpForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	// L_n = floor(BaseXPPerLevel * n^1.2)
	return int64(float64(BaseXPPerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// levelThreshold is the cumulative XP at which a player leaves level.
func levelThreshold(level int) int64 {
	return int64(BaseXPPerLevel)*int64(level) + xpForNextLevel(level)
}

// RankThresholds: rank → min level
var RankThresholds = map[int]int{
	1: 1,   // Bronze
	2: 10,  // Silver
	3: 25,  // Gold
	4: 50,  // Platinum
	5: 100, // Diamond
}

func determineRank(level int) int {
	for rank := 5; rank >= 1; rank-- {
		if level >= RankThresholds[rank] {
			return rank
		}
	}
	return 1
}

func RankName(rank int) string {
	switch rank {
	case 1:
		return "Bronze"
	case 2:
		return "Silver"
	case 3:
		return "Gold"
	case 4:
		return "Platinum"
	case 5:
		return "Diamond"
	default:
		if rank > 5 {
			return "Legend"
		}
		return "Bronze"
	}
}

// applyXP adds xp and levels the player up as many times as it covers.
// Ranks only ever move up.
func applyXP(p *models.PlayerStats, xp int64, now time.Time) {
	if p.Level < 1 {
		p.Level = 1
	}
	if p.Rank < 1 {
		p.Rank = 1
	}
	p.XP += xp
	for p.XP >= levelThreshold(p.Level) {
		p.Level++
		p.LastLevelUpAt = &now
	}
	if r := determineRank(p.Level); r > p.Rank {
		p.Rank = r
		p.LastRankUpAt = &now
	}
}
