package models

// All returns every persisted model, in migration order.
func All() []any {
	return []any{
		&Ladder{},
		&LadderRegistration{},
		&LadderStanding{},
		&SquadMember{},
		&SquadStats{},
		&PlayerStats{},
		&GameMap{},
		&RewardConfig{},
		&Match{},
	}
}
