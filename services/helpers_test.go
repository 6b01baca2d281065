package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"squad-ladder/database"
	"squad-ladder/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seqRand replays queued values (reduced mod n) and then returns zero.
type seqRand struct {
	mu     sync.Mutex
	values []int
}

func (r *seqRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[0]
	r.values = r.values[1:]
	return v % n
}

func (r *seqRand) push(values ...int) {
	r.mu.Lock()
	r.values = append(r.values, values...)
	r.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

func (p *recordingPublisher) count(topic string) int {
	n := 0
	for _, t := range p.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, Event) error {
	return errors.New("broker down")
}

type fixture struct {
	db       *gorm.DB
	clock    *clockwork.FakeClock
	rand     *seqRand
	events   *recordingPublisher
	store    *MatchStore
	ladders  *LadderService
	squads   *SquadMemberStore
	maps     *MapService
	config   *RewardConfigService
	rewards  *RewardService
	matches  *MatchService
	notifier *Notifier
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, database.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:     newTestDB(t),
		clock:  clockwork.NewFakeClockAt(t0),
		rand:   &seqRand{},
		events: &recordingPublisher{},
	}
	log := zerolog.Nop()
	f.notifier = NewNotifier(log, f.events, failingPublisher{})
	f.store = NewMatchStore(f.db)
	f.squads = NewSquadMemberStore(f.db)
	f.ladders = NewLadderService(f.db, f.squads, f.clock)
	f.maps = NewMapService(f.db, f.rand)
	f.config = NewRewardConfigService(f.db, NewMemoryRewardCache(f.clock, 5*time.Minute), log)
	f.rewards = NewRewardService(f.db, f.store, f.config, f.ladders, f.squads, f.notifier, f.clock, f.rand, log)
	f.matches = NewMatchService(MatchServiceDeps{
		Store:    f.store,
		Ladders:  f.ladders,
		Squads:   f.squads,
		Maps:     f.maps,
		Rewards:  f.rewards,
		Notifier: f.notifier,
		Clock:    f.clock,
		Rand:     f.rand,
		Rules:    DefaultRules(),
		Log:      log,
	})
	return f
}

var staff = Actor{UserID: "mod-1", PlatformRoles: []string{"moderator"}}

func player(id string) Actor { return Actor{UserID: id} }

func (f *fixture) ladder(t *testing.T, id string, minSize, maxSize int, ranked bool) *models.Ladder {
	t.Helper()
	l := &models.Ladder{
		ID:          id,
		Name:        id,
		GameMode:    "tdm",
		Mode:        models.MatchModeStandard,
		MinTeamSize: minSize,
		MaxTeamSize: maxSize,
		Ranked:      ranked,
		Active:      true,
	}
	require.NoError(t, f.db.Create(l).Error)
	return l
}

// squad seeds a roster: <id>-lead, <id>-off and <id>-m1..mN.
func (f *fixture) squad(t *testing.T, id string, members int) {
	t.Helper()
	ctx := context.Background()
	join := t0.Add(-24 * time.Hour)
	require.NoError(t, f.squads.Upsert(ctx, models.SquadMember{SquadID: id, PlayerID: id + "-lead", Role: models.SquadRoleLeader, DisplayName: id + " Lead", JoinedAt: join, UpdatedAt: join}))
	require.NoError(t, f.squads.Upsert(ctx, models.SquadMember{SquadID: id, PlayerID: id + "-off", Role: models.SquadRoleOfficer, DisplayName: id + " Officer", JoinedAt: join.Add(time.Minute), UpdatedAt: join}))
	for i := 1; i <= members; i++ {
		pid := id + "-m" + string(rune('0'+i))
		require.NoError(t, f.squads.Upsert(ctx, models.SquadMember{SquadID: id, PlayerID: pid, Role: models.SquadRoleMember, DisplayName: pid, JoinedAt: join.Add(time.Duration(1+i) * time.Minute), UpdatedAt: join}))
	}
}

func (f *fixture) register(t *testing.T, ladderID string, squads ...string) {
	t.Helper()
	for _, sq := range squads {
		_, err := f.ladders.RegisterSquad(context.Background(), player(sq+"-lead"), ladderID, sq)
		require.NoError(t, err)
	}
}

func (f *fixture) seedMaps(t *testing.T, gameMode string, names ...string) {
	t.Helper()
	for _, n := range names {
		_, err := f.maps.CreateMap(context.Background(), staff, CreateMapInput{Name: n, GameMode: gameMode})
		require.NoError(t, err)
	}
}

// standardSetup creates ladder "squad-team" (sizes 2..6), squads alpha and
// bravo with four members each, both registered, and five maps.
func (f *fixture) standardSetup(t *testing.T) {
	t.Helper()
	f.ladder(t, "squad-team", 2, 6, false)
	f.squad(t, "alpha", 4)
	f.squad(t, "bravo", 4)
	f.register(t, "squad-team", "alpha", "bravo")
	f.seedMaps(t, "tdm", "Harbor", "Refinery", "Quarry", "Outpost", "Citadel")
}

func roster(squad string, ids ...string) []RosterInput {
	out := make([]RosterInput, 0, len(ids))
	for _, id := range ids {
		out = append(out, RosterInput{PlayerID: squad + "-" + id})
	}
	return out
}

// readyMatch creates a ready alpha challenge and has bravo accept it.
func (f *fixture) acceptedReadyMatch(t *testing.T) *models.Match {
	t.Helper()
	ctx := context.Background()
	m, err := f.matches.CreateMatch(ctx, player("alpha-lead"), CreateMatchInput{
		LadderID: "squad-team",
		SquadID:  "alpha",
		TeamSize: 2,
		Roster:   roster("alpha", "lead", "m1"),
	})
	require.NoError(t, err)
	m, err = f.matches.AcceptMatch(ctx, player("bravo-lead"), m.ID, AcceptMatchInput{
		SquadID: "bravo",
		Roster:  roster("bravo", "lead", "m1"),
	})
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusInProgress, m.Status)
	return m
}

func (f *fixture) standing(t *testing.T, ladderID, squadID string) models.LadderStanding {
	t.Helper()
	var s models.LadderStanding
	require.NoError(t, f.db.Where("ladder_id = ? AND squad_id = ?", ladderID, squadID).First(&s).Error)
	return s
}

func (f *fixture) squadStats(t *testing.T, squadID string) models.SquadStats {
	t.Helper()
	var s models.SquadStats
	require.NoError(t, f.db.Where("squad_id = ?", squadID).First(&s).Error)
	return s
}

func (f *fixture) playerStats(t *testing.T, playerID string) models.PlayerStats {
	t.Helper()
	var s models.PlayerStats
	require.NoError(t, f.db.Where("player_id = ?", playerID).First(&s).Error)
	return s
}

func requireCode(t *testing.T, err error, kind ErrorKind, code string) *MatchError {
	t.Helper()
	require.Error(t, err)
	me, ok := AsMatchError(err)
	require.True(t, ok, "expected MatchError, got %v", err)
	require.Equal(t, kind, me.Kind, "kind for %v", err)
	require.Equal(t, code, me.Code, "code for %v", err)
	return me
}
