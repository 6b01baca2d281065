package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-ladder/database"
	"squad-ladder/models"
	"squad-ladder/services"
)

type feed struct {
	mu      sync.Mutex
	batches [][]RemoteMember
	sinces  []string
	tokens  []string
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, r.URL.Query().Get("since"))
	f.tokens = append(f.tokens, r.Header.Get("X-Service-Token"))
	var batch []RemoteMember
	if len(f.batches) > 0 {
		batch, f.batches = f.batches[0], f.batches[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(memberChangesResponse{Members: batch})
}

func newStore(t *testing.T) *services.SquadMemberStore {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, database.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return services.NewSquadMemberStore(db)
}

func TestSquadSyncAppliesChanges(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	f := &feed{batches: [][]RemoteMember{
		{
			{SquadID: "alpha", PlayerID: "p1", Role: "leader", DisplayName: "One", JoinedAt: t1, UpdatedAt: t1},
			{SquadID: "alpha", PlayerID: "p2", Role: "captain", JoinedAt: t1, UpdatedAt: t1},
			{SquadID: "", PlayerID: "ghost", UpdatedAt: t1},
		},
		{
			{SquadID: "alpha", PlayerID: "p2", Removed: true, UpdatedAt: t2},
		},
	}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	store := newStore(t)
	w := NewSquadSyncWorker(store, srv.URL, "/api/v1/public/squads/members", "svc-token", time.Minute, zerolog.Nop())

	res, err := w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Upserted: 2, Failed: 1}, res)

	role, ok, err := store.MemberRole(ctx, "alpha", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SquadRoleLeader, role)

	// unknown roles are demoted to member
	role, ok, err = store.MemberRole(ctx, "alpha", "p2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SquadRoleMember, role)

	res, err = w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Removed: 1}, res)
	_, ok, err = store.MemberRole(ctx, "alpha", "p2")
	require.NoError(t, err)
	assert.False(t, ok)

	// the cursor moves past the removal even though no row carries it
	_, err = w.SyncOnce(ctx)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.sinces, 3)
	assert.Equal(t, "0001-01-01T00:00:00Z", f.sinces[0])
	assert.Equal(t, t1.Format(time.RFC3339), f.sinces[1])
	assert.Equal(t, t2.Format(time.RFC3339), f.sinces[2])
	assert.Equal(t, []string{"svc-token", "svc-token", "svc-token"}, f.tokens)
}

func TestSquadSyncResumesFromMirror(t *testing.T) {
	ctx := context.Background()
	last := time.Date(2026, 2, 20, 8, 30, 0, 0, time.UTC)
	store := newStore(t)
	require.NoError(t, store.Upsert(ctx, models.SquadMember{SquadID: "bravo", PlayerID: "p9", Role: models.SquadRoleMember, JoinedAt: last, UpdatedAt: last}))

	f := &feed{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	w := NewSquadSyncWorker(store, srv.URL, "/changes", "tok", 0, zerolog.Nop())
	res, err := w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{last.Format(time.RFC3339)}, f.sinces)
}

func TestSquadSyncRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	w := NewSquadSyncWorker(newStore(t), srv.URL, "/changes", "tok", time.Minute, zerolog.Nop())
	_, err := w.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	w = NewSquadSyncWorker(newStore(t), "://bad", "/changes", "tok", time.Minute, zerolog.Nop())
	_, err = w.SyncOnce(context.Background())
	require.Error(t, err)
}

func TestSquadSyncWorkerStopsWithContext(t *testing.T) {
	f := &feed{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewSquadSyncWorker(newStore(t), srv.URL, "/changes", "tok", time.Hour, zerolog.Nop())
	w.Start(ctx)

	assert.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.sinces) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
}
