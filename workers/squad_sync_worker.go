// workers/squad_sync_worker.go
package workers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"squad-ladder/models"
	"squad-ladder/utils"
)

// MemberStore is the local roster mirror the worker writes to.
type MemberStore interface {
	Upsert(ctx context.Context, m models.SquadMember) error
	Remove(ctx context.Context, squadID, playerID string) error
	LatestUpdate(ctx context.Context) (time.Time, error)
}

// RemoteMember matches one row of the squad service's change feed.
type RemoteMember struct {
	SquadID     string    `json:"squad_id"`
	PlayerID    string    `json:"player_id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Removed     bool      `json:"removed"`
}

type memberChangesResponse struct {
	Members []RemoteMember `json:"members"`
}

// SyncResult counts what one batch did.
type SyncResult struct {
	Upserted int
	Removed  int
	Failed   int
}

type SquadSyncWorker struct {
	store        MemberStore
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	log          zerolog.Logger

	mu     sync.Mutex
	cursor time.Time
}

func NewSquadSyncWorker(store MemberStore, baseURL, endpointPath, serviceToken string, interval time.Duration, log zerolog.Logger) *SquadSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SquadSyncWorker{
		store:        store,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.NewHTTPClient(30 * time.Second),
		log:          log.With().Str("component", "squad_sync").Logger(),
	}
}

func (w *SquadSyncWorker) Start(ctx context.Context) {
	w.log.Info().Str("source", w.baseURL).Dur("interval", w.interval).Msg("🔁 starting squad sync worker")
	go w.run(ctx)
}

func (w *SquadSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.Warn().Err(err).Msg("⚠️ initial squad sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("❌ squad sync batch failed")
			}
		case <-ctx.Done():
			w.log.Info().Msg("⏹️ squad sync worker stopped")
			return
		}
	}
}

// since resumes from the newest change seen; on a cold start it falls back
// to the newest row already mirrored.
func (w *SquadSyncWorker) since(ctx context.Context) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor.IsZero() {
		latest, err := w.store.LatestUpdate(ctx)
		if err != nil {
			w.log.Warn().Err(err).Msg("falling back to full squad sync")
		}
		w.cursor = latest
	}
	return w.cursor
}

func (w *SquadSyncWorker) advance(to time.Time) {
	w.mu.Lock()
	if to.After(w.cursor) {
		w.cursor = to
	}
	w.mu.Unlock()
}

// SyncOnce pulls roster changes since the last batch and mirrors them.
// Rows that fail to apply are counted and logged; the batch continues.
func (w *SquadSyncWorker) SyncOnce(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	since := w.since(ctx).UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return result, eris.Wrapf(err, "invalid squad service URL %q", w.baseURL)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return result, eris.Wrap(err, "failed to build squad sync request")
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	w.log.Debug().Str("url", endpoint.String()).Msg("📡 fetching squad changes")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return result, eris.Wrap(err, "squad service request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return result, eris.Errorf("squad service returned %d: %s", resp.StatusCode, body)
	}

	var changes memberChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return result, eris.Wrap(err, "failed to decode squad changes")
	}
	if len(changes.Members) == 0 {
		return result, nil
	}

	var latest time.Time
	for _, rm := range changes.Members {
		if rm.SquadID == "" || rm.PlayerID == "" {
			result.Failed++
			continue
		}
		if rm.Removed {
			err = w.store.Remove(ctx, rm.SquadID, rm.PlayerID)
		} else {
			err = w.store.Upsert(ctx, models.SquadMember{
				SquadID:     rm.SquadID,
				PlayerID:    rm.PlayerID,
				Role:        normalizeRole(rm.Role),
				DisplayName: rm.DisplayName,
				JoinedAt:    rm.JoinedAt,
				UpdatedAt:   rm.UpdatedAt,
			})
		}
		if err != nil {
			result.Failed++
			w.log.Warn().Err(err).Str("squad_id", rm.SquadID).Str("player_id", rm.PlayerID).Msg("⚠️ failed to apply squad change")
			continue
		}
		if rm.Removed {
			result.Removed++
		} else {
			result.Upserted++
		}
		if rm.UpdatedAt.After(latest) {
			latest = rm.UpdatedAt
		}
	}
	w.advance(latest)

	w.log.Info().
		Int("upserted", result.Upserted).
		Int("removed", result.Removed).
		Int("failed", result.Failed).
		Time("latest", latest).
		Msg("✅ squad sync batch applied")
	return result, nil
}

func normalizeRole(r string) models.SquadRole {
	switch models.SquadRole(r) {
	case models.SquadRoleLeader, models.SquadRoleOfficer:
		return models.SquadRole(r)
	}
	return models.SquadRoleMember
}
