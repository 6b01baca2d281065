package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"squad-ladder/models"
)

const maxWriteAttempts = 5

// Rules are the ladder's timing rules and limits.
type Rules struct {
	ReadyExpiry         time.Duration
	MinScheduleLead     time.Duration
	ScheduleOverlap     time.Duration
	RematchCooldown     time.Duration
	CancelLockWindow    time.Duration
	MaxEvidencePerSquad int
	MapDrawCount        int
}

func DefaultRules() Rules {
	return Rules{
		ReadyExpiry:         10 * time.Minute,
		MinScheduleLead:     5 * time.Minute,
		ScheduleOverlap:     30 * time.Minute,
		RematchCooldown:     3 * time.Hour,
		CancelLockWindow:    5 * time.Minute,
		MaxEvidencePerSquad: 5,
		MapDrawCount:        3,
	}
}

// MatchService is the match lifecycle engine. Every command loads the
// match, re-validates against the fresh row and commits with a version
// check; a lost race reloads and validates again.
type MatchService struct {
	Store    *MatchStore
	Ladders  LadderRegistry
	Squads   SquadDirectory
	Maps     MapPool
	Rewards  *RewardService
	Notifier *Notifier
	Clock    clockwork.Clock
	Rand     Randomizer
	Rules    Rules
	Log      zerolog.Logger
}

type MatchServiceDeps struct {
	Store    *MatchStore
	Ladders  LadderRegistry
	Squads   SquadDirectory
	Maps     MapPool
	Rewards  *RewardService
	Notifier *Notifier
	Clock    clockwork.Clock
	Rand     Randomizer
	Rules    Rules
	Log      zerolog.Logger
}

func NewMatchService(d MatchServiceDeps) *MatchService {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Rand == nil {
		d.Rand = DefaultRandomizer()
	}
	return &MatchService{
		Store:    d.Store,
		Ladders:  d.Ladders,
		Squads:   d.Squads,
		Maps:     d.Maps,
		Rewards:  d.Rewards,
		Notifier: d.Notifier,
		Clock:    d.Clock,
		Rand:     d.Rand,
		Rules:    d.Rules,
		Log:      d.Log.With().Str("component", "match").Logger(),
	}
}

func (s *MatchService) now() time.Time {
	return s.Clock.Now().UTC()
}

// asCommandError passes typed rejections through and turns anything else
// into a dependency failure.
func asCommandError(err error, msg string) error {
	if _, ok := AsMatchError(err); ok {
		return err
	}
	return dependencyErr(CodeStorageUnavailable, err, "%s", msg)
}

func (s *MatchService) emit(ctx context.Context, topic string, m *models.Match, actorID string) {
	if s.Notifier == nil || topic == "" {
		return
	}
	s.Notifier.Notify(ctx, newMatchEvent(topic, m, actorID, s.now()))
}

// advance applies the transitions that follow from the clock alone: pending
// matches expire, accepted scheduled matches start. It returns the topic of
// the transition, or "" when nothing changed.
func (s *MatchService) advance(m *models.Match, now time.Time) string {
	switch m.Status {
	case models.MatchStatusPending:
		if s.expiresAt(m).After(now) {
			return ""
		}
		m.Status = models.MatchStatusExpired
		m.ExpiredAt = &now
		return TopicMatchExpired
	case models.MatchStatusAccepted:
		if m.ScheduledAt == nil || m.ScheduledAt.After(now) {
			return ""
		}
		start := *m.ScheduledAt
		m.Status = models.MatchStatusInProgress
		m.StartedAt = &start
		return TopicMatchStarted
	}
	return ""
}

func (s *MatchService) expiresAt(m *models.Match) time.Time {
	if m.ScheduledAt != nil {
		return *m.ScheduledAt
	}
	created := m.CreatedAt
	if m.ReadyCreatedAt != nil {
		created = *m.ReadyCreatedAt
	}
	return created.Add(s.Rules.ReadyExpiry)
}

// load returns the match with clock-driven transitions applied and persisted.
func (s *MatchService) load(ctx context.Context, id string) (*models.Match, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		m, err := s.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := m.Clone()
		topic := s.advance(next, s.now())
		if topic == "" {
			return m, nil
		}
		err = s.Store.Save(ctx, next)
		if errors.Is(err, errStaleVersion) {
			continue
		}
		if err != nil {
			return nil, asCommandError(err, "failed to persist clock transition")
		}
		s.Log.Info().Str("match_id", next.ID).Str("status", string(next.Status)).Msg("⏱️ match advanced by clock")
		s.emit(ctx, topic, next, "")
		return next, nil
	}
	return nil, conflictErr(CodeConcurrentUpdate, "match %s kept changing, retry", id)
}

// mutateFn validates the fresh match and applies the command to it. It
// returns the topic to emit, or "" to leave the match untouched.
type mutateFn func(m *models.Match, now time.Time) (string, error)

func (s *MatchService) mutate(ctx context.Context, id, actorID string, fn mutateFn) (*models.Match, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		topic, err := fn(next, s.now())
		if err != nil {
			return nil, err
		}
		if topic == "" {
			return current, nil
		}

		if next.Status == models.MatchStatusCompleted && current.Status != models.MatchStatusCompleted {
			err = s.Rewards.completeAndDistribute(ctx, next)
		} else {
			err = s.Store.Save(ctx, next)
		}
		if errors.Is(err, errStaleVersion) || errors.Is(err, errStaleStanding) {
			continue
		}
		if err != nil {
			return nil, asCommandError(err, "failed to save match")
		}
		s.emit(ctx, topic, next, actorID)
		return next, nil
	}
	return nil, conflictErr(CodeConcurrentUpdate, "match %s kept changing, retry", id)
}

// Get returns a match, applying any transition the clock has made due.
func (s *MatchService) Get(ctx context.Context, id string) (*models.Match, error) {
	return s.load(ctx, id)
}

// List returns matches with clock-driven transitions applied.
func (s *MatchService) List(ctx context.Context, f MatchFilter) ([]models.Match, error) {
	rows, err := s.Store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]models.Match, 0, len(rows))
	for i := range rows {
		probe := rows[i].Clone()
		if s.advance(probe, now) == "" {
			out = append(out, rows[i])
			continue
		}
		m, err := s.load(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

// SweepResult summarises one pass of the clock sweep.
type SweepResult struct {
	Expired int
	Started int
}

// Sweep persists every transition the clock has made due.
func (s *MatchService) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	due, err := s.Store.Due(ctx)
	if err != nil {
		return res, err
	}
	now := s.now()
	for i := range due {
		probe := due[i].Clone()
		if s.advance(probe, now) == "" {
			continue
		}
		m, err := s.load(ctx, due[i].ID)
		if err != nil {
			s.Log.Error().Err(err).Str("match_id", due[i].ID).Msg("sweep failed to advance match")
			continue
		}
		switch m.Status {
		case models.MatchStatusExpired:
			res.Expired++
		case models.MatchStatusInProgress:
			res.Started++
		}
	}
	return res, nil
}

// --- permission helpers ---

// requireRole checks the actor's role in squadID against capability.
func (s *MatchService) requireRole(ctx context.Context, actor Actor, squadID string, capability Capability) (Role, error) {
	role, err := ResolveRole(ctx, s.Squads, actor, squadID)
	if err != nil {
		return RoleNone, err
	}
	if role == RoleNone {
		return role, forbiddenErr(CodeNotSquadMember, "you are not a member of squad %s", squadID)
	}
	if !Can(role, capability) {
		return role, forbiddenErr(CodeInsufficientRole, "role %s cannot %s", role, strings.ReplaceAll(string(capability), "_", " "))
	}
	return role, nil
}

// actingSquad finds which participant the actor speaks for. When the actor
// belongs to both, the squad where they hold the higher role wins.
func (s *MatchService) actingSquad(ctx context.Context, m *models.Match, actor Actor, capability Capability) (string, Role, error) {
	best, bestRole := "", RoleNone
	for _, squadID := range []string{m.ChallengerID, m.Opponent()} {
		if squadID == "" {
			continue
		}
		sr, ok, err := s.Squads.MemberRole(ctx, squadID, actor.UserID)
		if err != nil {
			return "", RoleNone, dependencyErr(CodeDirectoryUnavailable, err, "squad directory lookup failed")
		}
		if !ok {
			continue
		}
		role := RoleFromSquadRole(sr)
		if best == "" || roleRank(role) > roleRank(bestRole) {
			best, bestRole = squadID, role
		}
	}
	if best == "" {
		return "", RoleNone, forbiddenErr(CodeNotParticipant, "you are not in a squad playing match %s", m.ID)
	}
	if !Can(bestRole, capability) {
		return best, bestRole, forbiddenErr(CodeInsufficientRole, "role %s cannot %s", bestRole, strings.ReplaceAll(string(capability), "_", " "))
	}
	return best, bestRole, nil
}

func roleRank(r Role) int {
	switch r {
	case RoleLeader:
		return 3
	case RoleOfficer:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

func (s *MatchService) requireRegistered(ctx context.Context, squadID, ladderID string) error {
	ok, err := s.Ladders.IsRegistered(ctx, squadID, ladderID)
	if err != nil {
		return dependencyErr(CodeRegistryUnavailable, err, "ladder registry unavailable")
	}
	if !ok {
		return preconditionErr(CodeSquadNotRegistered, "squad %s is not registered to ladder %s", squadID, ladderID)
	}
	return nil
}

// requireStatus rejects with conflict when the match already left the
// allowed states for good, and with precondition otherwise.
func requireStatus(m *models.Match, allowed ...models.MatchStatus) error {
	for _, st := range allowed {
		if m.Status == st {
			return nil
		}
	}
	if m.Status.Terminal() {
		return conflictErr(CodeInvalidStatus, "match %s is already %s", m.ID, m.Status)
	}
	return preconditionErr(CodeInvalidStatus, "match %s is %s", m.ID, m.Status)
}

// --- roster snapshots ---

type RosterInput struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	IsHelper    bool   `json:"is_helper"`
}

// snapshotRoster validates a submitted roster and freezes display names. An
// empty submission is allowed; distribution then falls back to membership.
func (s *MatchService) snapshotRoster(ctx context.Context, squadID string, in []RosterInput, teamSize int) ([]models.RosterEntry, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) > teamSize {
		return nil, preconditionErr(CodeInvalidRoster, "roster has %d players, team size is %d", len(in), teamSize)
	}
	members, err := s.Squads.Members(ctx, squadID)
	if err != nil {
		return nil, dependencyErr(CodeDirectoryUnavailable, err, "squad directory lookup failed")
	}
	byID := make(map[string]models.SquadMember, len(members))
	for _, mem := range members {
		byID[mem.PlayerID] = mem
	}

	seen := map[string]bool{}
	out := make([]models.RosterEntry, 0, len(in))
	for _, e := range in {
		id := strings.TrimSpace(e.PlayerID)
		if id == "" {
			return nil, preconditionErr(CodeInvalidRoster, "roster entry without player_id")
		}
		if seen[id] {
			return nil, preconditionErr(CodeInvalidRoster, "player %s listed twice", id)
		}
		seen[id] = true

		mem, isMember := byID[id]
		if !isMember && !e.IsHelper {
			return nil, preconditionErr(CodeInvalidRoster, "player %s is not in squad %s; mark them as a helper", id, squadID)
		}
		name := e.DisplayName
		if isMember && mem.DisplayName != "" {
			name = mem.DisplayName
		}
		name = norm.NFC.String(strings.TrimSpace(name))
		if name == "" {
			name = id
		}
		out = append(out, models.RosterEntry{PlayerID: id, DisplayName: name, IsHelper: e.IsHelper && !isMember})
	}
	return out, nil
}

// --- commands ---

type CreateMatchInput struct {
	LadderID    string           `json:"ladder_id"`
	SquadID     string           `json:"squad_id"`
	TeamSize    int              `json:"team_size"`
	Mode        models.MatchMode `json:"mode"`
	MapPolicy   models.MapPolicy `json:"map_policy"`
	FixedMap    string           `json:"fixed_map"`
	ScheduledAt *time.Time       `json:"scheduled_at"`
	Roster      []RosterInput    `json:"roster"`
}

// CreateMatch posts a challenge, either ready now or scheduled.
func (s *MatchService) CreateMatch(ctx context.Context, actor Actor, in CreateMatchInput) (*models.Match, error) {
	if in.LadderID == "" || in.SquadID == "" {
		return nil, preconditionErr(CodeInvalidRequest, "ladder_id and squad_id are required")
	}
	ladder, err := s.Ladders.GetLadder(ctx, in.LadderID)
	if errors.Is(err, ErrLadderNotFound) {
		return nil, notFoundErr(CodeLadderNotFound, "ladder %s not found", in.LadderID)
	}
	if err != nil {
		return nil, dependencyErr(CodeRegistryUnavailable, err, "ladder registry unavailable")
	}
	if !ladder.Active {
		return nil, preconditionErr(CodeLadderInactive, "ladder %s is closed", ladder.ID)
	}
	if _, err := s.requireRole(ctx, actor, in.SquadID, CanCreateMatch); err != nil {
		return nil, err
	}
	if err := s.requireRegistered(ctx, in.SquadID, ladder.ID); err != nil {
		return nil, err
	}
	if in.TeamSize < ladder.MinTeamSize || in.TeamSize > ladder.MaxTeamSize {
		return nil, preconditionErr(CodeTeamSizeOutOfRange, "team size %d outside %d..%d", in.TeamSize, ladder.MinTeamSize, ladder.MaxTeamSize)
	}
	if in.Mode == "" {
		in.Mode = ladder.Mode
	}
	if !in.Mode.Valid() {
		return nil, preconditionErr(CodeInvalidRequest, "unknown mode %q", in.Mode)
	}
	if in.MapPolicy == "" {
		in.MapPolicy = models.MapPolicyRandom
	}
	if in.MapPolicy != models.MapPolicyRandom && in.MapPolicy != models.MapPolicyFixed {
		return nil, preconditionErr(CodeInvalidRequest, "unknown map policy %q", in.MapPolicy)
	}

	now := s.now()
	if in.ScheduledAt == nil {
		if err := s.checkNoPendingReady(ctx, in.SquadID); err != nil {
			return nil, err
		}
	} else {
		at := in.ScheduledAt.UTC()
		in.ScheduledAt = &at
		if at.Before(now.Add(s.Rules.MinScheduleLead)) {
			return nil, preconditionErr(CodeScheduleTooSoon, "scheduled time must be at least %s ahead", s.Rules.MinScheduleLead)
		}
		if err := s.checkScheduleOverlap(ctx, in.SquadID, at); err != nil {
			return nil, err
		}
	}

	roster, err := s.snapshotRoster(ctx, in.SquadID, in.Roster, in.TeamSize)
	if err != nil {
		return nil, err
	}

	m := &models.Match{
		ID:               uuid.NewString(),
		LadderID:         ladder.ID,
		Mode:             in.Mode,
		GameMode:         ladder.GameMode,
		TeamSize:         in.TeamSize,
		MapPolicy:        in.MapPolicy,
		FixedMap:         strings.TrimSpace(in.FixedMap),
		Status:           models.MatchStatusPending,
		ChallengerID:     in.SquadID,
		ChallengerRoster: roster,
		CreatedBy:        actor.UserID,
		ScheduledAt:      in.ScheduledAt,
	}
	if m.ScheduledAt == nil {
		m.ReadyCreatedAt = &now
	}
	if m.ScheduledAt == nil {
		err = s.Store.InsertReady(ctx, m, func(p *models.Match) bool {
			return s.expiresAt(p).After(now)
		})
	} else {
		err = s.Store.Insert(ctx, m)
	}
	if err != nil {
		return nil, err
	}
	s.Log.Info().Str("match_id", m.ID).Str("ladder_id", m.LadderID).Str("squad_id", m.ChallengerID).
		Bool("ready", m.IsReady()).Msg("⚔️ match created")
	s.emit(ctx, TopicMatchCreated, m, actor.UserID)
	return m, nil
}

func (s *MatchService) checkNoPendingReady(ctx context.Context, squadID string) error {
	pending, err := s.Store.PendingReady(ctx, squadID)
	if err != nil {
		return asCommandError(err, "failed to check pending ready matches")
	}
	for _, p := range pending {
		m, err := s.load(ctx, p.ID)
		if err != nil {
			return err
		}
		if m.Status == models.MatchStatusPending {
			return preconditionErr(CodeReadyMatchExists, "squad %s already has an open ready match %s", squadID, m.ID)
		}
	}
	return nil
}

func (s *MatchService) checkScheduleOverlap(ctx context.Context, squadID string, at time.Time) error {
	scheduled, err := s.Store.LiveScheduled(ctx, squadID)
	if err != nil {
		return asCommandError(err, "failed to check schedule")
	}
	for _, other := range scheduled {
		gap := other.ScheduledAt.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap < s.Rules.ScheduleOverlap {
			return preconditionErr(CodeScheduleConflict, "squad %s already plays match %s at %s", squadID, other.ID, other.ScheduledAt.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

type AcceptMatchInput struct {
	SquadID string        `json:"squad_id"`
	Roster  []RosterInput `json:"roster"`
}

// AcceptMatch commits a second squad to a pending match.
func (s *MatchService) AcceptMatch(ctx context.Context, actor Actor, matchID string, in AcceptMatchInput) (*models.Match, error) {
	if in.SquadID == "" {
		return nil, preconditionErr(CodeInvalidRequest, "squad_id is required")
	}
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		switch {
		case m.Status == models.MatchStatusExpired:
			return "", temporalErr(CodeMatchExpired, 0, "match %s expired", m.ID)
		case m.Opponent() != "":
			return "", conflictErr(CodeMatchAlreadyAccepted, "match %s was already accepted", m.ID)
		}
		if err := requireStatus(m, models.MatchStatusPending); err != nil {
			return "", err
		}
		if in.SquadID == m.ChallengerID {
			return "", preconditionErr(CodeSelfChallenge, "a squad cannot accept its own challenge")
		}
		if _, err := s.requireRole(ctx, actor, in.SquadID, CanAcceptMatch); err != nil {
			return "", err
		}
		if err := s.requireRegistered(ctx, in.SquadID, m.LadderID); err != nil {
			return "", err
		}
		if err := s.checkCooldown(ctx, m, in.SquadID, now); err != nil {
			return "", err
		}

		roster, err := s.snapshotRoster(ctx, in.SquadID, in.Roster, m.TeamSize)
		if err != nil {
			return "", err
		}
		taken := map[string]bool{}
		for _, e := range m.ChallengerRoster {
			taken[e.PlayerID] = true
		}
		for _, e := range roster {
			if taken[e.PlayerID] {
				return "", preconditionErr(CodeInvalidRoster, "player %s is already on the challenger roster", e.PlayerID)
			}
		}

		if m.MapPolicy == models.MapPolicyRandom {
			maps, err := s.Maps.DrawRandomMaps(ctx, m.LadderID, m.GameMode, s.Rules.MapDrawCount)
			if err != nil {
				return "", dependencyErr(CodeMapPoolUnavailable, err, "map pool unavailable")
			}
			m.Maps = maps
		}

		opp := in.SquadID
		m.OpponentID = &opp
		m.OpponentRoster = roster
		m.AcceptedBy = actor.UserID
		m.AcceptedAt = &now
		m.HostTeam = models.HostChallenger
		if s.Rand.IntN(2) == 1 {
			m.HostTeam = models.HostOpponent
		}
		if m.IsReady() {
			m.Status = models.MatchStatusInProgress
			m.StartedAt = &now
		} else {
			m.Status = models.MatchStatusAccepted
		}
		return TopicMatchAccepted, nil
	})
}

// checkCooldown rejects a rematch accepted too soon after the last one.
func (s *MatchService) checkCooldown(ctx context.Context, m *models.Match, squadID string, now time.Time) error {
	history, err := s.Store.Between(ctx, m.ChallengerID, squadID)
	if err != nil {
		return asCommandError(err, "failed to check rematch cooldown")
	}
	var latest time.Time
	for _, h := range history {
		if h.ID == m.ID || h.AcceptedAt == nil {
			continue
		}
		switch h.Status {
		case models.MatchStatusAccepted, models.MatchStatusInProgress, models.MatchStatusCompleted, models.MatchStatusDisputed:
		default:
			continue
		}
		if h.AcceptedAt.After(latest) {
			latest = *h.AcceptedAt
		}
	}
	if latest.IsZero() {
		return nil
	}
	if remaining := latest.Add(s.Rules.RematchCooldown).Sub(now); remaining > 0 {
		return temporalErr(CodeRematchCooldown, remaining, "these squads played %s ago; rematch available in %s",
			now.Sub(latest).Round(time.Minute), remaining.Round(time.Second))
	}
	return nil
}

type ResultInput struct {
	Winner          string `json:"winner"`
	ChallengerScore *int   `json:"challenger_score"`
	OpponentScore   *int   `json:"opponent_score"`
}

func validateResult(m *models.Match, in ResultInput) error {
	if !m.IsParticipant(in.Winner) {
		return preconditionErr(CodeInvalidWinner, "winner %q is not playing match %s", in.Winner, m.ID)
	}
	if in.ChallengerScore != nil && in.OpponentScore != nil {
		c, o := *in.ChallengerScore, *in.OpponentScore
		if c < 0 || o < 0 {
			return preconditionErr(CodeInvalidRequest, "scores must not be negative")
		}
		if (in.Winner == m.ChallengerID && c < o) || (in.Winner == m.Opponent() && o < c) {
			return preconditionErr(CodeInvalidWinner, "score %d-%d contradicts winner %s", c, o, in.Winner)
		}
	}
	return nil
}

// DeclareResult lets a participant leader finish the match in one step.
func (s *MatchService) DeclareResult(ctx context.Context, actor Actor, matchID string, in ResultInput) (*models.Match, error) {
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if err := requireStatus(m, models.MatchStatusAccepted, models.MatchStatusInProgress); err != nil {
			return "", err
		}
		squad, _, err := s.actingSquad(ctx, m, actor, CanDeclareResult)
		if err != nil {
			return "", err
		}
		if err := validateResult(m, in); err != nil {
			return "", err
		}
		m.Result = &models.MatchResult{
			Winner:          in.Winner,
			ReportedBy:      squad,
			ReportedAt:      now,
			ChallengerScore: in.ChallengerScore,
			OpponentScore:   in.OpponentScore,
			Confirmed:       true,
			ConfirmedBy:     actor.UserID,
			ConfirmedAt:     &now,
			Method:          models.ResultDeclared,
		}
		return s.finalize(m, now), nil
	})
}

// ReportResult records one side's claim; the other side must confirm it.
func (s *MatchService) ReportResult(ctx context.Context, actor Actor, matchID string, in ResultInput) (*models.Match, error) {
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if err := requireStatus(m, models.MatchStatusAccepted, models.MatchStatusInProgress); err != nil {
			return "", err
		}
		squad, _, err := s.actingSquad(ctx, m, actor, CanReportResult)
		if err != nil {
			return "", err
		}
		if err := validateResult(m, in); err != nil {
			return "", err
		}
		if r := m.Result; r != nil && !r.Confirmed && r.ReportedBy != squad {
			return "", conflictErr(CodeReportAlreadyPending, "squad %s already reported; confirm or dispute it", r.ReportedBy)
		}
		m.Result = &models.MatchResult{
			Winner:          in.Winner,
			ReportedBy:      squad,
			ReportedAt:      now,
			ChallengerScore: in.ChallengerScore,
			OpponentScore:   in.OpponentScore,
			Method:          models.ResultReported,
		}
		if m.Status == models.MatchStatusAccepted {
			m.Status = models.MatchStatusInProgress
			m.StartedAt = &now
		}
		return TopicResultReported, nil
	})
}

// ConfirmResult accepts the other participant's report and completes the match.
func (s *MatchService) ConfirmResult(ctx context.Context, actor Actor, matchID string) (*models.Match, error) {
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if err := requireStatus(m, models.MatchStatusAccepted, models.MatchStatusInProgress); err != nil {
			return "", err
		}
		if m.Result == nil || m.Result.Confirmed {
			return "", preconditionErr(CodeNoPendingReport, "match %s has no result awaiting confirmation", m.ID)
		}
		squad, _, err := s.actingSquad(ctx, m, actor, CanConfirmResult)
		if err != nil {
			return "", err
		}
		if squad == m.Result.ReportedBy {
			return "", forbiddenErr(CodeCannotConfirmOwn, "the other squad must confirm this result")
		}
		m.Result.Confirmed = true
		m.Result.ConfirmedBy = actor.UserID
		m.Result.ConfirmedAt = &now
		return s.finalize(m, now), nil
	})
}

// finalize is the one terminal handler every completion path goes through.
// Rewards are credited by mutate in the same transaction.
func (s *MatchService) finalize(m *models.Match, now time.Time) string {
	s.Log.Debug().Str("match_id", m.ID).Str("winner", m.Result.Winner).Str("method", string(m.Result.Method)).Msg("finalizing match")
	m.Status = models.MatchStatusCompleted
	m.CompletedAt = &now
	m.CancelRequests = nil
	return TopicMatchCompleted
}

type DisputeInput struct {
	Reason string `json:"reason"`
}

func (s *MatchService) RaiseDispute(ctx context.Context, actor Actor, matchID string, in DisputeInput) (*models.Match, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, preconditionErr(CodeInvalidRequest, "a dispute needs a reason")
	}
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if err := requireStatus(m, models.MatchStatusAccepted, models.MatchStatusInProgress); err != nil {
			return "", err
		}
		squad, _, err := s.actingSquad(ctx, m, actor, CanRaiseDispute)
		if err != nil {
			return "", err
		}
		var evidence []models.Evidence
		if m.Dispute != nil {
			evidence = m.Dispute.Evidence
		}
		m.Dispute = &models.Dispute{
			IsDisputed: true,
			DisputedBy: squad,
			Reason:     reason,
			DisputedAt: now,
			Evidence:   evidence,
		}
		m.Status = models.MatchStatusDisputed
		return TopicMatchDisputed, nil
	})
}

type EvidenceInput struct {
	URL  string `json:"url"`
	Note string `json:"note"`
}

// AttachDisputeEvidence adds a link to a disputed match. Each squad may
// attach a limited number of items; staff uploads are not capped.
func (s *MatchService) AttachDisputeEvidence(ctx context.Context, actor Actor, matchID string, in EvidenceInput) (*models.Match, error) {
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, preconditionErr(CodeInvalidRequest, "evidence url must be an absolute http(s) link")
	}
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if m.Status != models.MatchStatusDisputed || m.Dispute == nil {
			return "", NotDisputedError(m.ID)
		}
		squad, _, err := s.actingSquad(ctx, m, actor, CanAttachEvidence)
		if err != nil {
			if !actor.IsStaff() || !IsKind(err, KindForbidden) {
				return "", err
			}
			squad = ""
		}
		if squad != "" && m.Dispute.EvidenceCount(squad) >= s.Rules.MaxEvidencePerSquad {
			return "", preconditionErr(CodeEvidenceLimit, "squad %s already attached %d items", squad, s.Rules.MaxEvidencePerSquad)
		}
		m.Dispute.Evidence = append(m.Dispute.Evidence, models.Evidence{
			ID:          uuid.NewString(),
			SquadID:     squad,
			SubmittedBy: actor.UserID,
			URL:         u.String(),
			Note:        strings.TrimSpace(in.Note),
			CreatedAt:   now,
		})
		return TopicEvidenceAttached, nil
	})
}

type DisputeAction string

const (
	DisputeAward  DisputeAction = "award"
	DisputeCancel DisputeAction = "cancel"
)

type ResolveDisputeInput struct {
	Action DisputeAction `json:"action"`
	Winner string        `json:"winner"`
}

// ResolveDispute is the staff override: award the match or cancel it.
func (s *MatchService) ResolveDispute(ctx context.Context, actor Actor, matchID string, in ResolveDisputeInput) (*models.Match, error) {
	if !Can(staffRole(actor), CanResolveDispute) {
		return nil, forbiddenErr(CodeInsufficientRole, "only staff can resolve disputes")
	}
	if in.Action != DisputeAward && in.Action != DisputeCancel {
		return nil, preconditionErr(CodeInvalidRequest, "action must be award or cancel")
	}
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if m.Status != models.MatchStatusDisputed || m.Dispute == nil {
			return "", preconditionErr(CodeNotDisputed, "match %s is not disputed", m.ID)
		}
		m.Dispute.IsDisputed = false
		m.Dispute.ResolvedBy = actor.UserID
		m.Dispute.ResolvedAt = &now

		if in.Action == DisputeCancel {
			m.Dispute.Resolution = models.ResolutionCancelled
			m.Status = models.MatchStatusCancelled
			m.CancelledAt = &now
			m.CancelledBy = actor.UserID
			return TopicMatchCancelled, nil
		}

		if !m.IsParticipant(in.Winner) {
			return "", preconditionErr(CodeInvalidWinner, "winner %q is not playing match %s", in.Winner, m.ID)
		}
		m.Dispute.Resolution = models.ResolutionWinnerAssigned
		m.Dispute.Winner = in.Winner
		result := &models.MatchResult{
			Winner:      in.Winner,
			ReportedAt:  now,
			Confirmed:   true,
			ConfirmedBy: actor.UserID,
			ConfirmedAt: &now,
			Method:      models.ResultStaff,
		}
		if prev := m.Result; prev != nil && prev.Winner == in.Winner {
			result.ChallengerScore, result.OpponentScore = prev.ChallengerScore, prev.OpponentScore
		}
		m.Result = result
		return s.finalize(m, now), nil
	})
}

// RevertDispute sends a disputed match back to play, unresolved.
func (s *MatchService) RevertDispute(ctx context.Context, actor Actor, matchID string) (*models.Match, error) {
	if !Can(staffRole(actor), CanResolveDispute) {
		return nil, forbiddenErr(CodeInsufficientRole, "only staff can revert disputes")
	}
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if m.Status != models.MatchStatusDisputed || m.Dispute == nil {
			return "", preconditionErr(CodeNotDisputed, "match %s is not disputed", m.ID)
		}
		m.Dispute.IsDisputed = false
		m.Dispute.Resolution = models.ResolutionReverted
		m.Dispute.ResolvedBy = actor.UserID
		m.Dispute.ResolvedAt = &now
		m.Status = models.MatchStatusInProgress
		if m.StartedAt == nil {
			m.StartedAt = &now
		}
		return TopicDisputeReverted, nil
	})
}

// CancelMatch withdraws a challenge nobody has accepted yet.
func (s *MatchService) CancelMatch(ctx context.Context, actor Actor, matchID string) (*models.Match, error) {
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if m.Status == models.MatchStatusAccepted || m.Status == models.MatchStatusInProgress {
			return "", preconditionErr(CodeCooperativeRequired, "match %s was accepted; both squads must agree to cancel", m.ID)
		}
		if err := requireStatus(m, models.MatchStatusPending); err != nil {
			return "", err
		}
		if _, err := s.requireRole(ctx, actor, m.ChallengerID, CanCancelMatch); err != nil {
			return "", err
		}
		if m.ScheduledAt != nil {
			lock := m.ScheduledAt.Add(-s.Rules.CancelLockWindow)
			if !now.Before(lock) {
				return "", temporalErr(CodeCancelTooClose, m.ScheduledAt.Sub(now),
					"match %s starts within %s and can no longer be cancelled", m.ID, s.Rules.CancelLockWindow)
			}
		}
		m.Status = models.MatchStatusCancelled
		m.CancelledAt = &now
		m.CancelledBy = actor.UserID
		return TopicMatchCancelled, nil
	})
}

// RequestCooperativeCancel records one squad's wish to call off an accepted
// match. The request from the second squad cancels it. Repeating a request
// changes nothing.
func (s *MatchService) RequestCooperativeCancel(ctx context.Context, actor Actor, matchID string) (*models.Match, error) {
	return s.mutate(ctx, matchID, actor.UserID, func(m *models.Match, now time.Time) (string, error) {
		if err := requireStatus(m, models.MatchStatusAccepted, models.MatchStatusInProgress); err != nil {
			return "", err
		}
		squad, _, err := s.actingSquad(ctx, m, actor, CanCancelMatch)
		if err != nil {
			return "", err
		}
		if m.HasCancelRequest(squad) {
			return "", nil
		}
		m.CancelRequests = append(m.CancelRequests, squad)
		if !m.HasCancelRequest(m.ChallengerID) || !m.HasCancelRequest(m.Opponent()) {
			return TopicCancelRequested, nil
		}
		m.Status = models.MatchStatusCancelled
		m.CancelledAt = &now
		m.CancelledBy = actor.UserID
		return TopicMatchCancelled, nil
	})
}
