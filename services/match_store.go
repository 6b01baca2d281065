package services

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-ladder/models"
)

// errStaleVersion means another writer committed first; the caller reloads and retries.
var errStaleVersion = errors.New("match version changed")

// MatchStore persists matches. Writes are compare-and-swap on Version.
type MatchStore struct {
	DB *gorm.DB
}

func NewMatchStore(db *gorm.DB) *MatchStore {
	return &MatchStore{DB: db}
}

func (s *MatchStore) Get(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundErr(CodeMatchNotFound, "match %s not found", id)
	}
	if err != nil {
		return nil, dependencyErr(CodeStorageUnavailable, err, "failed to load match %s", id)
	}
	return &m, nil
}

func (s *MatchStore) Insert(ctx context.Context, m *models.Match) error {
	m.Version = 1
	if err := s.DB.WithContext(ctx).Create(m).Error; err != nil {
		return dependencyErr(CodeStorageUnavailable, err, "failed to create match")
	}
	return nil
}

// InsertReady inserts a ready match unless the challenger already has one
// that open reports as still pending. The squad's registration rows are locked
// for the transaction so concurrent creates for one squad run in turn; sqlite
// gets the same effect from its single connection.
func (s *MatchStore) InsertReady(ctx context.Context, m *models.Match, open func(*models.Match) bool) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lock := tx
		if tx.Dialector.Name() == "postgres" {
			lock = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var regs []models.LadderRegistration
		if err := lock.Where("squad_id = ?", m.ChallengerID).Order("ladder_id ASC").Find(&regs).Error; err != nil {
			return dependencyErr(CodeStorageUnavailable, err, "failed to lock squad %s", m.ChallengerID)
		}

		var pending []models.Match
		err := tx.Where("challenger_id = ? AND status = ? AND scheduled_at IS NULL", m.ChallengerID, models.MatchStatusPending).
			Find(&pending).Error
		if err != nil {
			return dependencyErr(CodeStorageUnavailable, err, "failed to load pending ready matches")
		}
		for i := range pending {
			if open(&pending[i]) {
				return preconditionErr(CodeReadyMatchExists, "squad %s already has an open ready match %s", m.ChallengerID, pending[i].ID)
			}
		}

		m.Version = 1
		if err := tx.Create(m).Error; err != nil {
			return dependencyErr(CodeStorageUnavailable, err, "failed to create match")
		}
		return nil
	})
}

// Save commits m if nobody wrote since it was loaded.
func (s *MatchStore) Save(ctx context.Context, m *models.Match) error {
	return saveMatch(s.DB.WithContext(ctx), m)
}

func saveMatch(db *gorm.DB, m *models.Match) error {
	prev := m.Version
	m.Version = prev + 1
	res := db.Model(m).Where("version = ?", prev).Select("*").Omit("created_at").Updates(m)
	if res.Error != nil {
		m.Version = prev
		return eris.Wrapf(res.Error, "failed to save match %s", m.ID)
	}
	if res.RowsAffected == 0 {
		m.Version = prev
		return errStaleVersion
	}
	return nil
}

// PendingReady returns the squad's pending ready matches.
func (s *MatchStore) PendingReady(ctx context.Context, squadID string) ([]models.Match, error) {
	var out []models.Match
	err := s.DB.WithContext(ctx).
		Where("challenger_id = ? AND status = ? AND scheduled_at IS NULL", squadID, models.MatchStatusPending).
		Find(&out).Error
	return out, eris.Wrap(err, "failed to load pending ready matches")
}

// LiveScheduled returns scheduled matches involving the squad that still hold a slot.
func (s *MatchStore) LiveScheduled(ctx context.Context, squadID string) ([]models.Match, error) {
	var out []models.Match
	err := s.DB.WithContext(ctx).
		Where("(challenger_id = ? OR opponent_id = ?)", squadID, squadID).
		Where("scheduled_at IS NOT NULL").
		Where("status IN ?", []models.MatchStatus{models.MatchStatusPending, models.MatchStatusAccepted, models.MatchStatusInProgress}).
		Find(&out).Error
	return out, eris.Wrap(err, "failed to load scheduled matches")
}

// Between returns accepted matches played between two squads, in either role.
func (s *MatchStore) Between(ctx context.Context, a, b string) ([]models.Match, error) {
	var out []models.Match
	err := s.DB.WithContext(ctx).
		Where("((challenger_id = ? AND opponent_id = ?) OR (challenger_id = ? AND opponent_id = ?))", a, b, b, a).
		Where("accepted_at IS NOT NULL").
		Find(&out).Error
	return out, eris.Wrap(err, "failed to load match history")
}

// Due returns matches whose status can change with the passage of time.
func (s *MatchStore) Due(ctx context.Context) ([]models.Match, error) {
	var out []models.Match
	err := s.DB.WithContext(ctx).
		Where("status IN ?", []models.MatchStatus{models.MatchStatusPending, models.MatchStatusAccepted}).
		Find(&out).Error
	return out, eris.Wrap(err, "failed to load due matches")
}

// Unrewarded returns completed matches whose rewards were never credited.
func (s *MatchStore) Unrewarded(ctx context.Context) ([]models.Match, error) {
	var out []models.Match
	err := s.DB.WithContext(ctx).
		Where("status = ? AND rewards_distributed = ?", models.MatchStatusCompleted, false).
		Order("completed_at ASC").Order("id ASC").
		Find(&out).Error
	return out, eris.Wrap(err, "failed to load unrewarded matches")
}

type MatchFilter struct {
	LadderID string
	SquadID  string
	Status   models.MatchStatus
	Limit    int
	Offset   int
}

func (s *MatchStore) List(ctx context.Context, f MatchFilter) ([]models.Match, error) {
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	q := s.DB.WithContext(ctx).Order("created_at DESC").Order("id ASC").Limit(f.Limit).Offset(f.Offset)
	if f.LadderID != "" {
		q = q.Where("ladder_id = ?", f.LadderID)
	}
	if f.SquadID != "" {
		q = q.Where("(challenger_id = ? OR opponent_id = ?)", f.SquadID, f.SquadID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Match
	if err := q.Find(&out).Error; err != nil {
		return nil, dependencyErr(CodeStorageUnavailable, err, "failed to list matches")
	}
	return out, nil
}
