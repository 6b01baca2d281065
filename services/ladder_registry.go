package services

import (
	"context"
	"errors"
	"strings"

	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-ladder/models"
)

var ErrLadderNotFound = errors.New("ladder not found")

// LadderRegistry answers registration and ladder-shape questions for the
// lifecycle engine. Errors must fail the caller closed.
type LadderRegistry interface {
	GetLadder(ctx context.Context, ladderID string) (*models.Ladder, error)
	IsRegistered(ctx context.Context, squadID, ladderID string) (bool, error)
}

type LadderService struct {
	DB        *gorm.DB
	Directory SquadDirectory
	Clock     clockwork.Clock
}

func NewLadderService(db *gorm.DB, directory SquadDirectory, clock clockwork.Clock) *LadderService {
	return &LadderService{DB: db, Directory: directory, Clock: clock}
}

type CreateLadderInput struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	GameMode    string           `json:"game_mode"`
	Mode        models.MatchMode `json:"mode"`
	MinTeamSize int              `json:"min_team_size"`
	MaxTeamSize int              `json:"max_team_size"`
	Ranked      bool             `json:"ranked"`
}

func (s *LadderService) CreateLadder(ctx context.Context, actor Actor, in CreateLadderInput) (*models.Ladder, error) {
	if !actor.IsStaff() {
		return nil, forbiddenErr(CodeInsufficientRole, "only staff can create ladders")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.GameMode == "" {
		return nil, preconditionErr(CodeInvalidRequest, "name and game_mode are required")
	}
	if in.Mode == "" {
		in.Mode = models.MatchModeStandard
	}
	if !in.Mode.Valid() {
		return nil, preconditionErr(CodeInvalidRequest, "unknown mode %q", in.Mode)
	}
	if in.MinTeamSize < 1 || in.MaxTeamSize < in.MinTeamSize {
		return nil, preconditionErr(CodeInvalidRequest, "team size bounds %d..%d are invalid", in.MinTeamSize, in.MaxTeamSize)
	}
	id := in.ID
	if id == "" {
		id = slug.Make(in.Name)
	}
	if !slug.IsSlug(id) {
		return nil, preconditionErr(CodeInvalidRequest, "ladder id %q is not a slug", id)
	}

	ladder := &models.Ladder{
		ID:          id,
		Name:        in.Name,
		GameMode:    in.GameMode,
		Mode:        in.Mode,
		MinTeamSize: in.MinTeamSize,
		MaxTeamSize: in.MaxTeamSize,
		Ranked:      in.Ranked,
		Active:      true,
	}
	if err := s.DB.WithContext(ctx).Create(ladder).Error; err != nil {
		return nil, eris.Wrapf(err, "failed to create ladder %s", id)
	}
	return ladder, nil
}

func (s *LadderService) GetLadder(ctx context.Context, ladderID string) (*models.Ladder, error) {
	var ladder models.Ladder
	err := s.DB.WithContext(ctx).Where("id = ?", ladderID).First(&ladder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLadderNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load ladder %s", ladderID)
	}
	return &ladder, nil
}

func (s *LadderService) ListLadders(ctx context.Context, activeOnly bool) ([]models.Ladder, error) {
	var ladders []models.Ladder
	q := s.DB.WithContext(ctx).Order("name ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&ladders).Error; err != nil {
		return nil, eris.Wrap(err, "failed to list ladders")
	}
	return ladders, nil
}

func (s *LadderService) IsRegistered(ctx context.Context, squadID, ladderID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.LadderRegistration{}).
		Where("ladder_id = ? AND squad_id = ?", ladderID, squadID).
		Count(&count).Error
	if err != nil {
		return false, eris.Wrapf(err, "failed to check registration of %s on %s", squadID, ladderID)
	}
	return count > 0, nil
}

// RegisterSquad enrolls a squad and opens its standing at zero points.
// Registering twice is a no-op.
func (s *LadderService) RegisterSquad(ctx context.Context, actor Actor, ladderID, squadID string) (*models.LadderStanding, error) {
	if err := s.requireSquadAuthority(ctx, actor, squadID); err != nil {
		return nil, err
	}
	ladder, err := s.GetLadder(ctx, ladderID)
	if errors.Is(err, ErrLadderNotFound) {
		return nil, notFoundErr(CodeLadderNotFound, "ladder %s not found", ladderID)
	}
	if err != nil {
		return nil, err
	}
	if !ladder.Active {
		return nil, preconditionErr(CodeLadderInactive, "ladder %s is not accepting registrations", ladderID)
	}

	standing := models.LadderStanding{LadderID: ladderID, SquadID: squadID}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := models.LadderRegistration{
			LadderID:     ladderID,
			SquadID:      squadID,
			RegisteredBy: actor.UserID,
			RegisteredAt: s.Clock.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reg).Error; err != nil {
			return err
		}
		return tx.Where(models.LadderStanding{LadderID: ladderID, SquadID: squadID}).FirstOrCreate(&standing).Error
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to register %s on %s", squadID, ladderID)
	}
	return &standing, nil
}

// UnregisterSquad removes the registration; the standing row is kept for history.
func (s *LadderService) UnregisterSquad(ctx context.Context, actor Actor, ladderID, squadID string) error {
	if err := s.requireSquadAuthority(ctx, actor, squadID); err != nil {
		return err
	}
	err := s.DB.WithContext(ctx).
		Where("ladder_id = ? AND squad_id = ?", ladderID, squadID).
		Delete(&models.LadderRegistration{}).Error
	return eris.Wrapf(err, "failed to unregister %s from %s", squadID, ladderID)
}

func (s *LadderService) Standings(ctx context.Context, ladderID string, limit int) ([]models.LadderStanding, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var rows []models.LadderStanding
	err := s.DB.WithContext(ctx).
		Where("ladder_id = ?", ladderID).
		Order("points DESC").Order("wins DESC").Order("squad_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load standings for %s", ladderID)
	}
	return rows, nil
}

func (s *LadderService) requireSquadAuthority(ctx context.Context, actor Actor, squadID string) error {
	if actor.IsStaff() {
		return nil
	}
	role, err := ResolveRole(ctx, s.Directory, actor, squadID)
	if err != nil {
		return err
	}
	if !Can(role, CanRegisterSquad) {
		return forbiddenErr(CodeInsufficientRole, "only the squad leader can manage ladder registrations")
	}
	return nil
}

