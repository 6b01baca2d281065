package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"squad-ladder/models"
)

// MapPool draws maps for random-policy matches.
type MapPool interface {
	// DrawRandomMaps returns up to count distinct active maps. A smaller
	// pool yields fewer maps, never an error.
	DrawRandomMaps(ctx context.Context, ladderID, gameMode string, count int) ([]models.GameMap, error)
}

type MapService struct {
	DB   *gorm.DB
	Rand Randomizer
}

func NewMapService(db *gorm.DB, rnd Randomizer) *MapService {
	return &MapService{DB: db, Rand: rnd}
}

type CreateMapInput struct {
	Name     string `json:"name"`
	GameMode string `json:"game_mode"`
	LadderID string `json:"ladder_id"`
	ImageURL string `json:"image_url"`
}

func (s *MapService) CreateMap(ctx context.Context, actor Actor, in CreateMapInput) (*models.GameMap, error) {
	if !actor.IsStaff() {
		return nil, forbiddenErr(CodeInsufficientRole, "only staff can manage the map pool")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.GameMode == "" {
		return nil, preconditionErr(CodeInvalidRequest, "name and game_mode are required")
	}
	m := &models.GameMap{
		ID:       slug.Make(in.GameMode+"-"+in.Name) + "-" + uuid.NewString()[:8],
		Name:     in.Name,
		GameMode: in.GameMode,
		LadderID: in.LadderID,
		ImageURL: in.ImageURL,
		Active:   true,
	}
	if err := s.DB.WithContext(ctx).Create(m).Error; err != nil {
		return nil, eris.Wrap(err, "failed to create map")
	}
	return m, nil
}

// ListMaps returns the active pool for a ladder, including game-mode-wide maps.
func (s *MapService) ListMaps(ctx context.Context, ladderID, gameMode string) ([]models.GameMap, error) {
	var maps []models.GameMap
	q := s.DB.WithContext(ctx).Where("active = ?", true)
	if gameMode != "" {
		q = q.Where("game_mode = ?", gameMode)
	}
	if ladderID != "" {
		q = q.Where("(ladder_id = ? OR ladder_id = '')", ladderID)
	}
	if err := q.Order("name ASC").Order("id ASC").Find(&maps).Error; err != nil {
		return nil, eris.Wrap(err, "failed to list maps")
	}
	return maps, nil
}

func (s *MapService) DrawRandomMaps(ctx context.Context, ladderID, gameMode string, count int) ([]models.GameMap, error) {
	pool, err := s.ListMaps(ctx, ladderID, gameMode)
	if err != nil {
		return nil, err
	}
	if count > len(pool) {
		count = len(pool)
	}
	// partial Fisher-Yates
	for i := 0; i < count; i++ {
		j := i + s.Rand.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count], nil
}
