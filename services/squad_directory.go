package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-ladder/models"
)

// SquadDirectory resolves squad membership. The roster itself is owned by
// the external squad service.
type SquadDirectory interface {
	// MemberRole returns ok=false when playerID is not in the squad.
	MemberRole(ctx context.Context, squadID, playerID string) (role models.SquadRole, ok bool, err error)
	// Members returns the roster leader first, then officers, then members.
	Members(ctx context.Context, squadID string) ([]models.SquadMember, error)
}

// ResolveRole returns the actor's permission role within squadID. Staff
// acting on their own squad keep their squad role; the staff role is only
// granted for squads they do not belong to.
func ResolveRole(ctx context.Context, dir SquadDirectory, actor Actor, squadID string) (Role, error) {
	if actor.UserID == "" || squadID == "" {
		return RoleNone, nil
	}
	sr, ok, err := dir.MemberRole(ctx, squadID, actor.UserID)
	if err != nil {
		return RoleNone, dependencyErr(CodeDirectoryUnavailable, err, "squad directory lookup failed")
	}
	if ok {
		return RoleFromSquadRole(sr), nil
	}
	if actor.IsStaff() {
		return RoleStaff, nil
	}
	return RoleNone, nil
}

// SquadMemberStore is the local mirror of squad rosters.
type SquadMemberStore struct {
	DB *gorm.DB
}

func NewSquadMemberStore(db *gorm.DB) *SquadMemberStore {
	return &SquadMemberStore{DB: db}
}

func (s *SquadMemberStore) MemberRole(ctx context.Context, squadID, playerID string) (models.SquadRole, bool, error) {
	var m models.SquadMember
	err := s.DB.WithContext(ctx).Where("squad_id = ? AND player_id = ?", squadID, playerID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "failed to look up %s in squad %s", playerID, squadID)
	}
	return m.Role, true, nil
}

var roleOrder = map[models.SquadRole]int{
	models.SquadRoleLeader:  0,
	models.SquadRoleOfficer: 1,
	models.SquadRoleMember:  2,
}

func (s *SquadMemberStore) Members(ctx context.Context, squadID string) ([]models.SquadMember, error) {
	var members []models.SquadMember
	if err := s.DB.WithContext(ctx).Where("squad_id = ?", squadID).Order("joined_at ASC").Order("player_id ASC").Find(&members).Error; err != nil {
		return nil, eris.Wrapf(err, "failed to load members of %s", squadID)
	}
	sort.SliceStable(members, func(i, j int) bool {
		return roleOrder[members[i].Role] < roleOrder[members[j].Role]
	})
	return members, nil
}

// Upsert writes a synced roster row.
func (s *SquadMemberStore) Upsert(ctx context.Context, m models.SquadMember) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "squad_id"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "display_name", "joined_at", "updated_at"}),
	}).Create(&m).Error
	return eris.Wrapf(err, "failed to upsert member %s of %s", m.PlayerID, m.SquadID)
}

func (s *SquadMemberStore) Remove(ctx context.Context, squadID, playerID string) error {
	err := s.DB.WithContext(ctx).Where("squad_id = ? AND player_id = ?", squadID, playerID).Delete(&models.SquadMember{}).Error
	return eris.Wrapf(err, "failed to remove member %s of %s", playerID, squadID)
}

// LatestUpdate returns the newest synced updated_at, or the zero time when
// nothing has been synced yet.
func (s *SquadMemberStore) LatestUpdate(ctx context.Context) (time.Time, error) {
	var m models.SquadMember
	err := s.DB.WithContext(ctx).Order("updated_at DESC").Limit(1).Find(&m).Error
	if err != nil {
		return time.Time{}, eris.Wrap(err, "failed to read last squad sync time")
	}
	return m.UpdatedAt, nil
}
