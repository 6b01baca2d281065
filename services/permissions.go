package services

import (
	"strings"

	"squad-ladder/models"
)

// Role is the highest authority an actor holds over a squad.
type Role string

const (
	RoleNone    Role = "none"
	RoleMember  Role = "member"
	RoleOfficer Role = "officer"
	RoleLeader  Role = "leader"
	RoleStaff   Role = "staff"
)

type Capability string

const (
	CanCreateMatch     Capability = "create_match"
	CanAcceptMatch     Capability = "accept_match"
	CanDeclareResult   Capability = "declare_result"
	CanReportResult    Capability = "report_result"
	CanConfirmResult   Capability = "confirm_result"
	CanCancelMatch     Capability = "cancel_match"
	CanRaiseDispute    Capability = "raise_dispute"
	CanAttachEvidence  Capability = "attach_evidence"
	CanResolveDispute  Capability = "resolve_dispute"
	CanManageLadder    Capability = "manage_ladder"
	CanRegisterSquad   Capability = "register_squad"
	CanRepairRewards   Capability = "repair_rewards"
	CanConfigureReward Capability = "configure_reward"
)

var capabilityRoles = map[Capability][]Role{
	CanCreateMatch:     {RoleLeader, RoleOfficer},
	CanAcceptMatch:     {RoleLeader, RoleOfficer},
	CanDeclareResult:   {RoleLeader},
	CanReportResult:    {RoleLeader, RoleOfficer},
	CanConfirmResult:   {RoleLeader, RoleOfficer},
	CanCancelMatch:     {RoleLeader, RoleOfficer},
	CanRaiseDispute:    {RoleLeader, RoleOfficer},
	CanAttachEvidence:  {RoleLeader, RoleOfficer, RoleMember, RoleStaff},
	CanResolveDispute:  {RoleStaff},
	CanManageLadder:    {RoleStaff},
	CanRegisterSquad:   {RoleLeader, RoleStaff},
	CanRepairRewards:   {RoleStaff},
	CanConfigureReward: {RoleStaff},
}

// Can is the single permission predicate used by every command.
func Can(role Role, capability Capability) bool {
	for _, r := range capabilityRoles[capability] {
		if r == role {
			return true
		}
	}
	return false
}

// RoleFromSquadRole maps a roster role to its permission role.
func RoleFromSquadRole(r models.SquadRole) Role {
	switch r {
	case models.SquadRoleLeader:
		return RoleLeader
	case models.SquadRoleOfficer:
		return RoleOfficer
	case models.SquadRoleMember:
		return RoleMember
	default:
		return RoleNone
	}
}

var staffPlatformRoles = map[string]bool{
	"admin":     true,
	"moderator": true,
	"staff":     true,
}

// Actor is the authenticated caller as forwarded by the gateway.
type Actor struct {
	UserID        string
	PlatformRoles []string
}

func (a Actor) IsStaff() bool {
	for _, r := range a.PlatformRoles {
		if staffPlatformRoles[strings.ToLower(strings.TrimSpace(r))] {
			return true
		}
	}
	return false
}
