package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// ErrorKind groups rejections by how a caller should react.
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindTemporal     ErrorKind = "temporal"
	KindConflict     ErrorKind = "conflict"
	KindDependency   ErrorKind = "dependency"
)

// Stable rejection codes.
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeMatchNotFound         = "MATCH_NOT_FOUND"
	CodeLadderNotFound        = "LADDER_NOT_FOUND"
	CodeLadderInactive        = "LADDER_INACTIVE"
	CodeNotSquadMember        = "NOT_SQUAD_MEMBER"
	CodeInsufficientRole      = "INSUFFICIENT_ROLE"
	CodeSquadNotRegistered    = "SQUAD_NOT_REGISTERED"
	CodeTeamSizeOutOfRange    = "TEAM_SIZE_OUT_OF_RANGE"
	CodeInvalidRoster         = "INVALID_ROSTER"
	CodeReadyMatchExists      = "READY_MATCH_EXISTS"
	CodeScheduleTooSoon       = "SCHEDULE_TOO_SOON"
	CodeScheduleConflict      = "SCHEDULE_CONFLICT"
	CodeSelfChallenge         = "SELF_CHALLENGE"
	CodeMatchExpired          = "MATCH_EXPIRED"
	CodeRematchCooldown       = "REMATCH_COOLDOWN"
	CodeMatchAlreadyAccepted  = "MATCH_ALREADY_ACCEPTED"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeNotParticipant        = "NOT_PARTICIPANT"
	CodeInvalidWinner         = "INVALID_WINNER"
	CodeNoPendingReport       = "NO_PENDING_REPORT"
	CodeReportAlreadyPending  = "REPORT_ALREADY_PENDING"
	CodeCannotConfirmOwn      = "CANNOT_CONFIRM_OWN_REPORT"
	CodeCancelTooClose        = "CANCEL_TOO_CLOSE_TO_START"
	CodeCooperativeRequired   = "COOPERATIVE_CANCEL_REQUIRED"
	CodeEvidenceLimit         = "EVIDENCE_LIMIT_REACHED"
	CodeNotDisputed           = "MATCH_NOT_DISPUTED"
	CodeRewardsNotDue         = "REWARDS_NOT_DUE"
	CodeConcurrentUpdate      = "CONCURRENT_UPDATE"
	CodeRegistryUnavailable   = "REGISTRY_UNAVAILABLE"
	CodeDirectoryUnavailable  = "SQUAD_DIRECTORY_UNAVAILABLE"
	CodeRewardConfigFailure   = "REWARD_CONFIG_UNAVAILABLE"
	CodeMapPoolUnavailable    = "MAP_POOL_UNAVAILABLE"
	CodeStorageUnavailable    = "STORAGE_UNAVAILABLE"
	CodeEvidenceStoreDisabled = "EVIDENCE_UPLOAD_DISABLED"
)

// MatchError is the typed rejection every command returns. Kind and Code are
// stable; Details carries machine-readable extras such as remaining wait time.
type MatchError struct {
	Kind    ErrorKind      `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *MatchError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *MatchError) Unwrap() error { return e.cause }

// Remaining returns the wait carried by a temporal error.
func (e *MatchError) Remaining() (time.Duration, bool) {
	if e.Details == nil {
		return 0, false
	}
	secs, ok := e.Details["remaining_seconds"].(int64)
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func newError(kind ErrorKind, code, format string, args ...any) *MatchError {
	return &MatchError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func preconditionErr(code, format string, args ...any) *MatchError {
	return newError(KindPrecondition, code, format, args...)
}

func forbiddenErr(code, format string, args ...any) *MatchError {
	return newError(KindForbidden, code, format, args...)
}

func notFoundErr(code, format string, args ...any) *MatchError {
	return newError(KindNotFound, code, format, args...)
}

func conflictErr(code, format string, args ...any) *MatchError {
	return newError(KindConflict, code, format, args...)
}

// temporalErr attaches the remaining wait, rounded up to the second.
func temporalErr(code string, remaining time.Duration, format string, args ...any) *MatchError {
	e := newError(KindTemporal, code, format, args...)
	if remaining < 0 {
		remaining = 0
	}
	secs := int64((remaining + time.Second - 1) / time.Second)
	e.Details = map[string]any{
		"remaining_seconds": secs,
		"remaining_hours":   secs / 3600,
		"remaining_minutes": (secs % 3600) / 60,
	}
	return e
}

// dependencyErr fails an action closed when a collaborator cannot answer.
func dependencyErr(code string, cause error, format string, args ...any) *MatchError {
	e := newError(KindDependency, code, format, args...)
	e.cause = eris.Wrap(cause, e.Message)
	return e
}

// NotDisputedError is the rejection for evidence sent to a match with no open dispute.
func NotDisputedError(matchID string) error {
	return preconditionErr(CodeNotDisputed, "match %s is not disputed", matchID)
}

// AsMatchError extracts a *MatchError from err's chain.
func AsMatchError(err error) (*MatchError, bool) {
	var me *MatchError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// IsKind reports whether err is a MatchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	me, ok := AsMatchError(err)
	return ok && me.Kind == kind
}

// HasCode reports whether err is a MatchError carrying code.
func HasCode(err error, code string) bool {
	me, ok := AsMatchError(err)
	return ok && me.Code == code
}
