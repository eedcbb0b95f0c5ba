// Package errors provides structured error handling with i18n support.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Round lifecycle errors
	CodeRoundNotOpen            Code = "ROUND_NOT_OPEN"
	CodeRoundAlreadyFrozen      Code = "ROUND_ALREADY_FROZEN"
	CodeRoundNotLocked          Code = "ROUND_NOT_LOCKED"
	CodePreviousRoundUnresolved Code = "PREVIOUS_ROUND_UNRESOLVED"
	CodeMatchEnded              Code = "MATCH_ENDED"

	// Submission errors
	CodeParticipantNotAlive Code = "PARTICIPANT_NOT_ALIVE"
	CodeParticipantUnknown  Code = "PARTICIPANT_UNKNOWN"
	CodeActionUnknownKind   Code = "ACTION_UNKNOWN_KIND"
	CodeActionIllegalTarget Code = "ACTION_ILLEGAL_TARGET"
	CodeActionIllegalItem   Code = "ACTION_ILLEGAL_RESOURCE"
	CodeAbilityNotPermitted Code = "ABILITY_NOT_PERMITTED"

	// Resolution errors
	CodeResolutionFailed    Code = "RESOLUTION_FAILED"
	CodeCatalogInconsistent Code = "CATALOG_INCONSISTENT"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest,
		CodeActionUnknownKind:
		return http.StatusBadRequest

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodePermissionDenied:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - round or match phase disallows the operation
	case CodeRoundNotOpen,
		CodeRoundAlreadyFrozen,
		CodeRoundNotLocked,
		CodePreviousRoundUnresolved,
		CodeMatchEnded,
		CodeAlreadyExists:
		return http.StatusConflict

	// Unprocessable - the action is well formed but not legal for this caller
	case CodeParticipantNotAlive,
		CodeParticipantUnknown,
		CodeActionIllegalTarget,
		CodeActionIllegalItem,
		CodeAbilityNotPermitted:
		return http.StatusUnprocessableEntity

	case CodeStorageUnavailable,
		CodeResolutionFailed:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
