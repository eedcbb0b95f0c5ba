package engine

import (
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/partyround/internal/platform/errors"
)

// nonRetryableError wraps an error to signal that retrying the operation
// cannot succeed, e.g. a catalog that no longer matches stored state.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable returns true from IsNonRetryable checks.
func (e *nonRetryableError) NonRetryable() bool { return true }

// wrapNonRetryable marks an error as non-retryable.
func wrapNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable returns true when the error (or any error in its chain)
// signals that the operation must not be retried.
func IsNonRetryable(err error) bool {
	var target interface{ NonRetryable() bool }
	if errors.As(err, &target) {
		return target.NonRetryable()
	}
	return false
}

// RejectReason names why a submission was refused at intake.
type RejectReason string

const (
	ReasonRoundNotOpen        RejectReason = "round_not_open"
	ReasonParticipantNotAlive RejectReason = "participant_not_alive"
	ReasonParticipantUnknown  RejectReason = "participant_unknown"
	ReasonUnknownKind         RejectReason = "unknown_action_kind"
	ReasonMalformed           RejectReason = "malformed_action"
	ReasonIllegalTarget       RejectReason = "illegal_target"
	ReasonIllegalResource     RejectReason = "illegal_resource"
	ReasonAbilityNotPermitted RejectReason = "ability_not_permitted"
)

var reasonCodes = map[RejectReason]apperrors.Code{
	ReasonRoundNotOpen:        apperrors.CodeRoundNotOpen,
	ReasonParticipantNotAlive: apperrors.CodeParticipantNotAlive,
	ReasonParticipantUnknown:  apperrors.CodeParticipantUnknown,
	ReasonUnknownKind:         apperrors.CodeActionUnknownKind,
	ReasonMalformed:           apperrors.CodeInvalidRequest,
	ReasonIllegalTarget:       apperrors.CodeActionIllegalTarget,
	ReasonIllegalResource:     apperrors.CodeActionIllegalItem,
	ReasonAbilityNotPermitted: apperrors.CodeAbilityNotPermitted,
}

// RejectError is returned by Submit for actions that never enter a round.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return "submission rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("submission rejected: %s: %s", e.Reason, e.Detail)
}

// Code maps the reason to a platform error code.
func (e *RejectError) Code() apperrors.Code {
	if code, ok := reasonCodes[e.Reason]; ok {
		return code
	}
	return apperrors.CodeInvalidRequest
}

func reject(reason RejectReason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// PublicRetryMessage is all non-privileged callers learn about a failed
// resolution.
const PublicRetryMessage = "resolution failed, retry"

// ResolutionError is returned by Resolve when no result could be produced
// or committed. Nothing is persisted when it is returned.
type ResolutionError struct {
	Code      apperrors.Code
	Retryable bool
	Detail    string
	Err       error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve round: %s", e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// NonRetryable reports the inverse of Retryable so IsNonRetryable sees it.
func (e *ResolutionError) NonRetryable() bool { return !e.Retryable }

// PublicMessage is the text shown to non-privileged callers.
func (e *ResolutionError) PublicMessage() string { return PublicRetryMessage }

func storageFailure(detail string, err error) *ResolutionError {
	return &ResolutionError{Code: apperrors.CodeStorageUnavailable, Retryable: true, Detail: detail, Err: err}
}
