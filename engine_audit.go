package stepup

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventChallengeRequested     = "challenge_requested"
	auditEventChallengeRefreshed     = "challenge_refreshed"
	auditEventChallengeRejected      = "challenge_rejected"
	auditEventChallengeDispatched    = "challenge_dispatched"
	auditEventChallengeDispatchFail  = "challenge_dispatch_failed"
	auditEventChallengeVerified      = "challenge_verified"
	auditEventChallengeVerifyFailure = "challenge_verify_failure"
	auditEventChallengeExhausted     = "challenge_attempts_exceeded"
	auditEventGrantCreated           = "grant_created"
	auditEventGrantConsumed          = "grant_consumed"
	auditEventGrantConsumeRejected   = "grant_consume_rejected"
	auditEventGrantRevoked           = "grant_revoked"
	auditEventGrantsCleared          = "grants_cleared"
	auditEventApprovalScheduled      = "approval_scheduled"
	auditEventMessageDeleteFailed    = "message_delete_failed"
)

// AuditErrorCode defines a public type used by stepup APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrNotAuthorized        AuditErrorCode = "not_authorized"
	auditErrChannelNotAuthorized AuditErrorCode = "channel_not_authorized"
	auditErrUnknownAction        AuditErrorCode = "unknown_action"
	auditErrUnknownChannel       AuditErrorCode = "unknown_channel"
	auditErrNoEligibleChannels   AuditErrorCode = "no_eligible_channels"
	auditErrNoChallenge          AuditErrorCode = "no_challenge"
	auditErrChallengeExpired     AuditErrorCode = "challenge_expired"
	auditErrChallengeUsed        AuditErrorCode = "challenge_used"
	auditErrInvalidCode          AuditErrorCode = "invalid_code"
	auditErrAttemptsExceeded     AuditErrorCode = "attempts_exceeded"
	auditErrMissingCode          AuditErrorCode = "missing_code"
	auditErrUnexpectedChannel    AuditErrorCode = "unexpected_channel"
	auditErrDispatchFailed       AuditErrorCode = "dispatch_failed"
	auditErrNoGrant              AuditErrorCode = "no_grant"
	auditErrGrantExpired         AuditErrorCode = "grant_expired"
	auditErrGrantConsumed        AuditErrorCode = "grant_consumed"
	auditErrStoreUnavailable     AuditErrorCode = "store_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principal string,
	action Action,
	channel Channel,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Principal: principal,
		Action:    string(action),
		Channel:   string(channel),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNotAuthorized):
		return auditErrNotAuthorized
	case errors.Is(err, ErrChannelNotAuthorized):
		return auditErrChannelNotAuthorized
	case errors.Is(err, ErrUnknownAction):
		return auditErrUnknownAction
	case errors.Is(err, ErrUnknownChannel):
		return auditErrUnknownChannel
	case errors.Is(err, ErrNoEligibleChannels):
		return auditErrNoEligibleChannels
	case errors.Is(err, ErrNoChallenge):
		return auditErrNoChallenge
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeUsed):
		return auditErrChallengeUsed
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrMissingChannelCode):
		return auditErrMissingCode
	case errors.Is(err, ErrUnexpectedChannel):
		return auditErrUnexpectedChannel
	case errors.Is(err, ErrDispatchFailed):
		return auditErrDispatchFailed
	case errors.Is(err, ErrNoGrant):
		return auditErrNoGrant
	case errors.Is(err, ErrGrantExpired):
		return auditErrGrantExpired
	case errors.Is(err, ErrGrantConsumed):
		return auditErrGrantConsumed
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	default:
		return auditErrInternal
	}
}
