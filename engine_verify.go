package stepup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BlakeMcBride1625/stepup/internal/stores"
)

// VerifyChallenge checks submitted codes against the live challenge and, on
// success, opens the action's time-boxed grant.
//
// The submission must satisfy exactly one branch of the channel policy: the
// email code alone, or a code for every non-email channel the principal is
// eligible for. Composition errors (missing or unexpected channels) are
// rejected before the stored challenge is touched and never cost an attempt.
// Code comparison is channel-specific: email codes are compared exactly
// after trimming surrounding whitespace, all other codes are compared
// case-insensitively.
func (e *Engine) VerifyChallenge(ctx context.Context, principal string, action Action, codes map[Channel]string) (*VerifyResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}
	}()

	if principal == "" {
		return nil, ErrNotAuthorized
	}

	ac, ok := e.config.Actions[action]
	if !ok {
		return nil, ErrUnknownAction
	}
	if !e.config.principalAllowed(action, principal) {
		e.metricInc(MetricVerifyRejected)
		e.emitAudit(ctx, auditEventChallengeVerifyFailure, false, principal, action, "", ErrNotAuthorized, nil)
		return nil, ErrNotAuthorized
	}

	policy := e.effectiveChannels(principal, ac)
	submission, required, err := e.planVerification(ac, policy, codes)
	if err != nil {
		e.metricInc(MetricVerifyRejected)
		e.emitAudit(ctx, auditEventChallengeVerifyFailure, false, principal, action, "", err, nil)
		return nil, err
	}

	var (
		verifyErr         error
		attemptsRemaining int
		handles           map[string]string
	)
	maxAttempts := e.config.Challenge.MaxAttempts

	_, updateErr := e.challenges.Update(ctx, principal, string(action), e.nowMillis(), func(live *stores.ChallengeRecord) (stores.Outcome, error) {
		if live.Used {
			verifyErr = ErrChallengeUsed
			return stores.OutcomeKeep, ErrChallengeUsed
		}

		if !codesMatch(live.Codes, submission, required) {
			live.Attempts++
			if int(live.Attempts) >= maxAttempts {
				verifyErr = ErrAttemptsExceeded
				return stores.OutcomeDelete, ErrAttemptsExceeded
			}
			attemptsRemaining = maxAttempts - int(live.Attempts)
			verifyErr = ErrInvalidCode
			return stores.OutcomeSave, ErrInvalidCode
		}

		// retained as a tombstone so a replay reports the used state, not a
		// missing challenge
		live.Used = true
		handles = make(map[string]string, len(live.Handles))
		for ch, h := range live.Handles {
			handles[ch] = h
		}
		return stores.OutcomeSave, nil
	})

	if updateErr != nil && verifyErr == nil {
		mapped := e.mapStoreError(updateErr)
		switch {
		case errors.Is(mapped, ErrChallengeExpired):
			e.metricInc(MetricVerifyExpired)
		case errors.Is(mapped, ErrStoreUnavailable):
			// fall through, no dedicated counter
		default:
			e.metricInc(MetricVerifyFailure)
		}
		e.emitAudit(ctx, auditEventChallengeVerifyFailure, false, principal, action, "", mapped, nil)
		return nil, mapped
	}

	switch {
	case verifyErr == nil:
		// fall through to grant creation
	case errors.Is(verifyErr, ErrAttemptsExceeded):
		e.metricInc(MetricVerifyExhausted)
		e.emitAudit(ctx, auditEventChallengeExhausted, false, principal, action, "", verifyErr, nil)
		return nil, verifyErr
	case errors.Is(verifyErr, ErrInvalidCode):
		e.metricInc(MetricVerifyFailure)
		remaining := attemptsRemaining
		e.emitAudit(ctx, auditEventChallengeVerifyFailure, false, principal, action, "", verifyErr, func() map[string]string {
			return map[string]string{"attempts_remaining": strconv.Itoa(remaining)}
		})
		return &VerifyResult{AttemptsRemaining: remaining}, verifyErr
	default:
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventChallengeVerifyFailure, false, principal, action, "", verifyErr, nil)
		return nil, verifyErr
	}

	nowMs := e.nowMillis()
	grant := &stores.GrantRecord{
		Principal: principal,
		Action:    string(action),
		GrantedAt: nowMs,
		ExpiresAt: nowMs + ac.GrantTTL.Milliseconds(),
		SingleUse: ac.SingleUse,
	}
	if putErr := e.grants.Put(ctx, grant); putErr != nil {
		mapped := e.mapStoreError(putErr)
		e.emitAudit(ctx, auditEventChallengeVerifyFailure, false, principal, action, "", mapped, nil)
		return nil, mapped
	}

	e.metricInc(MetricVerifySuccess)
	e.metricInc(MetricGrantCreated)
	e.emitAudit(ctx, auditEventChallengeVerified, true, principal, action, "", nil, nil)
	e.emitAudit(ctx, auditEventGrantCreated, true, principal, action, "", nil, func() map[string]string {
		return map[string]string{
			"grant_ttl":  ac.GrantTTL.String(),
			"single_use": strconv.FormatBool(ac.SingleUse),
		}
	})

	e.deleteCodeMessages(ctx, principal, action, handles)
	e.notifyApproval(ctx, principal, action, required, ac.GrantTTL)

	return &VerifyResult{
		Granted:        true,
		GrantExpiresAt: time.UnixMilli(grant.ExpiresAt),
	}, nil
}

// planVerification decides which branch of the channel policy the submission
// targets and validates its shape. It returns the normalized codes keyed by
// channel and the ordered channel list that must match.
func (e *Engine) planVerification(ac ActionConfig, policy []Channel, codes map[Channel]string) (map[Channel]string, []Channel, error) {
	submission := make(map[Channel]string, len(codes))
	for ch, code := range codes {
		if _, known := knownChannels[ch]; !known {
			return nil, nil, ErrUnknownChannel
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		submission[ch] = trimmed
	}
	if len(submission) == 0 {
		return nil, nil, fmt.Errorf("%w: no codes submitted", ErrMissingChannelCode)
	}

	for ch := range submission {
		if !channelIn(ac.Channels, ch) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnexpectedChannel, ch)
		}
		if channelIn(policy, ch) {
			continue
		}
		// email exclusion is an authorization decision (allow-list);
		// telegram exclusion just means the code was never part of the
		// requirement
		if ch == ChannelEmail {
			return nil, nil, fmt.Errorf("%w: %s", ErrChannelNotAuthorized, ch)
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrUnexpectedChannel, ch)
	}

	if _, viaEmail := submission[ChannelEmail]; viaEmail {
		if len(submission) > 1 {
			for ch := range submission {
				if ch != ChannelEmail {
					return nil, nil, fmt.Errorf("%w: %s", ErrUnexpectedChannel, ch)
				}
			}
		}
		return submission, []Channel{ChannelEmail}, nil
	}

	required := make([]Channel, 0, len(policy))
	for _, ch := range policy {
		if ch == ChannelEmail {
			continue
		}
		required = append(required, ch)
	}
	if len(required) == 0 {
		return nil, nil, ErrNoEligibleChannels
	}
	for _, ch := range required {
		if _, present := submission[ch]; !present {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingChannelCode, ch)
		}
	}
	return submission, required, nil
}

// codesMatch compares every required channel's submitted code against the
// stored one. Email is exact after trimming, other channels fold case.
func codesMatch(stored map[string]string, submission map[Channel]string, required []Channel) bool {
	for _, ch := range required {
		want, ok := stored[string(ch)]
		if !ok {
			return false
		}
		got := submission[ch]
		if ch != ChannelEmail {
			got = strings.ToUpper(got)
			want = strings.ToUpper(want)
		}
		if got != want {
			return false
		}
	}
	return true
}

// deleteCodeMessages removes the delivered code messages once the challenge
// has been settled. Failures are reported through metrics and audit only.
func (e *Engine) deleteCodeMessages(ctx context.Context, principal string, action Action, handles map[string]string) {
	for chName, handle := range handles {
		ch := Channel(chName)
		n := e.notifier(ch)
		if n == nil || handle == "" {
			continue
		}
		if err := e.deleteMessage(ctx, n, principal, MessageHandle(handle)); err != nil {
			e.metricInc(MetricCodeMessageDeleteFailed)
			e.emitAudit(ctx, auditEventMessageDeleteFailed, false, principal, action, ch, err, nil)
			continue
		}
		e.metricInc(MetricCodeMessageDeleted)
	}
}

func (e *Engine) deleteMessage(ctx context.Context, n Notifier, principal string, handle MessageHandle) error {
	if ctx == nil {
		ctx = context.Background()
	}
	delCtx, cancel := context.WithTimeout(ctx, e.config.Notify.DeleteTimeout)
	defer cancel()

	err := n.Delete(delCtx, principal, handle)
	if err != nil && !errors.Is(err, ErrMessageNotFound) {
		return err
	}
	return nil
}

// notifyApproval sends the approval confirmation on the channels that
// satisfied the challenge and schedules its own deletion.
func (e *Engine) notifyApproval(ctx context.Context, principal string, action Action, channels []Channel, grantTTL time.Duration) {
	if !e.config.Approval.NotifyOnApproval || e.scheduler == nil {
		return
	}

	text := approvalMessageText(action, grantTTL)
	for _, ch := range channels {
		handle, err := e.send(ctx, ch, principal, text)
		if err != nil {
			e.metricInc(MetricDispatchFailure)
			e.emitAudit(ctx, auditEventChallengeDispatchFail, false, principal, action, ch, ErrDispatchFailed, func() map[string]string {
				return map[string]string{"cause": err.Error(), "kind": "approval"}
			})
			continue
		}
		e.scheduler.Schedule(ch, principal, handle, e.config.Approval.DeleteAfter)
		e.metricInc(MetricApprovalScheduled)
		e.emitAudit(ctx, auditEventApprovalScheduled, true, principal, action, ch, nil, nil)
	}
}

func approvalMessageText(action Action, grantTTL time.Duration) string {
	return fmt.Sprintf("Verification approved for %s. Elevated access is open for %s.", action, grantTTL)
}
