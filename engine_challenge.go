package stepup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BlakeMcBride1625/stepup/internal"
	"github.com/BlakeMcBride1625/stepup/internal/stores"
)

// RequestChallenge creates a challenge for (principal, action) or refreshes
// the live one, then dispatches the per-channel one-time codes.
//
// A refresh extends the expiry window without rotating codes already in
// transit on another channel. When channel is non-empty only that channel is
// dispatched and its delivery failure fails the whole call; otherwise every
// channel in the effective policy is attempted and individual failures are
// reported through [DispatchResult] without failing the call.
func (e *Engine) RequestChallenge(ctx context.Context, principal string, action Action, channel Channel) (*DispatchResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if principal == "" {
		return nil, ErrNotAuthorized
	}

	ac, ok := e.config.Actions[action]
	if !ok {
		return nil, ErrUnknownAction
	}
	if !e.config.principalAllowed(action, principal) {
		e.metricInc(MetricChallengeRejected)
		e.emitAudit(ctx, auditEventChallengeRejected, false, principal, action, channel, ErrNotAuthorized, nil)
		return nil, ErrNotAuthorized
	}

	policy := e.effectiveChannels(principal, ac)
	if channel != "" {
		if err := e.requestedChannelError(ac, policy, channel); err != nil {
			e.metricInc(MetricChallengeRejected)
			e.emitAudit(ctx, auditEventChallengeRejected, false, principal, action, channel, err, nil)
			return nil, err
		}
	}
	if len(policy) == 0 {
		e.metricInc(MetricChallengeRejected)
		e.emitAudit(ctx, auditEventChallengeRejected, false, principal, action, channel, ErrNoEligibleChannels, nil)
		return nil, ErrNoEligibleChannels
	}

	freshCodes, err := generateCodes(policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	nowMs := e.nowMillis()
	expiresAt := nowMs + e.config.Challenge.TTL.Milliseconds()
	createdNew := false

	rec, err := e.challenges.Upsert(ctx, principal, string(action), nowMs,
		func() (*stores.ChallengeRecord, error) {
			createdNew = true
			return &stores.ChallengeRecord{
				Principal: principal,
				Action:    string(action),
				Codes:     freshCodes,
				Handles:   make(map[string]string),
				IssuedAt:  nowMs,
				ExpiresAt: expiresAt,
			}, nil
		},
		func(live *stores.ChallengeRecord) bool {
			if live.Used || int(live.Attempts) >= e.config.Challenge.MaxAttempts {
				return false
			}
			live.ExpiresAt = expiresAt
			// policy may have widened since issuance; codes already in
			// transit are never rotated
			for ch, code := range freshCodes {
				if _, exists := live.Codes[ch]; !exists {
					live.Codes[ch] = code
				}
			}
			return true
		},
	)
	if err != nil {
		return nil, e.mapStoreError(err)
	}

	if createdNew {
		e.metricInc(MetricChallengeIssued)
		e.emitAudit(ctx, auditEventChallengeRequested, true, principal, action, channel, nil, nil)
	} else {
		e.metricInc(MetricChallengeRefreshed)
		e.emitAudit(ctx, auditEventChallengeRefreshed, true, principal, action, channel, nil, nil)
	}

	targets := policy
	if channel != "" {
		targets = []Channel{channel}
	}

	dispatched := make(map[Channel]bool, len(policy))
	for _, ch := range policy {
		dispatched[ch] = false
	}

	handles := make(map[string]string, len(targets))
	var requestedFailure error

	for _, target := range targets {
		code := rec.Codes[string(target)]
		text := codeMessageText(action, target, code, e.config.Challenge.TTL)

		handle, sendErr := e.send(ctx, target, principal, text)
		if sendErr != nil {
			e.metricInc(MetricDispatchFailure)
			e.emitAudit(ctx, auditEventChallengeDispatchFail, false, principal, action, target, ErrDispatchFailed, func() map[string]string {
				return map[string]string{"cause": sendErr.Error()}
			})
			if target == channel {
				requestedFailure = fmt.Errorf("%w: %s", ErrDispatchFailed, target)
			}
			continue
		}

		dispatched[target] = true
		handles[string(target)] = string(handle)
		e.metricInc(MetricDispatchSuccess)
		e.emitAudit(ctx, auditEventChallengeDispatched, true, principal, action, target, nil, nil)
	}

	if len(handles) > 0 {
		settled := false
		_, recErr := e.challenges.Update(ctx, principal, string(action), e.nowMillis(), func(live *stores.ChallengeRecord) (stores.Outcome, error) {
			if live.Used {
				settled = true
				return stores.OutcomeKeep, nil
			}
			for ch, handle := range handles {
				live.Handles[ch] = handle
			}
			return stores.OutcomeSave, nil
		})
		// a concurrent verify may have settled the challenge, or it may have
		// expired, while the notifier calls were in flight. Its cleanup pass
		// never saw these handles, so reclaim the just-sent messages here.
		if settled || errors.Is(recErr, stores.ErrChallengeNotFound) || errors.Is(recErr, stores.ErrChallengeExpired) {
			e.deleteCodeMessages(ctx, principal, action, handles)
		}
	}

	result := &DispatchResult{
		Dispatched: dispatched,
		ExpiresIn:  time.Duration(rec.ExpiresAt-nowMs) * time.Millisecond,
	}
	if requestedFailure != nil {
		return result, requestedFailure
	}
	return result, nil
}

// requestedChannelError rejects an explicitly requested channel that the
// principal cannot use, before any stored state is touched.
func (e *Engine) requestedChannelError(ac ActionConfig, policy []Channel, channel Channel) error {
	if _, known := knownChannels[channel]; !known {
		return ErrUnknownChannel
	}
	if !channelIn(ac.Channels, channel) {
		return ErrUnknownChannel
	}
	if channelIn(policy, channel) {
		return nil
	}
	if e.notifiers[channel] == nil {
		return ErrUnknownChannel
	}
	return ErrChannelNotAuthorized
}

func (e *Engine) send(ctx context.Context, channel Channel, principal, text string) (MessageHandle, error) {
	n := e.notifier(channel)
	if n == nil {
		return "", ErrUnknownChannel
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.Notify.SendTimeout)
	defer cancel()

	return n.Send(sendCtx, principal, text)
}

func generateCodes(policy []Channel) (map[string]string, error) {
	codes := make(map[string]string, len(policy))
	for _, ch := range policy {
		var (
			code string
			err  error
		)
		if ch == ChannelEmail {
			code, err = internal.NewPIN()
		} else {
			code, err = internal.NewHexCode()
		}
		if err != nil {
			return nil, err
		}
		codes[string(ch)] = code
	}
	return codes, nil
}

func codeMessageText(action Action, channel Channel, code string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	if channel == ChannelEmail {
		return fmt.Sprintf("Your verification PIN for %s is %s. It expires in %d minutes.", action, code, minutes)
	}
	return fmt.Sprintf("Your verification code for %s is %s. It expires in %d minutes.", action, code, minutes)
}

func (e *Engine) mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrNoChallenge
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrGrantNotFound):
		return ErrNoGrant
	case errors.Is(err, stores.ErrGrantExpired):
		return ErrGrantExpired
	case errors.Is(err, stores.ErrGrantConsumed):
		return ErrGrantConsumed
	case errors.Is(err, stores.ErrBackend), errors.Is(err, stores.ErrConflict):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}
