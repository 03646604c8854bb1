package stepup

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// CheckGrant reports whether the principal currently holds a live grant for
// the action. It never mutates the grant, so a single-use grant can be
// checked any number of times before the protected call spends it.
//
// An absent, expired, or already consumed grant is not an error condition;
// the returned status simply reports HasGrant false.
func (e *Engine) CheckGrant(ctx context.Context, principal string, action Action) (GrantStatus, error) {
	if e == nil || e.grants == nil {
		return GrantStatus{}, ErrEngineNotReady
	}
	if _, ok := e.config.Actions[action]; !ok {
		return GrantStatus{}, ErrUnknownAction
	}

	rec, err := e.grants.Get(ctx, principal, string(action), e.nowMillis())
	if err != nil {
		mapped := e.mapStoreError(err)
		if errors.Is(mapped, ErrNoGrant) || errors.Is(mapped, ErrGrantExpired) {
			e.metricInc(MetricGateDenied)
			return GrantStatus{}, nil
		}
		return GrantStatus{}, mapped
	}
	if rec.Consumed {
		e.metricInc(MetricGateDenied)
		return GrantStatus{}, nil
	}

	e.metricInc(MetricGateAllowed)
	return GrantStatus{
		HasGrant:  true,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt),
		SingleUse: rec.SingleUse,
	}, nil
}

// ConsumeGrant spends the grant guarding the protected call. For single-use
// grants exactly one concurrent caller succeeds; the grant is tombstoned so
// later callers see ErrGrantConsumed rather than an absent grant. Grants
// that are not single-use are validated and left live for the rest of their
// window.
func (e *Engine) ConsumeGrant(ctx context.Context, principal string, action Action) (GrantStatus, error) {
	if e == nil || e.grants == nil {
		return GrantStatus{}, ErrEngineNotReady
	}
	if _, ok := e.config.Actions[action]; !ok {
		return GrantStatus{}, ErrUnknownAction
	}

	rec, err := e.grants.Consume(ctx, principal, string(action), e.nowMillis())
	if err != nil {
		mapped := e.mapStoreError(err)
		e.metricInc(MetricGateDenied)
		e.emitAudit(ctx, auditEventGrantConsumeRejected, false, principal, action, "", mapped, nil)
		return GrantStatus{}, mapped
	}

	e.metricInc(MetricGateAllowed)
	if rec.SingleUse {
		e.metricInc(MetricGrantConsumed)
		e.emitAudit(ctx, auditEventGrantConsumed, true, principal, action, "", nil, nil)
	}
	return GrantStatus{
		HasGrant:  true,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt),
		SingleUse: rec.SingleUse,
	}, nil
}

// RevokeGrant removes the principal's grant for the action before its window
// closes. It reports whether a grant was actually removed; revoking an
// absent grant is not an error.
func (e *Engine) RevokeGrant(ctx context.Context, principal string, action Action) (bool, error) {
	if e == nil || e.grants == nil {
		return false, ErrEngineNotReady
	}
	if _, ok := e.config.Actions[action]; !ok {
		return false, ErrUnknownAction
	}

	removed, err := e.grants.Delete(ctx, principal, string(action))
	if err != nil {
		return false, e.mapStoreError(err)
	}
	if removed {
		e.metricInc(MetricGrantRevoked)
		e.emitAudit(ctx, auditEventGrantRevoked, true, principal, action, "", nil, nil)
	}
	return removed, nil
}

// RevokeAllGrants removes every grant the principal holds, across all
// actions, and reports how many were removed. Intended for session teardown
// and incident response.
func (e *Engine) RevokeAllGrants(ctx context.Context, principal string) (int, error) {
	if e == nil || e.grants == nil {
		return 0, ErrEngineNotReady
	}
	if principal == "" {
		return 0, ErrNotAuthorized
	}

	removed, err := e.grants.DeleteAll(ctx, principal)
	if err != nil {
		return 0, e.mapStoreError(err)
	}
	if removed > 0 {
		e.emitAudit(ctx, auditEventGrantsCleared, true, principal, "", "", nil, func() map[string]string {
			return map[string]string{"removed": strconv.Itoa(removed)}
		})
	}
	return removed, nil
}
