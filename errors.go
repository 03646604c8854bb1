package stepup

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the step-up engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnknownAction is an exported constant or variable used by the step-up engine.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownChannel is an exported constant or variable used by the step-up engine.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNotAuthorized is an exported constant or variable used by the step-up engine.
	ErrNotAuthorized = errors.New("principal not authorized for action")
	// ErrChannelNotAuthorized is an exported constant or variable used by the step-up engine.
	ErrChannelNotAuthorized = errors.New("channel not authorized for principal")
	// ErrNoEligibleChannels is an exported constant or variable used by the step-up engine.
	ErrNoEligibleChannels = errors.New("no eligible channels for action")
	// ErrNoChallenge is an exported constant or variable used by the step-up engine.
	ErrNoChallenge = errors.New("no live challenge")
	// ErrChallengeExpired is an exported constant or variable used by the step-up engine.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeUsed is an exported constant or variable used by the step-up engine.
	ErrChallengeUsed = errors.New("challenge already used")
	// ErrInvalidCode is an exported constant or variable used by the step-up engine.
	ErrInvalidCode = errors.New("invalid code")
	// ErrAttemptsExceeded is an exported constant or variable used by the step-up engine.
	ErrAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrMissingChannelCode is an exported constant or variable used by the step-up engine.
	ErrMissingChannelCode = errors.New("required channel code missing")
	// ErrUnexpectedChannel is an exported constant or variable used by the step-up engine.
	ErrUnexpectedChannel = errors.New("code submitted for channel outside policy")
	// ErrDispatchFailed is an exported constant or variable used by the step-up engine.
	ErrDispatchFailed = errors.New("code dispatch failed")
	// ErrNoGrant is an exported constant or variable used by the step-up engine.
	ErrNoGrant = errors.New("no grant")
	// ErrGrantExpired is an exported constant or variable used by the step-up engine.
	ErrGrantExpired = errors.New("grant expired")
	// ErrGrantConsumed is an exported constant or variable used by the step-up engine.
	ErrGrantConsumed = errors.New("grant already consumed")
	// ErrStoreUnavailable is an exported constant or variable used by the step-up engine.
	ErrStoreUnavailable = errors.New("store backend unavailable")
	// ErrMessageNotFound is an exported constant or variable used by the step-up engine.
	ErrMessageNotFound = errors.New("message not found")
)
