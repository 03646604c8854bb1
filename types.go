package stepup

import (
	"context"
	"time"
)

// Channel identifies a delivery channel for one-time codes and approval
// notices.
//
// Channel instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Channel string

const (
	// ChannelDiscord is an exported constant or variable used by the step-up engine.
	ChannelDiscord Channel = "discord"
	// ChannelTelegram is an exported constant or variable used by the step-up engine.
	ChannelTelegram Channel = "telegram"
	// ChannelEmail is an exported constant or variable used by the step-up engine.
	ChannelEmail Channel = "email"
)

// Action identifies a statically-known sensitive operation that requires
// step-up authentication before it may execute.
//
// Action instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Action string

const (
	// ActionTerminalAccess is an exported constant or variable used by the step-up engine.
	ActionTerminalAccess Action = "terminal-access"
	// ActionVPSMonitorAccess is an exported constant or variable used by the step-up engine.
	ActionVPSMonitorAccess Action = "vps-monitor-access"
	// ActionLeaderboardReset is an exported constant or variable used by the step-up engine.
	ActionLeaderboardReset Action = "leaderboard-reset"
)

// MessageHandle is the opaque identifier a [Notifier] returns for a delivered
// message. The engine stores it only to delete the message later.
type MessageHandle string

// Notifier is the narrow capability the engine requires from a delivery
// channel: send a short text to a principal, and delete a previously sent
// message by handle.
//
// Delete must return [ErrMessageNotFound] when the message is already gone;
// the engine treats that outcome as a successful no-op. Both methods should
// honor ctx cancellation — the engine calls them with short per-call
// timeouts.
type Notifier interface {
	Send(ctx context.Context, principal string, text string) (MessageHandle, error)
	Delete(ctx context.Context, principal string, handle MessageHandle) error
}

// DirectoryProvider resolves per-principal channel identities. The engine
// uses it for channel-policy decisions only: a principal without a Telegram
// mapping has Telegram dropped from every composition rule, and a principal
// whose email address is not on the configured allow-list may not verify over
// email.
//
// Implementations must be safe for concurrent use.
type DirectoryProvider interface {
	// TelegramID returns the principal's Telegram identity, if any.
	TelegramID(principal string) (string, bool)
	// Email returns the principal's email address, if any.
	Email(principal string) (string, bool)
}

// DispatchResult is returned by [Engine.RequestChallenge]. It reports, per
// channel in the action's effective policy, whether the code message was
// delivered, along with the remaining challenge lifetime.
type DispatchResult struct {
	Dispatched map[Channel]bool
	ExpiresIn  time.Duration
}

// VerifyResult is returned by [Engine.VerifyChallenge].
//
// On success Granted is true and GrantExpiresAt carries the expiry of the
// elevated-access grant that was created. When the submitted codes did not
// match ([ErrInvalidCode]), AttemptsRemaining reports how many further
// attempts the challenge will accept.
type VerifyResult struct {
	Granted           bool
	AttemptsRemaining int
	GrantExpiresAt    time.Time
}

// GrantStatus is returned by [Engine.CheckGrant].
//
// GrantStatus instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type GrantStatus struct {
	HasGrant  bool
	ExpiresAt time.Time
	SingleUse bool
}
