// Package notify provides ready-made [stepup.Notifier] implementations for
// the supported delivery channels: discord direct messages, telegram bot
// messages, and SMTP email.
//
// Each notifier maps a principal to a channel-native recipient, sends the
// message, and returns an opaque handle that later allows the engine to
// delete the message. Channels that cannot delete delivered messages (SMTP)
// report deletion as a no-op success.
//
// # What this package must NOT do
//
//   - Generate or inspect verification codes (the engine owns message text).
//   - Retry deliveries (the engine decides what a failed dispatch means).
//   - Store any state beyond connection configuration.
package notify
