package stepup

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by stepup APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Actions   map[Action]ActionConfig
	Challenge ChallengeConfig
	Email     EmailConfig
	Notify    NotifyConfig
	Approval  ApprovalConfig
	Store     StoreConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
ACTION CONFIG
====================================
*/

// ActionConfig defines a public type used by stepup APIs.
//
// ActionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ActionConfig struct {
	// Channels lists the delivery channels eligible for this action's
	// composition rule. The effective policy at request time may be
	// narrower: telegram is dropped for principals without a telegram
	// mapping, and email is dropped for principals whose address is not
	// allow-listed.
	Channels []Channel

	// GrantTTL is the elevated-access window opened by a successful
	// verification.
	GrantTTL time.Duration

	// SingleUse marks the grant as consumed by the one protected call it
	// authorizes.
	SingleUse bool

	// Principals is the static allow-list of principals permitted to
	// request step-up auth for this action. An empty list authorizes
	// nobody. The single entry "*" authorizes every principal, for hosts
	// that enforce their own access control upstream.
	Principals []string
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig defines a public type used by stepup APIs.
//
// ChallengeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
EMAIL CONFIG
====================================
*/

// EmailConfig defines a public type used by stepup APIs.
//
// EmailConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EmailConfig struct {
	// AllowedAddresses is the allow-list of email addresses permitted to
	// receive and verify email codes. Compared case-insensitively.
	AllowedAddresses []string
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig defines a public type used by stepup APIs.
//
// NotifyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NotifyConfig struct {
	// SendTimeout bounds every Notifier.Send call.
	SendTimeout time.Duration
	// DeleteTimeout bounds every Notifier.Delete call, including the
	// scheduled deletions performed by the message lifecycle scheduler.
	DeleteTimeout time.Duration
}

/*
====================================
APPROVAL CONFIG
====================================
*/

// ApprovalConfig defines a public type used by stepup APIs.
//
// ApprovalConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ApprovalConfig struct {
	// NotifyOnApproval sends an approval confirmation on the channels the
	// principal actually verified with.
	NotifyOnApproval bool
	// DeleteAfter is the self-destruct delay for approval confirmations.
	DeleteAfter time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig defines a public type used by stepup APIs.
//
// StoreConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type StoreConfig struct {
	// RedisPrefix namespaces challenge and grant keys when the Redis
	// backend is selected via [Builder.WithRedis].
	RedisPrefix string
	// SweepInterval is the period of the in-memory expiry sweep. Ignored
	// by the Redis backend, which expires keys natively.
	SweepInterval time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by stepup APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking the calling goroutine
	// when the dispatch buffer is full. Dropped events are counted.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by stepup APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultActions returns the action table of the rewards application this
// engine was extracted from: a one-hour terminal MFA session, short windows
// for the VPS monitor, and a single-use window for the destructive
// leaderboard reset. Principal allow-lists start empty and must be filled by
// the host.
func DefaultActions() map[Action]ActionConfig {
	return map[Action]ActionConfig{
		ActionTerminalAccess: {
			Channels: []Channel{ChannelDiscord, ChannelTelegram, ChannelEmail},
			GrantTTL: time.Hour,
		},
		ActionVPSMonitorAccess: {
			Channels: []Channel{ChannelDiscord, ChannelTelegram, ChannelEmail},
			GrantTTL: 5 * time.Minute,
		},
		ActionLeaderboardReset: {
			Channels:  []Channel{ChannelDiscord, ChannelTelegram, ChannelEmail},
			GrantTTL:  10 * time.Minute,
			SingleUse: true,
		},
	}
}

// DefaultConfig returns the configuration the builder starts from. Hosts
// that call [Builder.WithConfig] should start from this value and override
// the fields they care about; a zero Config does not validate.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Actions: DefaultActions(),
		Challenge: ChallengeConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
		},
		Notify: NotifyConfig{
			SendTimeout:   5 * time.Second,
			DeleteTimeout: 5 * time.Second,
		},
		Approval: ApprovalConfig{
			NotifyOnApproval: true,
			DeleteAfter:      24 * time.Hour,
		},
		Store: StoreConfig{
			RedisPrefix:   "su",
			SweepInterval: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg

	if cfg.Actions != nil {
		out.Actions = make(map[Action]ActionConfig, len(cfg.Actions))
		for action, ac := range cfg.Actions {
			next := ac
			next.Channels = append([]Channel(nil), ac.Channels...)
			next.Principals = append([]string(nil), ac.Principals...)
			out.Actions[action] = next
		}
	}
	out.Email.AllowedAddresses = append([]string(nil), cfg.Email.AllowedAddresses...)

	return out
}

var knownChannels = map[Channel]struct{}{
	ChannelDiscord:  {},
	ChannelTelegram: {},
	ChannelEmail:    {},
}

func validateConfig(cfg *Config) error {
	if len(cfg.Actions) == 0 {
		return errors.New("config: at least one action must be configured")
	}
	for action, ac := range cfg.Actions {
		if action == "" {
			return errors.New("config: empty action name")
		}
		if len(ac.Channels) == 0 {
			return errors.New("config: action " + string(action) + " has no channels")
		}
		seen := make(map[Channel]struct{}, len(ac.Channels))
		for _, ch := range ac.Channels {
			if _, ok := knownChannels[ch]; !ok {
				return errors.New("config: action " + string(action) + " references unknown channel " + string(ch))
			}
			if _, dup := seen[ch]; dup {
				return errors.New("config: action " + string(action) + " lists channel " + string(ch) + " twice")
			}
			seen[ch] = struct{}{}
		}
		if ac.GrantTTL <= 0 {
			return errors.New("config: action " + string(action) + " has non-positive grant TTL")
		}
	}

	if cfg.Challenge.TTL <= 0 {
		return errors.New("config: challenge TTL must be positive")
	}
	if cfg.Challenge.MaxAttempts < 1 || cfg.Challenge.MaxAttempts > 10 {
		return errors.New("config: challenge max attempts must be in [1,10]")
	}
	if cfg.Notify.SendTimeout <= 0 || cfg.Notify.DeleteTimeout <= 0 {
		return errors.New("config: notify timeouts must be positive")
	}
	if cfg.Approval.DeleteAfter <= 0 {
		return errors.New("config: approval delete-after must be positive")
	}
	if cfg.Store.RedisPrefix == "" {
		cfg.Store.RedisPrefix = "su"
	}
	if cfg.Store.SweepInterval <= 0 {
		cfg.Store.SweepInterval = time.Minute
	}
	if cfg.Audit.BufferSize <= 0 {
		cfg.Audit.BufferSize = 1024
	}

	for i, addr := range cfg.Email.AllowedAddresses {
		cfg.Email.AllowedAddresses[i] = strings.ToLower(strings.TrimSpace(addr))
	}

	return nil
}

func (c *Config) emailAllowed(address string) bool {
	if address == "" {
		return false
	}
	address = strings.ToLower(strings.TrimSpace(address))
	for _, allowed := range c.Email.AllowedAddresses {
		if allowed == address {
			return true
		}
	}
	return false
}

func (c *Config) principalAllowed(action Action, principal string) bool {
	ac, ok := c.Actions[action]
	if !ok {
		return false
	}
	for _, p := range ac.Principals {
		if p == "*" || p == principal {
			return true
		}
	}
	return false
}
