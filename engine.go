package stepup

import (
	"time"

	"github.com/BlakeMcBride1625/stepup/internal/stores"
)

// Engine defines a public type used by stepup APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config     Config
	notifiers  map[Channel]Notifier
	directory  DirectoryProvider
	challenges stores.ChallengeStore
	grants     stores.GrantStore
	scheduler  *messageScheduler
	audit      *auditDispatcher
	metrics    *Metrics
	now        func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.scheduler != nil {
		e.scheduler.Close()
	}
	if e.challenges != nil {
		e.challenges.Close()
	}
	if e.grants != nil {
		e.grants.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// PendingDeletions reports the number of scheduled message deletions that
// have not fired yet. Exposed for operational visibility and tests.
func (e *Engine) PendingDeletions() int {
	if e == nil || e.scheduler == nil {
		return 0
	}
	return e.scheduler.Pending()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

func (e *Engine) notifier(ch Channel) Notifier {
	if e == nil {
		return nil
	}
	return e.notifiers[ch]
}

// effectiveChannels narrows an action's configured channel list to the
// channels this principal can actually satisfy: channels without a
// registered notifier are unconfigured, telegram requires a directory
// mapping, and email requires the principal's address to be allow-listed.
func (e *Engine) effectiveChannels(principal string, ac ActionConfig) []Channel {
	out := make([]Channel, 0, len(ac.Channels))
	for _, ch := range ac.Channels {
		if e.notifiers[ch] == nil {
			continue
		}
		switch ch {
		case ChannelTelegram:
			if e.directory == nil {
				continue
			}
			if _, ok := e.directory.TelegramID(principal); !ok {
				continue
			}
		case ChannelEmail:
			if e.directory == nil {
				continue
			}
			addr, ok := e.directory.Email(principal)
			if !ok || !e.config.emailAllowed(addr) {
				continue
			}
		}
		out = append(out, ch)
	}
	return out
}

func channelIn(channels []Channel, ch Channel) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}
