package stepup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// messageScheduler deletes distributed messages after a fixed delay,
// independent of challenge and grant lifecycle (approval confirmations
// self-destruct after 24 hours). Timers are reclaimed the moment they fire
// or are cancelled, so the scheduler never accumulates completed entries.
type messageScheduler struct {
	mu            sync.Mutex
	timers        map[string]*time.Timer
	notifier      func(Channel) Notifier
	deleteTimeout time.Duration
	onResult      func(deleted bool, channel Channel, principal string, err error)
	closed        bool
}

func newMessageScheduler(notifier func(Channel) Notifier, deleteTimeout time.Duration, onResult func(bool, Channel, string, error)) *messageScheduler {
	return &messageScheduler{
		timers:        make(map[string]*time.Timer),
		notifier:      notifier,
		deleteTimeout: deleteTimeout,
		onResult:      onResult,
	}
}

// Schedule arranges a single delete attempt for the message after the delay
// elapses and returns a cancellation token. A "not found" outcome from the
// notifier counts as success: the Verifier may have deleted the message
// synchronously in the meantime.
func (s *messageScheduler) Schedule(channel Channel, principal string, handle MessageHandle, after time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ""
	}

	token := uuid.NewString()
	s.timers[token] = time.AfterFunc(after, func() {
		s.fire(token, channel, principal, handle)
	})
	return token
}

func (s *messageScheduler) fire(token string, channel Channel, principal string, handle MessageHandle) {
	s.mu.Lock()
	if _, live := s.timers[token]; !live {
		// cancelled between timer fire and lock acquisition
		s.mu.Unlock()
		return
	}
	delete(s.timers, token)
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}

	n := s.notifier(channel)
	if n == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.deleteTimeout)
	defer cancel()

	err := n.Delete(ctx, principal, handle)
	if errors.Is(err, ErrMessageNotFound) {
		err = nil
	}
	if s.onResult != nil {
		s.onResult(err == nil, channel, principal, err)
	}
}

// Cancel revokes a pending deletion. Returns false when the timer already
// fired or was cancelled.
func (s *messageScheduler) Cancel(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[token]
	if !ok {
		return false
	}
	delete(s.timers, token)
	timer.Stop()
	return true
}

// Pending reports the number of outstanding timers.
func (s *messageScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every outstanding timer. Deletes that were pending are
// abandoned; channels are expected to expire or moderate stale messages on
// their own.
func (s *messageScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for token, timer := range s.timers {
		timer.Stop()
		delete(s.timers, token)
	}
}
