package stepup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRequestChallengeDispatchesAllPolicyChannels(t *testing.T) {
	env := newTestEngine(t, testConfig())

	result, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, "")
	if err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}

	for _, ch := range []Channel{ChannelDiscord, ChannelTelegram, ChannelEmail} {
		if !result.Dispatched[ch] {
			t.Fatalf("expected %s to be dispatched, got %+v", ch, result.Dispatched)
		}
	}
	if result.ExpiresIn != 5*time.Minute {
		t.Fatalf("expected 5m expiry window, got %s", result.ExpiresIn)
	}

	if got := env.discord.lastCode(t, "alice"); len(got) != 16 {
		t.Fatalf("expected 16-char discord code, got %q", got)
	}
	if got := env.email.lastCode(t, "alice"); len(got) != 6 {
		t.Fatalf("expected 6-digit email PIN, got %q", got)
	}
}

func TestRequestChallengeDropsTelegramWithoutMapping(t *testing.T) {
	env := newTestEngine(t, testConfig())

	// bob has an email mapping but it is not allow-listed, and no telegram
	result, err := env.engine.RequestChallenge(context.Background(), "bob", ActionTerminalAccess, "")
	if err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}

	if !result.Dispatched[ChannelDiscord] {
		t.Fatal("expected discord dispatch")
	}
	if _, present := result.Dispatched[ChannelTelegram]; present {
		t.Fatal("telegram must not appear in the effective policy without a mapping")
	}
	if _, present := result.Dispatched[ChannelEmail]; present {
		t.Fatal("email must not appear in the effective policy without an allow-listed address")
	}
}

func TestRequestChallengeRejectsUnknownPrincipal(t *testing.T) {
	env := newTestEngine(t, testConfig())

	if _, err := env.engine.RequestChallenge(context.Background(), "mallory", ActionTerminalAccess, ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := env.engine.RequestChallenge(context.Background(), "alice", "unknown-action", ""); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if _, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, Channel("fax")); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestRequestChallengeEmailNotAllowListedIsAuthorizationFailure(t *testing.T) {
	env := newTestEngine(t, testConfig())

	// bob's address exists in the directory but is not on the allow-list;
	// explicitly requesting email must fail hard, not as a delivery error
	_, err := env.engine.RequestChallenge(context.Background(), "bob", ActionTerminalAccess, ChannelEmail)
	if !errors.Is(err, ErrChannelNotAuthorized) {
		t.Fatalf("expected ErrChannelNotAuthorized, got %v", err)
	}
	if env.email.sendCount("bob") != 0 {
		t.Fatal("no email may be sent to a non-allow-listed address")
	}
}

func TestRequestChallengeRefreshPreservesCodes(t *testing.T) {
	env := newTestEngine(t, testConfig())

	first, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, "")
	if err != nil {
		t.Fatalf("first RequestChallenge failed: %v", err)
	}
	firstCode := env.discord.lastCode(t, "alice")

	env.clock.Advance(3 * time.Minute)

	second, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, "")
	if err != nil {
		t.Fatalf("refresh RequestChallenge failed: %v", err)
	}
	if env.discord.lastCode(t, "alice") != firstCode {
		t.Fatal("refresh must not rotate codes already in transit")
	}
	if second.ExpiresIn != 5*time.Minute {
		t.Fatalf("refresh must restart the 5m window, got %s", second.ExpiresIn)
	}

	// the original window would have closed at +5m; the refreshed code must
	// still verify at +7m
	env.clock.Advance(4 * time.Minute)
	result, err := env.engine.VerifyChallenge(context.Background(), "alice", ActionTerminalAccess, map[Channel]string{
		ChannelDiscord:  firstCode,
		ChannelTelegram: env.telegram.lastCode(t, "alice"),
	})
	if err != nil {
		t.Fatalf("VerifyChallenge after refresh failed: %v", err)
	}
	if !result.Granted {
		t.Fatal("expected grant after refreshed-window verification")
	}
	_ = first
}

func TestRequestChallengeAfterExpiryIssuesFreshCodes(t *testing.T) {
	env := newTestEngine(t, testConfig())

	_, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, "")
	if err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	oldCode := env.discord.lastCode(t, "alice")

	env.clock.Advance(5*time.Minute + time.Millisecond)

	if _, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, ""); err != nil {
		t.Fatalf("post-expiry RequestChallenge failed: %v", err)
	}
	if env.discord.lastCode(t, "alice") == oldCode {
		t.Fatal("expired challenge must be replaced with fresh codes")
	}
}

func TestRequestChallengeRequestedChannelDispatchFailureFailsCall(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.discord.failSend = errors.New("discord api 502")

	_, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, ChannelDiscord)
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}

	// the challenge exists regardless; verifying with the remaining
	// channels must still be possible after a broad re-request
	env.discord.failSend = nil
	result, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, "")
	if err != nil {
		t.Fatalf("re-request failed: %v", err)
	}
	if !result.Dispatched[ChannelDiscord] {
		t.Fatal("expected discord dispatch after transient failure cleared")
	}
}

func TestRequestChallengeNonRequestedDispatchFailureDoesNotFailCall(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.telegram.failSend = errors.New("telegram down")

	result, err := env.engine.RequestChallenge(context.Background(), "alice", ActionTerminalAccess, "")
	if err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	if result.Dispatched[ChannelTelegram] {
		t.Fatal("telegram dispatch should be reported false")
	}
	if !result.Dispatched[ChannelDiscord] || !result.Dispatched[ChannelEmail] {
		t.Fatal("remaining channels must still dispatch")
	}
}

func TestRequestChallengeNoEligibleChannels(t *testing.T) {
	cfg := testConfig()
	for action, ac := range cfg.Actions {
		ac.Channels = []Channel{ChannelTelegram}
		cfg.Actions[action] = ac
	}
	env := newTestEngine(t, cfg)

	// bob has no telegram mapping, so the effective policy is empty
	if _, err := env.engine.RequestChallenge(context.Background(), "bob", ActionTerminalAccess, ""); !errors.Is(err, ErrNoEligibleChannels) {
		t.Fatalf("expected ErrNoEligibleChannels, got %v", err)
	}
}

func TestRequestChallengeUsedChallengeIsReplaced(t *testing.T) {
	env := newTestEngine(t, testConfig())

	codes := env.requestAndCodes(t, "alice", ActionTerminalAccess)
	delete(codes, ChannelEmail)
	if _, err := env.engine.VerifyChallenge(context.Background(), "alice", ActionTerminalAccess, codes); err != nil {
		t.Fatalf("VerifyChallenge failed: %v", err)
	}

	// the used tombstone must not be refreshed back to life
	fresh := env.requestAndCodes(t, "alice", ActionTerminalAccess)
	if fresh[ChannelDiscord] == codes[ChannelDiscord] {
		t.Fatal("re-request after use must generate fresh codes")
	}
}

// hookNotifier runs a one-shot callback before delivering, to interleave
// engine operations with an in-flight dispatch.
type hookNotifier struct {
	fakeNotifier
	hookMu     sync.Mutex
	beforeSend func()
}

func (n *hookNotifier) Send(ctx context.Context, principal, text string) (MessageHandle, error) {
	n.hookMu.Lock()
	hook := n.beforeSend
	n.beforeSend = nil
	n.hookMu.Unlock()
	if hook != nil {
		hook()
	}
	return n.fakeNotifier.Send(ctx, principal, text)
}

func TestRequestChallengeReclaimsMessageWhenVerifySettlesMidDispatch(t *testing.T) {
	clock := newFakeClock()
	discord := &hookNotifier{}

	engine, err := New().
		WithConfig(testConfig()).
		WithNotifier(ChannelDiscord, discord).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := engine.RequestChallenge(context.Background(), "bob", ActionTerminalAccess, ""); err != nil {
		t.Fatalf("RequestChallenge failed: %v", err)
	}
	code := discord.lastCode(t, "bob")

	// the refresh's dispatch is interleaved with a successful verify, so the
	// challenge is a used tombstone by the time the handle would be recorded
	discord.hookMu.Lock()
	discord.beforeSend = func() {
		if _, verifyErr := engine.VerifyChallenge(context.Background(), "bob", ActionTerminalAccess, map[Channel]string{
			ChannelDiscord: code,
		}); verifyErr != nil {
			t.Errorf("VerifyChallenge failed: %v", verifyErr)
		}
	}
	discord.hookMu.Unlock()

	if _, err := engine.RequestChallenge(context.Background(), "bob", ActionTerminalAccess, ""); err != nil {
		t.Fatalf("second RequestChallenge failed: %v", err)
	}

	discord.mu.Lock()
	lateHandle := discord.sends[len(discord.sends)-1].handle
	deleted := make(map[MessageHandle]bool, len(discord.deleted))
	for _, h := range discord.deleted {
		deleted[h] = true
	}
	discord.mu.Unlock()

	if !deleted[lateHandle] {
		t.Fatal("code message sent after the verify settled must be reclaimed")
	}
}
