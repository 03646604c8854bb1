package stepup

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricVerifySuccess)

	if got := m.Value(MetricVerifySuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricVerifySuccess)
	m.Inc(MetricVerifySuccess)
	m.Inc(MetricVerifySuccess)

	if got := m.Value(MetricVerifySuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricGateAllowed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricGateAllowed); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricVerifyLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricVerifyLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, count := range buckets {
		if count != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, count)
		}
	}
}

func TestMetricsObserveIgnoresNonLatencyIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	m.Observe(MetricVerifySuccess, 10*time.Millisecond)

	snap := m.Snapshot()
	if _, present := snap.Histograms[MetricVerifySuccess]; present {
		t.Fatal("counter IDs must not grow histograms")
	}
}

func TestEngineCountsVerifyOutcomes(t *testing.T) {
	env := newTestEngine(t, testConfig())

	codes := env.requestAndCodes(t, "alice", ActionTerminalAccess)
	if _, err := env.engine.VerifyChallenge(context.Background(), "alice", ActionTerminalAccess, map[Channel]string{
		ChannelEmail: "000000",
	}); err == nil {
		t.Fatal("expected wrong-code failure")
	}
	if _, err := env.engine.VerifyChallenge(context.Background(), "alice", ActionTerminalAccess, map[Channel]string{
		ChannelEmail: codes[ChannelEmail],
	}); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricChallengeIssued] != 1 {
		t.Fatalf("expected 1 issued challenge, got %d", snap.Counters[MetricChallengeIssued])
	}
	if snap.Counters[MetricVerifyFailure] != 1 {
		t.Fatalf("expected 1 verify failure, got %d", snap.Counters[MetricVerifyFailure])
	}
	if snap.Counters[MetricVerifySuccess] != 1 {
		t.Fatalf("expected 1 verify success, got %d", snap.Counters[MetricVerifySuccess])
	}
	if snap.Counters[MetricGrantCreated] != 1 {
		t.Fatalf("expected 1 grant created, got %d", snap.Counters[MetricGrantCreated])
	}
}
