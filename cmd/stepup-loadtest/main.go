// Command stepup-loadtest drives the challenge/verify/gate flow against a
// local engine to measure store throughput. It runs against miniredis by
// default so no external Redis is required; point it at a real instance
// with -redis-addr to measure network round-trips.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	stepup "github.com/BlakeMcBride1625/stepup"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		principals  = flag.Int("principals", 10000, "number of principals to drive")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (verify + gate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		memory      = flag.Bool("memory", false, "use the in-memory store instead of redis")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	sink := newCaptureNotifier()

	builder := stepup.New().
		WithNotifier(stepup.ChannelDiscord, sink).
		WithMetricsEnabled(true)

	cfg := stepup.DefaultConfig()
	for action, ac := range cfg.Actions {
		ac.Channels = []stepup.Channel{stepup.ChannelDiscord}
		ac.Principals = []string{"*"}
		cfg.Actions[action] = ac
	}
	builder = builder.WithConfig(cfg)

	cleanup := func() {}
	if !*memory {
		addr := *redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
				os.Exit(1)
			}
			addr = mr.Addr()
			cleanup = mr.Close
			fmt.Printf("using miniredis at %s\n", addr)
		} else {
			fmt.Printf("using redis at %s\n", addr)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		builder = builder.WithRedis(client)
	} else {
		fmt.Println("using in-memory store")
	}
	defer cleanup()

	engine, err := builder.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	names := make([]string, *principals)
	for i := range names {
		names[i] = fmt.Sprintf("principal-%d", i)
	}

	fmt.Printf("seeding grants for %d principals...\n", *principals)
	startSeed := time.Now()
	for _, p := range names {
		if err := seedGrant(ctx, engine, sink, p); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed for %s: %v\n", p, err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runVerifyPhase(ctx, engine, sink, names, *ops, *concurrency)
	gateStats := runGatePhase(ctx, engine, names, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("gate", gateStats)
}

func seedGrant(ctx context.Context, engine *stepup.Engine, sink *captureNotifier, principal string) error {
	if _, err := engine.RequestChallenge(ctx, principal, stepup.ActionTerminalAccess, ""); err != nil {
		return err
	}
	code, ok := sink.code(principal)
	if !ok {
		return fmt.Errorf("no code captured")
	}
	_, err := engine.VerifyChallenge(ctx, principal, stepup.ActionTerminalAccess, map[stepup.Channel]string{
		stepup.ChannelDiscord: code,
	})
	return err
}

// runVerifyPhase measures the full request-then-verify round trip.
func runVerifyPhase(ctx context.Context, engine *stepup.Engine, sink *captureNotifier, names []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				// each worker owns a disjoint principal per op so codes are
				// not clobbered between request and verify
				p := fmt.Sprintf("%s-w%d", names[r.Intn(len(names))], worker)

				t0 := time.Now()
				err := seedGrant(ctx, engine, sink, p)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runGatePhase(ctx context.Context, engine *stepup.Engine, names []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				p := names[r.Intn(len(names))]

				t0 := time.Now()
				status, err := engine.CheckGrant(ctx, p, stepup.ActionTerminalAccess)
				d := time.Since(t0)
				if err != nil || !status.HasGrant {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// captureNotifier records the last code sent to each principal so the
// driver can verify the challenge it just requested.
type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: make(map[string]string)}
}

func (c *captureNotifier) Send(_ context.Context, principal, text string) (stepup.MessageHandle, error) {
	code := extractCode(text)
	c.mu.Lock()
	c.codes[principal] = code
	c.mu.Unlock()
	return stepup.MessageHandle("capture:" + principal), nil
}

func (c *captureNotifier) Delete(_ context.Context, principal string, _ stepup.MessageHandle) error {
	return nil
}

func (c *captureNotifier) code(principal string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.codes[principal]
	return code, ok && code != ""
}

func extractCode(text string) string {
	_, rest, ok := strings.Cut(text, " is ")
	if !ok {
		return ""
	}
	code, _, _ := strings.Cut(rest, ".")
	return code
}
