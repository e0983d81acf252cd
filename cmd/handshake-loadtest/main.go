package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/handshake/internal"
	"github.com/MrEthical07/handshake/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadCode = "424242"

type challengeState struct {
	id       string
	userID   string
	verified atomic.Int32
}

func main() {
	var (
		users       = flag.Int("users", 20000, "number of users with an active challenge")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (issue + verify)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "hsc-load", "challenge key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	challenges := store.NewRedisChallengeStore(client, *prefix, 15*time.Minute)

	states := make([]*challengeState, *users)
	fmt.Printf("seeding %d challenges...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		state, err := seed(ctx, challenges, fmt.Sprintf("user-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = state
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats, doubles := runVerifyPhase(ctx, challenges, states, *ops, *concurrency)
	issueStats := runIssuePhase(ctx, challenges, *users, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("issue", issueStats)
	if doubles > 0 {
		fmt.Fprintf(os.Stderr, "FAIL: %d challenges verified more than once\n", doubles)
		os.Exit(1)
	}
}

func seed(ctx context.Context, challenges store.ChallengeStore, userID string) (*challengeState, error) {
	rec, err := newChallenge(userID)
	if err != nil {
		return nil, err
	}
	if _, err := challenges.Create(ctx, rec); err != nil {
		return nil, err
	}
	return &challengeState{id: rec.ChallengeID, userID: userID}, nil
}

func newChallenge(userID string) (*store.Challenge, error) {
	id, err := internal.NewOpaqueID(internal.ChallengeIDSize)
	if err != nil {
		return nil, err
	}
	salt, err := internal.NewSalt()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &store.Challenge{
		ChallengeID:       id,
		UserID:            userID,
		TenantID:          "0",
		Email:             userID + "@example.com",
		Salt:              salt,
		CodeHash:          internal.HashCode(salt, loadCode),
		CreatedAt:         now,
		ExpiresAt:         now.Add(10 * time.Minute),
		AttemptsRemaining: 5,
		Status:            store.StatusIssued,
	}, nil
}

// runVerifyPhase hammers random challenges with the correct code. Every
// challenge may succeed at most once; the second return value counts the
// ones that did not hold.
func runVerifyPhase(ctx context.Context, challenges store.ChallengeStore, states []*challengeState, ops, concurrency int) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		doubles   int64
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
				state := states[r.Intn(len(states))]
				t0 := time.Now()
				_, err := challenges.Attempt(ctx, state.id, time.Now(), func(rec *store.Challenge) bool {
					return internal.CodeMatches(rec.Salt, loadCode, rec.CodeHash)
				})
				d := time.Since(t0)
				switch {
				case err == nil:
					if state.verified.Add(1) > 1 {
						atomic.AddInt64(&doubles, 1)
					}
				case errors.Is(err, store.ErrChallengeConsumed):
				default:
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
	return computeStats(total, latencies, failures), doubles
}

// runIssuePhase replaces active challenges concurrently, exercising the
// invalidate-then-insert path.
func runIssuePhase(ctx context.Context, challenges store.ChallengeStore, users, ops, concurrency int) phaseStats {
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
				rec, err := newChallenge(fmt.Sprintf("user-%d", r.Intn(users)))
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				t0 := time.Now()
				_, err = challenges.Create(ctx, rec)
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
