package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/openidstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		servers     = flag.Int("servers", 1000, "number of OpenID servers to seed")
		handles     = flag.Int("handles", 4, "associations seeded per server")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (lookup + nonce)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "oid", "key prefix")
	)
	flag.Parse()

	if *servers <= 0 || *handles <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "servers, handles, concurrency, and ops must be > 0")
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

	cfg := openidstore.DefaultConfig()
	cfg.Backend.Prefix = *prefix
	cfg.Metrics.EnableLatencyHistograms = true
	store, err := openidstore.New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	urls := make([]string, *servers)
	fmt.Printf("seeding %d servers x %d associations...\n", *servers, *handles)
	startSeed := time.Now()
	issued := time.Now().Add(-time.Minute)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://op-%d.example/openid", i)
		for h := 0; h < *handles; h++ {
			a, err := seedAssociation(i, h, issued.Add(time.Duration(h)*time.Second))
			if err != nil {
				fmt.Fprintf(os.Stderr, "association failed: %v\n", err)
				os.Exit(1)
			}
			if err := store.StoreAssociation(ctx, urls[i], a); err != nil {
				fmt.Fprintf(os.Stderr, "store failed: %v\n", err)
				os.Exit(1)
			}
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookupStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, i int) (bool, error) {
		_, found, err := store.LatestAssociation(ctx, urls[r.Intn(len(urls))])
		return found, err
	})

	var salts atomic.Int64
	nonceStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, i int) (bool, error) {
		url := urls[r.Intn(len(urls))]
		// One in ten operations replays an earlier salt.
		n := salts.Add(1)
		if n > 10 && r.Intn(10) == 0 {
			n = r.Int63n(n-1) + 1
		}
		return store.UseNonce(ctx, url, time.Now(), fmt.Sprintf("%08x", n))
	})

	fmt.Println("---- results ----")
	printStats("lookup", lookupStats)
	printStats("nonce", nonceStats)

	snapshot := store.MetricsSnapshot()
	fmt.Printf("nonce: accepted=%d replayed=%d\n",
		snapshot.Counters[openidstore.MetricNonceAccepted],
		snapshot.Counters[openidstore.MetricNonceReplayed],
	)
}

// runPhase spreads ops calls of op over concurrency workers and collects
// per-call latency. A call that returns false counts as a miss, not a failure.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) (bool, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		misses    int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok, err := op(r, i)
				d := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case !ok:
					atomic.AddInt64(&misses, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	stats := computeStats(total, latencies, failures)
	stats.misses = misses
	return stats
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	misses   int64
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
	fmt.Printf("%s: ops=%d failures=%d misses=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.misses,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func seedAssociation(server, handle int, issued time.Time) (*openidstore.Association, error) {
	secret := sha256.Sum256([]byte(fmt.Sprintf("secret-%d-%d", server, handle)))
	return openidstore.NewAssociation(
		fmt.Sprintf("{HMAC-SHA256}{%d}{%d}", server, handle),
		secret[:],
		issued,
		time.Hour,
		openidstore.AssocHMACSHA256,
	)
}
