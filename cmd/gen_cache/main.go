// gen_cache seeds a Redis hash with synthetic uuid-cache records so a sweep
// has something to chew on.
//
// Usage:
//
//	go run ./cmd/gen_cache <count> <host[:port]> [expired-percent]
//
// Count accepts suffixes: K, M (e.g., "500", "10K", "1M").
// Expired records have an expiry in the past, the rest expire a week from now.
// Set RBCLEAN_CACHE_KEY to seed a key other than uuid-cache.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/rbclean/src/cleaner"
	"github.com/danmuck/rbclean/src/store"
	"github.com/danmuck/rbclean/src/uuid_cache"
	"github.com/google/uuid"
)

const defaultExpiredPercent = 25

func parseCount(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	multiplier := 1

	switch {
	case strings.HasSuffix(s, "M"):
		multiplier = 1_000_000
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		multiplier = 1_000
		s = strings.TrimSuffix(s, "K")
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("count must be >= 0, got %d", n)
	}
	return n * multiplier, nil
}

func parseTarget(s string) (store.Options, error) {
	opts := store.Options{Host: s, Port: store.DefaultPort}
	if host, port, err := net.SplitHostPort(s); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil {
			return opts, fmt.Errorf("invalid port %q: %w", port, err)
		}
		opts.Host, opts.Port = host, p
	}
	return opts, nil
}

// generate builds count records named player-N. The first expiredPercent of
// them, rounded down, are already expired at now.
func generate(codec uuid_cache.Codec, count, expiredPercent int, now time.Time, rng *rand.Rand) (uuid_cache.Snapshot, error) {
	expired := count * expiredPercent / 100
	snap := make(uuid_cache.Snapshot, count)
	for i := range count {
		name := fmt.Sprintf("player-%d", i)
		expiry := now.Add(7 * 24 * time.Hour)
		if i < expired {
			expiry = now.Add(-time.Duration(1+rng.IntN(30*24)) * time.Hour)
		}
		raw, err := codec.Encode(uuid_cache.IdentityRecord{
			Name:   name,
			UUID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
			Expiry: expiry.Truncate(time.Second),
		})
		if err != nil {
			return nil, err
		}
		snap[strings.ToLower(name)] = raw
	}
	return snap, nil
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: gen_cache <count> <host[:port]> [expired-percent]\n")
		fmt.Fprintf(os.Stderr, "  count: number with optional suffix (K, M)\n")
		fmt.Fprintf(os.Stderr, "  Examples: 500, 10K, 1M\n")
		fmt.Fprintf(os.Stderr, "  Default expired percent: %d\n", defaultExpiredPercent)
		os.Exit(1)
	}

	count, err := parseCount(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts, err := parseTarget(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts.Password = os.Getenv("RBCLEAN_REDIS_PASSWORD")

	pct := defaultExpiredPercent
	if len(os.Args) >= 4 {
		pct, err = strconv.Atoi(os.Args[3])
		if err != nil || pct < 0 || pct > 100 {
			fmt.Fprintf(os.Stderr, "Error: expired percent must be 0-100, got %q\n", os.Args[3])
			os.Exit(1)
		}
	}

	key := os.Getenv("RBCLEAN_CACHE_KEY")
	if key == "" {
		key = cleaner.DefaultKey
	}

	now := time.Now()
	snap, err := generate(uuid_cache.Codec{}, count, pct, now, rand.New(rand.NewPCG(uint64(now.UnixNano()), 0)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating records: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rs, err := store.Dial(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rs.Close()

	fmt.Printf("Seeding %d records (%d%% expired) into %q at %s...\n", count, pct, key, rs.Addr())
	if err := rs.BulkWrite(ctx, key, snap); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing records: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded: %q (%d records)\n", key, count)
}
