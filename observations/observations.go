// Package observations is the client stack for the external
// measurement endpoint: a provider interface plus failover, retry and
// caching decorators. Retry policy lives here, on the calling side;
// the endpoint itself is a plain read-only fetch.
package observations

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/minio/sha256-simd"
	"go.uber.org/zap"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/shared"
)

// MaxBackoff caps the delay between retry attempts.
const MaxBackoff = time.Second * 30

var (
	// ErrNoData means the endpoint authoritatively has no
	// measurements for the requested domain and window. Permanent;
	// neither retried nor failed over.
	ErrNoData = errors.New("no observation data")

	// ErrUnavailable means no provider could complete the fetch.
	ErrUnavailable = errors.New("observation endpoint unavailable")
)

// Window is the observation time range of one round.
type Window struct {
	Start time.Time
	End   time.Time
}

// Provider fetches the observation snapshot for a task instance.
type Provider interface {
	Snapshot(ctx context.Context, domain shared.Domain, window Window) (shared.ObservationSnapshot, error)
}

// roundRobin rotates across redundant endpoints, failing over to the
// next one when a fetch does not complete.
type roundRobin struct {
	mu        sync.Mutex
	providers []Provider
	lastUsed  int
}

func NewRoundRobin(providers []Provider) Provider {
	return &roundRobin{providers: providers}
}

func (r *roundRobin) next() Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	provider := r.providers[r.lastUsed%len(r.providers)]
	r.lastUsed++
	return provider
}

func (r *roundRobin) Snapshot(ctx context.Context, domain shared.Domain, window Window) (shared.ObservationSnapshot, error) {
	for attempt := 0; attempt < len(r.providers); attempt++ {
		snap, err := r.next().Snapshot(ctx, domain, window)
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, ErrNoData) {
			return shared.ObservationSnapshot{}, err
		}
	}
	return shared.ObservationSnapshot{}, ErrUnavailable
}

// caching keeps recently fetched snapshots in an LRU cache.
// A window's measurements are immutable once taken, so a hit within
// the same round is sound; the next round's window never collides.
type caching struct {
	cache    *lru.Cache
	provider Provider
}

type snapshotResult struct {
	snapshot shared.ObservationSnapshot
	err      error
}

func NewCaching(size int, provider Provider) (Provider, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &caching{cache: cache, provider: provider}, nil
}

func cacheKey(domain shared.Domain, window Window) [sha256.Size]byte {
	var key [sha256.Size]byte
	var times [16]byte
	binary.BigEndian.PutUint64(times[:8], uint64(window.Start.UnixNano()))
	binary.BigEndian.PutUint64(times[8:], uint64(window.End.UnixNano()))

	hasher := sha256.New()
	hasher.Write([]byte(domain))
	hasher.Write(times[:])
	hasher.Sum(key[:0])
	return key
}

func (c *caching) Snapshot(ctx context.Context, domain shared.Domain, window Window) (shared.ObservationSnapshot, error) {
	key := cacheKey(domain, window)
	logger := logging.FromContext(ctx).With(zap.String("domain", string(domain)))
	if cached, ok := c.cache.Get(key); ok {
		logger.Debug("observation snapshot served from the cache")
		// SAFETY: only *snapshotResult values are ever inserted.
		result := cached.(*snapshotResult)
		return result.snapshot, result.err
	}

	snap, err := c.provider.Snapshot(ctx, domain, window)
	if err == nil || errors.Is(err, ErrNoData) {
		c.cache.Add(key, &snapshotResult{snapshot: snap, err: err})
	}
	return snap, err
}

// retrying backs off exponentially between attempts, up to MaxBackoff.
type retrying struct {
	backoffBase       time.Duration
	backoffMultiplier float64
	maxAttempts       uint
	provider          Provider
}

func NewRetrying(provider Provider, maxAttempts uint, backoffBase time.Duration, backoffMultiplier float64) Provider {
	return &retrying{
		maxAttempts:       maxAttempts,
		provider:          provider,
		backoffBase:       backoffBase,
		backoffMultiplier: backoffMultiplier,
	}
}

func (r *retrying) Snapshot(ctx context.Context, domain shared.Domain, window Window) (shared.ObservationSnapshot, error) {
	logger := logging.FromContext(ctx)
	timer := time.NewTimer(0)
	<-timer.C
	delay := r.backoffBase

	var lastErr error
	for attempt := uint(0); attempt < r.maxAttempts; attempt++ {
		snap, err := r.provider.Snapshot(ctx, domain, window)
		if err == nil {
			return snap, nil
		} else if errors.Is(err, ErrNoData) {
			return shared.ObservationSnapshot{}, err
		}
		lastErr = err
		if attempt+1 == r.maxAttempts {
			break
		}

		timer.Reset(delay)
		logger.Debug("retrying observation fetch",
			zap.String("domain", string(domain)), zap.Uint("attempt", attempt+1), zap.Duration("delay", delay))
		select {
		case <-timer.C:
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return shared.ObservationSnapshot{}, fmt.Errorf("%w: %v", shared.ErrTimeout, ctx.Err())
		}
		delay = time.Duration(float64(delay) * r.backoffMultiplier)
		if delay > MaxBackoff {
			delay = MaxBackoff
		}
	}
	return shared.ObservationSnapshot{}, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, r.maxAttempts, lastErr)
}
