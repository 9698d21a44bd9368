package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outcome labels how GetOrCompute produced its value.
type Outcome string

const (
	// OutcomeHit means the value came from the cache, before or after
	// waiting on another caller's computation.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means this caller held the lock and computed the value.
	OutcomeMiss Outcome = "miss"
	// OutcomeBypass means the value was computed without the lock and was
	// not cached: the wait budget ran out or the backend was unreachable.
	OutcomeBypass Outcome = "bypass"
)

// ComputeFunc produces a value and the TTL it should be stored with,
// letting degraded results carry a much shorter TTL than authoritative
// ones.
type ComputeFunc func(ctx context.Context) (value []byte, ttl time.Duration, err error)

// LoaderConfig tunes the stampede protection.
type LoaderConfig struct {
	// Prefix namespaces every key this loader touches.
	Prefix string
	// LockTTL is the safety deadline on the lock token: a crashed holder
	// self-heals once the token expires.
	LockTTL time.Duration
	// WaitBudget bounds how long a caller waits for another's computation
	// before computing directly without caching.
	WaitBudget time.Duration
	// PollInterval is the sleep between cache re-checks while waiting.
	PollInterval time.Duration
}

func (cfg *LoaderConfig) applyDefaults() {
	if cfg.Prefix == "" {
		cfg.Prefix = "sentry"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
}

// Loader implements the cache-aside pattern with stampede protection:
// concurrent misses for one key collapse into a single computation, while
// hits stay lock-free. The lock token is a SetNX key with a safety TTL.
type Loader struct {
	logger   *slog.Logger
	provider Provider
	cfg      LoaderConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLoader creates a loader over the given provider.
func NewLoader(logger *slog.Logger, provider Provider, cfg LoaderConfig) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Loader{
		logger:   logger,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. The fast path is a single lock-free read. On a miss, exactly
// one caller acquires the lock token and invokes compute; the rest poll
// the cache with a bounded budget and return the freshly stored value
// without ever calling compute. A caller that exhausts its budget computes
// directly and skips the store, so nobody blocks indefinitely. Failed
// computations are never cached.
func (l *Loader) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, Outcome, error) {
	fullKey := l.cfg.Prefix + ":" + key
	lockKey := fullKey + ":lock"

	if value, err := l.provider.Get(ctx, fullKey); err == nil {
		return value, OutcomeHit, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		// Cache backend trouble must not take the analysis path down.
		l.logger.Warn("cache read failed, computing without cache", slog.Any("error", err))
		value, _, err := compute(ctx)
		return value, OutcomeBypass, err
	}

	token := uuid.NewString()
	deadline := l.now().Add(l.cfg.WaitBudget)

	for {
		acquired, err := l.provider.SetNX(ctx, lockKey, []byte(token), l.cfg.LockTTL)
		if err != nil {
			l.logger.Warn("cache lock failed, computing without cache", slog.Any("error", err))
			value, _, err := compute(ctx)
			return value, OutcomeBypass, err
		}
		if acquired {
			return l.computeLocked(ctx, fullKey, lockKey, token, compute)
		}

		// Another caller holds the token. Wait, re-checking the cache on
		// each wake in case the holder finished.
		if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
			return nil, OutcomeBypass, err
		}
		if value, err := l.provider.Get(ctx, fullKey); err == nil {
			return value, OutcomeHit, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			l.logger.Warn("cache read failed while waiting", slog.Any("error", err))
		}
		if l.now().After(deadline) {
			l.logger.Warn("lock wait budget exceeded, computing without cache",
				slog.String("key", key))
			value, _, err := compute(ctx)
			return value, OutcomeBypass, err
		}
	}
}

func (l *Loader) computeLocked(ctx context.Context, fullKey, lockKey, token string, compute ComputeFunc) ([]byte, Outcome, error) {
	defer l.releaseLock(ctx, lockKey, token)

	// Double-check: the entry may have been stored between the first read
	// and lock acquisition.
	if value, err := l.provider.Get(ctx, fullKey); err == nil {
		return value, OutcomeHit, nil
	}

	value, ttl, err := compute(ctx)
	if err != nil {
		// Release without writing so the next caller can retry.
		return nil, OutcomeMiss, err
	}
	if storeErr := l.provider.Set(ctx, fullKey, value, ttl); storeErr != nil {
		l.logger.Warn("cache write failed", slog.Any("error", storeErr))
	}
	return value, OutcomeMiss, nil
}

// releaseLock deletes the lock token if this caller still owns it. The
// read-then-delete is best effort: if the safety TTL already expired and
// another caller re-acquired, their token no longer matches and is left
// alone.
func (l *Loader) releaseLock(ctx context.Context, lockKey, token string) {
	owner, err := l.provider.Get(ctx, lockKey)
	if err != nil {
		return
	}
	if string(owner) == token {
		_ = l.provider.Del(ctx, lockKey)
	}
}

// Invalidate removes every cached entry matching the pattern within this
// loader's namespace.
func (l *Loader) Invalidate(ctx context.Context, pattern string) (int, error) {
	return l.provider.DelPattern(ctx, l.cfg.Prefix+":"+pattern)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
