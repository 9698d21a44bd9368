package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// TransientError marks a failure worth retrying: provider overload,
// server-side errors, timeouts, or malformed provider output.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix, such as rejected
// input or bad credentials.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Err)
	}
	return "permanent: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Errors carrying
// neither marker are treated as permanent.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetrierConfig tunes the retry schedule.
type RetrierConfig struct {
	// MaxAttempts bounds total invocations, first call included.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: the wait before attempt
	// k+1 is BaseDelay<<(k-1), capped at MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration
	// AttemptTimeout bounds each individual invocation. Zero disables
	// the per-attempt deadline.
	AttemptTimeout time.Duration
}

func (cfg *RetrierConfig) applyDefaults() {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
}

// Retrier runs an operation with bounded retries, exponential backoff,
// and jitter. Only transient failures are retried; permanent failures
// and context cancellation surface immediately.
type Retrier struct {
	logger *slog.Logger
	cfg    RetrierConfig

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewRetrier constructs a retrier with the given schedule.
func NewRetrier(logger *slog.Logger, cfg RetrierConfig) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Retrier{
		logger: logger,
		cfg:    cfg,
		sleep:  sleepCtx,
		rand:   rand.Float64,
	}
}

// Do invokes op until it succeeds, fails permanently, exhausts the
// attempt budget, or the context ends. It returns the attempt count
// alongside the final error so callers can account for retries.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		}
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !IsTransient(err) {
			r.logger.Debug("operation failed permanently", slog.String("op", name), slog.Any("error", err))
			return attempt, err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("transient failure, retrying",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err))
		if err := r.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return r.cfg.MaxAttempts, fmt.Errorf("%s: %d attempts exhausted: %w", name, r.cfg.MaxAttempts, lastErr)
}

// backoff returns the wait after a failed attempt (1-based), with up to
// 25% random jitter added.
func (r *Retrier) backoff(attempt int) time.Duration {
	delay := r.cfg.BaseDelay << (attempt - 1)
	if delay > r.cfg.MaxDelay || delay <= 0 {
		delay = r.cfg.MaxDelay
	}
	jitter := time.Duration(r.rand() * 0.25 * float64(delay))
	return delay + jitter
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
