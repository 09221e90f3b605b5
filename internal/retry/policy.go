// Package retry holds the single backoff policy shared by webhook delivery,
// kiosk sync and any other retryable work.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Policy describes a bounded exponential backoff.
// Delay(n) = BaseDelay * Factor^(n-1), capped at MaxDelay when MaxDelay > 0.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// Webhook is the delivery policy: 5 attempts, delays base, 4x, 16x, 64x.
func Webhook(base time.Duration, maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: base, Factor: 4}
}

// LockContention is used in-process when a row lock or serialization conflict aborts a write.
var LockContention = Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Factor: 2, MaxDelay: time.Second}

// Delay returns the wait before the attempt after attempt n (n starts at 1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether no attempt may follow attempt n.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-transient error, or the policy is exhausted.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil || !IsTransient(err) || p.Exhausted(attempt) {
			return err
		}
		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}

// Postgres SQLSTATEs worth retrying.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
}

// IsTransient classifies lock contention, timeouts and network errors as retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
