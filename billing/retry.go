package billing

import (
	"time"

	"github.com/code-payments/code-server/pkg/retry/backoff"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// RetryPolicy bounds the reconnection attempts made after a failed setup or a
// dropped connection. The counter is reset by every successful setup.
type RetryPolicy struct {
	MaxRetries int
	Backoff    backoff.Strategy
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		Backoff:    backoff.Constant(DefaultRetryDelay),
	}
}

// delay returns the wait before the given attempt, attempts start at 1.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return DefaultRetryDelay
	}
	return p.Backoff(uint(attempt))
}

type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Implementations must not run f on the
// calling goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
