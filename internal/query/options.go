package query

import (
	"context"
	"time"
)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// DefaultGCTime is how long an unobserved entry survives when neither the
// cache nor the query sets GCTime.
const DefaultGCTime = 5 * time.Minute

// Options controls freshness, retention and polling for one query.
type Options struct {
	// StaleTime is how long fetched data counts as fresh. Zero means data is
	// stale as soon as it arrives.
	StaleTime time.Duration
	// GCTime is how long the entry is kept after its last observer leaves.
	// Zero uses the cache default.
	GCTime time.Duration
	// RefetchInterval polls the resource while observed. Zero disables polling.
	RefetchInterval time.Duration
	// Disabled observers never trigger a request and report StatusIdle.
	Disabled bool
	// Retry is the number of extra attempts after a failed fetch.
	Retry int
	// RetryDelay returns the wait before retry attempt n (starting at 0).
	// Nil waits one second between attempts.
	RetryDelay func(attempt int) time.Duration
}

// Query describes one cached resource: its key, how to fetch it, and its
// Options.
type Query[T any] struct {
	Key Key
	Fn  func(ctx context.Context) (T, error)
	Options
}

// ExponentialBackoff returns a RetryDelay that doubles base on every attempt
// and never exceeds limit.
func ExponentialBackoff(base, limit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt && d < limit; i++ {
			d *= 2
		}
		return min(d, limit)
	}
}

func (o Options) retryDelay(attempt int) time.Duration {
	if o.RetryDelay == nil {
		return time.Second
	}
	return o.RetryDelay(attempt)
}
