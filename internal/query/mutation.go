package query

import (
	"context"
	"sync/atomic"
)

// MutationOptions holds the callbacks run after a mutation settles.
// OnSuccess typically invalidates or patches cache entries.
type MutationOptions[V, R any] struct {
	OnSuccess func(result R, vars V)
	OnError   func(err error, vars V)
}

// Mutation wraps a write operation against the server.
type Mutation[V, R any] struct {
	fn      func(ctx context.Context, vars V) (R, error)
	opts    MutationOptions[V, R]
	pending atomic.Int64
}

// NewMutation creates a Mutation running fn.
func NewMutation[V, R any](fn func(ctx context.Context, vars V) (R, error), opts MutationOptions[V, R]) *Mutation[V, R] {
	return &Mutation[V, R]{fn: fn, opts: opts}
}

// Do runs the mutation and its callbacks. Callbacks have run by the time Do
// returns.
func (m *Mutation[V, R]) Do(ctx context.Context, vars V) (R, error) {
	m.pending.Add(1)
	defer m.pending.Add(-1)

	res, err := m.fn(ctx, vars)
	if err != nil {
		if m.opts.OnError != nil {
			m.opts.OnError(err, vars)
		}
		var zero R
		return zero, err
	}
	if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(res, vars)
	}
	return res, nil
}

// IsPending reports whether any call to Do is in progress.
func (m *Mutation[V, R]) IsPending() bool {
	return m.pending.Load() > 0
}
