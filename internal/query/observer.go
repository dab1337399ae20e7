package query

import (
	"context"
	"sync"
	"time"
)

// Result is an observer's view of its entry at one point in time.
type Result[T any] struct {
	Data       T
	HasData    bool
	Status     Status
	Err        error
	IsFetching bool
	IsStale    bool
	UpdatedAt  time.Time
	// Version increases every time the data changes.
	Version uint64
}

// IsLoading reports whether the first fetch is still running, so no data can
// be shown yet. Background refetches of cached data never count as loading.
func (r Result[T]) IsLoading() bool { return r.Status == StatusLoading }

// IsError reports whether the latest fetch failed. Data from an earlier
// success may still be present.
func (r Result[T]) IsError() bool { return r.Status == StatusError }

// IsSuccess reports whether the latest fetch succeeded.
func (r Result[T]) IsSuccess() bool { return r.Status == StatusSuccess }

// Observer subscribes to one cache entry. While at least one observer of a
// key is open the entry is kept, polled at the requested interval and
// refetched on invalidation. Close it when the view goes away.
type Observer[T any] struct {
	cache   *Cache
	key     Key
	entry   *entry
	id      uint64
	updates chan struct{}

	closeOnce sync.Once
}

// Observe subscribes to q.Key, fetching it when there is no data or the data
// is stale. A disabled query yields a detached observer that never fetches.
func Observe[T any](c *Cache, q Query[T]) *Observer[T] {
	o := &Observer[T]{cache: c, key: q.Key}
	if q.Disabled {
		o.updates = make(chan struct{})
		return o
	}
	fn := q.Fn
	o.entry, o.id, o.updates = c.subscribe(q.Key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, q.Options)
	return o
}

// Fetch observes q until it settles and then closes the observer. Cached
// data is returned immediately, even if stale. The error is ctx's error or
// the fetch error when no data is cached; a failed refresh over cached data
// returns a nil error with r.Err set.
func Fetch[T any](ctx context.Context, c *Cache, q Query[T]) (Result[T], error) {
	o := Observe(c, q)
	defer o.Close()

	r, err := o.Wait(ctx)
	if err != nil {
		return r, err
	}
	if r.IsError() && !r.HasData {
		return r, r.Err
	}
	return r, nil
}

// Key returns the observed key.
func (o *Observer[T]) Key() Key { return o.key }

// Enabled reports whether the observer is subscribed.
func (o *Observer[T]) Enabled() bool { return o.entry != nil }

// Updates signals after every change to the entry. Signals coalesce, so a
// receiver should read Result after each one. It has a single consumer.
func (o *Observer[T]) Updates() <-chan struct{} { return o.updates }

// Result returns the current view of the entry.
func (o *Observer[T]) Result() Result[T] {
	r, _ := o.snapshot()
	return r
}

// Wait blocks until the entry has data or its fetch has finished.
func (o *Observer[T]) Wait(ctx context.Context) (Result[T], error) {
	for {
		r, call := o.snapshot()
		if call == nil || r.HasData {
			return r, nil
		}
		select {
		case <-call.done:
		case <-ctx.Done():
			return r, ctx.Err()
		}
	}
}

// Refetch fetches the entry now, joining a fetch already in flight, and
// returns the result once it completes.
func (o *Observer[T]) Refetch(ctx context.Context) (Result[T], error) {
	if o.entry == nil {
		return o.Result(), nil
	}
	c := o.cache
	c.mu.Lock()
	if _, open := o.entry.observers[o.id]; !open {
		c.mu.Unlock()
		return o.Result(), nil
	}
	call := c.startFetch(o.entry)
	c.mu.Unlock()

	if call != nil {
		select {
		case <-call.done:
		case <-ctx.Done():
			return o.Result(), ctx.Err()
		}
	}
	return o.Result(), nil
}

// Close unsubscribes. The entry is evicted once its gc time passes with no
// observers left.
func (o *Observer[T]) Close() {
	if o.entry == nil {
		return
	}
	o.closeOnce.Do(func() { o.cache.unsubscribe(o.entry, o.id) })
}

func (o *Observer[T]) snapshot() (Result[T], *fetchCall) {
	c := o.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	e := o.entry
	if e == nil {
		// Disabled observers still show whatever another observer cached.
		cached, ok := c.entries[o.key.Hash()]
		if !ok {
			return Result[T]{Status: StatusIdle}, nil
		}
		r := resultOf[T](cached, c.clock.Now())
		if r.Status == StatusLoading {
			r.Status = StatusIdle
		}
		return r, nil
	}
	return resultOf[T](e, c.clock.Now()), e.call
}

func resultOf[T any](e *entry, now time.Time) Result[T] {
	r := Result[T]{
		Status:     e.status,
		Err:        e.err,
		IsFetching: e.call != nil,
		IsStale:    e.stale(now),
		UpdatedAt:  e.updatedAt,
		Version:    e.version,
	}
	if e.hasData {
		r.Data, r.HasData = e.data.(T)
	}
	return r
}
