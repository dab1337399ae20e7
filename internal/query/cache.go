package query

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Config configures a Cache. Zero values pick the wall clock, slog.Default
// and DefaultGCTime.
type Config struct {
	Clock   Clock
	Logger  *slog.Logger
	Metrics *Metrics
	// GCTime applies to queries that do not set their own.
	GCTime time.Duration
}

// Cache is a keyed store of server resources shared by every observer in the
// process. It de-duplicates concurrent fetches per key, serves stale data
// while revalidating, polls observed entries and evicts unobserved ones.
type Cache struct {
	clock   Clock
	logger  *slog.Logger
	metrics *Metrics
	gcTime  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64
}

// State describes one entry for inspection.
type State struct {
	Key       Key
	Status    Status
	Err       error
	HasData   bool
	Stale     bool
	Fetching  bool
	Observers int
	UpdatedAt time.Time
	Version   uint64
}

type fetchFunc func(ctx context.Context) (any, error)

type fetchCall struct {
	done chan struct{}
}

type observerState struct {
	notify   chan struct{}
	interval time.Duration
}

type entry struct {
	key  Key
	hash string
	segs []string

	data        any
	hasData     bool
	status      Status
	err         error
	updatedAt   time.Time
	version     uint64
	invalidated bool

	fn     fetchFunc
	opts   Options
	gcTime time.Duration

	call          *fetchCall
	refetchQueued bool

	observers     map[uint64]*observerState
	interval      time.Duration
	intervalTimer Timer
	tickGen       uint64
	gcTimer       Timer
	gcDeadline    time.Time
}

// New creates an empty Cache.
func New(cfg Config) *Cache {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GCTime <= 0 {
		cfg.GCTime = DefaultGCTime
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		gcTime:  cfg.GCTime,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// Close cancels in-flight fetches and stops every poll and gc timer.
func (c *Cache) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		stopTimer(&e.intervalTimer)
		stopTimer(&e.gcTimer)
	}
}

// Invalidate marks every entry whose key starts with prefix as stale and
// refetches the observed ones in the background. It returns the number of
// entries matched.
func (c *Cache) Invalidate(prefix Key) int {
	return c.InvalidateMatching(prefix, nil)
}

// InvalidateMatching is Invalidate restricted to keys for which match returns
// true. A nil match accepts every key under prefix.
func (c *Cache) InvalidateMatching(prefix Key, match func(Key) bool) int {
	p := prefix.segments()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if !hasPrefix(e.segs, p) || (match != nil && !match(e.key)) {
			continue
		}
		n++
		e.invalidated = true
		c.metrics.invalidated(e.key.Family())
		if len(e.observers) == 0 {
			e.notifyAll()
			continue
		}
		if e.call != nil {
			e.refetchQueued = true
			continue
		}
		c.startFetch(e)
	}
	c.logger.Debug("query cache invalidated", "prefix", prefix.String(), "matched", n)
	return n
}

// Remove drops every entry under prefix. Observed entries are kept but
// reset to idle with no data; they are not refetched.
func (c *Cache) Remove(prefix Key) int {
	p := prefix.segments()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if !hasPrefix(e.segs, p) {
			continue
		}
		n++
		if len(e.observers) == 0 {
			c.drop(e)
			continue
		}
		e.data = nil
		e.hasData = false
		e.status = StatusIdle
		e.err = nil
		e.invalidated = false
		e.call = nil
		e.refetchQueued = false
		e.version++
		e.notifyAll()
	}
	return n
}

// Inspect returns the state of the entry stored under key.
func (c *Cache) Inspect(key Key) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.Hash()]
	if !ok {
		return State{}, false
	}
	return c.stateOf(e), true
}

// Snapshot returns the state of every entry, in no particular order.
func (c *Cache) Snapshot() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, c.stateOf(e))
	}
	return out
}

// Len returns the number of entries held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetData writes v directly under key, as if it had just been fetched.
func SetData[T any](c *Cache, key Key, v T) {
	c.setData(key, v)
}

// GetData returns the data cached under key, if any.
func GetData[T any](c *Cache, key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	e, ok := c.entries[key.Hash()]
	if !ok || !e.hasData {
		return zero, false
	}
	v, ok := e.data.(T)
	return v, ok
}

func (c *Cache) setData(key Key, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ensure(key)
	e.data = v
	e.hasData = true
	e.status = StatusSuccess
	e.err = nil
	e.updatedAt = c.clock.Now()
	e.invalidated = false
	e.version++
	e.notifyAll()
	if len(e.observers) == 0 {
		c.scheduleGC(e)
	}
}

func (c *Cache) subscribe(key Key, fn fetchFunc, opts Options) (*entry, uint64, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ensure(key)
	e.fn = fn
	e.opts = opts
	gc := opts.GCTime
	if gc <= 0 {
		gc = c.gcTime
	}
	e.gcTime = max(e.gcTime, gc)
	stopTimer(&e.gcTimer)

	c.nextID++
	id := c.nextID
	ch := make(chan struct{}, 1)
	e.observers[id] = &observerState{notify: ch, interval: opts.RefetchInterval}
	c.resetInterval(e)

	family := e.key.Family()
	switch {
	case !e.hasData:
		c.metrics.lookup(family, "miss")
		c.startFetch(e)
	case e.stale(c.clock.Now()):
		c.metrics.lookup(family, "stale")
		c.startFetch(e)
	default:
		c.metrics.lookup(family, "fresh")
	}
	return e, id, ch
}

func (c *Cache) unsubscribe(e *entry, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(e.observers, id)
	c.resetInterval(e)
	if len(e.observers) == 0 && c.entries[e.hash] == e {
		c.scheduleGC(e)
	}
}

// ensure returns the entry for key, creating it if needed. c.mu must be held.
func (c *Cache) ensure(key Key) *entry {
	segs := key.segments()
	hash := "[" + strings.Join(segs, ",") + "]"
	if e, ok := c.entries[hash]; ok {
		return e
	}
	e := &entry{
		key:       append(Key(nil), key...),
		hash:      hash,
		segs:      segs,
		observers: make(map[uint64]*observerState),
	}
	c.entries[hash] = e
	c.metrics.setEntries(len(c.entries))
	return e
}

func (c *Cache) drop(e *entry) {
	stopTimer(&e.intervalTimer)
	stopTimer(&e.gcTimer)
	e.call = nil
	delete(c.entries, e.hash)
	c.metrics.setEntries(len(c.entries))
}

// startFetch begins a fetch for e unless one is already running, and returns
// the call to wait on. c.mu must be held.
func (c *Cache) startFetch(e *entry) *fetchCall {
	if e.call != nil {
		return e.call
	}
	if e.fn == nil {
		return nil
	}
	call := &fetchCall{done: make(chan struct{})}
	e.call = call
	if !e.hasData {
		e.status = StatusLoading
		e.err = nil
	}
	e.notifyAll()

	c.logger.Debug("query fetch started", "key", e.hash)
	go c.run(e, call, e.fn, e.opts)
	return call
}

func (c *Cache) run(e *entry, call *fetchCall, fn fetchFunc, opts Options) {
	var (
		v   any
		err error
	)
	for attempt := 0; ; attempt++ {
		v, err = fn(c.ctx)
		if err == nil || attempt >= opts.Retry || c.ctx.Err() != nil {
			break
		}
		c.logger.Debug("query fetch failed, retrying", "key", e.hash, "attempt", attempt+1, "error", err)
		if !c.sleep(opts.retryDelay(attempt)) {
			break
		}
	}
	c.finish(e, call, v, err)
}

func (c *Cache) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}
	wake := make(chan struct{})
	t := c.clock.AfterFunc(d, func() { close(wake) })
	select {
	case <-wake:
		return true
	case <-c.ctx.Done():
		t.Stop()
		return false
	}
}

func (c *Cache) finish(e *entry, call *fetchCall, v any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(call.done)

	if e.call != call {
		// Entry was removed or reset while the fetch ran.
		return
	}
	e.call = nil
	c.metrics.fetched(e.key.Family(), err)

	if err != nil {
		e.status = StatusError
		e.err = err
		c.logger.Warn("query fetch failed", "key", e.hash, "error", err)
	} else {
		e.data = v
		e.hasData = true
		e.status = StatusSuccess
		e.err = nil
		e.updatedAt = c.clock.Now()
		e.invalidated = e.refetchQueued
		e.version++
	}
	queued := e.refetchQueued
	e.refetchQueued = false
	e.notifyAll()

	if c.entries[e.hash] != e {
		return
	}
	if len(e.observers) == 0 {
		c.scheduleGC(e)
		return
	}
	if queued {
		c.startFetch(e)
	}
}

func (c *Cache) scheduleGC(e *entry) {
	stopTimer(&e.gcTimer)
	d := e.gcTime
	if d <= 0 {
		d = c.gcTime
	}
	e.gcDeadline = c.clock.Now().Add(d)
	e.gcTimer = c.clock.AfterFunc(d, func() { c.collect(e) })
}

func (c *Cache) collect(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[e.hash] != e || len(e.observers) > 0 || e.call != nil {
		return
	}
	if c.clock.Now().Before(e.gcDeadline) {
		return
	}
	c.drop(e)
	c.metrics.evicted()
	c.logger.Debug("query cache entry evicted", "key", e.hash)
}

// resetInterval polls e at the shortest interval any observer asked for.
// c.mu must be held.
func (c *Cache) resetInterval(e *entry) {
	var iv time.Duration
	for _, o := range e.observers {
		if o.interval > 0 && (iv == 0 || o.interval < iv) {
			iv = o.interval
		}
	}
	if iv == e.interval && (iv == 0) == (e.intervalTimer == nil) {
		return
	}
	stopTimer(&e.intervalTimer)
	e.tickGen++
	e.interval = iv
	if iv > 0 {
		c.scheduleTick(e)
	}
}

func (c *Cache) scheduleTick(e *entry) {
	e.tickGen++
	gen := e.tickGen
	e.intervalTimer = c.clock.AfterFunc(e.interval, func() { c.tick(e, gen) })
}

func (c *Cache) tick(e *entry, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.tickGen != gen || c.entries[e.hash] != e || len(e.observers) == 0 {
		return
	}
	c.startFetch(e)
	c.scheduleTick(e)
}

func (c *Cache) stateOf(e *entry) State {
	return State{
		Key:       e.key,
		Status:    e.status,
		Err:       e.err,
		HasData:   e.hasData,
		Stale:     e.stale(c.clock.Now()),
		Fetching:  e.call != nil,
		Observers: len(e.observers),
		UpdatedAt: e.updatedAt,
		Version:   e.version,
	}
}

func (e *entry) stale(now time.Time) bool {
	if !e.hasData || e.invalidated {
		return true
	}
	return !now.Before(e.updatedAt.Add(e.opts.StaleTime))
}

func (e *entry) notifyAll() {
	for _, o := range e.observers {
		select {
		case o.notify <- struct{}{}:
		default:
		}
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
