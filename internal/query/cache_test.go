package query_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/query/querytest"
)

// fakeSource counts calls and returns successive values.
type fakeSource struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
	block chan struct{}
}

func (f *fakeSource) fetch(ctx context.Context) (int, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	block, err := f.block, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestCache(t *testing.T) (*query.Cache, *querytest.Clock) {
	t.Helper()
	clock := querytest.NewClock(time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC))
	c := query.New(query.Config{Clock: clock})
	t.Cleanup(c.Close)
	return c, clock
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitResult[T any](t *testing.T, o *query.Observer[T]) query.Result[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := o.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return r
}

func idle(c *query.Cache, key query.Key) func() bool {
	return func() bool {
		st, ok := c.Inspect(key)
		return ok && !st.Fetching
	}
}

func TestObserveFetchesOnceOnMiss(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"teams"}, Fn: src.fetch, Options: query.Options{StaleTime: time.Minute}}

	o := query.Observe(c, q)
	defer o.Close()
	r := waitResult(t, o)
	if !r.HasData || r.Data != 1 || !r.IsSuccess() {
		t.Fatalf("result = %+v, want data 1 success", r)
	}
	if src.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", src.calls.Load())
	}
}

func TestConcurrentObserversShareOneFetch(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{block: make(chan struct{})}
	q := query.Query[int]{Key: query.Key{"standings", 2024}, Fn: src.fetch, Options: query.Options{StaleTime: time.Minute}}

	a := query.Observe(c, q)
	defer a.Close()
	b := query.Observe(c, q)
	defer b.Close()

	if !a.Result().IsLoading() || !b.Result().IsLoading() {
		t.Fatal("both observers should be loading before the fetch resolves")
	}
	close(src.block)

	ra, rb := waitResult(t, a), waitResult(t, b)
	if ra.Data != rb.Data {
		t.Errorf("observers disagree: %d vs %d", ra.Data, rb.Data)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestFreshDataServedWithoutRequest(t *testing.T) {
	c, clock := newTestCache(t)
	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"teams"}, Fn: src.fetch, Options: query.Options{StaleTime: 5 * time.Minute}}

	if _, err := query.Fetch(context.Background(), c, q); err != nil {
		t.Fatal(err)
	}
	clock.Advance(4 * time.Minute)

	o := query.Observe(c, q)
	defer o.Close()
	r := o.Result()
	if !r.HasData || r.IsFetching || r.IsStale {
		t.Fatalf("result = %+v, want fresh cached data", r)
	}
	if src.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", src.calls.Load())
	}
}

func TestStaleDataServedWhileRevalidating(t *testing.T) {
	c, clock := newTestCache(t)
	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"teams"}, Fn: src.fetch, Options: query.Options{StaleTime: time.Minute}}

	if _, err := query.Fetch(context.Background(), c, q); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)

	src.mu.Lock()
	src.block = make(chan struct{})
	src.mu.Unlock()

	o := query.Observe(c, q)
	defer o.Close()
	r := o.Result()
	if !r.HasData || r.Data != 1 {
		t.Fatalf("stale data not served: %+v", r)
	}
	if r.IsLoading() {
		t.Error("stale data must not report loading")
	}
	if !r.IsFetching {
		t.Error("background refetch should be in flight")
	}

	close(src.block)
	eventually(t, idle(c, q.Key))
	if got := o.Result().Data; got != 2 {
		t.Errorf("data after revalidation = %d, want 2", got)
	}
}

func TestFailedRefreshKeepsServingCachedData(t *testing.T) {
	c, clock := newTestCache(t)
	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"teams"}, Fn: src.fetch, Options: query.Options{StaleTime: time.Minute}}

	if _, err := query.Fetch(context.Background(), c, q); err != nil {
		t.Fatal(err)
	}
	src.setErr(errors.New("boom"))
	clock.Advance(2 * time.Minute)

	r, err := query.Fetch(context.Background(), c, q)
	if err != nil || r.Data != 1 {
		t.Fatalf("stale read = %d, %v; want 1, nil", r.Data, err)
	}
	eventually(t, func() bool {
		st, ok := c.Inspect(q.Key)
		return ok && st.Status == query.StatusError && !st.Fetching
	})

	r, err = query.Fetch(context.Background(), c, q)
	if err != nil {
		t.Fatalf("Fetch returned %v although data is cached", err)
	}
	if !r.HasData || r.Data != 1 {
		t.Errorf("result = %+v, want cached data 1", r)
	}
	if !r.IsError() || r.Err == nil {
		t.Errorf("refresh failure not reported on result: %+v", r)
	}
}

func TestInvalidateRefetchesOnlyObservedEntries(t *testing.T) {
	c, _ := newTestCache(t)
	observed := &fakeSource{}
	unobserved := &fakeSource{}
	other := &fakeSource{}

	oq := query.Query[int]{Key: query.Key{"achievements", "list", query.Params{"page": 0}}, Fn: observed.fetch, Options: query.Options{StaleTime: time.Hour}}
	uq := query.Query[int]{Key: query.Key{"achievements", "stats"}, Fn: unobserved.fetch, Options: query.Options{StaleTime: time.Hour}}
	tq := query.Query[int]{Key: query.Key{"teams"}, Fn: other.fetch, Options: query.Options{StaleTime: time.Hour}}

	o := query.Observe(c, oq)
	defer o.Close()
	waitResult(t, o)
	if _, err := query.Fetch(context.Background(), c, uq); err != nil {
		t.Fatal(err)
	}
	to := query.Observe(c, tq)
	defer to.Close()
	waitResult(t, to)

	if n := c.Invalidate(query.Key{"achievements"}); n != 2 {
		t.Fatalf("matched = %d, want 2", n)
	}
	eventually(t, func() bool { return observed.calls.Load() == 2 })
	eventually(t, idle(c, oq.Key))

	if got := unobserved.calls.Load(); got != 1 {
		t.Errorf("unobserved entry refetched: calls = %d", got)
	}
	st, _ := c.Inspect(uq.Key)
	if !st.Stale {
		t.Error("unobserved entry should be marked stale")
	}
	if got := other.calls.Load(); got != 1 {
		t.Errorf("entry outside prefix refetched: calls = %d", got)
	}

	// The stale unobserved entry is refetched on the next subscription.
	uo := query.Observe(c, uq)
	defer uo.Close()
	eventually(t, func() bool { return unobserved.calls.Load() == 2 })
}

func TestInvalidateDuringFetchQueuesRefetch(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{block: make(chan struct{})}
	q := query.Query[int]{Key: query.Key{"notifications"}, Fn: src.fetch, Options: query.Options{StaleTime: time.Hour}}

	o := query.Observe(c, q)
	defer o.Close()
	c.Invalidate(query.Key{"notifications"})

	src.mu.Lock()
	block := src.block
	src.block = nil
	src.mu.Unlock()
	close(block)

	eventually(t, func() bool { return src.calls.Load() == 2 })
	eventually(t, idle(c, q.Key))
	r := o.Result()
	if r.Data != 2 || r.IsStale {
		t.Errorf("result = %+v, want fresh data from the queued refetch", r)
	}
}

func TestPrefixDoesNotMatchPartialSegment(t *testing.T) {
	c, _ := newTestCache(t)
	query.SetData(c, query.Key{"teams", "conference", "SEC"}, 1)
	query.SetData(c, query.Key{"teamsX"}, 2)
	query.SetData(c, query.Key{"team", "games"}, 3)

	if n := c.Invalidate(query.Key{"teams"}); n != 1 {
		t.Errorf("matched = %d, want 1", n)
	}
	if n := c.Invalidate(query.Key{"teams", "conference", "SEC", "extra"}); n != 0 {
		t.Errorf("longer prefix matched %d entries", n)
	}
}

func TestParamsKeyOrderIndependent(t *testing.T) {
	a := query.Key{"achievements", "list", query.Params{"page": 0, "type": "WINS"}}
	b := query.Key{"achievements", "list", query.Params{"type": "WINS", "page": 0}}
	if a.Hash() != b.Hash() {
		t.Errorf("hashes differ: %s vs %s", a.Hash(), b.Hash())
	}
	if !a.HasPrefix(query.Key{"achievements", "list"}) {
		t.Error("expected prefix match")
	}
}

func TestErrorKeepsLastGoodData(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"rewards"}, Fn: src.fetch}

	o := query.Observe(c, q)
	defer o.Close()
	waitResult(t, o)

	boom := errors.New("upstream down")
	src.setErr(boom)
	r, err := o.Refetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsError() || !errors.Is(r.Err, boom) {
		t.Fatalf("result = %+v, want error state", r)
	}
	if !r.HasData || r.Data != 1 {
		t.Errorf("last good data lost: %+v", r)
	}
}

func TestRetryBeforeReportingError(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{}
	src.setErr(errors.New("flaky"))
	q := query.Query[int]{
		Key: query.Key{"season-progress"},
		Fn:  src.fetch,
		Options: query.Options{
			Retry:      3,
			RetryDelay: func(int) time.Duration { return 0 },
		},
	}

	r, err := query.Fetch(context.Background(), c, q)
	if err == nil || !r.IsError() {
		t.Fatalf("expected error, got %+v", r)
	}
	if got := src.calls.Load(); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	delay := query.ExponentialBackoff(time.Second, 30*time.Second)
	cases := map[int]time.Duration{0: time.Second, 1: 2 * time.Second, 4: 16 * time.Second, 5: 30 * time.Second, 10: 30 * time.Second}
	for attempt, want := range cases {
		if got := delay(attempt); got != want {
			t.Errorf("delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestDisabledObserverNeverFetches(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{}
	o := query.Observe(c, query.Query[int]{Key: query.Key{"games", "team", ""}, Fn: src.fetch, Options: query.Options{Disabled: true}})
	defer o.Close()

	r := o.Result()
	if r.Status != query.StatusIdle || r.IsLoading() || r.HasData {
		t.Errorf("disabled result = %+v, want idle", r)
	}
	if _, err := o.Refetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != 0 {
		t.Errorf("disabled query fetched %d times", src.calls.Load())
	}
	if c.Len() != 0 {
		t.Errorf("disabled query created %d entries", c.Len())
	}
}

func TestGCEvictsAfterLastObserverLeaves(t *testing.T) {
	c, clock := newTestCache(t)
	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"teams"}, Fn: src.fetch, Options: query.Options{StaleTime: time.Hour, GCTime: 10 * time.Minute}}

	o := query.Observe(c, q)
	waitResult(t, o)
	o.Close()

	clock.Advance(9 * time.Minute)
	if _, ok := c.Inspect(q.Key); !ok {
		t.Fatal("entry evicted before gc time")
	}

	// Re-subscribing inside the window serves the cached value.
	o2 := query.Observe(c, q)
	if r := o2.Result(); !r.HasData || r.Data != 1 {
		t.Fatalf("cached data not served: %+v", r)
	}
	o2.Close()

	clock.Advance(10*time.Minute + time.Millisecond)
	if _, ok := c.Inspect(q.Key); ok {
		t.Fatal("entry should be evicted")
	}

	o3 := query.Observe(c, q)
	defer o3.Close()
	if !o3.Result().IsLoading() {
		t.Error("expected a fresh load after eviction")
	}
	waitResult(t, o3)
	if src.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", src.calls.Load())
	}
}

func TestRefetchIntervalOnlyWhileObserved(t *testing.T) {
	c, clock := newTestCache(t)
	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"inbox-count"}, Fn: src.fetch, Options: query.Options{RefetchInterval: 15 * time.Second}}

	o := query.Observe(c, q)
	waitResult(t, o)

	clock.Advance(15 * time.Second)
	eventually(t, func() bool { return src.calls.Load() == 2 })
	eventually(t, idle(c, q.Key))
	clock.Advance(15 * time.Second)
	eventually(t, func() bool { return src.calls.Load() == 3 })
	eventually(t, idle(c, q.Key))

	o.Close()
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := src.calls.Load(); got != 3 {
		t.Errorf("polling continued without observers: calls = %d", got)
	}
}

func TestShortestIntervalWins(t *testing.T) {
	c, clock := newTestCache(t)
	src := &fakeSource{}
	slow := query.Query[int]{Key: query.Key{"notifications"}, Fn: src.fetch, Options: query.Options{RefetchInterval: time.Minute}}
	fast := slow
	fast.RefetchInterval = 10 * time.Second

	a := query.Observe(c, slow)
	defer a.Close()
	waitResult(t, a)
	b := query.Observe(c, fast)
	waitResult(t, b)
	eventually(t, idle(c, slow.Key))
	base := src.calls.Load()

	clock.Advance(10 * time.Second)
	eventually(t, func() bool { return src.calls.Load() == base+1 })
	eventually(t, idle(c, slow.Key))

	// Once the fast observer leaves the slower interval applies again.
	b.Close()
	clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := src.calls.Load(); got != base+1 {
		t.Errorf("calls = %d, want %d", got, base+1)
	}
	clock.Advance(30 * time.Second)
	eventually(t, func() bool { return src.calls.Load() == base+2 })
}

func TestSetDataUpdatesObservers(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{}
	key := query.Key{"achievements", "detail", "a1"}
	o := query.Observe(c, query.Query[int]{Key: key, Fn: src.fetch, Options: query.Options{StaleTime: time.Hour}})
	defer o.Close()
	first := waitResult(t, o)
	select {
	case <-o.Updates():
	default:
	}

	query.SetData(c, key, 42)

	select {
	case <-o.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update signal")
	}
	r := o.Result()
	if r.Data != 42 || r.Version <= first.Version || r.IsStale {
		t.Errorf("result = %+v", r)
	}
	if v, ok := query.GetData[int](c, key); !ok || v != 42 {
		t.Errorf("GetData = %d, %v", v, ok)
	}
}

func TestRemoveResetsObservedEntries(t *testing.T) {
	c, _ := newTestCache(t)
	src := &fakeSource{}
	observed := query.Key{"teams", "detail", "t1"}
	o := query.Observe(c, query.Query[int]{Key: observed, Fn: src.fetch, Options: query.Options{StaleTime: time.Hour}})
	defer o.Close()
	waitResult(t, o)
	query.SetData(c, query.Key{"teams", "detail", "t2"}, 7)

	if n := c.Remove(query.Key{"teams", "detail"}); n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	if _, ok := c.Inspect(query.Key{"teams", "detail", "t2"}); ok {
		t.Error("unobserved entry still present")
	}
	r := o.Result()
	if r.HasData || r.Status != query.StatusIdle {
		t.Errorf("observed entry not reset: %+v", r)
	}
	if src.calls.Load() != 1 {
		t.Errorf("Remove triggered a refetch")
	}
}

func TestMetricsRecordLookups(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := querytest.NewClock(time.Now())
	c := query.New(query.Config{Clock: clock, Metrics: query.NewMetrics(reg)})
	t.Cleanup(c.Close)

	src := &fakeSource{}
	q := query.Query[int]{Key: query.Key{"teams"}, Fn: src.fetch, Options: query.Options{StaleTime: time.Hour}}
	if _, err := query.Fetch(context.Background(), c, q); err != nil {
		t.Fatal(err)
	}
	if _, err := query.Fetch(context.Background(), c, q); err != nil {
		t.Fatal(err)
	}

	if n, err := testutil.GatherAndCount(reg, "dynasty_query_cache_lookups_total"); err != nil || n != 2 {
		t.Errorf("lookup series = %d, %v; want miss and fresh", n, err)
	}
}

func TestMutationCallbacks(t *testing.T) {
	var succeeded, failed []string
	m := query.NewMutation(func(_ context.Context, id string) (string, error) {
		if id == "bad" {
			return "", errors.New("rejected")
		}
		return "ok:" + id, nil
	}, query.MutationOptions[string, string]{
		OnSuccess: func(res, id string) { succeeded = append(succeeded, res) },
		OnError:   func(_ error, id string) { failed = append(failed, id) },
	})

	if res, err := m.Do(context.Background(), "a1"); err != nil || res != "ok:a1" {
		t.Fatalf("Do = %q, %v", res, err)
	}
	if _, err := m.Do(context.Background(), "bad"); err == nil {
		t.Fatal("expected error")
	}
	if len(succeeded) != 1 || len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("callbacks: succeeded=%v failed=%v", succeeded, failed)
	}
	if m.IsPending() {
		t.Error("mutation still pending")
	}
}
