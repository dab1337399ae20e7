// Package notify merges the user's notifications with the commissioner's
// pending achievement requests into one feed and runs the inbox actions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/session"
)

// ErrPrivilegeRequired is returned by commissioner-only actions called
// without the commissioner role. No request is sent.
var ErrPrivilegeRequired = errors.New("commissioner role required")

// Cache keys owned by the aggregator.
var (
	NotificationsKey = query.Key{"notifications"}
	AdminRequestsKey = query.Key{"admin-achievement-requests"}
	InboxCountKey    = query.Key{"inbox-count"}
	achievementsKey  = query.Key{"achievements"}
)

// NotificationLimit is the number of notifications fetched per poll.
const NotificationLimit = 50

// API is the client surface used by the aggregator.
type API interface {
	ListNotifications(ctx context.Context, p client.NotificationListParams) (client.NotificationList, error)
	PendingRequests(ctx context.Context) (client.PendingRequests, error)
	InboxCount(ctx context.Context) (client.InboxCount, error)
	MarkNotificationRead(ctx context.Context, id string) (client.MessageResponse, error)
	MarkAllNotificationsRead(ctx context.Context) (client.MessageResponse, error)
	DeleteNotification(ctx context.Context, id string) (client.MessageResponse, error)
	ApproveRequest(ctx context.Context, requestID, notes string) (client.ReviewResult, error)
	RejectRequest(ctx context.Context, requestID, notes string) (client.ReviewResult, error)
}

// Sessions is the session surface used by the aggregator.
type Sessions interface {
	Snapshot() session.Snapshot
	Subscribe(f func(session.Snapshot)) (cancel func())
}

// Resolver is told about every new batch of notifications, so approvals and
// rejections can clear locally pending achievements.
type Resolver interface {
	ResolveFromNotifications(ns []client.Notification) int
}

// Config configures an Aggregator.
type Config struct {
	Cache    *query.Cache
	API      API
	Sessions Sessions
	// Resolver is optional.
	Resolver Resolver
	Clock    query.Clock
	Logger   *slog.Logger

	PollInterval      time.Duration // default 30s
	InboxPollInterval time.Duration // default 15s
	ErrorTTL          time.Duration // default 5s
}

// State is a snapshot of the aggregator.
type State struct {
	Feed       []FeedItem                `json:"notifications"`
	Stats      *client.NotificationStats `json:"stats"`
	InboxCount int                       `json:"inboxCount"`
	IsLoading  bool                      `json:"isLoading"`
	Error      string                    `json:"error,omitempty"`
}

// observers is the set of queries for one session.
type observers struct {
	commissioner  bool
	notifications *query.Observer[client.NotificationList]
	requests      *query.Observer[client.PendingRequests]
	inbox         *query.Observer[client.InboxCount]
}

func (o *observers) close() {
	o.notifications.Close()
	o.requests.Close()
	o.inbox.Close()
}

// memo caches the merged feed for one pair of input versions.
type memo struct {
	valid        bool
	nVersion     uint64
	rVersion     uint64
	commissioner bool
	feed         []FeedItem
}

// Aggregator polls notifications, pending requests and the inbox count, and
// exposes the merged feed and inbox actions.
type Aggregator struct {
	cache    *query.Cache
	api      API
	sessions Sessions
	resolver Resolver
	clock    query.Clock
	logger   *slog.Logger

	pollInterval      time.Duration
	inboxPollInterval time.Duration
	errorTTL          time.Duration

	mu       sync.Mutex
	obs      *observers
	userID   string
	memo     memo
	errMsg   string
	errGen   uint64
	errTimer query.Timer
	closed   bool

	unsubscribe func()

	markRead    *query.Mutation[string, client.MessageResponse]
	markAllRead *query.Mutation[struct{}, client.MessageResponse]
	remove      *query.Mutation[string, client.MessageResponse]
	approve     *query.Mutation[review, client.ReviewResult]
	reject      *query.Mutation[review, client.ReviewResult]
}

type review struct {
	requestID string
	notes     string
}

// New creates an Aggregator gated on the current session and re-gated on
// every session change. Close it when done.
func New(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = query.RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.InboxPollInterval <= 0 {
		cfg.InboxPollInterval = 15 * time.Second
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 5 * time.Second
	}
	a := &Aggregator{
		cache:             cfg.Cache,
		api:               cfg.API,
		sessions:          cfg.Sessions,
		resolver:          cfg.Resolver,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		pollInterval:      cfg.PollInterval,
		inboxPollInterval: cfg.InboxPollInterval,
		errorTTL:          cfg.ErrorTTL,
	}
	a.buildMutations()
	a.rebuild(a.sessions.Snapshot())
	a.unsubscribe = a.sessions.Subscribe(a.rebuild)
	return a
}

func (a *Aggregator) buildMutations() {
	api := a.api
	a.markRead = query.NewMutation(api.MarkNotificationRead, query.MutationOptions[string, client.MessageResponse]{
		OnSuccess: func(client.MessageResponse, string) { a.invalidate(false) },
		OnError:   func(err error, _ string) { a.fail("Failed to mark notification as read", err) },
	})
	a.markAllRead = query.NewMutation(func(ctx context.Context, _ struct{}) (client.MessageResponse, error) {
		return api.MarkAllNotificationsRead(ctx)
	}, query.MutationOptions[struct{}, client.MessageResponse]{
		OnSuccess: func(client.MessageResponse, struct{}) { a.invalidate(false) },
		OnError:   func(err error, _ struct{}) { a.fail("Failed to mark all notifications as read", err) },
	})
	a.remove = query.NewMutation(api.DeleteNotification, query.MutationOptions[string, client.MessageResponse]{
		OnSuccess: func(client.MessageResponse, string) { a.invalidate(false) },
		OnError:   func(err error, _ string) { a.fail("Failed to delete notification", err) },
	})
	a.approve = query.NewMutation(func(ctx context.Context, r review) (client.ReviewResult, error) {
		return api.ApproveRequest(ctx, r.requestID, r.notes)
	}, query.MutationOptions[review, client.ReviewResult]{
		OnSuccess: func(client.ReviewResult, review) { a.invalidate(true) },
		OnError:   func(err error, _ review) { a.fail("Failed to approve achievement request", err) },
	})
	a.reject = query.NewMutation(func(ctx context.Context, r review) (client.ReviewResult, error) {
		return api.RejectRequest(ctx, r.requestID, r.notes)
	}, query.MutationOptions[review, client.ReviewResult]{
		OnSuccess: func(client.ReviewResult, review) { a.invalidate(false) },
		OnError:   func(err error, _ review) { a.fail("Failed to reject achievement request", err) },
	})
}

// rebuild swaps the observers for ones gated on snap.
func (a *Aggregator) rebuild(snap session.Snapshot) {
	authed := snap.IsAuthenticated()
	commissioner := snap.IsCommissioner()

	notifications := query.Query[client.NotificationList]{
		Key: NotificationsKey,
		Fn: func(ctx context.Context) (client.NotificationList, error) {
			return a.api.ListNotifications(ctx, client.NotificationListParams{UnreadOnly: false, Limit: NotificationLimit})
		},
	}
	notifications.RefetchInterval = a.pollInterval
	notifications.Disabled = !authed

	requests := query.Query[client.PendingRequests]{Key: AdminRequestsKey, Fn: a.api.PendingRequests}
	requests.RefetchInterval = a.pollInterval
	requests.Disabled = !authed || !commissioner

	inbox := query.Query[client.InboxCount]{Key: InboxCountKey, Fn: a.api.InboxCount}
	inbox.RefetchInterval = a.inboxPollInterval
	inbox.Disabled = !authed

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.obs != nil {
		a.obs.close()
	}
	// The next user must never see the previous user's inbox.
	switched := snap.UserID() != a.userID
	a.userID = snap.UserID()
	if !authed || switched {
		a.cache.Remove(NotificationsKey)
		a.cache.Remove(InboxCountKey)
	}
	if !authed || !commissioner || switched {
		a.cache.Remove(AdminRequestsKey)
	}
	a.obs = &observers{
		commissioner:  commissioner,
		notifications: query.Observe(a.cache, notifications),
		requests:      query.Observe(a.cache, requests),
		inbox:         query.Observe(a.cache, inbox),
	}
	a.memo = memo{}
	a.logger.Debug("notification polling regated", "authenticated", authed, "commissioner", commissioner)
}

func (a *Aggregator) current() *observers {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.obs
}

// Feed returns a copy of the merged feed. It is recomputed only when the
// notifications, the requests or the commissioner flag changed.
func (a *Aggregator) Feed() []FeedItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.feedLocked()
}

func (a *Aggregator) feedLocked() []FeedItem {
	o := a.obs
	n := o.notifications.Result()
	r := o.requests.Result()
	m := a.memo
	if m.valid && m.nVersion == n.Version && m.rVersion == r.Version && m.commissioner == o.commissioner {
		return slices.Clone(m.feed)
	}

	if a.resolver != nil && n.HasData && (!m.valid || m.nVersion != n.Version) {
		a.resolver.ResolveFromNotifications(n.Data.Notifications)
	}
	a.memo = memo{
		valid:        true,
		nVersion:     n.Version,
		rVersion:     r.Version,
		commissioner: o.commissioner,
		feed:         MergeFeed(n.Data.Notifications, r.Data.Requests, o.commissioner),
	}
	return slices.Clone(a.memo.feed)
}

// State returns the full aggregator state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	o := a.obs
	n := o.notifications.Result()
	r := o.requests.Result()
	in := o.inbox.Result()

	st := State{
		Feed:       a.feedLocked(),
		InboxCount: in.Data.Total,
		IsLoading:  n.IsLoading() || r.IsLoading() || in.IsLoading(),
		Error:      a.errMsg,
	}
	if n.HasData {
		stats := n.Data.Stats
		st.Stats = &stats
	}
	return st
}

// Err returns the latest action error message. It clears itself after
// the error TTL.
func (a *Aggregator) Err() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errMsg
}

func (a *Aggregator) fail(msg string, err error) {
	a.logger.Warn(msg, "error", err)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.errMsg = msg
	a.errGen++
	gen := a.errGen
	if a.errTimer != nil {
		a.errTimer.Stop()
	}
	a.errTimer = a.clock.AfterFunc(a.errorTTL, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.errGen == gen {
			a.errMsg = ""
			a.errTimer = nil
		}
	})
}

// invalidate marks every inbox key stale, plus the achievements when an
// approval may have completed one.
func (a *Aggregator) invalidate(achievements bool) {
	a.cache.Invalidate(NotificationsKey)
	a.cache.Invalidate(InboxCountKey)
	a.cache.Invalidate(AdminRequestsKey)
	if achievements {
		a.cache.Invalidate(achievementsKey)
	}
}

func (a *Aggregator) MarkAsRead(ctx context.Context, id string) error {
	_, err := a.markRead.Do(ctx, id)
	return err
}

func (a *Aggregator) MarkAllAsRead(ctx context.Context) error {
	_, err := a.markAllRead.Do(ctx, struct{}{})
	return err
}

func (a *Aggregator) Delete(ctx context.Context, id string) error {
	_, err := a.remove.Do(ctx, id)
	return err
}

// Approve approves a pending achievement request. It fails with
// ErrPrivilegeRequired before any request when the user is not a
// commissioner.
func (a *Aggregator) Approve(ctx context.Context, requestID, notes string) (client.ReviewResult, error) {
	if !a.sessions.Snapshot().IsCommissioner() {
		return client.ReviewResult{}, fmt.Errorf("only commissioners can approve achievement requests: %w", ErrPrivilegeRequired)
	}
	return a.approve.Do(ctx, review{requestID, notes})
}

// Reject rejects a pending achievement request, with the same privilege
// check as Approve.
func (a *Aggregator) Reject(ctx context.Context, requestID, notes string) (client.ReviewResult, error) {
	if !a.sessions.Snapshot().IsCommissioner() {
		return client.ReviewResult{}, fmt.Errorf("only commissioners can reject achievement requests: %w", ErrPrivilegeRequired)
	}
	return a.reject.Do(ctx, review{requestID, notes})
}

// Refresh refetches the notifications and, for commissioners, the pending
// requests, concurrently.
func (a *Aggregator) Refresh(ctx context.Context) error {
	o := a.current()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return refetch(ctx, o.notifications) })
	if o.commissioner {
		g.Go(func() error { return refetch(ctx, o.requests) })
	}
	return g.Wait()
}

// RefreshInboxCount refetches the inbox badge count.
func (a *Aggregator) RefreshInboxCount(ctx context.Context) error {
	return refetch(ctx, a.current().inbox)
}

func refetch[T any](ctx context.Context, o *query.Observer[T]) error {
	r, err := o.Refetch(ctx)
	if err != nil {
		return err
	}
	if r.IsError() {
		return r.Err
	}
	return nil
}

// Wait blocks until every enabled query has settled once.
func (a *Aggregator) Wait(ctx context.Context) error {
	o := a.current()
	if _, err := o.notifications.Wait(ctx); err != nil {
		return err
	}
	if _, err := o.requests.Wait(ctx); err != nil {
		return err
	}
	_, err := o.inbox.Wait(ctx)
	return err
}

// Close stops polling and detaches from the session.
func (a *Aggregator) Close() {
	a.unsubscribe()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.errTimer != nil {
		a.errTimer.Stop()
	}
	a.obs.close()
}
