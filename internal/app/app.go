// Package app builds the process-wide services: one resource client, one
// query cache, one session, one pending ledger and one notification
// aggregator, shared by every consumer.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/config"
	"github.com/kalambet/dynasty/internal/notify"
	"github.com/kalambet/dynasty/internal/pending"
	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/resource"
	"github.com/kalambet/dynasty/internal/session"
	"github.com/kalambet/dynasty/internal/storage"
)

// Option configures New.
type Option func(*options)

type options struct {
	clock      query.Clock
	logger     *slog.Logger
	httpClient *http.Client
	registry   *prometheus.Registry
}

// WithClock drives the cache and aggregator timers from c.
func WithClock(c query.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the resource client's transport.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.httpClient = h }
}

// WithRegistry registers the metrics with r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// App holds the shared services.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry

	Store   *storage.Store
	Client  *client.Client
	Session *session.Store
	Ledger  *pending.Ledger
	Cache   *query.Cache

	Teams        *resource.Teams
	Schedule     *resource.Schedule
	Standings    *resource.Standings
	Achievements *resource.Achievements
	Rewards      *resource.Rewards
	Inbox        *notify.Aggregator

	unsubscribe func()
	closeOnce   sync.Once
	closeErr    error
}

// New opens local storage under cfg.Storage.DataDir and wires the services.
// Close releases them.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = query.RealClock()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a := &App{Config: cfg, Logger: o.logger, Registry: o.registry, Store: store}

	// The client reads the token from the session and clears it on 401, so
	// the session is assigned before any request can run.
	clientOpts := []client.Option{
		client.WithTimeout(cfg.API.Timeout),
		client.WithLogger(o.logger),
		client.WithTokenSource(client.TokenFunc(func() string { return a.Session.Token() })),
		client.WithUnauthorizedHandler(func() { a.Session.Clear() }),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(o.httpClient))
	}
	a.Client = client.New(cfg.API.BaseURL, clientOpts...)
	a.Session = session.New(a.Client, store, session.WithLogger(o.logger))
	a.Ledger = pending.New(store, pending.WithJournal(store), pending.WithLogger(o.logger))

	a.Cache = query.New(query.Config{
		Clock:   o.clock,
		Logger:  o.logger,
		Metrics: query.NewMetrics(o.registry),
		GCTime:  cfg.Cache.GCTime,
	})

	a.Teams = resource.NewTeams(a.Cache, a.Client)
	a.Schedule = resource.NewSchedule(a.Cache, a.Client)
	a.Standings = resource.NewStandings(a.Cache, a.Client)
	a.Achievements = resource.NewAchievements(a.Cache, a.Client, a.Session, resource.WithPendingRecorder(a.Ledger))
	a.Rewards = resource.NewRewards(a.Cache, a.Client)
	a.Inbox = notify.New(notify.Config{
		Cache:             a.Cache,
		API:               a.Client,
		Sessions:          a.Session,
		Resolver:          a.Ledger,
		Clock:             o.clock,
		Logger:            o.logger,
		PollInterval:      cfg.Notifications.PollInterval,
		InboxPollInterval: cfg.Notifications.InboxPollInterval,
	})

	var mu sync.Mutex
	user := a.Session.Snapshot().UserID()
	a.unsubscribe = a.Session.Subscribe(func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if next := snap.UserID(); next != user {
			user = next
			a.identityChanged(snap)
		}
	})
	return a, nil
}

// identityChanged drops per-user completion state. Achievement flags are
// computed for the requesting user, so nothing cached for the previous user
// survives, including fetches still in flight with their token.
func (a *App) identityChanged(snap session.Snapshot) {
	n := a.Cache.Remove(resource.AchievementsKey)
	a.Logger.Debug("achievements dropped on identity change", "entries", n, "authenticated", snap.IsAuthenticated())
	if snap.IsAuthenticated() {
		a.Cache.Invalidate(resource.AchievementsKey)
	}
}

// AchievementPage fetches a page of achievements through the cache and
// drops ledger entries the server now reports as completed.
func (a *App) AchievementPage(ctx context.Context, f resource.AchievementFilter) (client.Page[client.Achievement], error) {
	r, err := query.Fetch(ctx, a.Cache, a.Achievements.List(f))
	if err != nil {
		return client.Page[client.Achievement]{}, err
	}
	if n := a.Ledger.Reconcile(r.Data.Content); n > 0 {
		a.Logger.Debug("pending achievements reconciled", "resolved", n)
	}
	return r.Data, nil
}

// Close stops polling and closes local storage. Later calls return the
// first call's error.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.unsubscribe()
		a.Inbox.Close()
		a.Cache.Close()
		a.closeErr = a.Store.Close()
	})
	return a.closeErr
}
