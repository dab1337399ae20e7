package resource

import (
	"context"
	"sync"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
)

// TeamView picks whose games the schedule page shows.
type TeamView string

const (
	ViewAll      TeamView = "all"
	ViewSelected TeamView = "selected"
)

// ScheduleParams configures a ScheduleView.
type ScheduleParams struct {
	Year       int
	WeekNumber int // 0 means the current week
	TeamID     string
	TeamView   TeamView
}

// Schedule sources, in selection order.
const (
	SourceTeam = "team"
	SourceWeek = "week"
	SourceAll  = "all"
)

// ScheduleResult is the schedule page's combined view.
type ScheduleResult struct {
	Games           []client.Game
	HasData         bool
	IsLoading       bool
	Err             error
	Source          string
	CurrentWeek     *client.CurrentWeek
	EffectiveWeekID string
}

// ScheduleView observes every query the schedule page may show: team games,
// week games and all games, plus the current week and the year's weeks used
// to resolve the effective week. The set of observed queries never depends
// on the view mode; only the selection does.
type ScheduleView struct {
	s *Schedule
	p ScheduleParams

	current *query.Observer[client.CurrentWeek]
	weeks   *query.Observer[client.YearWeeks]
	team    *query.Observer[[]client.Game]
	all     *query.Observer[client.Page[client.Game]]

	mu     sync.Mutex
	week   *query.Observer[[]client.Game]
	weekID string
	closed bool

	updates chan struct{}
	rewatch chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

// View opens a ScheduleView. Close it when done.
func (s *Schedule) View(p ScheduleParams) *ScheduleView {
	v := &ScheduleView{
		s:       s,
		p:       p,
		current: query.Observe(s.cache, s.CurrentWeek()),
		weeks:   query.Observe(s.cache, s.WeeksByYear(p.Year)),
		team:    query.Observe(s.cache, s.ByTeam(p.TeamID, p.Year)),
		all:     query.Observe(s.cache, s.Games(GameFilter{Year: p.Year, Size: 100})),
		updates: make(chan struct{}, 1),
		rewatch: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	v.sync()
	v.wg.Add(1)
	go v.watch()
	return v
}

// effectiveWeekID resolves the requested week number against the year's
// weeks, falling back to the current week.
func (v *ScheduleView) effectiveWeekID() string {
	if v.p.WeekNumber != 0 {
		if yw := v.weeks.Result(); yw.HasData {
			for _, w := range yw.Data.Weeks {
				if w.WeekNumber == v.p.WeekNumber {
					return w.ID
				}
			}
		}
		return ""
	}
	if cw := v.current.Result(); cw.HasData {
		return cw.Data.WeekID
	}
	return ""
}

// sync re-points the week observer when the effective week changes and
// wakes watch so it selects on the new observer.
func (v *ScheduleView) sync() bool {
	id := v.effectiveWeekID()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || (v.week != nil && id == v.weekID) {
		return false
	}
	old := v.week
	v.week = query.Observe(v.s.cache, v.s.ByWeek(id))
	v.weekID = id
	if old != nil {
		old.Close()
	}
	select {
	case v.rewatch <- struct{}{}:
	default:
	}
	return true
}

func (v *ScheduleView) weekObserver() *query.Observer[[]client.Game] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.week
}

func (v *ScheduleView) watch() {
	defer v.wg.Done()
	for {
		week := v.weekObserver()
		select {
		case <-v.stop:
			return
		case <-v.rewatch:
		case <-v.current.Updates():
			v.sync()
		case <-v.weeks.Updates():
			v.sync()
		case <-v.team.Updates():
		case <-v.all.Updates():
		case <-week.Updates():
		}
		select {
		case v.updates <- struct{}{}:
		default:
		}
	}
}

// Updates signals after any underlying query changes. It has a single
// consumer.
func (v *ScheduleView) Updates() <-chan struct{} { return v.updates }

// Result selects team games (narrowed to the requested week), then the
// effective week's games, then all games.
func (v *ScheduleView) Result() ScheduleResult {
	var res ScheduleResult
	if cw := v.current.Result(); cw.HasData {
		c := cw.Data
		res.CurrentWeek = &c
	}

	v.mu.Lock()
	week, weekID := v.week, v.weekID
	v.mu.Unlock()
	res.EffectiveWeekID = weekID

	switch {
	case v.p.TeamView == ViewSelected && v.p.TeamID != "":
		r := v.team.Result()
		res.Source = SourceTeam
		res.HasData, res.IsLoading, res.Err = r.HasData, r.IsLoading(), r.Err
		if r.HasData {
			res.Games = filterWeek(r.Data, v.p.WeekNumber)
		}
	case weekID != "":
		r := week.Result()
		res.Source = SourceWeek
		res.HasData, res.IsLoading, res.Err = r.HasData, r.IsLoading(), r.Err
		res.Games = r.Data
	default:
		r := v.all.Result()
		res.Source = SourceAll
		res.HasData, res.IsLoading, res.Err = r.HasData, r.IsLoading(), r.Err
		res.Games = r.Data.Content
	}
	return res
}

func filterWeek(games []client.Game, weekNumber int) []client.Game {
	if weekNumber == 0 {
		return games
	}
	out := make([]client.Game, 0, len(games))
	for _, g := range games {
		if g.WeekNumber == weekNumber {
			out = append(out, g)
		}
	}
	return out
}

// Wait blocks until the effective week is resolved and the selected query
// has settled.
func (v *ScheduleView) Wait(ctx context.Context) (ScheduleResult, error) {
	if _, err := v.current.Wait(ctx); err != nil {
		return v.Result(), err
	}
	if _, err := v.weeks.Wait(ctx); err != nil {
		return v.Result(), err
	}
	v.sync()

	var err error
	switch v.Result().Source {
	case SourceTeam:
		_, err = v.team.Wait(ctx)
	case SourceWeek:
		_, err = v.weekObserver().Wait(ctx)
	default:
		_, err = v.all.Wait(ctx)
	}
	return v.Result(), err
}

// Close releases every observer.
func (v *ScheduleView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	close(v.stop)
	v.wg.Wait()
	v.current.Close()
	v.weeks.Close()
	v.team.Close()
	v.all.Close()
	v.week.Close()
}
