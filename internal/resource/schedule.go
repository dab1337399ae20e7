package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
)

// ScheduleAPI is the client surface used by Schedule.
type ScheduleAPI interface {
	ListGames(ctx context.Context, p client.GameListParams) (client.Page[client.Game], error)
	GamesByTeam(ctx context.Context, teamID string, year int) ([]client.Game, error)
	GamesByWeek(ctx context.Context, weekID string) ([]client.Game, error)
	UpcomingGames(ctx context.Context, teamID string) ([]client.Game, error)
	RecentGames(ctx context.Context, teamID string, limit int) ([]client.Game, error)
	UpdateScore(ctx context.Context, id string, homeScore, awayScore int) (client.Game, error)
	CurrentWeek(ctx context.Context) (client.CurrentWeek, error)
	WeeksByYear(ctx context.Context, year int) (client.YearWeeks, error)
	Week(ctx context.Context, year, weekNumber int) (client.WeekDetail, error)
}

// Schedule keys.
var (
	ScheduleKey = query.Key{"schedule"}
	GamesKey    = ScheduleKey.Append("games")
	WeeksKey    = ScheduleKey.Append("weeks")
)

func GameListKey(f GameFilter) query.Key {
	return GamesKey.Append("list", params("page", f.Page, "size", f.Size, "year", f.Year))
}

func GamesByWeekKey(weekID string) query.Key { return GamesKey.Append("week", weekID) }

// GamesByTeamKey omits the year segment when year is zero, so the
// year-less key is a prefix of every year's key.
func GamesByTeamKey(teamID string, year int) query.Key {
	k := GamesKey.Append("team", teamID)
	if year != 0 {
		k = k.Append(year)
	}
	return k
}

func UpcomingGamesKey(teamID string) query.Key {
	k := GamesKey.Append("upcoming")
	if teamID != "" {
		k = k.Append(teamID)
	}
	return k
}

func RecentGamesKey(teamID string, limit int) query.Key {
	k := GamesKey.Append("recent")
	if teamID != "" {
		k = k.Append(teamID)
	}
	if limit != 0 {
		k = k.Append(limit)
	}
	return k
}

func CurrentWeekKey() query.Key            { return WeeksKey.Append("current") }
func WeeksByYearKey(year int) query.Key    { return WeeksKey.Append("year", year) }
func SpecificWeekKey(year, n int) query.Key { return WeeksKey.Append("specific", year, n) }

// GameFilter selects a page of games.
type GameFilter struct {
	Page int
	Size int
	Year int
}

// ScoreUpdate is the input of Schedule.UpdateScore.
type ScoreUpdate struct {
	GameID    string
	HomeScore int
	AwayScore int
}

// Schedule is the games and weeks resource family.
type Schedule struct {
	cache *query.Cache
	api   ScheduleAPI

	UpdateScore *query.Mutation[ScoreUpdate, client.Game]
}

func NewSchedule(c *query.Cache, api ScheduleAPI) *Schedule {
	s := &Schedule{cache: c, api: api}
	s.UpdateScore = query.NewMutation(func(ctx context.Context, u ScoreUpdate) (client.Game, error) {
		return api.UpdateScore(ctx, u.GameID, u.HomeScore, u.AwayScore)
	}, query.MutationOptions[ScoreUpdate, client.Game]{
		OnSuccess: func(g client.Game, _ ScoreUpdate) {
			c.Invalidate(GamesKey)
			if g.HomeTeamID != "" {
				c.Invalidate(GamesByTeamKey(g.HomeTeamID, 0))
			}
			if g.AwayTeamID != "" {
				c.Invalidate(GamesByTeamKey(g.AwayTeamID, 0))
			}
			if g.WeekID != "" {
				c.Invalidate(GamesByWeekKey(g.WeekID))
			}
		},
	})
	return s
}

// Games returns a page of games. Game lists go stale quickly because scores
// change during game days.
func (s *Schedule) Games(f GameFilter) query.Query[client.Page[client.Game]] {
	return query.Query[client.Page[client.Game]]{
		Key: GameListKey(f),
		Fn: func(ctx context.Context) (client.Page[client.Game], error) {
			return s.api.ListGames(ctx, client.GameListParams{Page: f.Page, Size: f.Size, Year: f.Year})
		},
		Options: freshness(2*time.Minute, 5*time.Minute),
	}
}

// ByWeek returns a week's games and polls them every 30 seconds while
// observed. It is disabled for an empty week id.
func (s *Schedule) ByWeek(weekID string) query.Query[[]client.Game] {
	q := query.Query[[]client.Game]{
		Key: GamesByWeekKey(weekID),
		Fn: func(ctx context.Context) ([]client.Game, error) {
			return s.api.GamesByWeek(ctx, weekID)
		},
		Options: freshness(2*time.Minute, 5*time.Minute),
	}
	q.RefetchInterval = 30 * time.Second
	q.Disabled = weekID == ""
	return q
}

// ByTeam returns a team's games, for one year when year is non-zero. It is
// disabled for an empty team id.
func (s *Schedule) ByTeam(teamID string, year int) query.Query[[]client.Game] {
	q := query.Query[[]client.Game]{
		Key: GamesByTeamKey(teamID, year),
		Fn: func(ctx context.Context) ([]client.Game, error) {
			return s.api.GamesByTeam(ctx, teamID, year)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = teamID == ""
	return q
}

func (s *Schedule) Upcoming(teamID string) query.Query[[]client.Game] {
	return query.Query[[]client.Game]{
		Key: UpcomingGamesKey(teamID),
		Fn: func(ctx context.Context) ([]client.Game, error) {
			return s.api.UpcomingGames(ctx, teamID)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
}

func (s *Schedule) Recent(teamID string, limit int) query.Query[[]client.Game] {
	return query.Query[[]client.Game]{
		Key: RecentGamesKey(teamID, limit),
		Fn: func(ctx context.Context) ([]client.Game, error) {
			return s.api.RecentGames(ctx, teamID, limit)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
}

func (s *Schedule) CurrentWeek() query.Query[client.CurrentWeek] {
	return query.Query[client.CurrentWeek]{
		Key:     CurrentWeekKey(),
		Fn:      s.api.CurrentWeek,
		Options: freshness(30*time.Minute, time.Hour),
	}
}

// WeeksByYear is disabled for year 0.
func (s *Schedule) WeeksByYear(year int) query.Query[client.YearWeeks] {
	q := query.Query[client.YearWeeks]{
		Key: WeeksByYearKey(year),
		Fn: func(ctx context.Context) (client.YearWeeks, error) {
			return s.api.WeeksByYear(ctx, year)
		},
		Options: freshness(time.Hour, 2*time.Hour),
	}
	q.Disabled = year == 0
	return q
}

// Week is disabled unless both year and weekNumber are set.
func (s *Schedule) Week(year, weekNumber int) query.Query[client.WeekDetail] {
	q := query.Query[client.WeekDetail]{
		Key: SpecificWeekKey(year, weekNumber),
		Fn: func(ctx context.Context) (client.WeekDetail, error) {
			return s.api.Week(ctx, year, weekNumber)
		},
		Options: freshness(30*time.Minute, time.Hour),
	}
	q.Disabled = year == 0 || weekNumber == 0
	return q
}

// SeasonProgress is the current-week summary shown on the dashboard. It is
// cached under its own key and retried with exponential backoff.
func (s *Schedule) SeasonProgress() query.Query[client.CurrentWeek] {
	q := query.Query[client.CurrentWeek]{
		Key:     SeasonProgressKey,
		Fn:      s.api.CurrentWeek,
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Retry = 3
	q.RetryDelay = query.ExponentialBackoff(time.Second, 30*time.Second)
	return q
}

// SeasonProgressKey caches the dashboard's season progress.
var SeasonProgressKey = query.Key{"season-progress"}

// WeekOption is one entry of the week picker.
type WeekOption struct {
	Label         string `json:"label"`
	WeekID        string `json:"weekId"`
	WeekNumber    int    `json:"weekNumber"`
	IsCurrentWeek bool   `json:"isCurrentWeek"`
}

// WeekNavigation is the state of the week picker.
type WeekNavigation struct {
	CurrentWeekNumber int          `json:"currentWeekNumber"`
	TotalWeeks        int          `json:"totalWeeks"`
	CurrentWeekID     string       `json:"currentWeekId,omitempty"`
	CanGoPrevious     bool         `json:"canGoPrevious"`
	CanGoNext         bool         `json:"canGoNext"`
	Options           []WeekOption `json:"options"`
	IsLoading         bool         `json:"isLoading"`
}

// Navigate derives the week picker from the current week and the year's
// weeks. Either may be nil while loading.
func Navigate(current *client.CurrentWeek, weeks *client.YearWeeks) WeekNavigation {
	nav := WeekNavigation{
		CurrentWeekNumber: 1,
		TotalWeeks:        15,
		IsLoading:         current == nil || weeks == nil,
	}
	if current != nil {
		if current.CurrentWeek > 0 {
			nav.CurrentWeekNumber = current.CurrentWeek
		}
		nav.CurrentWeekID = current.WeekID
	}
	switch {
	case current != nil && current.TotalWeeks > 0:
		nav.TotalWeeks = current.TotalWeeks
	case weeks != nil && weeks.TotalWeeks > 0:
		nav.TotalWeeks = weeks.TotalWeeks
	}
	nav.CanGoPrevious = nav.CurrentWeekNumber > 1
	nav.CanGoNext = nav.CurrentWeekNumber < nav.TotalWeeks
	if weeks != nil {
		for _, w := range weeks.Weeks {
			nav.Options = append(nav.Options, WeekOption{
				Label:         fmt.Sprintf("Week %d", w.WeekNumber),
				WeekID:        w.ID,
				WeekNumber:    w.WeekNumber,
				IsCurrentWeek: w.WeekNumber == nav.CurrentWeekNumber,
			})
		}
	}
	return nav
}

// Navigation fetches the current week and the year's weeks and derives the
// week picker from them.
func (s *Schedule) Navigation(ctx context.Context, year int) (WeekNavigation, error) {
	cur, err := query.Fetch(ctx, s.cache, s.CurrentWeek())
	if err != nil {
		return WeekNavigation{}, fmt.Errorf("fetching current week: %w", err)
	}
	weeks, err := query.Fetch(ctx, s.cache, s.WeeksByYear(year))
	if err != nil {
		return WeekNavigation{}, fmt.Errorf("fetching weeks for %d: %w", year, err)
	}
	var cw *client.CurrentWeek
	if cur.HasData {
		cw = &cur.Data
	}
	var yw *client.YearWeeks
	if weeks.HasData {
		yw = &weeks.Data
	}
	return Navigate(cw, yw), nil
}
