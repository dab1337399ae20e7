package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ListGames returns one page of games matching p.
func (c *Client) ListGames(ctx context.Context, p GameListParams) (Page[Game], error) {
	q := url.Values{}
	setPage(q, p.Page, p.Size)
	setInt(q, "year", p.Year)
	var out Page[Game]
	err := c.get(ctx, "/games", q, &out)
	return out, err
}

func (c *Client) GetGame(ctx context.Context, id string) (Game, error) {
	var out Game
	err := c.get(ctx, "/games/"+seg(id), nil, &out)
	return out, err
}

// GamesByTeam returns a team's games, limited to year when it is non-zero.
func (c *Client) GamesByTeam(ctx context.Context, teamID string, year int) ([]Game, error) {
	q := url.Values{}
	setInt(q, "year", year)
	var out []Game
	err := c.get(ctx, "/games/team/"+seg(teamID), q, &out)
	return out, err
}

func (c *Client) GamesByWeek(ctx context.Context, weekID string) ([]Game, error) {
	var out []Game
	err := c.get(ctx, "/games/week/"+seg(weekID), nil, &out)
	return out, err
}

// UpcomingGames returns scheduled games, for one team when teamID is set.
func (c *Client) UpcomingGames(ctx context.Context, teamID string) ([]Game, error) {
	q := url.Values{}
	if teamID != "" {
		q.Set("teamId", teamID)
	}
	var out []Game
	err := c.get(ctx, "/games/upcoming", q, &out)
	return out, err
}

// RecentGames returns finished games, newest first.
func (c *Client) RecentGames(ctx context.Context, teamID string, limit int) ([]Game, error) {
	q := url.Values{}
	if teamID != "" {
		q.Set("teamId", teamID)
	}
	setInt(q, "limit", limit)
	var out []Game
	err := c.get(ctx, "/games/recent", q, &out)
	return out, err
}

func (c *Client) CreateGame(ctx context.Context, g Game) (Game, error) {
	g.ID = ""
	var out Game
	err := c.do(ctx, http.MethodPost, "/games", nil, g, &out)
	return out, err
}

func (c *Client) UpdateGame(ctx context.Context, id string, g Game) (Game, error) {
	var out Game
	err := c.do(ctx, http.MethodPut, "/games/"+seg(id), nil, g, &out)
	return out, err
}

func (c *Client) UpdateScore(ctx context.Context, id string, homeScore, awayScore int) (Game, error) {
	body := struct {
		HomeScore int `json:"homeScore"`
		AwayScore int `json:"awayScore"`
	}{homeScore, awayScore}
	var out Game
	err := c.do(ctx, http.MethodPatch, "/games/"+seg(id)+"/score", nil, body, &out)
	return out, err
}

func (c *Client) DeleteGame(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/games/"+seg(id), nil, nil, nil)
}

func (c *Client) CurrentWeek(ctx context.Context) (CurrentWeek, error) {
	var out CurrentWeek
	err := c.get(ctx, "/weeks/current", nil, &out)
	return out, err
}

func (c *Client) WeeksByYear(ctx context.Context, year int) (YearWeeks, error) {
	var out YearWeeks
	err := c.get(ctx, "/weeks/"+strconv.Itoa(year), nil, &out)
	return out, err
}

func (c *Client) Week(ctx context.Context, year, weekNumber int) (WeekDetail, error) {
	var out WeekDetail
	err := c.get(ctx, "/weeks/"+strconv.Itoa(year)+"/"+strconv.Itoa(weekNumber), nil, &out)
	return out, err
}
