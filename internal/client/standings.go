package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) ListStandings(ctx context.Context, p StandingListParams) (Page[Standing], error) {
	q := url.Values{}
	setInt(q, "year", p.Year)
	if p.Conference != "" {
		q.Set("conference", p.Conference)
	}
	setPage(q, p.Page, p.Size)
	var out Page[Standing]
	err := c.get(ctx, "/standings", q, &out)
	return out, err
}

func (c *Client) GetStanding(ctx context.Context, id string) (Standing, error) {
	var out Standing
	err := c.get(ctx, "/standings/"+seg(id), nil, &out)
	return out, err
}

// TeamStanding returns the team's standing for year.
func (c *Client) TeamStanding(ctx context.Context, teamID string, year int) (Standing, error) {
	var out Standing
	err := c.get(ctx, "/standings/team/"+seg(teamID)+"/year/"+strconv.Itoa(year), nil, &out)
	return out, err
}

// TeamStandingHistory returns every season's standing for a team.
func (c *Client) TeamStandingHistory(ctx context.Context, teamID string) (Page[Standing], error) {
	var out Page[Standing]
	err := c.get(ctx, "/standings/team/"+seg(teamID), nil, &out)
	return out, err
}

func (c *Client) ConferenceStandings(ctx context.Context, conference string, year int) ([]Standing, error) {
	var out []Standing
	err := c.get(ctx, "/standings/conference/"+seg(conference)+"/year/"+strconv.Itoa(year), nil, &out)
	return out, err
}

// RankedStandings returns the top-ranked teams for year; limit 0 uses the
// server default.
func (c *Client) RankedStandings(ctx context.Context, year, limit int) ([]Standing, error) {
	q := url.Values{}
	setInt(q, "limit", limit)
	var out []Standing
	err := c.get(ctx, "/standings/ranked/year/"+strconv.Itoa(year), q, &out)
	return out, err
}

// ReceivingVotes returns unranked teams that received poll votes in year.
func (c *Client) ReceivingVotes(ctx context.Context, year int) ([]Standing, error) {
	var out []Standing
	err := c.get(ctx, "/standings/votes/year/"+strconv.Itoa(year), nil, &out)
	return out, err
}

func (c *Client) CalculateStandings(ctx context.Context, year int) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/standings/calculate/"+strconv.Itoa(year), nil, nil, &out)
	return out, err
}

func (c *Client) CalculateConferenceStandings(ctx context.Context, conference string, year int) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/standings/calculate/conference/"+seg(conference)+"/year/"+strconv.Itoa(year), nil, nil, &out)
	return out, err
}

func (c *Client) CreateStanding(ctx context.Context, s StandingCreate) (Standing, error) {
	var out Standing
	err := c.do(ctx, http.MethodPost, "/standings", nil, s, &out)
	return out, err
}

func (c *Client) UpdateStanding(ctx context.Context, id string, s StandingUpdate) (Standing, error) {
	var out Standing
	err := c.do(ctx, http.MethodPut, "/standings/"+seg(id), nil, s, &out)
	return out, err
}

func (c *Client) DeleteStanding(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/standings/"+seg(id), nil, nil, nil)
}
