package client

import (
	"context"
	"net/http"
	"net/url"
)

// ListTeams returns one page of teams matching p.
func (c *Client) ListTeams(ctx context.Context, p TeamListParams) (Page[Team], error) {
	q := url.Values{}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	setPage(q, p.Page, p.Size)
	var out Page[Team]
	err := c.get(ctx, "/teams", q, &out)
	return out, err
}

func (c *Client) GetTeam(ctx context.Context, id string) (Team, error) {
	var out Team
	err := c.get(ctx, "/teams/"+seg(id), nil, &out)
	return out, err
}

func (c *Client) TeamsByConference(ctx context.Context, conference string) ([]Team, error) {
	var out []Team
	err := c.get(ctx, "/teams/conference/"+seg(conference), nil, &out)
	return out, err
}

func (c *Client) Conferences(ctx context.Context) ([]string, error) {
	var out []string
	err := c.get(ctx, "/teams/conferences", nil, &out)
	return out, err
}

// HumanTeams returns the teams controlled by league members.
func (c *Client) HumanTeams(ctx context.Context) ([]Team, error) {
	var out []Team
	err := c.get(ctx, "/teams/human", nil, &out)
	return out, err
}

func (c *Client) CreateTeam(ctx context.Context, t Team) (Team, error) {
	t.ID = ""
	var out Team
	err := c.do(ctx, http.MethodPost, "/teams", nil, t, &out)
	return out, err
}

func (c *Client) UpdateTeam(ctx context.Context, id string, t Team) (Team, error) {
	var out Team
	err := c.do(ctx, http.MethodPut, "/teams/"+seg(id), nil, t, &out)
	return out, err
}

func (c *Client) DeleteTeam(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/teams/"+seg(id), nil, nil, nil)
}
