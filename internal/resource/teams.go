package resource

import (
	"context"
	"strings"
	"time"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
)

// TeamsAPI is the client surface used by Teams.
type TeamsAPI interface {
	ListTeams(ctx context.Context, p client.TeamListParams) (client.Page[client.Team], error)
	GetTeam(ctx context.Context, id string) (client.Team, error)
	TeamsByConference(ctx context.Context, conference string) ([]client.Team, error)
	Conferences(ctx context.Context) ([]string, error)
	HumanTeams(ctx context.Context) ([]client.Team, error)
	CreateTeam(ctx context.Context, t client.Team) (client.Team, error)
	UpdateTeam(ctx context.Context, id string, t client.Team) (client.Team, error)
	DeleteTeam(ctx context.Context, id string) error
}

// Team keys.
var (
	TeamsKey     = query.Key{"teams"}
	TeamListsKey = TeamsKey.Append("list")
)

func TeamDetailKey(id string) query.Key            { return TeamsKey.Append("detail", id) }
func TeamConferenceKey(conference string) query.Key { return TeamsKey.Append("conference", conference) }
func TeamConferencesKey() query.Key                 { return TeamsKey.Append("conferences") }
func HumanTeamsKey() query.Key                      { return TeamsKey.Append("human") }

// TeamFilter selects a page of teams. HumanOnly and Conference are applied
// client-side over the dedicated endpoints.
type TeamFilter struct {
	Search     string
	Page       int
	Size       int
	Conference string
	HumanOnly  bool
}

func (f TeamFilter) key() query.Key {
	return TeamListsKey.Append(params(
		"search", f.Search,
		"page", f.Page,
		"size", f.Size,
		"conference", f.Conference,
		"humanOnly", f.HumanOnly,
	))
}

// TeamUpdate is the input of Teams.Update.
type TeamUpdate struct {
	ID   string
	Team client.Team
}

// Teams is the teams resource family.
type Teams struct {
	cache *query.Cache
	api   TeamsAPI

	Create *query.Mutation[client.Team, client.Team]
	Update *query.Mutation[TeamUpdate, client.Team]
	Delete *query.Mutation[string, string]
}

func NewTeams(c *query.Cache, api TeamsAPI) *Teams {
	t := &Teams{cache: c, api: api}

	t.Create = query.NewMutation(api.CreateTeam, query.MutationOptions[client.Team, client.Team]{
		OnSuccess: func(team client.Team, _ client.Team) {
			c.Invalidate(TeamsKey)
			if team.Conference != "" {
				c.Invalidate(TeamConferenceKey(team.Conference))
			}
			c.Invalidate(TeamConferencesKey())
			if team.IsHuman {
				c.Invalidate(HumanTeamsKey())
			}
		},
	})

	t.Update = query.NewMutation(func(ctx context.Context, u TeamUpdate) (client.Team, error) {
		return api.UpdateTeam(ctx, u.ID, u.Team)
	}, query.MutationOptions[TeamUpdate, client.Team]{
		OnSuccess: func(team client.Team, u TeamUpdate) {
			query.SetData(c, TeamDetailKey(u.ID), team)
			c.Invalidate(TeamListsKey)
			if team.Conference != "" {
				c.Invalidate(TeamConferenceKey(team.Conference))
			}
			c.Invalidate(TeamConferencesKey())
			c.Invalidate(HumanTeamsKey())
		},
	})

	t.Delete = query.NewMutation(func(ctx context.Context, id string) (string, error) {
		return id, api.DeleteTeam(ctx, id)
	}, query.MutationOptions[string, string]{
		OnSuccess: func(id string, _ string) {
			c.Remove(TeamDetailKey(id))
			c.Invalidate(TeamsKey)
		},
	})
	return t
}

// List returns a page of teams.
func (t *Teams) List(f TeamFilter) query.Query[client.Page[client.Team]] {
	return query.Query[client.Page[client.Team]]{
		Key: f.key(),
		Fn: func(ctx context.Context) (client.Page[client.Team], error) {
			return t.fetchList(ctx, f)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
}

func (t *Teams) fetchList(ctx context.Context, f TeamFilter) (client.Page[client.Team], error) {
	switch {
	case f.HumanOnly && f.Conference != "":
		teams, err := t.api.HumanTeams(ctx)
		if err != nil {
			return client.Page[client.Team]{}, err
		}
		var in []client.Team
		for _, tm := range teams {
			if tm.Conference == f.Conference {
				in = append(in, tm)
			}
		}
		return paginate(in, f.Page, f.Size), nil
	case f.HumanOnly:
		teams, err := t.api.HumanTeams(ctx)
		if err != nil {
			return client.Page[client.Team]{}, err
		}
		return paginate(searchTeams(teams, f.Search, true), f.Page, f.Size), nil
	case f.Conference != "":
		teams, err := t.api.TeamsByConference(ctx, f.Conference)
		if err != nil {
			return client.Page[client.Team]{}, err
		}
		return paginate(searchTeams(teams, f.Search, false), f.Page, f.Size), nil
	default:
		return t.api.ListTeams(ctx, client.TeamListParams{Search: f.Search, Page: f.Page, Size: f.Size})
	}
}

func searchTeams(teams []client.Team, term string, withConference bool) []client.Team {
	if term == "" {
		return teams
	}
	term = strings.ToLower(term)
	match := func(s string) bool { return strings.Contains(strings.ToLower(s), term) }
	var out []client.Team
	for _, tm := range teams {
		if match(tm.Name) || match(tm.Coach) || (withConference && match(tm.Conference)) {
			out = append(out, tm)
		}
	}
	return out
}

// Detail returns one team. It is disabled for an empty id.
func (t *Teams) Detail(id string) query.Query[client.Team] {
	q := query.Query[client.Team]{
		Key: TeamDetailKey(id),
		Fn: func(ctx context.Context) (client.Team, error) {
			return t.api.GetTeam(ctx, id)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = id == ""
	return q
}

// ByConference returns a conference's teams. It is disabled for an empty
// conference.
func (t *Teams) ByConference(conference string) query.Query[[]client.Team] {
	q := query.Query[[]client.Team]{
		Key: TeamConferenceKey(conference),
		Fn: func(ctx context.Context) ([]client.Team, error) {
			return t.api.TeamsByConference(ctx, conference)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = conference == ""
	return q
}

func (t *Teams) Conferences() query.Query[[]string] {
	return query.Query[[]string]{
		Key:     TeamConferencesKey(),
		Fn:      t.api.Conferences,
		Options: freshness(10*time.Minute, 30*time.Minute),
	}
}

// Human returns the teams controlled by league members.
func (t *Teams) Human() query.Query[[]client.Team] {
	return query.Query[[]client.Team]{
		Key:     HumanTeamsKey(),
		Fn:      t.api.HumanTeams,
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
}
