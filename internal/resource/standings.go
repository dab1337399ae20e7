package resource

import (
	"context"
	"time"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
)

// StandingsAPI is the client surface used by Standings.
type StandingsAPI interface {
	ListStandings(ctx context.Context, p client.StandingListParams) (client.Page[client.Standing], error)
	GetStanding(ctx context.Context, id string) (client.Standing, error)
	TeamStanding(ctx context.Context, teamID string, year int) (client.Standing, error)
	TeamStandingHistory(ctx context.Context, teamID string) (client.Page[client.Standing], error)
	ConferenceStandings(ctx context.Context, conference string, year int) ([]client.Standing, error)
	RankedStandings(ctx context.Context, year, limit int) ([]client.Standing, error)
	ReceivingVotes(ctx context.Context, year int) ([]client.Standing, error)
	CalculateStandings(ctx context.Context, year int) (client.MessageResponse, error)
	CalculateConferenceStandings(ctx context.Context, conference string, year int) (client.MessageResponse, error)
	CreateStanding(ctx context.Context, s client.StandingCreate) (client.Standing, error)
	UpdateStanding(ctx context.Context, id string, s client.StandingUpdate) (client.Standing, error)
	DeleteStanding(ctx context.Context, id string) error
}

// Standings keys.
var (
	StandingsKey     = query.Key{"standings"}
	StandingListsKey = StandingsKey.Append("list")
)

func StandingListKey(f StandingFilter) query.Key {
	return StandingListsKey.Append(params(
		"year", f.Year,
		"conference", f.Conference,
		"page", f.Page,
		"size", f.Size,
	))
}

func StandingDetailKey(id string) query.Key { return StandingsKey.Append("detail", id) }

// TeamStandingKey omits the year when it is zero; the year-less key holds
// the team's history and prefixes every season's key.
func TeamStandingKey(teamID string, year int) query.Key {
	k := StandingsKey.Append("team", teamID)
	if year != 0 {
		k = k.Append(year)
	}
	return k
}

func ConferenceStandingsKey(conference string, year int) query.Key {
	return StandingsKey.Append("conference", conference, year)
}

func RankedStandingsKey(year, limit int) query.Key {
	k := StandingsKey.Append("ranked", year)
	if limit != 0 {
		k = k.Append(limit)
	}
	return k
}

func ReceivingVotesKey(year int) query.Key { return StandingsKey.Append("votes", year) }

// StandingFilter selects a page of standings.
type StandingFilter struct {
	Year       int
	Conference string
	Page       int
	Size       int
}

// StandingUpdate is the input of Standings.Update.
type StandingUpdate struct {
	ID     string
	Update client.StandingUpdate
}

// ConferenceYear names one conference season.
type ConferenceYear struct {
	Conference string
	Year       int
}

// Standings is the standings resource family.
type Standings struct {
	cache *query.Cache
	api   StandingsAPI

	Create              *query.Mutation[client.StandingCreate, client.Standing]
	Update              *query.Mutation[StandingUpdate, client.Standing]
	Delete              *query.Mutation[string, string]
	Calculate           *query.Mutation[int, client.MessageResponse]
	CalculateConference *query.Mutation[ConferenceYear, client.MessageResponse]
}

func NewStandings(c *query.Cache, api StandingsAPI) *Standings {
	s := &Standings{cache: c, api: api}

	invalidateTeam := func(st client.Standing) {
		if st.Team.ID != "" {
			c.Invalidate(TeamStandingKey(st.Team.ID, 0))
		}
		if st.Team.Conference != "" {
			c.Invalidate(ConferenceStandingsKey(st.Team.Conference, st.Year))
		}
	}

	s.Create = query.NewMutation(api.CreateStanding, query.MutationOptions[client.StandingCreate, client.Standing]{
		OnSuccess: func(st client.Standing, _ client.StandingCreate) {
			c.Invalidate(StandingsKey)
			invalidateTeam(st)
		},
	})

	s.Update = query.NewMutation(func(ctx context.Context, u StandingUpdate) (client.Standing, error) {
		return api.UpdateStanding(ctx, u.ID, u.Update)
	}, query.MutationOptions[StandingUpdate, client.Standing]{
		OnSuccess: func(st client.Standing, u StandingUpdate) {
			query.SetData(c, StandingDetailKey(u.ID), st)
			c.Invalidate(StandingListsKey)
			invalidateTeam(st)
		},
	})

	s.Delete = query.NewMutation(func(ctx context.Context, id string) (string, error) {
		return id, api.DeleteStanding(ctx, id)
	}, query.MutationOptions[string, string]{
		OnSuccess: func(id string, _ string) {
			c.Remove(StandingDetailKey(id))
			c.Invalidate(StandingsKey)
		},
	})

	s.Calculate = query.NewMutation(api.CalculateStandings, query.MutationOptions[int, client.MessageResponse]{
		OnSuccess: func(_ client.MessageResponse, year int) {
			c.InvalidateMatching(StandingsKey, func(k query.Key) bool {
				return keyContains(k, year) || keyContains(k, "list")
			})
		},
	})

	s.CalculateConference = query.NewMutation(func(ctx context.Context, cy ConferenceYear) (client.MessageResponse, error) {
		return api.CalculateConferenceStandings(ctx, cy.Conference, cy.Year)
	}, query.MutationOptions[ConferenceYear, client.MessageResponse]{
		OnSuccess: func(_ client.MessageResponse, cy ConferenceYear) {
			c.Invalidate(ConferenceStandingsKey(cy.Conference, cy.Year))
			c.Invalidate(StandingListsKey)
		},
	})
	return s
}

// keyContains reports whether any top-level segment of k equals v.
func keyContains(k query.Key, v any) bool {
	for _, seg := range k {
		if seg == v {
			return true
		}
	}
	return false
}

func (s *Standings) List(f StandingFilter) query.Query[client.Page[client.Standing]] {
	return query.Query[client.Page[client.Standing]]{
		Key: StandingListKey(f),
		Fn: func(ctx context.Context) (client.Page[client.Standing], error) {
			return s.api.ListStandings(ctx, client.StandingListParams{
				Year: f.Year, Conference: f.Conference, Page: f.Page, Size: f.Size,
			})
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
}

func (s *Standings) Detail(id string) query.Query[client.Standing] {
	q := query.Query[client.Standing]{
		Key: StandingDetailKey(id),
		Fn: func(ctx context.Context) (client.Standing, error) {
			return s.api.GetStanding(ctx, id)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = id == ""
	return q
}

// Team returns a team's standing for one season. It is disabled unless both
// teamID and year are set.
func (s *Standings) Team(teamID string, year int) query.Query[client.Standing] {
	q := query.Query[client.Standing]{
		Key: TeamStandingKey(teamID, year),
		Fn: func(ctx context.Context) (client.Standing, error) {
			return s.api.TeamStanding(ctx, teamID, year)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = teamID == "" || year == 0
	return q
}

// TeamHistory returns every season's standing for a team.
func (s *Standings) TeamHistory(teamID string) query.Query[client.Page[client.Standing]] {
	q := query.Query[client.Page[client.Standing]]{
		Key: TeamStandingKey(teamID, 0),
		Fn: func(ctx context.Context) (client.Page[client.Standing], error) {
			return s.api.TeamStandingHistory(ctx, teamID)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = teamID == ""
	return q
}

func (s *Standings) Conference(conference string, year int) query.Query[[]client.Standing] {
	q := query.Query[[]client.Standing]{
		Key: ConferenceStandingsKey(conference, year),
		Fn: func(ctx context.Context) ([]client.Standing, error) {
			return s.api.ConferenceStandings(ctx, conference, year)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = conference == "" || year == 0
	return q
}

// Ranked returns the poll's ranked teams for year.
func (s *Standings) Ranked(year, limit int) query.Query[[]client.Standing] {
	q := query.Query[[]client.Standing]{
		Key: RankedStandingsKey(year, limit),
		Fn: func(ctx context.Context) ([]client.Standing, error) {
			return s.api.RankedStandings(ctx, year, limit)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = year == 0
	return q
}

func (s *Standings) ReceivingVotes(year int) query.Query[[]client.Standing] {
	q := query.Query[[]client.Standing]{
		Key: ReceivingVotesKey(year),
		Fn: func(ctx context.Context) ([]client.Standing, error) {
			return s.api.ReceivingVotes(ctx, year)
		},
		Options: freshness(5*time.Minute, 10*time.Minute),
	}
	q.Disabled = year == 0
	return q
}
