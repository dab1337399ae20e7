package resource

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/query/querytest"
	"github.com/kalambet/dynasty/internal/session"
)

// fakeAPI implements every family's API with canned data and call counts.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int
	last  map[string]any

	teams        []client.Team
	human        []client.Team
	games        []client.Game
	current      client.CurrentWeek
	weeks        client.YearWeeks
	achievements []client.Achievement
	completion   client.CompletionResponse
	err          error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: map[string]int{}, last: map[string]any{}}
}

func (f *fakeAPI) record(name string, arg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.last[name] = arg
	return f.err
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) lastArg(name string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[name]
}

// Teams

func (f *fakeAPI) ListTeams(ctx context.Context, p client.TeamListParams) (client.Page[client.Team], error) {
	err := f.record("ListTeams", p)
	return paginate(f.teams, p.Page, p.Size), err
}

func (f *fakeAPI) GetTeam(ctx context.Context, id string) (client.Team, error) {
	err := f.record("GetTeam", id)
	for _, t := range f.teams {
		if t.ID == id {
			return t, err
		}
	}
	return client.Team{}, err
}

func (f *fakeAPI) TeamsByConference(ctx context.Context, conference string) ([]client.Team, error) {
	err := f.record("TeamsByConference", conference)
	var out []client.Team
	for _, t := range f.teams {
		if t.Conference == conference {
			out = append(out, t)
		}
	}
	return out, err
}

func (f *fakeAPI) Conferences(ctx context.Context) ([]string, error) {
	return []string{"SEC", "Big Ten"}, f.record("Conferences", nil)
}

func (f *fakeAPI) HumanTeams(ctx context.Context) ([]client.Team, error) {
	return f.human, f.record("HumanTeams", nil)
}

func (f *fakeAPI) CreateTeam(ctx context.Context, t client.Team) (client.Team, error) {
	t.ID = "new"
	return t, f.record("CreateTeam", t)
}

func (f *fakeAPI) UpdateTeam(ctx context.Context, id string, t client.Team) (client.Team, error) {
	t.ID = id
	return t, f.record("UpdateTeam", t)
}

func (f *fakeAPI) DeleteTeam(ctx context.Context, id string) error {
	return f.record("DeleteTeam", id)
}

// Schedule

func (f *fakeAPI) ListGames(ctx context.Context, p client.GameListParams) (client.Page[client.Game], error) {
	err := f.record("ListGames", p)
	return paginate(f.games, p.Page, p.Size), err
}

func (f *fakeAPI) GamesByTeam(ctx context.Context, teamID string, year int) ([]client.Game, error) {
	err := f.record("GamesByTeam", teamID)
	var out []client.Game
	for _, g := range f.games {
		if g.HomeTeamID == teamID || g.AwayTeamID == teamID {
			out = append(out, g)
		}
	}
	return out, err
}

func (f *fakeAPI) GamesByWeek(ctx context.Context, weekID string) ([]client.Game, error) {
	err := f.record("GamesByWeek", weekID)
	var out []client.Game
	for _, g := range f.games {
		if g.WeekID == weekID {
			out = append(out, g)
		}
	}
	return out, err
}

func (f *fakeAPI) UpcomingGames(ctx context.Context, teamID string) ([]client.Game, error) {
	return nil, f.record("UpcomingGames", teamID)
}

func (f *fakeAPI) RecentGames(ctx context.Context, teamID string, limit int) ([]client.Game, error) {
	return nil, f.record("RecentGames", teamID)
}

func (f *fakeAPI) UpdateScore(ctx context.Context, id string, home, away int) (client.Game, error) {
	err := f.record("UpdateScore", id)
	for _, g := range f.games {
		if g.ID == id {
			g.HomeScore, g.AwayScore = home, away
			return g, err
		}
	}
	return client.Game{ID: id}, err
}

func (f *fakeAPI) CurrentWeek(ctx context.Context) (client.CurrentWeek, error) {
	return f.current, f.record("CurrentWeek", nil)
}

func (f *fakeAPI) WeeksByYear(ctx context.Context, year int) (client.YearWeeks, error) {
	return f.weeks, f.record("WeeksByYear", year)
}

func (f *fakeAPI) Week(ctx context.Context, year, n int) (client.WeekDetail, error) {
	return client.WeekDetail{Year: year, WeekNumber: n}, f.record("Week", n)
}

// Standings

func (f *fakeAPI) ListStandings(ctx context.Context, p client.StandingListParams) (client.Page[client.Standing], error) {
	return client.Page[client.Standing]{}, f.record("ListStandings", p)
}

func (f *fakeAPI) GetStanding(ctx context.Context, id string) (client.Standing, error) {
	return client.Standing{ID: id}, f.record("GetStanding", id)
}

func (f *fakeAPI) TeamStanding(ctx context.Context, teamID string, year int) (client.Standing, error) {
	return client.Standing{Year: year}, f.record("TeamStanding", teamID)
}

func (f *fakeAPI) TeamStandingHistory(ctx context.Context, teamID string) (client.Page[client.Standing], error) {
	return client.Page[client.Standing]{}, f.record("TeamStandingHistory", teamID)
}

func (f *fakeAPI) ConferenceStandings(ctx context.Context, conference string, year int) ([]client.Standing, error) {
	return nil, f.record("ConferenceStandings", conference)
}

func (f *fakeAPI) RankedStandings(ctx context.Context, year, limit int) ([]client.Standing, error) {
	return nil, f.record("RankedStandings", year)
}

func (f *fakeAPI) ReceivingVotes(ctx context.Context, year int) ([]client.Standing, error) {
	return nil, f.record("ReceivingVotes", year)
}

func (f *fakeAPI) CalculateStandings(ctx context.Context, year int) (client.MessageResponse, error) {
	return client.MessageResponse{Message: "ok"}, f.record("CalculateStandings", year)
}

func (f *fakeAPI) CalculateConferenceStandings(ctx context.Context, conference string, year int) (client.MessageResponse, error) {
	return client.MessageResponse{Message: "ok"}, f.record("CalculateConferenceStandings", conference)
}

func (f *fakeAPI) CreateStanding(ctx context.Context, s client.StandingCreate) (client.Standing, error) {
	return client.Standing{ID: "s-new", Year: s.Year, Team: client.Team{ID: s.TeamID, Conference: "SEC"}}, f.record("CreateStanding", s)
}

func (f *fakeAPI) UpdateStanding(ctx context.Context, id string, s client.StandingUpdate) (client.Standing, error) {
	return client.Standing{ID: id, Year: 2024, Team: client.Team{ID: "t1", Conference: "SEC"}}, f.record("UpdateStanding", id)
}

func (f *fakeAPI) DeleteStanding(ctx context.Context, id string) error {
	return f.record("DeleteStanding", id)
}

// Achievements

func (f *fakeAPI) ListAchievements(ctx context.Context, p client.AchievementListParams) (client.Page[client.Achievement], error) {
	err := f.record("ListAchievements", p)
	return paginate(f.achievements, p.Page, p.Size), err
}

func (f *fakeAPI) GetAchievement(ctx context.Context, id string) (client.Achievement, error) {
	err := f.record("GetAchievement", id)
	for _, a := range f.achievements {
		if a.ID == id {
			return a, err
		}
	}
	return client.Achievement{ID: id}, err
}

func (f *fakeAPI) AchievementsByType(ctx context.Context, t client.AchievementType) ([]client.Achievement, error) {
	return nil, f.record("AchievementsByType", t)
}

func (f *fakeAPI) CreateAchievement(ctx context.Context, a client.Achievement) (client.Achievement, error) {
	a.ID = "a-new"
	return a, f.record("CreateAchievement", a)
}

func (f *fakeAPI) UpdateAchievement(ctx context.Context, id string, a client.Achievement) (client.Achievement, error) {
	a.ID = id
	return a, f.record("UpdateAchievement", a)
}

func (f *fakeAPI) CompleteAchievement(ctx context.Context, id string, req client.CompletionRequest) (client.CompletionResponse, error) {
	return f.completion, f.record("CompleteAchievement", req)
}

func (f *fakeAPI) SubmitCompletionRequest(ctx context.Context, id string, req client.CompletionRequest) (client.CompletionResponse, error) {
	return f.completion, f.record("SubmitCompletionRequest", req)
}

func (f *fakeAPI) DeleteAchievement(ctx context.Context, id string) error {
	return f.record("DeleteAchievement", id)
}

// Rewards

func (f *fakeAPI) AchievementRewards(ctx context.Context, id string) (client.RewardList, error) {
	err := f.record("AchievementRewards", id)
	return client.RewardList{AchievementID: id, Rewards: []client.AchievementReward{{ID: "rw1", Type: client.RewardTraitBoost}}}, err
}

func (f *fakeAPI) RewardStatistics(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"total":1}`), f.record("RewardStatistics", nil)
}

func (f *fakeAPI) TraitOptions(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), f.record("TraitOptions", nil)
}

func (f *fakeAPI) InitializeRewards(ctx context.Context) (client.MessageResponse, error) {
	return client.MessageResponse{}, f.record("InitializeRewards", nil)
}

func (f *fakeAPI) CreateReward(ctx context.Context, id string, r client.AchievementReward) (client.RewardResult, error) {
	return client.RewardResult{Reward: r}, f.record("CreateReward", id)
}

func (f *fakeAPI) UpdateReward(ctx context.Context, id string, r client.AchievementReward) (client.RewardResult, error) {
	return client.RewardResult{Reward: r}, f.record("UpdateReward", id)
}

func (f *fakeAPI) DeleteReward(ctx context.Context, id string) (client.MessageResponse, error) {
	return client.MessageResponse{}, f.record("DeleteReward", id)
}

// fakeSession is a fixed session snapshot.
type fakeSession struct{ snap session.Snapshot }

func (f fakeSession) Snapshot() session.Snapshot { return f.snap }

// fakeLedger records Add calls.
type fakeLedger struct {
	mu    sync.Mutex
	items map[string]string
}

func (l *fakeLedger) Add(achievementID, requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.items == nil {
		l.items = map[string]string{}
	}
	l.items[achievementID] = requestID
}

func (l *fakeLedger) get(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.items[id]
	return r, ok
}

var testStart = time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*query.Cache, *querytest.Clock) {
	t.Helper()
	clock := querytest.NewClock(testStart)
	c := query.New(query.Config{Clock: clock})
	t.Cleanup(c.Close)
	return c, clock
}

func fetch[T any](t *testing.T, c *query.Cache, q query.Query[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := query.Fetch(ctx, c, q)
	if err != nil {
		t.Fatalf("Fetch %s: %v", q.Key, err)
	}
	return r.Data
}

func stale(t *testing.T, c *query.Cache, key query.Key) bool {
	t.Helper()
	st, ok := c.Inspect(key)
	if !ok {
		t.Fatalf("no entry for %s", key)
	}
	return st.Stale
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
