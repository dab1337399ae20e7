package resource

import (
	"context"
	"testing"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
)

func TestCalculateInvalidatesYearAndLists(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestCache(t)
	s := NewStandings(c, api)

	fetch(t, c, s.List(StandingFilter{Year: 2023}))
	fetch(t, c, s.Ranked(2024, 25))
	fetch(t, c, s.Ranked(2023, 25))
	fetch(t, c, s.ReceivingVotes(2024))
	fetch(t, c, s.Detail("s1"))

	if _, err := s.Calculate.Do(context.Background(), 2024); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	tests := []struct {
		key  query.Key
		want bool
	}{
		{StandingListKey(StandingFilter{Year: 2023}), true},
		{RankedStandingsKey(2024, 25), true},
		{ReceivingVotesKey(2024), true},
		{RankedStandingsKey(2023, 25), false},
		{StandingDetailKey("s1"), false},
	}
	for _, tt := range tests {
		if got := stale(t, c, tt.key); got != tt.want {
			t.Errorf("%s stale = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestCalculateConference(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestCache(t)
	s := NewStandings(c, api)

	fetch(t, c, s.Conference("SEC", 2024))
	fetch(t, c, s.Conference("Big Ten", 2024))
	fetch(t, c, s.List(StandingFilter{}))

	if _, err := s.CalculateConference.Do(context.Background(), ConferenceYear{"SEC", 2024}); err != nil {
		t.Fatalf("CalculateConference: %v", err)
	}
	if !stale(t, c, ConferenceStandingsKey("SEC", 2024)) || !stale(t, c, StandingListKey(StandingFilter{})) {
		t.Error("conference or list not invalidated")
	}
	if stale(t, c, ConferenceStandingsKey("Big Ten", 2024)) {
		t.Error("other conference invalidated")
	}
}

func TestUpdateStanding(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestCache(t)
	s := NewStandings(c, api)

	fetch(t, c, s.Team("t1", 2024))
	fetch(t, c, s.TeamHistory("t1"))
	fetch(t, c, s.Team("t2", 2024))

	wins := 10
	if _, err := s.Update.Do(context.Background(), StandingUpdate{ID: "s9", Update: client.StandingUpdate{Wins: &wins}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := query.GetData[client.Standing](c, StandingDetailKey("s9")); !ok {
		t.Error("detail not patched")
	}
	if !stale(t, c, TeamStandingKey("t1", 2024)) || !stale(t, c, TeamStandingKey("t1", 0)) {
		t.Error("team standings not invalidated")
	}
	if stale(t, c, TeamStandingKey("t2", 2024)) {
		t.Error("unrelated team invalidated")
	}
}

func TestStandingQueriesDisabled(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestCache(t)
	s := NewStandings(c, api)

	for _, q := range []query.Query[[]client.Standing]{s.Conference("", 2024), s.Conference("SEC", 0), s.Ranked(0, 25), s.ReceivingVotes(0)} {
		if !q.Disabled {
			t.Errorf("%s should be disabled", q.Key)
		}
	}
	if !s.Team("t1", 0).Disabled || !s.Detail("").Disabled {
		t.Error("team or detail without id should be disabled")
	}
}
