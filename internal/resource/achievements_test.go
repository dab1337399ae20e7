package resource

import (
	"context"
	"testing"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/session"
)

func player() fakeSession {
	return fakeSession{snap: session.Snapshot{
		User:         &client.User{ID: "u7", Username: "walkon", Roles: []client.Role{client.RoleUser}},
		SelectedTeam: &client.Team{ID: "t3", Name: "Ohio State"},
	}}
}

func winsAchievements() []client.Achievement {
	return []client.Achievement{
		{ID: "a1", Description: "Win 10 games", Type: client.TypeWins, Rarity: client.RarityCommon},
		{ID: "a2", Description: "Beat a top-5 team", Type: client.TypeWins, Rarity: client.RarityRare},
	}
}

func TestPendingCompletionScenario(t *testing.T) {
	api := newFakeAPI()
	api.achievements = winsAchievements()
	api.completion = client.CompletionResponse{Status: client.OutcomePending, RequestID: "r1", Message: "Submitted for review"}
	c, _ := newTestCache(t)
	ledger := &fakeLedger{}
	a := NewAchievements(c, api, player(), WithPendingRecorder(ledger))

	completed := false
	filter := AchievementFilter{Page: 0, Size: 12, Type: client.TypeWins, Completed: &completed}
	want := query.Key{"achievements", "list", query.Params{"page": 0, "size": 12, "type": "WINS", "completed": false}}
	if got := AchievementListKey(filter); got.Hash() != want.Hash() {
		t.Fatalf("list key = %s, want %s", got, want)
	}
	page := fetch(t, c, a.List(filter))
	if len(page.Content) != 2 {
		t.Fatalf("listed %d achievements, want 2", len(page.Content))
	}

	res, err := a.Complete.Do(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !res.Pending() || res.RequestID != "r1" {
		t.Fatalf("result = %+v, want pending r1", res)
	}

	if !stale(t, c, want) {
		t.Error("achievement list not invalidated")
	}
	if id, ok := ledger.get("a1"); !ok || id != "r1" {
		t.Errorf("ledger a1 = %q, %v; want r1", id, ok)
	}
	for _, st := range c.Snapshot() {
		if !st.Key.HasPrefix(AchievementsKey) {
			continue
		}
		if ach, ok := query.GetData[client.Achievement](c, st.Key); ok && ach.ID == "a1" && ach.IsCompleted {
			t.Errorf("%s marks a1 completed", st.Key)
		}
		if p, ok := query.GetData[client.Page[client.Achievement]](c, st.Key); ok {
			for _, ach := range p.Content {
				if ach.ID == "a1" && ach.IsCompleted {
					t.Errorf("%s marks a1 completed", st.Key)
				}
			}
		}
	}

	req := api.lastArg("CompleteAchievement").(client.CompletionRequest)
	if req.UserID != "u7" || req.TeamName != "Ohio State" || req.IsAdmin || req.RequestReason != "Achievement completed" {
		t.Errorf("request = %+v", req)
	}
}

func TestCompletedCompletionPatchesDetail(t *testing.T) {
	api := newFakeAPI()
	api.achievements = winsAchievements()
	done := client.Achievement{ID: "a2", IsCompleted: true}
	api.completion = client.CompletionResponse{Status: client.OutcomeCompleted, Achievement: &done}
	c, _ := newTestCache(t)
	ledger := &fakeLedger{}
	a := NewAchievements(c, api, fakeSession{}, WithPendingRecorder(ledger))

	fetch(t, c, a.Detail("a2"))
	fetch(t, c, a.Stats())

	res, err := a.Complete.Do(context.Background(), "a2")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Pending() || res.Achievement == nil {
		t.Fatalf("result = %+v, want completed", res)
	}
	got, ok := query.GetData[client.Achievement](c, AchievementDetailKey("a2"))
	if !ok || !got.IsCompleted {
		t.Errorf("detail = %+v, want completed", got)
	}
	if stale(t, c, AchievementDetailKey("a2")) {
		t.Error("patched detail was invalidated")
	}
	if !stale(t, c, AchievementStatsKey) {
		t.Error("stats not invalidated")
	}
	if _, ok := ledger.get("a2"); ok {
		t.Error("completed achievement recorded as pending")
	}

	req := api.lastArg("CompleteAchievement").(client.CompletionRequest)
	if req.UserID != "guest-user" || req.UserDisplayName != "Guest User" {
		t.Errorf("guest request = %+v", req)
	}
}

func TestCompletionUnknownStatus(t *testing.T) {
	api := newFakeAPI()
	api.completion = client.CompletionResponse{Status: "exploded"}
	c, _ := newTestCache(t)
	a := NewAchievements(c, api, player())

	var surfaced error
	a.Complete = query.NewMutation(a.complete, query.MutationOptions[string, CompletionResult]{
		OnError: func(err error, _ string) { surfaced = err },
	})
	if _, err := a.Complete.Do(context.Background(), "a1"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if surfaced == nil {
		t.Error("OnError not called")
	}
}

func TestSubmitRequest(t *testing.T) {
	api := newFakeAPI()
	api.completion = client.CompletionResponse{Status: client.OutcomePending, RequestID: "r5"}
	c, _ := newTestCache(t)
	ledger := &fakeLedger{}
	a := NewAchievements(c, api, player(), WithPendingRecorder(ledger))

	res, err := a.Request.Do(context.Background(), CompletionInput{AchievementID: "a9", Reason: "beat Michigan"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if res.RequestID != "r5" {
		t.Errorf("RequestID = %q", res.RequestID)
	}
	if id, _ := ledger.get("a9"); id != "r5" {
		t.Errorf("ledger a9 = %q, want r5", id)
	}
	req := api.lastArg("SubmitCompletionRequest").(client.CompletionRequest)
	if req.RequestReason != "beat Michigan" {
		t.Errorf("reason = %q", req.RequestReason)
	}
}

func TestDeleteAchievement(t *testing.T) {
	api := newFakeAPI()
	api.achievements = winsAchievements()
	c, _ := newTestCache(t)
	a := NewAchievements(c, api, player())

	fetch(t, c, a.Detail("a1"))
	fetch(t, c, a.ByType(client.TypeWins))

	if _, err := a.Delete.Do(context.Background(), "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Inspect(AchievementDetailKey("a1")); ok {
		t.Error("detail still cached")
	}
	if !stale(t, c, AchievementTypeKey(client.TypeWins)) {
		t.Error("type list not invalidated")
	}
}
