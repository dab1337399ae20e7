package notify

import (
	"testing"
	"time"

	"github.com/kalambet/dynasty/internal/client"
)

var t0 = time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC)

func at(min int) client.Timestamp { return client.Timestamp{Time: t0.Add(time.Duration(min) * time.Minute)} }

func TestMergeFeedOrder(t *testing.T) {
	ns := []client.Notification{
		{ID: "n1", Type: client.NotificationGeneral, CreatedAt: at(0)},
		{ID: "n2", Type: client.NotificationAchievementApproved, CreatedAt: at(10)},
		{ID: "n3", Type: client.NotificationGeneral, CreatedAt: at(5)},
	}
	rs := []client.AchievementRequest{
		{ID: "r1", AchievementID: "a1", AchievementDescription: "Win 10 games", UserDisplayName: "coach", CreatedAt: at(7)},
		{ID: "r2", AchievementID: "a2", CreatedAt: at(5)},
	}

	feed := MergeFeed(ns, rs, true)

	var got []string
	for _, it := range feed {
		got = append(got, it.ID())
	}
	want := []string{"n2", "r1", "n3", "r2", "n1"}
	if len(got) != len(want) {
		t.Fatalf("feed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("feed = %v, want %v", got, want)
		}
	}

	if ns[0].ID != "n1" || ns[1].ID != "n2" {
		t.Error("MergeFeed reordered its input")
	}
}

func TestMergeFeedNonCommissioner(t *testing.T) {
	ns := []client.Notification{{ID: "n1", CreatedAt: at(0)}}
	rs := []client.AchievementRequest{{ID: "r1", CreatedAt: at(1)}}

	feed := MergeFeed(ns, rs, false)
	if len(feed) != 1 || feed[0].Origin != OriginServer {
		t.Fatalf("feed = %+v, want only the server notification", feed)
	}
}

func TestRequestItem(t *testing.T) {
	r := client.AchievementRequest{
		ID:                     "r1",
		AchievementID:          "a1",
		AchievementDescription: "Win the conference",
		UserID:                 "u1",
		UserDisplayName:        "Coach K",
		TeamName:               "Ducks",
		CreatedAt:              at(3),
	}
	it := requestItem(r)

	if it.Origin != OriginRequest || it.Request == nil || it.Request.ID != "r1" {
		t.Fatalf("item = %+v", it)
	}
	n := it.Notification
	if n.Type != client.NotificationAchievementRequest || n.IsRead {
		t.Errorf("type = %s, read = %v", n.Type, n.IsRead)
	}
	if n.Title != "Achievement Request" {
		t.Errorf("title = %q", n.Title)
	}
	if want := `Coach K requested completion of "Win the conference"`; n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}
	if n.Data == nil || n.Data.RequestID != "r1" || n.Data.AchievementID != "a1" || n.Data.URL != InboxURL {
		t.Errorf("data = %+v", n.Data)
	}
	if !it.CreatedAt().Equal(at(3).Time) {
		t.Errorf("created = %v", it.CreatedAt())
	}
}

func TestOriginText(t *testing.T) {
	b, _ := OriginRequest.MarshalText()
	if string(b) != "request" || OriginServer.String() != "server" {
		t.Errorf("origin text = %s / %s", b, OriginServer)
	}
}
