// Package apptest runs an in-memory dynasty backend for tests of the
// composed services.
package apptest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/config"
)

// Password is accepted for every seeded user.
const Password = "pw"

// Seeded users. A user's bearer token is "tok-" + username.
var (
	Coach        = client.User{ID: "u1", Username: "coach", Roles: []client.Role{client.RoleUser}, SelectedTeamID: "t1"}
	Commissioner = client.User{ID: "u9", Username: "commish", Roles: []client.Role{client.RoleCommissioner}}
)

// Backend is a fake REST backend. Tests may change the exported fields
// before the first request.
type Backend struct {
	Server *httptest.Server

	mu            sync.Mutex
	hits          map[string]int
	failing       map[string]bool
	users         map[string]client.User
	Teams         []client.Team
	Standings     []client.Standing
	Games         []client.Game
	Weeks         []client.Week
	Achievements  []client.Achievement
	Requests      []client.AchievementRequest
	Notifications []client.Notification
}

// NewBackend starts a Backend seeded with one season and closes it when
// the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	created := time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC)
	ts := func(m int) client.Timestamp { return client.Timestamp{Time: created.Add(time.Duration(m) * time.Minute)} }
	rank := 1

	b := &Backend{
		hits:    make(map[string]int),
		failing: make(map[string]bool),
		users: map[string]client.User{
			Coach.Username:        Coach,
			Commissioner.Username: Commissioner,
		},
		Teams: []client.Team{
			{ID: "t1", Name: "Oregon", Conference: "Big Ten", IsHuman: true, Username: "coach"},
			{ID: "t2", Name: "Ohio State", Conference: "Big Ten"},
			{ID: "t3", Name: "Georgia", Conference: "SEC"},
		},
		Weeks: []client.Week{
			{ID: "w1", Year: 2025, WeekNumber: 1},
			{ID: "w2", Year: 2025, WeekNumber: 2},
		},
		Games: []client.Game{
			{ID: "g1", HomeTeamID: "t1", AwayTeamID: "t2", WeekID: "w1", WeekNumber: 1, Year: 2025, HomeScore: 31, AwayScore: 24, Status: client.GameCompleted},
			{ID: "g2", HomeTeamID: "t3", AwayTeamID: "t1", WeekID: "w2", WeekNumber: 2, Year: 2025, Status: client.GameScheduled},
		},
		Achievements: []client.Achievement{
			{ID: "a1", Description: "Win 10 games", Type: client.TypeWins, Rarity: client.RarityCommon},
			{ID: "a2", Description: "Win the conference", Type: client.TypeChampionship, Rarity: client.RarityRare},
		},
		Requests: []client.AchievementRequest{
			{ID: "r7", AchievementID: "a2", AchievementDescription: "Win the conference", UserID: "u2", UserDisplayName: "rival", Status: client.RequestPending, CreatedAt: ts(5)},
		},
		Notifications: []client.Notification{
			{ID: "n1", Type: client.NotificationGeneral, Title: "Welcome", Message: "Season 2025 started", CreatedAt: ts(0)},
		},
	}
	b.Standings = []client.Standing{
		{ID: "s1", Team: b.Teams[0], Year: 2025, Wins: 1, Rank: &rank},
		{ID: "s2", Team: b.Teams[1], Year: 2025, Losses: 1},
	}

	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the API root to pass to client.New.
func (b *Backend) URL() string { return b.Server.URL + "/api/v2" }

// Config returns a configuration pointing at b with in-memory storage.
func (b *Backend) Config() config.Config {
	return config.Config{
		API:     config.APIConfig{BaseURL: b.URL(), Timeout: 5 * time.Second},
		Server:  config.ServerConfig{Port: 4100},
		Storage: config.StorageConfig{DataDir: ":memory:"},
		Log:     config.LogConfig{Level: "info"},
		Cache:   config.CacheConfig{GCTime: 5 * time.Minute},
		Notifications: config.NotificationsConfig{
			PollInterval:      30 * time.Second,
			InboxPollInterval: 15 * time.Second,
		},
	}
}

// Hits returns how often route, e.g. "GET /achievements", was served.
func (b *Backend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

// Fail makes route answer 500 until Recover is called.
func (b *Backend) Fail(route string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[route] = true
}

// Recover undoes Fail.
func (b *Backend) Recover(route string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failing, route)
}

// Token returns the bearer token issued to username.
func Token(username string) string { return "tok-" + username }

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v2", func(r chi.Router) {
		r.Use(b.count)
		r.Post("/auth/login", b.login)
		r.Group(func(r chi.Router) {
			r.Use(b.authenticate)
			r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
			r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, userFrom(r)) })

			r.Get("/teams", b.listTeams)
			r.Get("/teams/{id}", b.getTeam)
			r.Get("/standings", b.listStandings)
			r.Get("/standings/ranked/year/{year}", b.rankedStandings)
			r.Get("/standings/team/{id}/year/{year}", b.teamStanding)
			r.Get("/games", b.listGames)
			r.Get("/games/week/{id}", b.gamesByWeek)
			r.Get("/games/team/{id}", b.gamesByTeam)
			r.Get("/weeks/current", b.currentWeek)
			r.Get("/weeks/{year}", b.weeksByYear)

			r.Get("/achievements", b.listAchievements)
			r.Patch("/achievements/{id}/complete", b.completeAchievement)

			r.Get("/notifications", b.listNotifications)
			r.Get("/notifications/inbox-count", b.inboxCount)
			r.Patch("/notifications/{id}/read", b.markRead)
			r.Get("/admin/inbox/requests", b.pendingRequests)
			r.Post("/admin/inbox/requests/{id}/{action}", b.review)
		})
	})
	return r
}

func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/v2")
		b.mu.Lock()
		b.hits[route]++
		failing := b.failing[route]
		b.mu.Unlock()
		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"backend unavailable"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		u, ok := b.users[strings.TrimPrefix(tok, "tok-")]
		b.mu.Unlock()
		if !ok || !strings.HasPrefix(tok, "tok-") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"token expired"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

// Revoke invalidates every token issued to username.
func (b *Backend) Revoke(username string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.users, username)
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req client.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	u, ok := b.users[req.Username]
	var team *client.Team
	for i := range b.Teams {
		if b.Teams[i].ID == u.SelectedTeamID {
			t := b.Teams[i]
			team = &t
		}
	}
	b.mu.Unlock()
	if !ok || req.Password != Password {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid credentials"}`))
		return
	}
	writeJSON(w, client.AuthResponse{User: u, Token: Token(u.Username), SelectedTeam: team})
}

func (b *Backend) listTeams(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	teams := append([]client.Team(nil), b.Teams...)
	b.mu.Unlock()
	writeJSON(w, page(teams))
}

func (b *Backend) getTeam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.Teams {
		if t.ID == id {
			writeJSON(w, t)
			return
		}
	}
	http.Error(w, `{"message":"team not found"}`, http.StatusNotFound)
}

func (b *Backend) rankedStandings(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []client.Standing{}
	for _, s := range b.Standings {
		if s.Rank != nil {
			out = append(out, s)
		}
	}
	writeJSON(w, out)
}

func (b *Backend) teamStanding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.Standings {
		if s.Team.ID == id {
			writeJSON(w, s)
			return
		}
	}
	http.Error(w, `{"message":"standing not found"}`, http.StatusNotFound)
}

func (b *Backend) listStandings(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	st := append([]client.Standing(nil), b.Standings...)
	b.mu.Unlock()
	writeJSON(w, page(st))
}

func (b *Backend) listGames(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	games := append([]client.Game(nil), b.Games...)
	b.mu.Unlock()
	writeJSON(w, page(games))
}

func (b *Backend) gamesByWeek(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, b.filterGames(func(g client.Game) bool { return g.WeekID == id }))
}

func (b *Backend) gamesByTeam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, b.filterGames(func(g client.Game) bool { return g.HomeTeamID == id || g.AwayTeamID == id }))
}

func (b *Backend) filterGames(keep func(client.Game) bool) []client.Game {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []client.Game{}
	for _, g := range b.Games {
		if keep(g) {
			out = append(out, g)
		}
	}
	return out
}

func (b *Backend) currentWeek(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, client.CurrentWeek{Year: 2025, CurrentWeek: 2, TotalWeeks: 15, WeekID: "w2", SeasonProgress: 13.3})
}

func (b *Backend) weeksByYear(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	weeks := append([]client.Week(nil), b.Weeks...)
	b.mu.Unlock()
	writeJSON(w, client.YearWeeks{Year: 2025, Weeks: weeks, TotalWeeks: 15})
}

func (b *Backend) listAchievements(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	achs := append([]client.Achievement(nil), b.Achievements...)
	b.mu.Unlock()
	writeJSON(w, page(achs))
}

// completeAchievement completes immediately for commissioners and queues a
// request for everyone else.
func (b *Backend) completeAchievement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u := userFrom(r)

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Achievements {
		if b.Achievements[i].ID != id {
			continue
		}
		if u.HasRole(client.RoleCommissioner) {
			b.Achievements[i].IsCompleted = true
			a := b.Achievements[i]
			writeJSON(w, client.CompletionResponse{Status: client.OutcomeCompleted, Achievement: &a, Message: "Achievement completed"})
			return
		}
		reqID := "r-" + id
		b.Achievements[i].IsPending = true
		b.Achievements[i].PendingRequestID = reqID
		b.Requests = append(b.Requests, client.AchievementRequest{
			ID: reqID, AchievementID: id, AchievementDescription: b.Achievements[i].Description,
			UserID: u.ID, UserDisplayName: u.Username, Status: client.RequestPending,
			CreatedAt: client.Timestamp{Time: time.Now().UTC()},
		})
		writeJSON(w, client.CompletionResponse{Status: client.OutcomePending, RequestID: reqID, Message: "Submitted for review"})
		return
	}
	http.Error(w, `{"message":"achievement not found"}`, http.StatusNotFound)
}

func (b *Backend) listNotifications(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	ns := append([]client.Notification(nil), b.Notifications...)
	b.mu.Unlock()
	stats := client.NotificationStats{Total: len(ns), ByType: map[client.NotificationType]int{}}
	for _, n := range ns {
		if !n.IsRead {
			stats.Unread++
		}
		stats.ByType[n.Type]++
	}
	writeJSON(w, client.NotificationList{Notifications: ns, Stats: stats})
}

func (b *Backend) inboxCount(w http.ResponseWriter, r *http.Request) {
	admin := userFrom(r).HasRole(client.RoleCommissioner)
	b.mu.Lock()
	defer b.mu.Unlock()
	c := client.InboxCount{IsAdmin: admin}
	for _, n := range b.Notifications {
		if !n.IsRead {
			c.Notifications++
		}
	}
	if admin {
		c.AchievementRequests = len(b.Requests)
	}
	c.Total = c.Notifications + c.AchievementRequests
	writeJSON(w, c)
}

func (b *Backend) markRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Notifications {
		if b.Notifications[i].ID == id {
			b.Notifications[i].IsRead = true
			writeJSON(w, client.MessageResponse{Message: "Notification marked as read"})
			return
		}
	}
	http.Error(w, `{"message":"notification not found"}`, http.StatusNotFound)
}

func (b *Backend) pendingRequests(w http.ResponseWriter, r *http.Request) {
	if !userFrom(r).HasRole(client.RoleCommissioner) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
		return
	}
	b.mu.Lock()
	rs := append([]client.AchievementRequest(nil), b.Requests...)
	b.mu.Unlock()
	writeJSON(w, client.PendingRequests{Requests: rs, Count: len(rs), Timestamp: time.Now().UnixMilli()})
}

// review approves or rejects a request and notifies its author.
func (b *Backend) review(w http.ResponseWriter, r *http.Request) {
	if !userFrom(r).HasRole(client.RoleCommissioner) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
		return
	}
	id, action := chi.URLParam(r, "id"), chi.URLParam(r, "action")

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, req := range b.Requests {
		if req.ID != id {
			continue
		}
		b.Requests = append(b.Requests[:i], b.Requests[i+1:]...)
		typ := client.NotificationAchievementRejected
		if action == "approve" {
			typ = client.NotificationAchievementApproved
			for j := range b.Achievements {
				if b.Achievements[j].ID == req.AchievementID {
					b.Achievements[j].IsCompleted = true
					b.Achievements[j].IsPending = false
				}
			}
		}
		b.Notifications = append(b.Notifications, client.Notification{
			ID: "n-" + id, Type: typ, Title: "Achievement " + action,
			CreatedAt: client.Timestamp{Time: time.Now().UTC()},
			Data:      &client.NotificationData{AchievementID: req.AchievementID, RequestID: id},
		})
		writeJSON(w, client.ReviewResult{Message: "Request " + action + "d", Request: req})
		return
	}
	http.Error(w, `{"message":"request not found"}`, http.StatusNotFound)
}

func page[T any](items []T) client.Page[T] {
	return client.Page[T]{Content: items, TotalElements: len(items), TotalPages: 1, Size: len(items), First: true, Last: true}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func withUser(ctx context.Context, u client.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFrom(r *http.Request) client.User {
	u, _ := r.Context().Value(userKey{}).(client.User)
	return u
}
