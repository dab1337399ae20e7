// Package dashboard serves the dashboard pages as a local JSON API and as MCP
// tools. Every read goes through the shared query cache.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dynasty/internal/app"
	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/notify"
	"github.com/kalambet/dynasty/internal/pending"
	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/resource"
	"github.com/kalambet/dynasty/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// rankedLimit is the size of the poll shown on the overview.
const rankedLimit = 25

type Deps struct {
	App *app.App
	// Token guards every route except /health and /metrics. Empty disables
	// the check.
	Token string
}

// NewHandler returns the dashboard's JSON API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(deps.App.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/session", handleSession(deps))
		r.Post("/session/login", handleLogin(deps))
		r.Post("/session/logout", handleLogout(deps))
		r.Put("/session/team", handleSelectTeam(deps))

		r.Get("/teams", handleTeams(deps))
		r.Get("/standings", handleStandings(deps))
		r.Get("/schedule", handleSchedule(deps))
		r.Get("/schedule/weeks", handleWeeks(deps))

		r.Get("/achievements", handleAchievements(deps))
		r.Get("/achievements/stats", handleAchievementStats(deps))
		r.Post("/achievements/{id}/complete", handleComplete(deps))

		r.Get("/notifications", handleNotifications(deps))
		r.Post("/notifications/read-all", handleMarkAllRead(deps))
		r.Post("/notifications/{id}/read", handleMarkRead(deps))
		r.Delete("/notifications/{id}", handleDeleteNotification(deps))
		r.Post("/inbox/{id}/approve", handleReview(deps, true))
		r.Post("/inbox/{id}/reject", handleReview(deps, false))

		r.Get("/pending", handlePending(deps))
		r.Get("/overview", handleOverview(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// --- session ---

type sessionView struct {
	Authenticated bool         `json:"authenticated"`
	Commissioner  bool         `json:"commissioner"`
	User          *client.User `json:"user,omitempty"`
	SelectedTeam  *client.Team `json:"selectedTeam,omitempty"`
}

func viewSession(s session.Snapshot) sessionView {
	return sessionView{
		Authenticated: s.IsAuthenticated(),
		Commissioner:  s.IsCommissioner(),
		User:          s.User,
		SelectedTeam:  s.SelectedTeam,
	}
}

func handleSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, viewSession(deps.App.Session.Snapshot()))
	}
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req client.LoginRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Username == "" || req.Password == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "username and password are required")
			return
		}
		snap, err := deps.App.Session.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, "login failed", err)
			return
		}
		writeJSON(w, http.StatusOK, viewSession(snap))
	}
}

func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.App.Session.Logout(r.Context()); err != nil {
			writeError(w, "logout failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
	}
}

func handleSelectTeam(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TeamID string `json:"teamId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.TeamID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "teamId is required")
			return
		}
		team, err := query.Fetch(r.Context(), deps.App.Cache, deps.App.Teams.Detail(req.TeamID))
		if err != nil {
			writeError(w, "failed to load team", err)
			return
		}
		if err := deps.App.Session.SelectTeam(team.Data); err != nil {
			writeError(w, "failed to select team", err)
			return
		}
		writeJSON(w, http.StatusOK, viewSession(deps.App.Session.Snapshot()))
	}
}

// --- teams, standings, schedule ---

func handleTeams(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := resource.TeamFilter{
			Search:     q.Get("search"),
			Conference: q.Get("conference"),
			HumanOnly:  q.Get("human") == "true",
			Page:       parseIntParam(r, "page", 0, 0),
			Size:       parseIntParam(r, "size", 10, 100),
		}
		res, err := query.Fetch(r.Context(), deps.App.Cache, deps.App.Teams.List(f))
		if err != nil {
			writeError(w, "failed to list teams", err)
			return
		}
		writeJSON(w, http.StatusOK, res.Data)
	}
}

// seasonYear returns the year query parameter, or the current season's year.
func seasonYear(ctx context.Context, deps Deps, r *http.Request) (int, error) {
	if y := parseIntParam(r, "year", 0, 0); y > 0 {
		return y, nil
	}
	cur, err := query.Fetch(ctx, deps.App.Cache, deps.App.Schedule.CurrentWeek())
	if err != nil {
		return 0, fmt.Errorf("resolving current season: %w", err)
	}
	return cur.Data.Year, nil
}

func handleStandings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, err := seasonYear(r.Context(), deps, r)
		if err != nil {
			writeError(w, "failed to list standings", err)
			return
		}
		f := resource.StandingFilter{
			Year:       year,
			Conference: r.URL.Query().Get("conference"),
			Page:       parseIntParam(r, "page", 0, 0),
			Size:       parseIntParam(r, "size", 25, 200),
		}
		res, err := query.Fetch(r.Context(), deps.App.Cache, deps.App.Standings.List(f))
		if err != nil {
			writeError(w, "failed to list standings", err)
			return
		}
		writeJSON(w, http.StatusOK, res.Data)
	}
}

type scheduleView struct {
	Games       []client.Game       `json:"games"`
	Source      string              `json:"source"`
	WeekID      string              `json:"weekId,omitempty"`
	CurrentWeek *client.CurrentWeek `json:"currentWeek,omitempty"`
}

func handleSchedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, err := seasonYear(r.Context(), deps, r)
		if err != nil {
			writeError(w, "failed to load schedule", err)
			return
		}
		q := r.URL.Query()
		p := resource.ScheduleParams{
			Year:       year,
			WeekNumber: parseIntParam(r, "week", 0, 0),
			TeamID:     q.Get("team"),
			TeamView:   resource.ViewAll,
		}
		if q.Get("view") == string(resource.ViewSelected) {
			p.TeamView = resource.ViewSelected
			if p.TeamID == "" {
				if t := deps.App.Session.Snapshot().SelectedTeam; t != nil {
					p.TeamID = t.ID
				}
			}
		}

		v := deps.App.Schedule.View(p)
		defer v.Close()
		res, err := v.Wait(r.Context())
		if err == nil && !res.HasData {
			err = res.Err
		}
		if err != nil {
			writeError(w, "failed to load schedule", err)
			return
		}
		games := res.Games
		if games == nil {
			games = []client.Game{}
		}
		writeJSON(w, http.StatusOK, scheduleView{
			Games:       games,
			Source:      res.Source,
			WeekID:      res.EffectiveWeekID,
			CurrentWeek: res.CurrentWeek,
		})
	}
}

func handleWeeks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, err := seasonYear(r.Context(), deps, r)
		if err != nil {
			writeError(w, "failed to load weeks", err)
			return
		}
		nav, err := deps.App.Schedule.Navigation(r.Context(), year)
		if err != nil {
			writeError(w, "failed to load weeks", err)
			return
		}
		writeJSON(w, http.StatusOK, nav)
	}
}

// --- achievements ---

type achievementView struct {
	client.Achievement
	State string `json:"state"`
}

func handleAchievements(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := resource.AchievementFilter{
			Page:   parseIntParam(r, "page", 0, 0),
			Size:   parseIntParam(r, "size", 12, 100),
			Type:   client.AchievementType(q.Get("type")),
			Rarity: client.AchievementRarity(q.Get("rarity")),
		}
		if c, err := strconv.ParseBool(q.Get("completed")); err == nil {
			f.Completed = &c
		}

		page, err := deps.App.AchievementPage(r.Context(), f)
		if err != nil {
			writeError(w, "failed to list achievements", err)
			return
		}
		out := client.Page[achievementView]{
			Content:       make([]achievementView, len(page.Content)),
			TotalElements: page.TotalElements,
			TotalPages:    page.TotalPages,
			Size:          page.Size,
			Number:        page.Number,
			First:         page.First,
			Last:          page.Last,
		}
		for i, a := range page.Content {
			out.Content[i] = achievementView{Achievement: a, State: deps.App.Ledger.DisplayState(a).String()}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleAchievementStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := query.Fetch(r.Context(), deps.App.Cache, deps.App.Achievements.Stats())
		if err != nil {
			writeError(w, "failed to load achievement statistics", err)
			return
		}
		writeJSON(w, http.StatusOK, res.Data)
	}
}

// handleComplete completes an achievement, or submits a review request when
// a reason is given. A queued completion answers 202.
func handleComplete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		var (
			res resource.CompletionResult
			err error
		)
		if req.Reason != "" {
			res, err = deps.App.Achievements.Request.Do(r.Context(), resource.CompletionInput{AchievementID: id, Reason: req.Reason})
		} else {
			res, err = deps.App.Achievements.Complete.Do(r.Context(), id)
		}
		if err != nil {
			writeError(w, "failed to complete achievement", err)
			return
		}
		status := http.StatusOK
		if res.Pending() {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
	}
}

// --- notifications and inbox ---

func handleNotifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.App.Inbox.Wait(r.Context()); err != nil {
			writeError(w, "failed to load notifications", err)
			return
		}
		st := deps.App.Inbox.State()
		if st.Feed == nil {
			st.Feed = []notify.FeedItem{}
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleMarkRead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.App.Inbox.MarkAsRead(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, "failed to mark notification as read", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func handleMarkAllRead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.App.Inbox.MarkAllAsRead(r.Context()); err != nil {
			writeError(w, "failed to mark notifications as read", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func handleDeleteNotification(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.App.Inbox.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, "failed to delete notification", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleReview(deps Deps, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Notes string `json:"notes"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		review := deps.App.Inbox.Reject
		if approve {
			review = deps.App.Inbox.Approve
		}
		res, err := review(r.Context(), id, req.Notes)
		if err != nil {
			writeError(w, "failed to review request", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// --- local state ---

type completionView struct {
	RequestID     string    `json:"requestId"`
	AchievementID string    `json:"achievementId"`
	TeamID        string    `json:"teamId,omitempty"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func handlePending(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		recs, err := deps.App.Store.RecentCompletions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list completions: %v", err)
			return
		}
		history := make([]completionView, len(recs))
		for i, c := range recs {
			history[i] = completionView(c)
		}
		entries := deps.App.Ledger.All()
		if entries == nil {
			entries = []pending.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending": entries,
			"history": history,
		})
	}
}

type overview struct {
	Season       *client.CurrentWeek        `json:"season,omitempty"`
	Ranked       []client.Standing          `json:"ranked"`
	TeamStanding *client.Standing           `json:"teamStanding,omitempty"`
	Achievements *resource.AchievementStats `json:"achievements,omitempty"`
	Inbox        notify.State               `json:"inbox"`
}

// handleOverview loads the home page panels concurrently.
func handleOverview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := deps.App
		snap := a.Session.Snapshot()
		var out overview

		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			res, err := query.Fetch(ctx, a.Cache, a.Schedule.SeasonProgress())
			if err != nil {
				return fmt.Errorf("season progress: %w", err)
			}
			out.Season = &res.Data
			return nil
		})
		g.Go(func() error {
			year, err := seasonYear(ctx, deps, r)
			if err != nil {
				return err
			}
			ranked, err := query.Fetch(ctx, a.Cache, a.Standings.Ranked(year, rankedLimit))
			if err != nil {
				return fmt.Errorf("ranked standings: %w", err)
			}
			out.Ranked = ranked.Data
			if snap.SelectedTeam == nil {
				return nil
			}
			team, err := query.Fetch(ctx, a.Cache, a.Standings.Team(snap.SelectedTeam.ID, year))
			if errors.Is(err, client.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("team standing: %w", err)
			}
			out.TeamStanding = &team.Data
			return nil
		})
		g.Go(func() error {
			res, err := query.Fetch(ctx, a.Cache, a.Achievements.Stats())
			if err != nil {
				return fmt.Errorf("achievement statistics: %w", err)
			}
			out.Achievements = &res.Data
			return nil
		})
		g.Go(func() error {
			return a.Inbox.Wait(ctx)
		})
		if err := g.Wait(); err != nil {
			writeError(w, "failed to load overview", err)
			return
		}
		out.Inbox = a.Inbox.State()
		if out.Ranked == nil {
			out.Ranked = []client.Standing{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, msg string, err error) {
	var serr *client.StatusError
	switch {
	case errors.Is(err, notify.ErrPrivilegeRequired), errors.Is(err, client.ErrForbidden):
		httpError(w, http.StatusForbidden, "permission_error", "%s: %v", msg, err)
	case errors.Is(err, client.ErrUnauthorized), errors.Is(err, session.ErrNotAuthenticated):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%s: %v", msg, err)
	case errors.Is(err, client.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s: %v", msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "api_error", "%s: %v", msg, err)
	case errors.As(err, &serr):
		httpError(w, http.StatusBadGateway, "api_error", "%s: %v", msg, err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", msg, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
