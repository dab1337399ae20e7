package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/session"
)

// AchievementsAPI is the client surface used by Achievements.
type AchievementsAPI interface {
	ListAchievements(ctx context.Context, p client.AchievementListParams) (client.Page[client.Achievement], error)
	GetAchievement(ctx context.Context, id string) (client.Achievement, error)
	AchievementsByType(ctx context.Context, t client.AchievementType) ([]client.Achievement, error)
	CreateAchievement(ctx context.Context, a client.Achievement) (client.Achievement, error)
	UpdateAchievement(ctx context.Context, id string, a client.Achievement) (client.Achievement, error)
	CompleteAchievement(ctx context.Context, id string, req client.CompletionRequest) (client.CompletionResponse, error)
	SubmitCompletionRequest(ctx context.Context, achievementID string, req client.CompletionRequest) (client.CompletionResponse, error)
	DeleteAchievement(ctx context.Context, id string) error
}

// Sessions exposes the signed-in user and team.
type Sessions interface {
	Snapshot() session.Snapshot
}

// PendingRecorder receives the request id of every completion queued for
// approval.
type PendingRecorder interface {
	Add(achievementID, requestID string)
}

// Achievement keys.
var (
	AchievementsKey     = query.Key{"achievements"}
	AchievementListsKey = AchievementsKey.Append("list")
	AchievementStatsKey = AchievementsKey.Append("stats")
)

func AchievementListKey(f AchievementFilter) query.Key {
	return AchievementListsKey.Append(params(
		"page", f.Page,
		"size", f.Size,
		"type", string(f.Type),
		"rarity", string(f.Rarity),
		"completed", f.Completed,
	))
}

func AchievementDetailKey(id string) query.Key { return AchievementsKey.Append("detail", id) }

func AchievementTypeKey(t client.AchievementType) query.Key {
	return AchievementsKey.Append("type", string(t))
}

// AchievementFilter selects a page of achievements. A nil Completed matches
// both states.
type AchievementFilter struct {
	Page      int
	Size      int
	Type      client.AchievementType
	Rarity    client.AchievementRarity
	Completed *bool
}

// AchievementUpdate is the input of Achievements.Update.
type AchievementUpdate struct {
	ID          string
	Achievement client.Achievement
}

// CompletionInput is the input of Achievements.Request.
type CompletionInput struct {
	AchievementID string
	Reason        string
}

// CompletionResult is the outcome of a completion. Outcome is
// client.OutcomeCompleted when the achievement unlocked immediately and
// client.OutcomePending when it is waiting for a commissioner; only the
// latter carries a RequestID.
type CompletionResult struct {
	Outcome     string              `json:"outcome"`
	Achievement *client.Achievement `json:"achievement,omitempty"`
	RequestID   string              `json:"requestId,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// Pending reports whether the completion is waiting for approval.
func (r CompletionResult) Pending() bool { return r.Outcome == client.OutcomePending }

// AchievementsOption configures Achievements.
type AchievementsOption func(*Achievements)

// WithPendingRecorder records pending completions in r.
func WithPendingRecorder(r PendingRecorder) AchievementsOption {
	return func(a *Achievements) { a.pending = r }
}

// WithNow overrides the clock used for the recent-completions window.
func WithNow(now func() time.Time) AchievementsOption {
	return func(a *Achievements) { a.now = now }
}

// Achievements is the achievements resource family.
type Achievements struct {
	cache   *query.Cache
	api     AchievementsAPI
	session Sessions
	pending PendingRecorder
	now     func() time.Time

	Create   *query.Mutation[client.Achievement, client.Achievement]
	Update   *query.Mutation[AchievementUpdate, client.Achievement]
	Delete   *query.Mutation[string, string]
	Complete *query.Mutation[string, CompletionResult]
	Request  *query.Mutation[CompletionInput, CompletionResult]
}

func NewAchievements(c *query.Cache, api AchievementsAPI, sess Sessions, opts ...AchievementsOption) *Achievements {
	a := &Achievements{cache: c, api: api, session: sess, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	a.Create = query.NewMutation(api.CreateAchievement, query.MutationOptions[client.Achievement, client.Achievement]{
		OnSuccess: func(client.Achievement, client.Achievement) { a.invalidateLists() },
	})

	a.Update = query.NewMutation(func(ctx context.Context, u AchievementUpdate) (client.Achievement, error) {
		return api.UpdateAchievement(ctx, u.ID, u.Achievement)
	}, query.MutationOptions[AchievementUpdate, client.Achievement]{
		OnSuccess: func(ach client.Achievement, u AchievementUpdate) {
			query.SetData(c, AchievementDetailKey(u.ID), ach)
			a.invalidateLists()
		},
	})

	a.Delete = query.NewMutation(func(ctx context.Context, id string) (string, error) {
		return id, api.DeleteAchievement(ctx, id)
	}, query.MutationOptions[string, string]{
		OnSuccess: func(id string, _ string) {
			c.Remove(AchievementDetailKey(id))
			a.invalidateLists()
		},
	})

	a.Complete = query.NewMutation(a.complete, query.MutationOptions[string, CompletionResult]{
		OnSuccess: func(r CompletionResult, id string) { a.settle(id, r) },
	})

	a.Request = query.NewMutation(a.request, query.MutationOptions[CompletionInput, CompletionResult]{
		OnSuccess: func(r CompletionResult, in CompletionInput) { a.settle(in.AchievementID, r) },
	})
	return a
}

// invalidateLists marks every achievement key except detail keys stale.
func (a *Achievements) invalidateLists() {
	a.cache.InvalidateMatching(AchievementsKey, func(k query.Key) bool {
		return !k.HasPrefix(AchievementsKey.Append("detail"))
	})
}

func (a *Achievements) userContext(reason string) client.CompletionRequest {
	snap := a.session.Snapshot()
	req := client.CompletionRequest{
		UserID:          "guest-user",
		UserDisplayName: "Guest User",
		IsAdmin:         snap.IsCommissioner(),
		RequestReason:   reason,
	}
	if snap.User != nil {
		req.UserID = snap.User.ID
		req.UserDisplayName = snap.User.Username
	}
	if snap.SelectedTeam != nil {
		req.TeamID = snap.SelectedTeam.ID
		req.TeamName = snap.SelectedTeam.Name
	}
	if req.RequestReason == "" {
		req.RequestReason = "Achievement completed"
	}
	return req
}

func (a *Achievements) complete(ctx context.Context, id string) (CompletionResult, error) {
	resp, err := a.api.CompleteAchievement(ctx, id, a.userContext(""))
	if err != nil {
		return CompletionResult{}, err
	}
	return completionResult(id, resp)
}

func (a *Achievements) request(ctx context.Context, in CompletionInput) (CompletionResult, error) {
	resp, err := a.api.SubmitCompletionRequest(ctx, in.AchievementID, a.userContext(in.Reason))
	if err != nil {
		return CompletionResult{}, err
	}
	return completionResult(in.AchievementID, resp)
}

// completionResult branches on the response's status discriminant.
func completionResult(id string, resp client.CompletionResponse) (CompletionResult, error) {
	switch {
	case resp.Status == client.OutcomePending:
		return CompletionResult{
			Outcome:   client.OutcomePending,
			RequestID: resp.RequestID,
			Message:   resp.Message,
		}, nil
	case resp.Status == client.OutcomeCompleted,
		resp.Status == "" && resp.Achievement != nil && resp.Achievement.IsCompleted:
		return CompletionResult{
			Outcome:     client.OutcomeCompleted,
			Achievement: resp.Achievement,
			Message:     resp.Message,
		}, nil
	default:
		return CompletionResult{}, fmt.Errorf("completing achievement %s: unexpected status %q", id, resp.Status)
	}
}

// settle applies a completion to the cache. Only a completed outcome touches
// the detail entry; a pending one is handed to the pending recorder.
func (a *Achievements) settle(id string, r CompletionResult) {
	switch r.Outcome {
	case client.OutcomeCompleted:
		if r.Achievement != nil {
			query.SetData(a.cache, AchievementDetailKey(r.Achievement.ID), *r.Achievement)
		}
	case client.OutcomePending:
		if a.pending != nil {
			a.pending.Add(id, r.RequestID)
		}
	}
	a.invalidateLists()
}

// List returns a page of achievements.
func (a *Achievements) List(f AchievementFilter) query.Query[client.Page[client.Achievement]] {
	return query.Query[client.Page[client.Achievement]]{
		Key: AchievementListKey(f),
		Fn: func(ctx context.Context) (client.Page[client.Achievement], error) {
			return a.api.ListAchievements(ctx, client.AchievementListParams{
				Page: f.Page, Size: f.Size, Type: f.Type, Rarity: f.Rarity, Completed: f.Completed,
			})
		},
		Options: query.Options{StaleTime: 5 * time.Minute},
	}
}

// Detail is disabled for an empty id.
func (a *Achievements) Detail(id string) query.Query[client.Achievement] {
	q := query.Query[client.Achievement]{
		Key: AchievementDetailKey(id),
		Fn: func(ctx context.Context) (client.Achievement, error) {
			return a.api.GetAchievement(ctx, id)
		},
		Options: query.Options{StaleTime: 10 * time.Minute},
	}
	q.Disabled = id == ""
	return q
}

// ByType is disabled for an empty type.
func (a *Achievements) ByType(t client.AchievementType) query.Query[[]client.Achievement] {
	q := query.Query[[]client.Achievement]{
		Key: AchievementTypeKey(t),
		Fn: func(ctx context.Context) ([]client.Achievement, error) {
			return a.api.AchievementsByType(ctx, t)
		},
		Options: query.Options{StaleTime: 5 * time.Minute},
	}
	q.Disabled = t == ""
	return q
}

// statsPageSize bounds the statistics projection. Leagues with more
// achievements than this get statistics over the first page only.
const statsPageSize = 1000

// Stats fetches every achievement and projects the statistics from them.
func (a *Achievements) Stats() query.Query[AchievementStats] {
	return query.Query[AchievementStats]{
		Key: AchievementStatsKey,
		Fn: func(ctx context.Context) (AchievementStats, error) {
			page, err := a.api.ListAchievements(ctx, client.AchievementListParams{Page: 0, Size: statsPageSize})
			if err != nil {
				return AchievementStats{}, err
			}
			return ComputeStats(page.Content, a.now()), nil
		},
		Options: query.Options{StaleTime: 2 * time.Minute},
	}
}
