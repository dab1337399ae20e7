package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// ListAchievements returns one page of achievements matching p.
func (c *Client) ListAchievements(ctx context.Context, p AchievementListParams) (Page[Achievement], error) {
	q := url.Values{}
	setPage(q, p.Page, p.Size)
	if p.Type != "" {
		q.Set("type", string(p.Type))
	}
	if p.Rarity != "" {
		q.Set("rarity", string(p.Rarity))
	}
	if p.Completed != nil {
		q.Set("completed", strconv.FormatBool(*p.Completed))
	}
	var out Page[Achievement]
	err := c.get(ctx, "/achievements", q, &out)
	return out, err
}

func (c *Client) GetAchievement(ctx context.Context, id string) (Achievement, error) {
	var out Achievement
	err := c.get(ctx, "/achievements/"+seg(id), nil, &out)
	return out, err
}

func (c *Client) AchievementsByType(ctx context.Context, t AchievementType) ([]Achievement, error) {
	var out []Achievement
	err := c.get(ctx, "/achievements/type/"+seg(string(t)), nil, &out)
	return out, err
}

func (c *Client) CreateAchievement(ctx context.Context, a Achievement) (Achievement, error) {
	a.ID = ""
	var out Achievement
	err := c.do(ctx, http.MethodPost, "/achievements", nil, a, &out)
	return out, err
}

func (c *Client) UpdateAchievement(ctx context.Context, id string, a Achievement) (Achievement, error) {
	var out Achievement
	err := c.do(ctx, http.MethodPut, "/achievements/"+seg(id), nil, a, &out)
	return out, err
}

// CompleteAchievement asks the server to complete id. Commissioners get a
// terminal "completed" response; everyone else gets "pending" with a
// request id for the approval queue.
func (c *Client) CompleteAchievement(ctx context.Context, id string, req CompletionRequest) (CompletionResponse, error) {
	req.AchievementID = ""
	var out CompletionResponse
	err := c.do(ctx, http.MethodPatch, "/achievements/"+seg(id)+"/complete", nil, req, &out)
	return out, err
}

// SubmitCompletionRequest queues a completion for commissioner review
// without attempting an immediate unlock.
func (c *Client) SubmitCompletionRequest(ctx context.Context, achievementID string, req CompletionRequest) (CompletionResponse, error) {
	req.AchievementID = achievementID
	req.IsAdmin = false
	var out CompletionResponse
	err := c.do(ctx, http.MethodPost, "/achievements/submit-request", nil, req, &out)
	return out, err
}

func (c *Client) DeleteAchievement(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/achievements/"+seg(id), nil, nil, nil)
}

// --- Rewards (commissioner endpoints) ---

func (c *Client) AchievementRewards(ctx context.Context, achievementID string) (RewardList, error) {
	var out RewardList
	err := c.get(ctx, "/admin/achievements/"+seg(achievementID)+"/rewards", nil, &out)
	return out, err
}

// RewardStatistics returns the server's free-form reward statistics object.
func (c *Client) RewardStatistics(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		Statistics json.RawMessage `json:"statistics"`
	}
	err := c.get(ctx, "/admin/rewards/statistics", nil, &out)
	return out.Statistics, err
}

// TraitOptions returns the server's free-form trait option catalog.
func (c *Client) TraitOptions(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		TraitOptions json.RawMessage `json:"traitOptions"`
	}
	err := c.get(ctx, "/admin/rewards/trait-options", nil, &out)
	return out.TraitOptions, err
}

func (c *Client) InitializeRewards(ctx context.Context) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/admin/rewards/initialize", nil, nil, &out)
	return out, err
}

func (c *Client) CreateReward(ctx context.Context, achievementID string, r AchievementReward) (RewardResult, error) {
	r.ID = ""
	var out RewardResult
	err := c.do(ctx, http.MethodPost, "/admin/achievements/"+seg(achievementID)+"/rewards", nil, r, &out)
	return out, err
}

func (c *Client) UpdateReward(ctx context.Context, rewardID string, r AchievementReward) (RewardResult, error) {
	var out RewardResult
	err := c.do(ctx, http.MethodPut, "/admin/rewards/"+seg(rewardID), nil, r, &out)
	return out, err
}

func (c *Client) DeleteReward(ctx context.Context, rewardID string) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodDelete, "/admin/rewards/"+seg(rewardID), nil, nil, &out)
	return out, err
}
