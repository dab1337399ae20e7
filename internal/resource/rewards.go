package resource

import (
	"context"
	"encoding/json"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
)

// RewardsAPI is the client surface used by Rewards.
type RewardsAPI interface {
	AchievementRewards(ctx context.Context, achievementID string) (client.RewardList, error)
	RewardStatistics(ctx context.Context) (json.RawMessage, error)
	TraitOptions(ctx context.Context) (json.RawMessage, error)
	InitializeRewards(ctx context.Context) (client.MessageResponse, error)
	CreateReward(ctx context.Context, achievementID string, r client.AchievementReward) (client.RewardResult, error)
	UpdateReward(ctx context.Context, rewardID string, r client.AchievementReward) (client.RewardResult, error)
	DeleteReward(ctx context.Context, rewardID string) (client.MessageResponse, error)
}

// Reward keys.
var (
	AchievementRewardsKey = query.Key{"achievement-rewards"}
	RewardStatisticsKey   = query.Key{"reward-statistics"}
	TraitOptionsKey       = query.Key{"trait-options"}
)

func RewardsForKey(achievementID string) query.Key {
	return AchievementRewardsKey.Append(achievementID)
}

// NewReward is the input of Rewards.Create.
type NewReward struct {
	AchievementID string
	Reward        client.AchievementReward
}

// RewardUpdate is the input of Rewards.Update.
type RewardUpdate struct {
	RewardID string
	Reward   client.AchievementReward
}

// Rewards is the commissioner-only achievement rewards family. Its reads
// use the cache defaults, so they refetch on every new observer.
type Rewards struct {
	cache *query.Cache
	api   RewardsAPI

	Initialize *query.Mutation[struct{}, client.MessageResponse]
	Create     *query.Mutation[NewReward, client.RewardResult]
	Update     *query.Mutation[RewardUpdate, client.RewardResult]
	Delete     *query.Mutation[string, client.MessageResponse]
}

func NewRewards(c *query.Cache, api RewardsAPI) *Rewards {
	r := &Rewards{cache: c, api: api}

	// The reward's achievement is unknown after initialize, update and
	// delete, so those invalidate every achievement's rewards.
	invalidateAll := func() {
		c.Invalidate(AchievementRewardsKey)
		c.Invalidate(RewardStatisticsKey)
	}

	r.Initialize = query.NewMutation(func(ctx context.Context, _ struct{}) (client.MessageResponse, error) {
		return api.InitializeRewards(ctx)
	}, query.MutationOptions[struct{}, client.MessageResponse]{
		OnSuccess: func(client.MessageResponse, struct{}) { invalidateAll() },
	})

	r.Create = query.NewMutation(func(ctx context.Context, n NewReward) (client.RewardResult, error) {
		return api.CreateReward(ctx, n.AchievementID, n.Reward)
	}, query.MutationOptions[NewReward, client.RewardResult]{
		OnSuccess: func(_ client.RewardResult, n NewReward) {
			c.Invalidate(RewardsForKey(n.AchievementID))
			c.Invalidate(RewardStatisticsKey)
		},
	})

	r.Update = query.NewMutation(func(ctx context.Context, u RewardUpdate) (client.RewardResult, error) {
		return api.UpdateReward(ctx, u.RewardID, u.Reward)
	}, query.MutationOptions[RewardUpdate, client.RewardResult]{
		OnSuccess: func(client.RewardResult, RewardUpdate) { invalidateAll() },
	})

	r.Delete = query.NewMutation(api.DeleteReward, query.MutationOptions[string, client.MessageResponse]{
		OnSuccess: func(client.MessageResponse, string) { invalidateAll() },
	})
	return r
}

// For returns an achievement's rewards. It is disabled for an empty id.
func (r *Rewards) For(achievementID string) query.Query[[]client.AchievementReward] {
	q := query.Query[[]client.AchievementReward]{
		Key: RewardsForKey(achievementID),
		Fn: func(ctx context.Context) ([]client.AchievementReward, error) {
			list, err := r.api.AchievementRewards(ctx, achievementID)
			return list.Rewards, err
		},
	}
	q.Disabled = achievementID == ""
	return q
}

func (r *Rewards) Statistics() query.Query[json.RawMessage] {
	return query.Query[json.RawMessage]{Key: RewardStatisticsKey, Fn: r.api.RewardStatistics}
}

func (r *Rewards) TraitOptions() query.Query[json.RawMessage] {
	return query.Query[json.RawMessage]{Key: TraitOptionsKey, Fn: r.api.TraitOptions}
}
