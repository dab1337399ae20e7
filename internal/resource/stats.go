package resource

import (
	"time"

	"github.com/kalambet/dynasty/internal/client"
)

// RecentWindow is how far back a completion counts as recent.
const RecentWindow = 30 * 24 * time.Hour

// AchievementStats summarizes a set of achievements.
type AchievementStats struct {
	Total                int                              `json:"totalAchievements"`
	Completed            int                              `json:"completedAchievements"`
	CompletionPercentage float64                          `json:"completionPercentage"`
	CountByType          map[client.AchievementType]int   `json:"countByType"`
	CountByRarity        map[client.AchievementRarity]int `json:"countByRarity"`
	Recent               []client.Achievement             `json:"recentAchievements"`
	Achievements         []client.Achievement             `json:"achievements"`
}

// ComputeStats derives statistics from achievements as of now. Every known
// type and rarity has a count, zero included. It does not modify its input.
func ComputeStats(achievements []client.Achievement, now time.Time) AchievementStats {
	s := AchievementStats{
		Total:         len(achievements),
		CountByType:   make(map[client.AchievementType]int, len(client.AchievementTypes)),
		CountByRarity: make(map[client.AchievementRarity]int, len(client.AchievementRarities)),
		Recent:        []client.Achievement{},
		Achievements:  achievements,
	}
	for _, t := range client.AchievementTypes {
		s.CountByType[t] = 0
	}
	for _, r := range client.AchievementRarities {
		s.CountByRarity[r] = 0
	}

	cutoff := now.Add(-RecentWindow)
	for _, a := range achievements {
		if _, ok := s.CountByType[a.Type]; ok {
			s.CountByType[a.Type]++
		}
		if _, ok := s.CountByRarity[a.Rarity]; ok {
			s.CountByRarity[a.Rarity]++
		}
		if !a.IsCompleted {
			continue
		}
		s.Completed++
		if a.DateCompleted != nil && a.CompletedAt().After(cutoff) {
			s.Recent = append(s.Recent, a)
		}
	}
	if s.Total > 0 {
		s.CompletionPercentage = float64(s.Completed) / float64(s.Total) * 100
	}
	return s
}
