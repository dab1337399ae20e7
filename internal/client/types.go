package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Page is the server's paginated list envelope.
type Page[T any] struct {
	Content       []T  `json:"content"`
	TotalElements int  `json:"totalElements"`
	TotalPages    int  `json:"totalPages"`
	Size          int  `json:"size"`
	Number        int  `json:"number"`
	First         bool `json:"first"`
	Last          bool `json:"last"`
}

// Timestamp accepts RFC 3339, zone-less local date-times as emitted by the
// backend, and epoch milliseconds. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp %s: %w", b, err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range localLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("timestamp %q: unrecognized format", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// --- Teams ---

type Team struct {
	ID            string    `json:"id,omitempty"`
	Name          string    `json:"name"`
	Coach         string    `json:"coach,omitempty"`
	Username      string    `json:"username,omitempty"`
	Conference    string    `json:"conference,omitempty"`
	IsHuman       bool      `json:"isHuman,omitempty"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	CreatedAt     Timestamp `json:"createdAt,omitzero"`
	UpdatedAt     Timestamp `json:"updatedAt,omitzero"`
	CurrentWins   int       `json:"currentWins,omitempty"`
	CurrentLosses int       `json:"currentLosses,omitempty"`
	WinPercentage float64   `json:"winPercentage,omitempty"`
	CurrentRank   int       `json:"currentRank,omitempty"`
	TotalGames    int       `json:"totalGames,omitempty"`
}

// TeamListParams filters GET /teams.
type TeamListParams struct {
	Search string
	Page   int
	Size   int
}

// --- Games and weeks ---

type GameStatus string

const (
	GameScheduled  GameStatus = "SCHEDULED"
	GameInProgress GameStatus = "IN_PROGRESS"
	GameCompleted  GameStatus = "COMPLETED"
	GameCancelled  GameStatus = "CANCELLED"
)

type Game struct {
	ID               string     `json:"id,omitempty"`
	GameID           string     `json:"gameId,omitempty"`
	HomeTeamID       string     `json:"homeTeamId"`
	HomeTeamName     string     `json:"homeTeamName,omitempty"`
	HomeTeamImageURL string     `json:"homeTeamImageUrl,omitempty"`
	AwayTeamID       string     `json:"awayTeamId"`
	AwayTeamName     string     `json:"awayTeamName,omitempty"`
	AwayTeamImageURL string     `json:"awayTeamImageUrl,omitempty"`
	HomeScore        int        `json:"homeScore"`
	AwayScore        int        `json:"awayScore"`
	Date             Timestamp  `json:"date,omitzero"`
	WeekID           string     `json:"weekId,omitempty"`
	WeekNumber       int        `json:"weekNumber,omitempty"`
	Year             int        `json:"year,omitempty"`
	HomeTeamRank     int        `json:"homeTeamRank,omitempty"`
	AwayTeamRank     int        `json:"awayTeamRank,omitempty"`
	Status           GameStatus `json:"status"`
	CreatedAt        Timestamp  `json:"createdAt,omitzero"`
	UpdatedAt        Timestamp  `json:"updatedAt,omitzero"`
	StatusDisplay    string     `json:"statusDisplay,omitempty"`
	ScoreDisplay     string     `json:"scoreDisplay,omitempty"`
	IsCompleted      bool       `json:"isCompleted,omitempty"`
	WinnerName       string     `json:"winnerName,omitempty"`
}

// GameListParams filters GET /games.
type GameListParams struct {
	Page int
	Size int
	Year int
}

type Week struct {
	ID         string `json:"id"`
	Year       int    `json:"year"`
	WeekNumber int    `json:"weekNumber"`
	Games      []Game `json:"games,omitempty"`
}

// CurrentWeek is the season position reported by GET /weeks/current.
type CurrentWeek struct {
	Year           int     `json:"year"`
	CurrentWeek    int     `json:"currentWeek"`
	TotalWeeks     int     `json:"totalWeeks"`
	SeasonProgress float64 `json:"seasonProgress"`
	WeekID         string  `json:"weekId,omitempty"`
}

type YearWeeks struct {
	Year       int    `json:"year"`
	Weeks      []Week `json:"weeks"`
	TotalWeeks int    `json:"totalWeeks"`
}

type WeekDetail struct {
	Week       Week `json:"week"`
	Year       int  `json:"year"`
	WeekNumber int  `json:"weekNumber"`
}

// --- Standings ---

type Standing struct {
	ID                      string    `json:"id"`
	Team                    Team      `json:"team"`
	Year                    int       `json:"year"`
	Wins                    int       `json:"wins"`
	Losses                  int       `json:"losses"`
	ConferenceWins          int       `json:"conference_wins"`
	ConferenceLosses        int       `json:"conference_losses"`
	Rank                    *int      `json:"rank,omitempty"`
	ConferenceRank          *int      `json:"conference_rank,omitempty"`
	ReceivingVotes          int       `json:"receiving_votes"`
	CreatedAt               Timestamp `json:"created_at,omitzero"`
	UpdatedAt               Timestamp `json:"updated_at,omitzero"`
	WinPercentage           float64   `json:"win_percentage"`
	TotalGames              int       `json:"total_games"`
	ConferenceWinPercentage float64   `json:"conference_win_percentage"`
	TotalConferenceGames    int       `json:"total_conference_games"`
}

type StandingCreate struct {
	TeamID           string `json:"team_id"`
	Year             int    `json:"year"`
	Wins             *int   `json:"wins,omitempty"`
	Losses           *int   `json:"losses,omitempty"`
	ConferenceWins   *int   `json:"conference_wins,omitempty"`
	ConferenceLosses *int   `json:"conference_losses,omitempty"`
	Rank             *int   `json:"rank,omitempty"`
	ConferenceRank   *int   `json:"conference_rank,omitempty"`
	ReceivingVotes   *int   `json:"receiving_votes,omitempty"`
}

type StandingUpdate struct {
	Wins             *int `json:"wins,omitempty"`
	Losses           *int `json:"losses,omitempty"`
	ConferenceWins   *int `json:"conference_wins,omitempty"`
	ConferenceLosses *int `json:"conference_losses,omitempty"`
	Rank             *int `json:"rank,omitempty"`
	ConferenceRank   *int `json:"conference_rank,omitempty"`
	ReceivingVotes   *int `json:"receiving_votes,omitempty"`
}

// StandingListParams filters GET /standings.
type StandingListParams struct {
	Year       int
	Conference string
	Page       int
	Size       int
}

// --- Achievements and rewards ---

type AchievementType string

const (
	TypeWins         AchievementType = "WINS"
	TypeSeason       AchievementType = "SEASON"
	TypeChampionship AchievementType = "CHAMPIONSHIP"
	TypeStatistics   AchievementType = "STATISTICS"
	TypeGeneral      AchievementType = "GENERAL"
)

// AchievementTypes lists every type in display order.
var AchievementTypes = []AchievementType{TypeWins, TypeSeason, TypeChampionship, TypeStatistics, TypeGeneral}

type AchievementRarity string

const (
	RarityCommon    AchievementRarity = "COMMON"
	RarityUncommon  AchievementRarity = "UNCOMMON"
	RarityRare      AchievementRarity = "RARE"
	RarityEpic      AchievementRarity = "EPIC"
	RarityLegendary AchievementRarity = "LEGENDARY"
)

// AchievementRarities lists every rarity from most to least common.
var AchievementRarities = []AchievementRarity{RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary}

type RewardType string

const (
	RewardTraitBoost  RewardType = "TRAIT_BOOST"
	RewardGameRestart RewardType = "GAME_RESTART"
)

type AchievementReward struct {
	ID          string     `json:"id,omitempty"`
	Type        RewardType `json:"type"`
	TraitName   string     `json:"traitName,omitempty"`
	BoostAmount int        `json:"boostAmount"`
	Active      bool       `json:"active"`
	CreatedAt   Timestamp  `json:"createdAt,omitzero"`
	UpdatedAt   Timestamp  `json:"updatedAt,omitzero"`
	DisplayName string     `json:"displayName,omitempty"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
}

type Achievement struct {
	ID               string              `json:"id,omitempty"`
	Description      string              `json:"description"`
	Reward           string              `json:"reward"`
	DateCompleted    *int64              `json:"dateCompleted,omitempty"` // epoch milliseconds
	Type             AchievementType     `json:"type"`
	Rarity           AchievementRarity   `json:"rarity"`
	Icon             string              `json:"icon,omitempty"`
	Color            string              `json:"color,omitempty"`
	IsCompleted      bool                `json:"isCompleted"`
	IsPending        bool                `json:"isPending,omitempty"`
	PendingRequestID string              `json:"pendingRequestId,omitempty"`
	CreatedAt        Timestamp           `json:"createdAt,omitzero"`
	UpdatedAt        Timestamp           `json:"updatedAt,omitzero"`
	Rewards          []AchievementReward `json:"rewards,omitempty"`
}

// CompletedAt returns DateCompleted as a time, or the zero time.
func (a Achievement) CompletedAt() time.Time {
	if a.DateCompleted == nil {
		return time.Time{}
	}
	return time.UnixMilli(*a.DateCompleted)
}

// AchievementListParams filters GET /achievements. Nil Completed means
// either state.
type AchievementListParams struct {
	Page      int
	Size      int
	Type      AchievementType
	Rarity    AchievementRarity
	Completed *bool
}

// Completion outcomes returned by PATCH /achievements/{id}/complete.
const (
	OutcomeCompleted = "completed"
	OutcomePending   = "pending"
)

// CompletionRequest carries who is completing an achievement.
type CompletionRequest struct {
	AchievementID   string `json:"achievementId,omitempty"`
	UserID          string `json:"userId"`
	UserDisplayName string `json:"userDisplayName"`
	TeamID          string `json:"teamId"`
	TeamName        string `json:"teamName"`
	IsAdmin         bool   `json:"isAdmin"`
	RequestReason   string `json:"requestReason"`
}

// CompletionResponse is either terminal (Status "completed", Achievement
// set) or provisional (Status "pending", RequestID set).
type CompletionResponse struct {
	Achievement *Achievement `json:"achievement,omitempty"`
	RequestID   string       `json:"requestId,omitempty"`
	Status      string       `json:"status"`
	Message     string       `json:"message"`
	Timestamp   int64        `json:"timestamp"`
}

type RewardList struct {
	Rewards       []AchievementReward `json:"rewards"`
	Count         int                 `json:"count"`
	AchievementID string              `json:"achievementId"`
}

type RewardResult struct {
	Reward  AchievementReward `json:"reward"`
	Message string            `json:"message"`
}

// --- Inbox and notifications ---

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

type AchievementRequest struct {
	ID                     string        `json:"id"`
	AchievementID          string        `json:"achievementId"`
	AchievementDescription string        `json:"achievementDescription"`
	UserID                 string        `json:"userId"`
	UserDisplayName        string        `json:"userDisplayName"`
	TeamID                 string        `json:"teamId,omitempty"`
	TeamName               string        `json:"teamName,omitempty"`
	RequestReason          string        `json:"requestReason"`
	Status                 RequestStatus `json:"status"`
	CreatedAt              Timestamp     `json:"createdAt"`
	ReviewedAt             Timestamp     `json:"reviewedAt,omitzero"`
	ReviewedBy             string        `json:"reviewedBy,omitempty"`
}

type PendingRequests struct {
	Requests  []AchievementRequest `json:"requests"`
	Count     int                  `json:"count"`
	Timestamp int64                `json:"timestamp"`
}

type ReviewResult struct {
	Message string             `json:"message"`
	Request AchievementRequest `json:"request"`
}

type InboxStatistics struct {
	PendingRequests  int `json:"pendingRequests"`
	ApprovedRequests int `json:"approvedRequests"`
	RejectedRequests int `json:"rejectedRequests"`
	TotalRequests    int `json:"totalRequests"`
	RecentRequests   int `json:"recentRequests"`
}

type NotificationType string

const (
	NotificationAchievementRequest   NotificationType = "ACHIEVEMENT_REQUEST"
	NotificationAchievementCompleted NotificationType = "ACHIEVEMENT_COMPLETED"
	NotificationAchievementApproved  NotificationType = "ACHIEVEMENT_APPROVED"
	NotificationAchievementRejected  NotificationType = "ACHIEVEMENT_REJECTED"
	NotificationGeneral              NotificationType = "GENERAL"
)

type NotificationData struct {
	AchievementID   string `json:"achievementId,omitempty"`
	AchievementName string `json:"achievementName,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
	UserID          string `json:"userId,omitempty"`
	UserName        string `json:"userName,omitempty"`
	TeamName        string `json:"teamName,omitempty"`
	Action          string `json:"action,omitempty"`
	URL             string `json:"url,omitempty"`
}

type Notification struct {
	ID        string            `json:"id"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	IsRead    bool              `json:"isRead"`
	CreatedAt Timestamp         `json:"createdAt"`
	Data      *NotificationData `json:"data,omitempty"`
}

type NotificationStats struct {
	Total  int                      `json:"total"`
	Unread int                      `json:"unread"`
	ByType map[NotificationType]int `json:"byType"`
}

type NotificationList struct {
	Notifications []Notification    `json:"notifications"`
	Stats         NotificationStats `json:"stats"`
}

// NotificationListParams filters GET /notifications.
type NotificationListParams struct {
	UnreadOnly bool
	Limit      int
	Page       int
}

type InboxCount struct {
	Notifications       int  `json:"notifications"`
	AchievementRequests int  `json:"achievementRequests"`
	Total               int  `json:"total"`
	IsAdmin             bool `json:"isAdmin"`
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

// --- Auth ---

type Role string

const (
	RoleUser         Role = "USER"
	RoleCommissioner Role = "COMMISSIONER"
)

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	SelectedTeamID string    `json:"selectedTeamId,omitempty"`
	SelectedTeam   *Team     `json:"selectedTeam,omitempty"`
	Roles          []Role    `json:"roles,omitempty"`
	IsActive       bool      `json:"isActive,omitempty"`
	CreatedAt      Timestamp `json:"createdAt,omitzero"`
	UpdatedAt      Timestamp `json:"updatedAt,omitzero"`
}

// HasRole reports whether u holds r.
func (u User) HasRole(r Role) bool {
	for _, have := range u.Roles {
		if have == r {
			return true
		}
	}
	return false
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User         User   `json:"user"`
	Token        string `json:"token"`
	SelectedTeam *Team  `json:"selectedTeam,omitempty"`
}
