package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/dynasty/internal/client"
)

// Origin tells where a feed item came from.
type Origin int

const (
	// OriginServer items are notifications stored by the server.
	OriginServer Origin = iota
	// OriginRequest items are projected from pending achievement requests.
	// They exist only in the feed and are never sent back to the server.
	OriginRequest
)

func (o Origin) String() string {
	if o == OriginRequest {
		return "request"
	}
	return "server"
}

// MarshalText lets Origin appear as a string in JSON.
func (o Origin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// InboxURL is where request items link to.
const InboxURL = "/admin/inbox"

// FeedItem is one entry of the merged feed. Request is set only for
// OriginRequest items.
type FeedItem struct {
	Origin       Origin                     `json:"origin"`
	Notification client.Notification        `json:"notification"`
	Request      *client.AchievementRequest `json:"request,omitempty"`
}

func (it FeedItem) ID() string           { return it.Notification.ID }
func (it FeedItem) CreatedAt() time.Time { return it.Notification.CreatedAt.Time }

// requestItem projects a pending request into a notification-shaped item.
func requestItem(r client.AchievementRequest) FeedItem {
	req := r
	return FeedItem{
		Origin:  OriginRequest,
		Request: &req,
		Notification: client.Notification{
			ID:        r.ID,
			Type:      client.NotificationAchievementRequest,
			Title:     "Achievement Request",
			Message:   fmt.Sprintf("%s requested completion of \"%s\"", r.UserDisplayName, r.AchievementDescription),
			IsRead:    false,
			CreatedAt: r.CreatedAt,
			Data: &client.NotificationData{
				RequestID:       r.ID,
				AchievementID:   r.AchievementID,
				AchievementName: r.AchievementDescription,
				UserID:          r.UserID,
				UserName:        r.UserDisplayName,
				TeamName:        r.TeamName,
				URL:             InboxURL,
			},
		},
	}
}

// MergeFeed combines server notifications with, for commissioners, the
// pending requests, newest first. Items with equal timestamps keep their
// input order, server notifications before requests. The inputs are not
// modified.
func MergeFeed(notifications []client.Notification, requests []client.AchievementRequest, commissioner bool) []FeedItem {
	feed := make([]FeedItem, 0, len(notifications)+len(requests))
	for _, n := range notifications {
		feed = append(feed, FeedItem{Origin: OriginServer, Notification: n})
	}
	if commissioner {
		for _, r := range requests {
			feed = append(feed, requestItem(r))
		}
	}
	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].CreatedAt().After(feed[j].CreatedAt())
	})
	return feed
}
