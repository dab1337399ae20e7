package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) ListNotifications(ctx context.Context, p NotificationListParams) (NotificationList, error) {
	q := url.Values{}
	q.Set("unreadOnly", strconv.FormatBool(p.UnreadOnly))
	setInt(q, "limit", p.Limit)
	setInt(q, "page", p.Page)
	var out NotificationList
	err := c.get(ctx, "/notifications", q, &out)
	return out, err
}

func (c *Client) NotificationStats(ctx context.Context) (NotificationStats, error) {
	var out NotificationStats
	err := c.get(ctx, "/notifications/stats", nil, &out)
	return out, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPatch, "/notifications/"+seg(id)+"/read", nil, nil, &out)
	return out, err
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil, &out)
	return out, err
}

func (c *Client) DeleteNotification(ctx context.Context, id string) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodDelete, "/notifications/"+seg(id), nil, nil, &out)
	return out, err
}

// InboxCount returns the navbar badge counts.
func (c *Client) InboxCount(ctx context.Context) (InboxCount, error) {
	var out InboxCount
	err := c.get(ctx, "/notifications/inbox-count", nil, &out)
	return out, err
}

// --- Commissioner inbox ---

func (c *Client) PendingRequests(ctx context.Context) (PendingRequests, error) {
	var out PendingRequests
	err := c.get(ctx, "/admin/inbox/requests", nil, &out)
	return out, err
}

func (c *Client) ApproveRequest(ctx context.Context, requestID, notes string) (ReviewResult, error) {
	return c.review(ctx, requestID, "approve", notes)
}

func (c *Client) RejectRequest(ctx context.Context, requestID, notes string) (ReviewResult, error) {
	return c.review(ctx, requestID, "reject", notes)
}

func (c *Client) review(ctx context.Context, requestID, action, notes string) (ReviewResult, error) {
	body := struct {
		AdminNotes string `json:"adminNotes"`
	}{notes}
	var out ReviewResult
	err := c.do(ctx, http.MethodPost, "/admin/inbox/requests/"+seg(requestID)+"/"+action, nil, body, &out)
	return out, err
}

func (c *Client) InboxStatistics(ctx context.Context) (InboxStatistics, error) {
	var out InboxStatistics
	err := c.get(ctx, "/admin/inbox/statistics", nil, &out)
	return out, err
}
