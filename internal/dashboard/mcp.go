package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dynasty/internal/app"
	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/pending"
	"github.com/kalambet/dynasty/internal/query"
	"github.com/kalambet/dynasty/internal/resource"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	App     *app.App
	Version string
}

// NewMCPServer creates an MCP server exposing the dashboard as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"dynasty",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dynasty: standings, schedule, achievements and notifications of a college football dynasty league."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("standings",
			mcp.WithDescription("List the league standings for a season."),
			mcp.WithNumber("year", mcp.Description("Season year (default: current season)")),
			mcp.WithString("conference", mcp.Description("Only teams of this conference")),
		),
		mcpStandings(deps),
	)

	s.AddTool(
		mcp.NewTool("schedule",
			mcp.WithDescription("List the games of a week, or of one team."),
			mcp.WithNumber("week", mcp.Description("Week number (default: current week)")),
			mcp.WithString("team", mcp.Description("Team ID; restricts the schedule to that team")),
		),
		mcpSchedule(deps),
	)

	s.AddTool(
		mcp.NewTool("achievements",
			mcp.WithDescription("List achievements with their completion state for the signed-in user."),
			mcp.WithString("type", mcp.Description("WINS, SEASON, CHAMPIONSHIP, STATISTICS or GENERAL")),
			mcp.WithString("rarity", mcp.Description("COMMON, UNCOMMON, RARE, EPIC or LEGENDARY")),
			mcp.WithString("completed", mcp.Description("true or false; omit for both")),
		),
		mcpAchievements(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_achievement",
			mcp.WithDescription("Complete an achievement. Non-commissioners get a pending request awaiting review."),
			mcp.WithString("id", mcp.Description("Achievement ID"), mcp.Required()),
			mcp.WithString("reason", mcp.Description("Reason shown to the commissioner; submits a review request")),
		),
		mcpCompleteAchievement(deps),
	)

	s.AddTool(
		mcp.NewTool("notifications",
			mcp.WithDescription("Show the notification feed, including pending requests for commissioners."),
		),
		mcpNotifications(deps),
	)

	s.AddTool(
		mcp.NewTool("review_request",
			mcp.WithDescription("Approve or reject a pending achievement request (commissioners only)."),
			mcp.WithString("id", mcp.Description("Request ID"), mcp.Required()),
			mcp.WithString("action", mcp.Description("approve or reject"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Notes for the requester")),
		),
		mcpReviewRequest(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dynasty://session",
			"Session",
			mcp.WithResourceDescription("Signed-in user and selected team"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dynasty://pending",
			"Pending Achievements",
			mcp.WithResourceDescription("Achievements completed on this device and awaiting approval"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpStandings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := deps.App
		year, err := mcpYear(ctx, a, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		f := resource.StandingFilter{Year: year, Conference: req.GetString("conference", ""), Size: 200}
		res, err := query.Fetch(ctx, a.Cache, a.Standings.List(f))
		if err != nil {
			return mcpError(fmt.Sprintf("standings failed: %v", err)), nil
		}
		return mcpJSON(res.Data.Content)
	}
}

func mcpYear(ctx context.Context, a *app.App, req mcp.CallToolRequest) (int, error) {
	if y := req.GetInt("year", 0); y > 0 {
		return y, nil
	}
	cur, err := query.Fetch(ctx, a.Cache, a.Schedule.CurrentWeek())
	if err != nil {
		return 0, fmt.Errorf("resolving current season: %v", err)
	}
	return cur.Data.Year, nil
}

func mcpSchedule(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := deps.App
		year, err := mcpYear(ctx, a, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		p := resource.ScheduleParams{
			Year:       year,
			WeekNumber: req.GetInt("week", 0),
			TeamID:     req.GetString("team", ""),
			TeamView:   resource.ViewAll,
		}
		if p.TeamID != "" {
			p.TeamView = resource.ViewSelected
		}
		v := a.Schedule.View(p)
		defer v.Close()
		res, err := v.Wait(ctx)
		if err == nil && !res.HasData {
			err = res.Err
		}
		if err != nil {
			return mcpError(fmt.Sprintf("schedule failed: %v", err)), nil
		}
		if res.Games == nil {
			res.Games = []client.Game{}
		}
		return mcpJSON(res.Games)
	}
}

func mcpAchievements(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := deps.App
		f := resource.AchievementFilter{
			Size:   100,
			Type:   client.AchievementType(req.GetString("type", "")),
			Rarity: client.AchievementRarity(req.GetString("rarity", "")),
		}
		if c, err := strconv.ParseBool(req.GetString("completed", "")); err == nil {
			f.Completed = &c
		}
		page, err := a.AchievementPage(ctx, f)
		if err != nil {
			return mcpError(fmt.Sprintf("achievements failed: %v", err)), nil
		}

		type achievementResult struct {
			ID          string `json:"id"`
			Description string `json:"description"`
			Type        string `json:"type"`
			Rarity      string `json:"rarity"`
			Reward      string `json:"reward,omitempty"`
			State       string `json:"state"`
		}
		results := make([]achievementResult, len(page.Content))
		for i, ach := range page.Content {
			results[i] = achievementResult{
				ID:          ach.ID,
				Description: ach.Description,
				Type:        string(ach.Type),
				Rarity:      string(ach.Rarity),
				Reward:      ach.Reward,
				State:       a.Ledger.DisplayState(ach).String(),
			}
		}
		return mcpJSON(results)
	}
}

func mcpCompleteAchievement(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		a := deps.App

		var res resource.CompletionResult
		if reason := req.GetString("reason", ""); reason != "" {
			res, err = a.Achievements.Request.Do(ctx, resource.CompletionInput{AchievementID: id, Reason: reason})
		} else {
			res, err = a.Achievements.Complete.Do(ctx, id)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("completion failed: %v", err)), nil
		}
		if res.Pending() {
			return mcpText(fmt.Sprintf("Achievement %s submitted for approval (request %s)", id, res.RequestID)), nil
		}
		return mcpText(fmt.Sprintf("Achievement %s completed", id)), nil
	}
}

func mcpNotifications(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		inbox := deps.App.Inbox
		if err := inbox.Wait(ctx); err != nil {
			return mcpError(fmt.Sprintf("notifications failed: %v", err)), nil
		}
		return mcpJSON(inbox.State())
	}
}

func mcpReviewRequest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}
		notes := req.GetString("notes", "")

		inbox := deps.App.Inbox
		var res client.ReviewResult
		switch action {
		case "approve":
			res, err = inbox.Approve(ctx, id, notes)
		case "reject":
			res, err = inbox.Reject(ctx, id, notes)
		default:
			return mcpError(fmt.Sprintf("unknown action %q: want approve or reject", action)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("review failed: %v", err)), nil
		}
		return mcpText(res.Message), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(viewSession(deps.App.Session.Snapshot()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries := deps.App.Ledger.All()
		if entries == nil {
			entries = []pending.Entry{}
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pending achievements: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
