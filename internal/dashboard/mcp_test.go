package dashboard

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/dynasty/internal/app/apptest"
	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/pending"
)

func mcpSetup(t *testing.T, username string) (MCPDeps, *apptest.Backend) {
	t.Helper()
	_, a, b := setupHandler(t)
	if username != "" {
		if _, err := a.Session.Login(context.Background(), username, apptest.Password); err != nil {
			t.Fatalf("login: %v", err)
		}
	}
	return MCPDeps{App: a, Version: "test"}, b
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := mcpSetup(t, "")
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPStandings(t *testing.T) {
	deps, _ := mcpSetup(t, "coach")

	result, err := mcpStandings(deps)(context.Background(), makeCallToolRequest("standings", map[string]interface{}{
		"year": float64(2025),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var got []client.Standing
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding standings: %v", err)
	}
	if len(got) != 2 || got[0].Team.Name != "Oregon" {
		t.Errorf("standings = %+v", got)
	}
}

func TestMCPStandingsSignedOut(t *testing.T) {
	deps, _ := mcpSetup(t, "")

	result, err := mcpStandings(deps)(context.Background(), makeCallToolRequest("standings", map[string]interface{}{
		"year": float64(2025),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error without a session")
	}
}

func TestMCPCompleteAchievement(t *testing.T) {
	deps, _ := mcpSetup(t, "coach")
	handler := mcpCompleteAchievement(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("complete_achievement", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error for missing id")
	}

	result, err := handler(context.Background(), makeCallToolRequest("complete_achievement", map[string]interface{}{
		"id": "a1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "submitted for approval (request r-a1)") {
		t.Errorf("text = %q", text)
	}
	if !deps.App.Ledger.IsPending("a1") {
		t.Error("a1 not recorded as pending")
	}
}

func TestMCPCommissionerCompletesDirectly(t *testing.T) {
	deps, _ := mcpSetup(t, "commish")

	result, _ := mcpCompleteAchievement(deps)(context.Background(), makeCallToolRequest("complete_achievement", map[string]interface{}{
		"id": "a2",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "Achievement a2 completed" {
		t.Errorf("text = %q", text)
	}
	if deps.App.Ledger.Len() != 0 {
		t.Errorf("ledger has %d entries, want 0", deps.App.Ledger.Len())
	}
}

func TestMCPReviewRequest(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		args    map[string]interface{}
		wantErr bool
		want    string
	}{
		{"missing id", "commish", map[string]interface{}{"action": "approve"}, true, "id is required"},
		{"missing action", "commish", map[string]interface{}{"id": "r7"}, true, "action is required"},
		{"unknown action", "commish", map[string]interface{}{"id": "r7", "action": "defer"}, true, "unknown action"},
		{"player", "coach", map[string]interface{}{"id": "r7", "action": "approve"}, true, "commissioner role required"},
		{"approve", "commish", map[string]interface{}{"id": "r7", "action": "approve", "notes": "earned"}, false, "Request approved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := mcpSetup(t, tt.user)
			result, err := mcpReviewRequest(deps)(context.Background(), makeCallToolRequest("review_request", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.IsError != tt.wantErr {
				t.Fatalf("IsError = %v, want %v (%s)", result.IsError, tt.wantErr, toolText(t, result))
			}
			if text := toolText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want it to contain %q", text, tt.want)
			}
		})
	}
}

func TestMCPPendingResource(t *testing.T) {
	deps, _ := mcpSetup(t, "coach")
	read := mcpResourcePending(deps)
	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "dynasty://pending"}}

	contents, err := read(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := contents[0].(mcp.TextResourceContents).Text; text != "[]" {
		t.Errorf("empty ledger = %s, want []", text)
	}

	deps.App.Ledger.Add("a2", "r-a2")
	contents, err = read(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entries []pending.Entry
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &entries); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(entries) != 1 || entries[0] != (pending.Entry{AchievementID: "a2", RequestID: "r-a2"}) {
		t.Errorf("entries = %+v", entries)
	}
}

func TestMCPSessionResource(t *testing.T) {
	deps, _ := mcpSetup(t, "commish")
	contents, err := mcpResourceSession(deps)(context.Background(), mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "dynasty://session"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s sessionView
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &s); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !s.Authenticated || !s.Commissioner {
		t.Errorf("session = %+v", s)
	}
}
