package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/halver/nudge/internal/storage"
	"github.com/halver/nudge/internal/suggest"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine Engine
	Store  *storage.Store
	Feed   *Feed
}

// NewMCPServer creates an MCP server exposing the engine's activity context
// to local agents: the trajectory, the trigger state, recent sites, and any
// suggestions waiting for the UI.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nudge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nudge — local browsing-context daemon. Query the current trajectory, trigger state, and suggested tasks."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_trajectory",
			mcp.WithDescription("Return the current browsing trajectory, most recent last."),
			mcp.WithBoolean("rendered", mcp.Description("Return the human-readable summary instead of JSON entries")),
		),
		mcpGetTrajectory(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_status",
			mcp.WithDescription("Return the suggestion trigger engine's state and budget counters as JSON."),
		),
		mcpTriggerStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_recent_sites",
			mcp.WithDescription("List sites the user dwelled on, most recently visited first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListRecentSites(deps),
	)

	s.AddTool(
		mcp.NewTool("pending_suggestions",
			mcp.WithDescription("Return suggestion batches waiting for the UI, without consuming them."),
		),
		mcpPendingSuggestions(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"nudge://status",
			"Engine Status",
			mcp.WithResourceDescription("Current trigger engine snapshot as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpGetTrajectory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.GetBool("rendered", false) {
			return mcpText(deps.Engine.TrajectoryText()), nil
		}

		entries := deps.Engine.Trajectory()
		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal trajectory: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTriggerStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Engine.Status())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListRecentSites(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		sites, err := deps.Store.ListRecentSites(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list recent sites: %v", err)), nil
		}

		if len(sites) == 0 {
			return mcpText("[]"), nil
		}

		type siteResult struct {
			URL           string `json:"url"`
			Title         string `json:"title"`
			Domain        string `json:"domain"`
			Category      string `json:"category"`
			VisitCount    int    `json:"visit_count"`
			LastVisitedAt string `json:"last_visited_at"`
		}

		results := make([]siteResult, len(sites))
		for i, site := range sites {
			results[i] = siteResult{
				URL:           site.URL,
				Title:         site.Title,
				Domain:        site.Domain,
				Category:      site.Category,
				VisitCount:    site.VisitCount,
				LastVisitedAt: site.LastVisitedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPendingSuggestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		batches := deps.Feed.Peek()
		if batches == nil {
			batches = []suggest.Batch{}
		}

		b, err := json.Marshal(batches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal batches: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Engine.Status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
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
