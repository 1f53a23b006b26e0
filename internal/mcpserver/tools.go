package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerTools(srv *server.MCPServer, svc *Service) {
	srv.AddTool(rowsTool(), svc.handleRows)
	srv.AddTool(toggleTool(), svc.handleToggle)
	srv.AddTool(groupTool(), svc.handleGroup)
	srv.AddTool(layoutTool(), svc.handleLayout)
}

func rowsTool() mcp.Tool {
	return mcp.NewTool(
		"grid_rows",
		mcp.WithDescription("Read a window of flattened grid rows, including group headers and summary rows."),
		mcp.WithNumber("start",
			mcp.Description("Index of the first row (default 0)."),
			mcp.Min(0),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of rows to return (default 50)."),
			mcp.Min(1),
			mcp.Max(MaxPage),
		),
	)
}

func (s *Service) handleRows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := request.GetInt("start", 0)
	count := request.GetInt("count", 50)
	rows, total, err := s.Rows(ctx, start, count)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toJSONResult(map[string]any{
		"start": start,
		"total": total,
		"rows":  rows,
	})
}

func toggleTool() mcp.Tool {
	return mcp.NewTool(
		"grid_toggle",
		mcp.WithDescription("Expand or collapse the row at an index."),
		mcp.WithNumber("index",
			mcp.Required(),
			mcp.Description("Row index as returned by grid_rows."),
			mcp.Min(0),
		),
	)
}

func (s *Service) handleToggle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := request.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, total, err := s.Toggle(index)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toJSONResult(map[string]any{
		"row":   r,
		"total": total,
	})
}

func groupTool() mcp.Tool {
	return mcp.NewTool(
		"grid_group",
		mcp.WithDescription("Regroup the grid. Groups are listed outermost first; an empty list removes grouping."),
		mcp.WithArray("groups",
			mcp.Required(),
			mcp.Description("Grouping levels."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"column":           map[string]any{"type": "string"},
					"direction":        map[string]any{"type": "string", "enum": []string{"ascending", "descending"}},
					"default_expanded": map[string]any{"type": "boolean"},
				},
				"required": []string{"column"},
			}),
		),
	)
}

func (s *Service) handleGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Groups []GroupArg `json:"groups"`
	}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	total, err := s.Group(ctx, args.Groups)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toJSONResult(map[string]any{
		"groups": len(args.Groups),
		"total":  total,
	})
}

func layoutTool() mcp.Tool {
	return mcp.NewTool(
		"grid_layout",
		mcp.WithDescription("Return the grouping layout with per-group expansion state."),
		mcp.WithBoolean("save",
			mcp.Description("Also persist the layout to the configured layout file."),
		),
	)
}

func (s *Service) handleLayout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	layout, err := s.Layout(request.GetBool("save", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toJSONResult(layout)
}

func toJSONResult(data any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}
