package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/sw-cache/internal/control"
	"github.com/leonardcser/sw-cache/internal/version"
	"github.com/leonardcser/sw-cache/internal/web"
)

// WarmPagesHandler returns the handler for "warm-pages".
func WarmPagesHandler(s Sender) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg := control.Message{
			Type:  control.TypeWarm,
			URL:   req.GetString("url", "/"),
			Depth: req.GetInt("depth", 0),
		}
		reply, err := s.Send(ctx, msg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatWarm(msg.URL, reply.Warmed)), nil
	}
}

// VersionCheckHandler returns the handler for "version-check".
func VersionCheckHandler(s Sender) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reply, err := s.Send(ctx, control.Message{Type: control.TypeCheckVersion})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatCheck(reply.Check)), nil
	}
}

func formatWarm(start string, res *web.WarmResult) string {
	if res == nil {
		return "Nothing warmed."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Warmed from %s: %d visited, %d stored", start, res.Visited, res.Stored)
	if len(res.Failed) > 0 {
		fmt.Fprintf(&sb, ", %d failed:", len(res.Failed))
		for _, f := range res.Failed {
			sb.WriteString("\n- ")
			sb.WriteString(f)
		}
	}
	return sb.String()
}

func formatCheck(res *version.Result) string {
	if res == nil {
		return "No version information."
	}
	r := res.Remote
	var sb strings.Builder
	fmt.Fprintf(&sb, "Deployed %s", r.Version)
	if r.GitHash != "" {
		fmt.Fprintf(&sb, " (%s", r.GitHash)
		if r.GitBranch != "" {
			fmt.Fprintf(&sb, " on %s", r.GitBranch)
		}
		sb.WriteString(")")
	}
	if r.BuildDate != "" {
		fmt.Fprintf(&sb, ", built %s", r.BuildDate)
	}
	sb.WriteString("\n")
	switch res.Decision {
	case version.Force:
		sb.WriteString("Forced update: all caches were cleared.")
	case version.Prompt:
		sb.WriteString("Update available: clients should reload.")
	default:
		sb.WriteString("Up to date.")
	}
	return sb.String()
}
