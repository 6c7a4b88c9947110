// Package tools holds the MCP tool handlers used to administer a running
// proxy. Every handler talks to the proxy over the control socket.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/sw-cache/internal/control"
	"github.com/leonardcser/sw-cache/internal/web"
)

// Sender delivers one control message; *control.Client implements it.
type Sender interface {
	Send(ctx context.Context, msg control.Message) (*control.Reply, error)
}

type handlerFunc = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// CacheStatusHandler returns the handler for "cache-status".
func CacheStatusHandler(s Sender) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reply, err := s.Send(ctx, control.Message{Type: control.TypeStatus})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatStatus(reply)), nil
	}
}

// CacheClearHandler returns the handler for "cache-clear". With unregister
// set the worker is retired as well.
func CacheClearHandler(s Sender) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg := control.Message{Type: control.TypeForceCacheClear}
		if req.GetBool("unregister", false) {
			msg.Type = control.TypeUnregister
		}
		reply, err := s.Send(ctx, msg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if msg.Type == control.TypeUnregister {
			return mcp.NewToolResultText(fmt.Sprintf("Unregistered; worker is %s. All partitions deleted.", reply.State)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Cleared %d partition(s).", reply.Cleared)), nil
	}
}

// CachedPageHandler returns the handler for "cached-page": it reads one
// cached response and renders it as Markdown.
func CachedPageHandler(s Sender) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reply, err := s.Send(ctx, control.Message{Type: control.TypeGetEntry, URL: url})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if reply.Entry == nil {
			return mcp.NewToolResultError("no entry in reply"), nil
		}
		ps, err := web.RenderEntry(reply.Entry)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Cached in %s at %s (status %d)\n\n", reply.Partition, reply.Entry.StoredAt.Format("2006-01-02 15:04:05 MST"), reply.Entry.Status)
		sb.WriteString(ps.Format())
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func formatStatus(r *control.Reply) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Worker %s, cache version %s\n", r.State, r.Version)
	if len(r.Partitions) == 0 {
		sb.WriteString("No partitions.")
		return sb.String()
	}
	for i, p := range r.Partitions {
		fmt.Fprintf(&sb, "- %s: %d entries", p.Name, p.Entries)
		if !p.Retained {
			sb.WriteString(" (stale)")
		}
		if i < len(r.Partitions)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
