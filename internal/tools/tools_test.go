package tools

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/sw-cache/internal/cache"
	"github.com/leonardcser/sw-cache/internal/control"
	"github.com/leonardcser/sw-cache/internal/version"
	"github.com/leonardcser/sw-cache/internal/web"
	"github.com/leonardcser/sw-cache/internal/worker"
)

type fakeSender struct {
	got   []control.Message
	reply *control.Reply
	err   error
}

func (f *fakeSender) Send(_ context.Context, msg control.Message) (*control.Reply, error) {
	f.got = append(f.got, msg)
	return f.reply, f.err
}

func call(t *testing.T, h handlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestCacheStatus(t *testing.T) {
	s := &fakeSender{reply: &control.Reply{
		Success: true,
		State:   worker.StateActivated,
		Version: "v2",
		Partitions: []worker.PartitionStat{
			{Name: "static-cache-v2", Entries: 5, Retained: true},
			{Name: "api-cache-v1", Entries: 3},
		},
	}}
	res := call(t, CacheStatusHandler(s), nil)
	assert.False(t, res.IsError)
	assert.Equal(t, "Worker activated, cache version v2\n- static-cache-v2: 5 entries\n- api-cache-v1: 3 entries (stale)", text(t, res))
	assert.Equal(t, control.TypeStatus, s.got[0].Type)
}

func TestCacheClear(t *testing.T) {
	s := &fakeSender{reply: &control.Reply{Success: true, Cleared: 4}}
	res := call(t, CacheClearHandler(s), nil)
	assert.Equal(t, "Cleared 4 partition(s).", text(t, res))
	assert.Equal(t, control.TypeForceCacheClear, s.got[0].Type)

	s.reply = &control.Reply{Success: true, State: worker.StateRedundant}
	res = call(t, CacheClearHandler(s), map[string]any{"unregister": true})
	assert.Contains(t, text(t, res), "redundant")
	assert.Equal(t, control.TypeUnregister, s.got[1].Type)
}

func TestCachedPage(t *testing.T) {
	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &fakeSender{reply: &control.Reply{
		Success:   true,
		Partition: "misc-cache-v1",
		Entry: &cache.Entry{
			Method:   http.MethodGet,
			URL:      "https://blog.example.com/diary",
			Status:   http.StatusOK,
			Header:   http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:     []byte(`<html><head><title>Diary</title></head><body><nav>menu</nav><h1>Day one</h1></body></html>`),
			StoredAt: stored,
		},
	}}
	res := call(t, CachedPageHandler(s), map[string]any{"url": "/diary"})
	out := text(t, res)
	assert.Contains(t, out, "Cached in misc-cache-v1 at 2026-03-01 12:00:00 UTC (status 200)")
	assert.Contains(t, out, "# Diary")
	assert.Contains(t, out, "Day one")
	assert.NotContains(t, out, "menu")
	assert.Equal(t, "/diary", s.got[0].URL)
}

func TestCachedPageRequiresURL(t *testing.T) {
	s := &fakeSender{}
	res := call(t, CachedPageHandler(s), nil)
	assert.True(t, res.IsError)
	assert.Empty(t, s.got)
}

func TestSendErrorsBecomeToolErrors(t *testing.T) {
	s := &fakeSender{err: errors.New("dial unix: no such file")}
	for name, h := range map[string]handlerFunc{
		"status":  CacheStatusHandler(s),
		"clear":   CacheClearHandler(s),
		"warm":    WarmPagesHandler(s),
		"version": VersionCheckHandler(s),
	} {
		res := call(t, h, nil)
		assert.True(t, res.IsError, name)
		assert.Contains(t, text(t, res), "no such file", name)
	}
}

func TestWarmPages(t *testing.T) {
	s := &fakeSender{reply: &control.Reply{Success: true, Warmed: &web.WarmResult{
		Visited: 3, Stored: 2, Failed: []string{"https://blog.example.com/broken: 500"},
	}}}
	res := call(t, WarmPagesHandler(s), map[string]any{"url": "/articles", "depth": 2})
	assert.Equal(t, "Warmed from /articles: 3 visited, 2 stored, 1 failed:\n- https://blog.example.com/broken: 500", text(t, res))
	assert.Equal(t, control.Message{Type: control.TypeWarm, URL: "/articles", Depth: 2}, s.got[0])
}

func TestWarmPagesDefaults(t *testing.T) {
	s := &fakeSender{reply: &control.Reply{Success: true, Warmed: &web.WarmResult{Visited: 1, Stored: 1}}}
	res := call(t, WarmPagesHandler(s), nil)
	assert.Equal(t, "Warmed from /: 1 visited, 1 stored", text(t, res))
	assert.Equal(t, control.Message{Type: control.TypeWarm, URL: "/"}, s.got[0])
}

func TestFormatCheck(t *testing.T) {
	assert.Equal(t, "No version information.", formatCheck(nil))
	assert.Equal(t, "Deployed 1.4.0 (abc123 on main), built 2026-03-01\nForced update: all caches were cleared.", formatCheck(&version.Result{
		Decision: version.Force,
		Remote:   version.Info{Version: "1.4.0", GitHash: "abc123", GitBranch: "main", BuildDate: "2026-03-01"},
	}))
	assert.Equal(t, "Deployed 1.4.1\nUpdate available: clients should reload.", formatCheck(&version.Result{
		Decision: version.Prompt,
		Remote:   version.Info{Version: "1.4.1"},
	}))
	assert.Equal(t, "Deployed 1.4.1\nUp to date.", formatCheck(&version.Result{Decision: version.None, Remote: version.Info{Version: "1.4.1"}}))
}
