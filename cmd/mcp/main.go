package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/sw-cache/internal/config"
	"github.com/leonardcser/sw-cache/internal/control"
	"github.com/leonardcser/sw-cache/internal/logger"
	"github.com/leonardcser/sw-cache/internal/tools"
)

const serverBinary = "sw-cache-server"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting sw-cache MCP server")

	// Connect to the proxy; start it if needed, then connect.
	sock := config.DefaultSocketPath()
	logger.Infof("Attempting to connect to proxy at %s", sock)
	client := control.NewClient(sock)
	if err := client.Probe(); err != nil {
		logger.Warnf("Failed to connect to proxy: %v, attempting to start it", err)
		if startErr := startServer(); startErr != nil {
			logger.Errorf("Failed to start proxy: %v", startErr)
		} else {
			logger.Infof("Proxy started")
		}
		// wait for socket to appear
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if err = client.Probe(); err == nil {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if err != nil {
			// Tools report the dial error per call; keep serving.
			logger.Errorf("Proxy not reachable after startup attempt: %v", err)
		}
	}

	s := server.NewMCPServer(
		"sw-cache",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("cache-status",
		mcp.WithDescription(multiline(
			"Shows the proxy's worker state, its cache version and every cache partition with its entry count",
			"\nUsage notes:",
			"- Partitions marked stale belong to an older version and are deleted on the next activation",
			"- This tool is read-only",
		)),
	), tools.CacheStatusHandler(client))

	s.AddTool(mcp.NewTool("cache-clear",
		mcp.WithDescription(multiline(
			"Deletes every cache partition regardless of version",
			"\nUsage notes:",
			"- The next request for any URL goes to the network",
			"- With unregister set the worker is retired too and all traffic is network-only until the proxy installs it again",
		)),
		mcp.WithBoolean("unregister", mcp.Description("Also retire the worker")),
	), tools.CacheClearHandler(client))

	s.AddTool(mcp.NewTool("cached-page",
		mcp.WithDescription(multiline(
			"Returns the cached copy of a URL, with HTML rendered as Markdown",
			"\nUsage notes:",
			"- The URL may be absolute or relative to the site origin, e.g. /articles/hello",
			"- Only GET responses are cached; the lookup never touches the network",
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL to look up")),
	), tools.CachedPageHandler(client))

	s.AddTool(mcp.NewTool("warm-pages",
		mcp.WithDescription(multiline(
			"Crawls the site from a start page and stores every page and asset it visits in the cache",
			"\nUsage notes:",
			"- Only links on the site origin are followed",
			"- Requests are spaced out to stay polite to the origin",
		)),
		mcp.WithString("url", mcp.Description("Start page, relative to the site origin (default /)")),
		mcp.WithNumber("depth", mcp.Description("How many link levels to follow (default from SW_CACHE_WARM_DEPTH)")),
	), tools.WarmPagesHandler(client))

	s.AddTool(mcp.NewTool("version-check",
		mcp.WithDescription(multiline(
			"Fetches the deployed version.json and compares it with the last one seen",
			"\nUsage notes:",
			"- A raised forceUpdateVersion clears every cache partition",
			"- A newer buildTime only reports that an update is available",
		)),
	), tools.VersionCheckHandler(client))

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

func startServer() error {
	// Next to this executable first, then PATH, then the working directory.
	candidates := []string{}
	if exePath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exePath), serverBinary))
	}
	if path, err := exec.LookPath(serverBinary); err == nil {
		candidates = append(candidates, path)
	}
	candidates = append(candidates, "./"+serverBinary)

	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		cmd := exec.Command(c)
		cmd.Stdout = nil
		cmd.Stderr = nil
		cmd.Env = os.Environ()
		return cmd.Start()
	}
	return exec.ErrNotFound
}
