package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leonardcser/sw-cache/internal/logger"
	"github.com/leonardcser/sw-cache/internal/version"
	"github.com/leonardcser/sw-cache/internal/web"
	"github.com/leonardcser/sw-cache/internal/worker"
)

// Handler dispatches control messages to the worker and its helpers. Warmer
// and Checker are optional; messages that need a missing one fail.
type Handler struct {
	Worker    *worker.Worker
	Warmer    *web.Warmer
	Checker   *version.Checker
	WarmDepth int
}

func (h *Handler) Handle(ctx context.Context, msg Message) Reply {
	switch msg.Type {
	case TypeForceCacheClear:
		n, err := h.Worker.ClearAll(ctx)
		if err != nil {
			return failure(err)
		}
		return Reply{Success: true, Cleared: n}
	case TypeUnregister:
		if err := h.Worker.Unregister(ctx); err != nil {
			return failure(err)
		}
		return Reply{Success: true, State: h.Worker.State()}
	case TypeStatus:
		stats, err := h.Worker.Stats(ctx)
		if err != nil {
			return failure(err)
		}
		return Reply{
			Success:    true,
			State:      h.Worker.State(),
			Version:    h.Worker.Context().Version,
			Partitions: stats,
		}
	case TypeGetEntry:
		if msg.URL == "" {
			return failure(errors.New("url is required"))
		}
		e, p, err := h.Worker.Entry(ctx, msg.URL)
		if err != nil {
			return failure(err)
		}
		return Reply{Success: true, Entry: e, Partition: p}
	case TypeWarm:
		if h.Warmer == nil {
			return failure(errors.New("warming is not configured"))
		}
		start := msg.URL
		if start == "" {
			start = "/"
		}
		depth := msg.Depth
		if depth <= 0 {
			depth = h.WarmDepth
		}
		res, err := h.Warmer.Warm(ctx, start, depth)
		if err != nil {
			return failure(err)
		}
		return Reply{Success: true, Warmed: res}
	case TypeCheckVersion:
		res, err := h.CheckVersion(ctx)
		if err != nil {
			return failure(err)
		}
		return Reply{Success: true, Check: res}
	default:
		return failure(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// CheckVersion polls version.json. A force decision clears every partition.
func (h *Handler) CheckVersion(ctx context.Context) (*version.Result, error) {
	if h.Checker == nil {
		return nil, errors.New("version checks are not configured")
	}
	res, err := h.Checker.Check(ctx)
	if err != nil {
		return nil, err
	}
	if res.Remote.CacheVersion != "" && res.Remote.CacheVersion != h.Worker.Context().Version {
		logger.Warnf("deployed cache version %s differs from running %s", res.Remote.CacheVersion, h.Worker.Context().Version)
	}
	switch res.Decision {
	case version.Force:
		logger.Infof("forced update to %s, clearing caches", res.Remote.Version)
		if _, err := h.Worker.ClearAll(ctx); err != nil {
			return res, err
		}
	case version.Prompt:
		logger.Infof("update available: %s", res.Remote.Version)
	}
	return res, nil
}

// PollVersion runs CheckVersion every interval until ctx is done.
func (h *Handler) PollVersion(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := h.CheckVersion(ctx); err != nil {
				logger.Warnf("version check: %v", err)
			}
		}
	}
}
