// Package strategy implements the read/write policies applied once a request
// has been classified: network-first with cache fallback, cache-first and
// network-only.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/leonardcser/sw-cache/internal/cache"
	"github.com/leonardcser/sw-cache/internal/logger"
)

// Kind names a strategy.
type Kind string

const (
	NetworkFirst Kind = "network-first"
	CacheFirst   Kind = "cache-first"
	NetworkOnly  Kind = "network-only"
)

type Options struct {
	// WriteTimeout bounds each background cache write.
	WriteTimeout time.Duration
	// MaxEntryBytes skips caching bodies larger than this; <= 0 means no limit.
	MaxEntryBytes int64
}

// Router executes strategies against a partition store. Cache writes that
// follow a network response run in the background and never delay or fail the
// response.
type Router struct {
	store   cache.Store
	fetcher Fetcher
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

func NewRouter(store cache.Store, fetcher Fetcher, opts Options) *Router {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	rt := &Router{store: store, fetcher: fetcher, opts: opts, now: time.Now}
	rt.idle = sync.NewCond(&rt.mu)
	return rt
}

// Execute runs kind for req. Only NetworkOnly can return an error.
func (rt *Router) Execute(ctx context.Context, kind Kind, req *Request, partition string) (*Response, error) {
	switch kind {
	case NetworkFirst:
		return rt.NetworkFirst(ctx, req, partition), nil
	case CacheFirst:
		return rt.CacheFirst(ctx, req, partition), nil
	case NetworkOnly:
		return rt.NetworkOnly(ctx, req)
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

// NetworkFirst returns the live response when the network answers, storing ok
// GET responses in the background. When the network fails it answers from the
// partition, or with a synthesized 503. Range requests never touch the
// partition.
func (rt *Router) NetworkFirst(ctx context.Context, req *Request, partition string) *Response {
	resp, err := rt.fetcher.Fetch(ctx, req)
	if err == nil {
		rt.storeAsync(ctx, partition, req, resp)
		return resp
	}
	logger.Debugf("network-first: %s failed: %v", req.URL, err)
	if cached, ok := rt.Lookup(ctx, partition, req); ok {
		return cached
	}
	return synthesize(http.StatusServiceUnavailable, "Service Unavailable: offline and no cached copy")
}

// CacheFirst answers from the partition without touching the network when it
// can. On a miss it fetches and stores ok GET responses in the background; a
// failed fetch yields a synthesized 404. Range requests always go to the
// network.
func (rt *Router) CacheFirst(ctx context.Context, req *Request, partition string) *Response {
	if cached, ok := rt.Lookup(ctx, partition, req); ok {
		return cached
	}
	resp, err := rt.fetcher.Fetch(ctx, req)
	if err != nil {
		logger.Debugf("cache-first: %s failed: %v", req.URL, err)
		return synthesize(http.StatusNotFound, "Not Found: offline and no cached copy")
	}
	rt.storeAsync(ctx, partition, req, resp)
	return resp
}

// NetworkOnly propagates the network result unchanged.
func (rt *Router) NetworkOnly(ctx context.Context, req *Request) (*Response, error) {
	return rt.fetcher.Fetch(ctx, req)
}

// Lookup reads req from partition. Store failures count as a miss.
func (rt *Router) Lookup(ctx context.Context, partition string, req *Request) (*Response, bool) {
	if req.Method != http.MethodGet || req.Ranged() {
		return nil, false
	}
	e, err := rt.store.Get(ctx, partition, req.Key())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrExpired) {
			logger.Warnf("cache read %s in %s: %v", req.Key(), partition, err)
		}
		return nil, false
	}
	return fromEntry(e), true
}

// Cacheable reports whether resp to req may be written to a partition. Entries
// are shared by every client, so partial content and responses that are
// private to one visitor are refused.
func (rt *Router) Cacheable(req *Request, resp *Response) bool {
	if req.Method != http.MethodGet || req.Ranged() || resp == nil || resp.FromCache || resp.Synthetic {
		return false
	}
	if !resp.OK() || resp.Status == http.StatusPartialContent {
		return false
	}
	if !shareable(resp.Header) {
		return false
	}
	return rt.opts.MaxEntryBytes <= 0 || int64(len(resp.Body)) <= rt.opts.MaxEntryBytes
}

func shareable(h http.Header) bool {
	if len(h.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range h.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "no-store" || d == "private" || strings.HasPrefix(d, "private=") {
				return false
			}
		}
	}
	for _, v := range h.Values("Vary") {
		for _, f := range strings.Split(v, ",") {
			if strings.TrimSpace(f) == "*" {
				return false
			}
		}
	}
	return true
}

// Store writes resp synchronously. It returns false without error when the
// response is not cacheable.
func (rt *Router) Store(ctx context.Context, partition string, req *Request, resp *Response) (bool, error) {
	if !rt.Cacheable(req, resp) {
		return false, nil
	}
	if err := rt.store.Put(ctx, partition, req.Key(), rt.snapshot(req, resp), 0); err != nil {
		return false, err
	}
	return true, nil
}

// Wait blocks until every background write has finished. It is safe to call
// while requests are still being served; writes started meanwhile are waited
// for too.
func (rt *Router) Wait() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for rt.pending > 0 {
		rt.idle.Wait()
	}
}

func (rt *Router) writeDone() {
	rt.mu.Lock()
	rt.pending--
	if rt.pending == 0 {
		rt.idle.Broadcast()
	}
	rt.mu.Unlock()
}

func (rt *Router) storeAsync(ctx context.Context, partition string, req *Request, resp *Response) {
	if !rt.Cacheable(req, resp) {
		return
	}
	entry := rt.snapshot(req, resp)
	key := req.Key()
	// The write outlives the request, so detach it from the caller's cancellation.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.opts.WriteTimeout)
	rt.mu.Lock()
	rt.pending++
	rt.mu.Unlock()
	go func() {
		defer rt.writeDone()
		defer cancel()
		if err := rt.store.Put(wctx, partition, key, entry, 0); err != nil {
			logger.Warnf("cache write %s in %s: %v", key, partition, err)
		}
	}()
}

func (rt *Router) snapshot(req *Request, resp *Response) *cache.Entry {
	e := &cache.Entry{
		Method:   req.Method,
		URL:      req.URL.String(),
		Status:   resp.Status,
		Header:   resp.Header.Clone(),
		Body:     append([]byte(nil), resp.Body...),
		StoredAt: rt.now().UTC(),
	}
	if e.Header != nil {
		e.Header.Del(HeaderServedFromCache)
		e.Header.Del("Set-Cookie")
	}
	return e
}
