// Package worker holds the lifecycle controller: install (pre-warm the static
// partition), activate (purge stale partitions and start intercepting), and the
// forced invalidation messages. Handle is the fetch event entry point.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leonardcser/sw-cache/internal/cache"
	"github.com/leonardcser/sw-cache/internal/classify"
	"github.com/leonardcser/sw-cache/internal/logger"
	"github.com/leonardcser/sw-cache/internal/strategy"
)

type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var ErrBadState = errors.New("worker: invalid state transition")

// DiscoverFunc extracts same-origin asset URLs from an HTML page.
type DiscoverFunc func(base *url.URL, html []byte) []*url.URL

type Options struct {
	// Precache is the install manifest, as origin-relative paths.
	Precache []string
	// OfflinePath is served from the static partition when a navigation fails
	// with nothing cached. Empty disables the fallback.
	OfflinePath string
	// Discover, when set, finds extra static assets on the home page during
	// install. Its results are best effort.
	Discover DiscoverFunc
}

type Worker struct {
	wctx       *Context
	classifier *classify.Classifier
	router     *strategy.Router
	store      cache.Store
	fetcher    strategy.Fetcher
	opts       Options

	mu      sync.RWMutex
	state   State
	retired chan struct{}
}

func New(wctx *Context, classifier *classify.Classifier, router *strategy.Router, store cache.Store, fetcher strategy.Fetcher, opts Options) *Worker {
	return &Worker{
		wctx:       wctx,
		classifier: classifier,
		router:     router,
		store:      store,
		fetcher:    fetcher,
		opts:       opts,
		state:      StateNew,
		retired:    make(chan struct{}),
	}
}

func (w *Worker) Context() *Context { return w.wctx }

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) transition(from []State, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range from {
		if w.state == f {
			w.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadState, w.state, to)
}

func (w *Worker) startInstall() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateNew:
	case StateRedundant:
		w.retired = make(chan struct{})
	default:
		return fmt.Errorf("%w: %s -> %s", ErrBadState, w.state, StateInstalling)
	}
	w.state = StateInstalling
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Retired returns a channel that is closed when the worker is unregistered.
// A later Install hands out a fresh channel.
func (w *Worker) Retired() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.retired
}

// Install pre-populates the static partition with the precache manifest.
// Any failed fetch fails the whole step and the worker returns to StateNew so
// the host can try again; entries fetched successfully stay stored. On
// success the worker is immediately eligible for activation. A redundant
// worker may install again.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.startInstall(); err != nil {
		return err
	}
	partition := w.wctx.Partitions.Static
	if err := w.store.Open(ctx, partition); err != nil {
		w.setState(StateNew)
		return fmt.Errorf("open %s: %w", partition, err)
	}

	var (
		homeMu sync.Mutex
		home   *strategy.Response
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range w.opts.Precache {
		g.Go(func() error {
			req, err := w.getRequest(p)
			if err != nil {
				return err
			}
			resp, err := w.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			if !resp.OK() {
				return fmt.Errorf("precache %s: status %d", p, resp.Status)
			}
			if _, err := w.router.Store(gctx, partition, req, resp); err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			if req.URL.Path == "/" {
				homeMu.Lock()
				home = resp
				homeMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.setState(StateNew)
		return err
	}

	if w.opts.Discover != nil && home != nil {
		w.precacheDiscovered(ctx, partition, home)
	}

	w.setState(StateInstalled)
	logger.Infof("installed %s: %d precached paths", w.wctx.Version, len(w.opts.Precache))
	return nil
}

func (w *Worker) precacheDiscovered(ctx context.Context, partition string, home *strategy.Response) {
	assets := w.opts.Discover(w.wctx.Origin, home.Body)
	stored := 0
	for _, u := range assets {
		req := &strategy.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			logger.Warnf("discovered asset %s: %v", u, err)
			continue
		}
		ok, err := w.router.Store(ctx, partition, req, resp)
		if err != nil {
			logger.Warnf("discovered asset %s: %v", u, err)
			continue
		}
		if ok {
			stored++
		}
	}
	logger.Infof("precached %d of %d discovered assets", stored, len(assets))
}

// Activate deletes every partition outside the retained set and starts
// intercepting requests. Deletion failures are logged and skipped.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition([]State{StateInstalled}, StateActivating); err != nil {
		return err
	}
	names, err := w.store.Partitions(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return fmt.Errorf("list partitions: %w", err)
	}
	for _, name := range names {
		if w.wctx.IsRetained(name) {
			continue
		}
		if err := w.store.DeletePartition(ctx, name); err != nil && !errors.Is(err, cache.ErrPartitionNotFound) {
			logger.Warnf("delete stale partition %s: %v", name, err)
			continue
		}
		logger.Infof("deleted stale partition %s", name)
	}
	// Claiming clients: from here on every request goes through the router.
	w.setState(StateActivated)
	logger.Infof("activated %s", w.wctx.Version)
	return nil
}

// ClearAll deletes every partition regardless of version. It returns the
// number deleted; failures are logged, skipped and joined into the error.
// Background writes already in flight are drained first so they cannot
// recreate a partition afterwards. Writes for requests that arrive while the
// clear runs may still land.
func (w *Worker) ClearAll(ctx context.Context) (int, error) {
	w.router.Wait()
	names, err := w.store.Partitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list partitions: %w", err)
	}
	var errs []error
	deleted := 0
	for _, name := range names {
		if err := w.store.DeletePartition(ctx, name); err != nil && !errors.Is(err, cache.ErrPartitionNotFound) {
			logger.Warnf("delete partition %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		deleted++
	}
	logger.Infof("cleared %d partitions", deleted)
	return deleted, errors.Join(errs...)
}

// Unregister clears every partition and retires the worker. Until Run installs
// it again all requests are network-only.
func (w *Worker) Unregister(ctx context.Context) error {
	_, err := w.ClearAll(ctx)
	w.mu.Lock()
	if w.state != StateRedundant {
		w.state = StateRedundant
		close(w.retired)
	}
	w.mu.Unlock()
	logger.Infof("unregistered %s", w.wctx.Version)
	return err
}

// Run drives the lifecycle until ctx is done: install (retrying a failed
// install every retry interval), activate, and after an unregister install
// again from scratch. Until activation all traffic is network-only.
func (w *Worker) Run(ctx context.Context, retry time.Duration) {
	for {
		if !w.installWithRetry(ctx, retry) {
			return
		}
		if err := w.Activate(ctx); err != nil {
			logger.Errorf("activate: %v", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.Retired():
			logger.Infof("worker retired, installing %s again", w.wctx.Version)
		}
	}
}

func (w *Worker) installWithRetry(ctx context.Context, retry time.Duration) bool {
	for {
		err := w.Install(ctx)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrBadState) {
			logger.Errorf("install: %v", err)
			return false
		}
		logger.Warnf("install failed, retrying in %s: %v", retry, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retry):
		}
	}
}

// Handle answers one intercepted request. Until the worker is activated
// every request is network-only.
func (w *Worker) Handle(ctx context.Context, req *strategy.Request) (*strategy.Response, classify.Category, error) {
	if w.State() != StateActivated {
		resp, err := w.router.NetworkOnly(ctx, req)
		return resp, classify.PassThrough, err
	}
	cat := w.classifier.Classify(req.Classification())
	plan := w.wctx.PlanFor(cat)
	resp, err := w.router.Execute(ctx, plan.Kind, req, plan.Partition)
	if err != nil {
		return nil, cat, err
	}
	if cat == classify.Page && resp.Synthetic {
		if offline, ok := w.offlinePage(ctx); ok {
			return offline, cat, nil
		}
	}
	return resp, cat, nil
}

func (w *Worker) offlinePage(ctx context.Context) (*strategy.Response, bool) {
	if w.opts.OfflinePath == "" {
		return nil, false
	}
	req, err := w.getRequest(w.opts.OfflinePath)
	if err != nil {
		return nil, false
	}
	return w.router.Lookup(ctx, w.wctx.Partitions.Static, req)
}

// Prime stores a response that was fetched outside the fetch path, such as by
// the site warmer, in the partition its request classifies into. It returns
// false when the category is not cached or the response is not cacheable.
func (w *Worker) Prime(ctx context.Context, req *strategy.Request, resp *strategy.Response) (bool, error) {
	plan := w.wctx.PlanFor(w.classifier.Classify(req.Classification()))
	if plan.Partition == "" {
		return false, nil
	}
	return w.router.Store(ctx, plan.Partition, req, resp)
}

// PartitionStat is the entry count of one partition.
type PartitionStat struct {
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
	Retained bool   `json:"retained"`
}

// Stats lists every partition with its size.
func (w *Worker) Stats(ctx context.Context) ([]PartitionStat, error) {
	names, err := w.store.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PartitionStat, 0, len(names))
	for _, name := range names {
		n, err := w.store.Len(ctx, name)
		if err != nil && !errors.Is(err, cache.ErrPartitionNotFound) {
			return nil, err
		}
		out = append(out, PartitionStat{Name: name, Entries: n, Retained: w.wctx.IsRetained(name)})
	}
	return out, nil
}

// Entry reads a cached GET for rawURL (absolute or origin-relative) from any
// retained partition.
func (w *Worker) Entry(ctx context.Context, rawURL string) (*cache.Entry, string, error) {
	req, err := w.getRequest(rawURL)
	if err != nil {
		return nil, "", err
	}
	for _, p := range w.wctx.Retained() {
		e, err := w.store.Get(ctx, p, req.Key())
		if err == nil {
			return e, p, nil
		}
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrExpired) {
			return nil, "", err
		}
	}
	return nil, "", cache.ErrNotFound
}

func (w *Worker) getRequest(path string) (*strategy.Request, error) {
	u, err := w.wctx.Resolve(path)
	if err != nil {
		return nil, err
	}
	return &strategy.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}, nil
}
