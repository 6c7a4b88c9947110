package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leonardcser/sw-cache/internal/cache"
	"github.com/leonardcser/sw-cache/internal/classify"
	"github.com/leonardcser/sw-cache/internal/config"
	"github.com/leonardcser/sw-cache/internal/control"
	"github.com/leonardcser/sw-cache/internal/logger"
	"github.com/leonardcser/sw-cache/internal/proxy"
	"github.com/leonardcser/sw-cache/internal/strategy"
	"github.com/leonardcser/sw-cache/internal/version"
	"github.com/leonardcser/sw-cache/internal/web"
	"github.com/leonardcser/sw-cache/internal/worker"
)

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		logger.Errorf("server error: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Starting sw-cache %s in front of %s", cfg.Version, cfg.Origin)

	site, _ := config.ParseOrigin(cfg.Origin)
	var (
		api    *proxy.Upstream
		target *url.URL
	)
	if cfg.APIOrigin != "" {
		target, _ = config.ParseOrigin(cfg.APIOrigin)
		api = &proxy.Upstream{Prefix: cfg.APIPrefix, Target: target}
	}
	apiHosts, apiPaths := apiMatchers(cfg.APIHosts, cfg.APIPaths, site, target)

	store, err := cache.New(ctx, cache.Options{
		Backend:   cfg.Backend,
		Path:      cfg.DBPath,
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Infof("Opened %s partition store", cfg.Backend)

	fetcher := web.NewFetcher(cfg.RequestTimeout)
	router := strategy.NewRouter(store, fetcher, strategy.Options{
		WriteTimeout:  cfg.WriteTimeout,
		MaxEntryBytes: cfg.MaxEntryBytes,
	})
	classifier := classify.New(classify.Options{
		Origin:   site,
		APIHosts: apiHosts,
		APIPaths: apiPaths,
	})
	opts := worker.Options{Precache: cfg.Precache, OfflinePath: "/offline"}
	if cfg.DiscoverAssets {
		opts.Discover = web.DiscoverAssets
	}
	w := worker.New(worker.NewContext(cfg.Version, site), classifier, router, store, fetcher, opts)

	h := &control.Handler{
		Worker:    w,
		Warmer:    web.NewWarmer(w, site, cfg.WarmDelay),
		Checker:   version.NewChecker(site, &version.FileStore{Path: cfg.StateFile}, cfg.RequestTimeout),
		WarmDepth: cfg.WarmDepth,
	}

	l, err := control.Listen(cfg.Socket)
	if err != nil {
		return err
	}
	go func() {
		if err := control.Serve(ctx, l, h); err != nil {
			logger.Errorf("control socket: %v", err)
		}
	}()
	logger.Infof("Control socket listening on %s", cfg.Socket)

	go w.Run(ctx, cfg.InstallRetry)
	if cfg.VersionPoll > 0 {
		go h.PollVersion(ctx, cfg.VersionPoll)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           proxy.NewServer(w, h, proxy.Options{Site: site, API: api, MessageToken: cfg.MessageToken}).Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Infof("Proxy listening on %s", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	router.Wait()
	return nil
}

// apiMatchers returns the hosts and path prefixes classified as API. An API
// origin on its own host joins the host list. One that shares the site's host
// is matched by its base path instead, or every site request would be API.
func apiMatchers(hosts, paths []string, site, apiTarget *url.URL) ([]string, []string) {
	hosts = append([]string(nil), hosts...)
	paths = append([]string(nil), paths...)
	if apiTarget == nil {
		return hosts, paths
	}
	if !strings.EqualFold(apiTarget.Host, site.Host) {
		return append(hosts, apiTarget.Host), paths
	}
	if base := strings.TrimSuffix(apiTarget.Path, "/"); base != "" {
		paths = append(paths, base+"/")
	}
	return hosts, paths
}
