package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/sw-cache/internal/cache"
	"github.com/leonardcser/sw-cache/internal/classify"
	"github.com/leonardcser/sw-cache/internal/control"
	"github.com/leonardcser/sw-cache/internal/strategy"
	"github.com/leonardcser/sw-cache/internal/web"
	"github.com/leonardcser/sw-cache/internal/worker"
)

func init() { gin.SetMode(gin.TestMode) }

// upstream counts hits; closing srv takes the origin offline.
type upstream struct {
	srv  *httptest.Server
	hits atomic.Int32
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) url(t *testing.T) *url.URL {
	t.Helper()
	parsed, err := url.Parse(u.srv.URL)
	require.NoError(t, err)
	return parsed
}

type env struct {
	engine *gin.Engine
	router *strategy.Router
	store  cache.Store
	worker *worker.Worker
	opts   Options
	site   *upstream
	api    *upstream
}

var catPNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}

// sameOrigin marks a request the way a page served by the proxy sends it.
var sameOrigin = http.Header{"Content-Type": {"application/json"}, "Origin": {"http://example.com"}}

func newEnv(t *testing.T) *env {
	t.Helper()
	site := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/offline", "/articles/hello":
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprintf(w, "<html>%s</html>", r.URL.Path)
		case "/styles/main.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = fmt.Fprint(w, "body{}")
		case "/photos/cat.png":
			http.ServeContent(w, r, "cat.png", time.Time{}, bytes.NewReader(catPNG))
		case "/styles/session.css":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: r.URL.Query().Get("u")})
			w.Header().Set("Content-Type", "text/css")
			_, _ = fmt.Fprint(w, "body{}")
		default:
			http.NotFound(w, r)
		}
	})
	api := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/messages":
			w.WriteHeader(http.StatusCreated)
			_, _ = fmt.Fprint(w, `{"created":true}`)
		case r.URL.Path == "/gallery/123":
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprint(w, `{"id":123,"title":"Sunset"}`)
		case r.URL.Path == "/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})

	siteURL, apiURL := site.url(t), api.url(t)
	store := cache.NewMemoryStore()
	fetcher := web.NewFetcher(2 * time.Second)
	router := strategy.NewRouter(store, fetcher, strategy.Options{})
	wctx := worker.NewContext("v1", siteURL)
	cls := classify.New(classify.Options{Origin: siteURL, APIHosts: []string{apiURL.Host}})
	w := worker.New(wctx, cls, router, store, fetcher, worker.Options{
		Precache:    []string{"/", "/offline"},
		OfflinePath: "/offline",
	})
	ctx := context.Background()
	require.NoError(t, w.Install(ctx))
	require.NoError(t, w.Activate(ctx))

	e := &env{router: router, store: store, worker: w, site: site, api: api}
	e.configure(Options{
		Site: siteURL,
		API:  &Upstream{Prefix: "/api", Target: apiURL},
	})
	return e
}

func (e *env) configure(opts Options) {
	e.opts = opts
	e.engine = NewServer(e.worker, &control.Handler{Worker: e.worker}, opts).Engine()
}

func (e *env) do(t *testing.T, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, r)
	e.router.Wait()
	return rec
}

func TestGalleryServedFromCacheWhenAPIDown(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/gallery/123", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":123,"title":"Sunset"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get(strategy.HeaderServedFromCache))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	e.api.srv.Close()

	rec = e.do(t, http.MethodGet, "/api/gallery/123", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":123,"title":"Sunset"}`, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get(strategy.HeaderServedFromCache))
}

func TestAPIMissWhileDownIs503(t *testing.T) {
	e := newEnv(t)
	e.api.srv.Close()

	rec := e.do(t, http.MethodGet, "/api/gallery/999", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIErrorsPassThroughUncached(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/broken", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	n, err := e.store.Len(context.Background(), "api-cache-v1")
	if err == nil {
		assert.Zero(t, n)
	} else {
		assert.ErrorIs(t, err, cache.ErrPartitionNotFound)
	}
}

func TestMutationsAreNeverCached(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/messages", []byte(`{"text":"hi"}`), http.Header{"Content-Type": {"application/json"}})
	assert.Equal(t, http.StatusCreated, rec.Code)

	_, err := e.store.Get(context.Background(), "api-cache-v1", cache.Key(http.MethodPost, e.api.srv.URL+"/messages"))
	assert.ErrorIs(t, err, cache.ErrNotFound)

	e.api.srv.Close()
	rec = e.do(t, http.MethodPost, "/api/messages", []byte(`{"text":"hi"}`), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStaticAndImagesAreCacheFirst(t *testing.T) {
	e := newEnv(t)
	imgHeader := http.Header{"Sec-Fetch-Dest": {"image"}, "Sec-Fetch-Mode": {"no-cors"}}

	first := e.do(t, http.MethodGet, "/photos/cat.png", nil, imgHeader)
	require.Equal(t, http.StatusOK, first.Code)
	css := e.do(t, http.MethodGet, "/styles/main.css", nil, nil)
	require.Equal(t, http.StatusOK, css.Code)

	hits := e.site.hits.Load()
	e.site.srv.Close()

	second := e.do(t, http.MethodGet, "/photos/cat.png", nil, imgHeader)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, "true", second.Header().Get(strategy.HeaderServedFromCache))

	css = e.do(t, http.MethodGet, "/styles/main.css", nil, nil)
	assert.Equal(t, "body{}", css.Body.String())
	assert.Equal(t, hits, e.site.hits.Load())

	missing := e.do(t, http.MethodGet, "/styles/other.css", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestNavigationOfflineFallback(t *testing.T) {
	e := newEnv(t)
	nav := http.Header{"Accept": {"text/html,application/xhtml+xml"}}

	rec := e.do(t, http.MethodGet, "/articles/hello", nil, nav)
	require.Equal(t, http.StatusOK, rec.Code)
	e.site.srv.Close()

	rec = e.do(t, http.MethodGet, "/articles/hello", nil, nav)
	assert.Equal(t, "<html>/articles/hello</html>", rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get(strategy.HeaderServedFromCache))

	rec = e.do(t, http.MethodGet, "/articles/unknown", nil, nav)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>/offline</html>", rec.Body.String())
}

func TestQueryStringIsPartOfKey(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodGet, "/api/gallery/123?page=1", nil, nil)
	e.api.srv.Close()

	rec := e.do(t, http.MethodGet, "/api/gallery/123?page=2", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/gallery/123?page=1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForceClearMessage(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodGet, "/api/gallery/123", nil, nil)

	body, _ := json.Marshal(control.Message{Type: control.TypeForceCacheClear})
	rec := e.do(t, http.MethodPost, "/_sw/message", body, sameOrigin)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply control.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.True(t, reply.Success)

	names, err := e.store.Partitions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMessageRejectsAdminTypes(t *testing.T) {
	e := newEnv(t)
	body, _ := json.Marshal(control.Message{Type: control.TypeWarm})
	rec := e.do(t, http.MethodPost, "/_sw/message", body, http.Header{"Content-Type": {"application/json"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/_sw/message", []byte("{"), http.Header{"Content-Type": {"application/json"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/_sw/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply control.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, worker.StateActivated, reply.State)
	assert.Equal(t, "v1", reply.Version)
}

func TestUpstreamURL(t *testing.T) {
	site, _ := url.Parse("https://blog.example.com")
	api, _ := url.Parse("https://api.example.com/v2")
	s := NewServer(nil, nil, Options{Site: site, API: &Upstream{Prefix: "/api/", Target: api}})

	cases := map[string]string{
		"/":                     "https://blog.example.com/",
		"/articles?page=2":      "https://blog.example.com/articles?page=2",
		"/api/gallery/1?x=y":    "https://api.example.com/v2/gallery/1?x=y",
		"/api":                  "https://api.example.com/v2",
		"/apiary":               "https://blog.example.com/apiary",
		"/_next/static/app.css": "https://blog.example.com/_next/static/app.css",
	}
	for in, want := range cases {
		u, err := url.Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, s.upstreamURL(u).String(), in)
	}
}

func TestRangeRequestsDoNotReplaceFullAsset(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/photos/cat.png", nil, http.Header{"Range": {"bytes=0-2"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, catPNG[:3], rec.Body.Bytes())

	rec = e.do(t, http.MethodGet, "/photos/cat.png", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, catPNG, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get(strategy.HeaderServedFromCache))

	e.site.srv.Close()
	rec = e.do(t, http.MethodGet, "/photos/cat.png", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, catPNG, rec.Body.Bytes())
	assert.Equal(t, "true", rec.Header().Get(strategy.HeaderServedFromCache))
}

func TestCookiesAreNotSharedBetweenVisitors(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/styles/session.css?u=alice", nil, http.Header{"Cookie": {"session=alice"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "session=alice")

	rec = e.do(t, http.MethodGet, "/styles/session.css?u=alice", nil, http.Header{"Cookie": {"session=bob"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(strategy.HeaderServedFromCache))

	n, err := e.store.Len(context.Background(), "static-cache-v1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the precached pages")
}

func TestSharedMessagesNeedSameOrigin(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodGet, "/api/gallery/123", nil, nil)

	unregister, _ := json.Marshal(control.Message{Type: control.TypeUnregister})
	cases := map[string]http.Header{
		"anonymous":    {"Content-Type": {"application/json"}},
		"cross origin": {"Content-Type": {"application/json"}, "Origin": {"https://evil.example.net"}},
		"cross site":   {"Content-Type": {"application/json"}, "Sec-Fetch-Site": {"cross-site"}},
	}
	for name, h := range cases {
		rec := e.do(t, http.MethodPost, "/_sw/message", unregister, h)
		assert.Equal(t, http.StatusForbidden, rec.Code, name)
	}
	assert.Equal(t, worker.StateActivated, e.worker.State())

	e.api.srv.Close()
	rec := e.do(t, http.MethodGet, "/api/gallery/123", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(strategy.HeaderServedFromCache))

	// Status changes nothing and stays open.
	status, _ := json.Marshal(control.Message{Type: control.TypeStatus})
	rec = e.do(t, http.MethodPost, "/_sw/message", status, http.Header{"Content-Type": {"application/json"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSharedMessagesNeedToken(t *testing.T) {
	e := newEnv(t)
	opts := e.opts
	opts.MessageToken = "s3cret"
	e.configure(opts)

	forceClear, _ := json.Marshal(control.Message{Type: control.TypeForceCacheClear})
	rec := e.do(t, http.MethodPost, "/_sw/message", forceClear, sameOrigin)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h := sameOrigin.Clone()
	h.Set(HeaderMessageToken, "wrong")
	rec = e.do(t, http.MethodPost, "/_sw/message", forceClear, h)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	names, err := e.store.Partitions(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, names)

	h.Set(HeaderMessageToken, "s3cret")
	h.Del("Origin")
	h.Set("Sec-Fetch-Site", "same-origin")
	rec = e.do(t, http.MethodPost, "/_sw/message", forceClear, h)
	assert.Equal(t, http.StatusOK, rec.Code)
	names, err = e.store.Partitions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}
