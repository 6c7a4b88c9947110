package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/leonardcser/sw-cache/internal/logger"
	"github.com/leonardcser/sw-cache/internal/strategy"
)

const warmerUserAgent = "sw-cache-warmer/1.0 (+https://github.com/leonardcser/sw-cache)"

// Primer stores a response fetched outside the fetch path.
type Primer interface {
	Prime(ctx context.Context, req *strategy.Request, resp *strategy.Response) (bool, error)
}

// Warmer crawls the origin and hands every page it sees to a Primer, so
// partitions are populated before the first visitor arrives.
type Warmer struct {
	primer  Primer
	origin  *url.URL
	delay   time.Duration
	timeout time.Duration
}

type WarmResult struct {
	Visited int      `json:"visited"`
	Stored  int      `json:"stored"`
	Failed  []string `json:"failed,omitempty"`
}

func NewWarmer(primer Primer, origin *url.URL, delay time.Duration) *Warmer {
	return &Warmer{primer: primer, origin: origin, delay: delay, timeout: RequestTimeout}
}

// Warm visits start (origin-relative) and follows same-host links up to depth
// levels deep. A failure on the start page is returned; failures further down
// are collected in the result.
func (w *Warmer) Warm(ctx context.Context, start string, depth int) (*WarmResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if depth < 0 {
		depth = 0
	}
	ref, err := url.Parse(start)
	if err != nil {
		return nil, err
	}
	startURL := w.origin.ResolveReference(ref)

	c := colly.NewCollector(
		colly.AllowedDomains(w.origin.Hostname()),
		// colly counts the first request as depth 1.
		colly.MaxDepth(depth+1),
		colly.UserAgent(warmerUserAgent),
		colly.Async(false),
	)
	c.Context = ctx
	c.SetRequestTimeout(w.timeout)
	if w.delay > 0 {
		if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: w.delay}); err != nil {
			return nil, err
		}
	}

	var (
		mu  sync.Mutex
		res WarmResult
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		req := &strategy.Request{
			Method:      http.MethodGet,
			URL:         r.Request.URL,
			Header:      http.Header{},
			Destination: "document",
			Mode:        "navigate",
		}
		resp := &strategy.Response{Status: r.StatusCode, Body: append([]byte(nil), r.Body...)}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
		ok, err := w.primer.Prime(ctx, req, resp)
		mu.Lock()
		defer mu.Unlock()
		res.Visited++
		if err != nil {
			logger.Warnf("warm %s: %v", req.URL, err)
			res.Failed = append(res.Failed, req.URL.String())
			return
		}
		if ok {
			res.Stored++
		}
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || u.Host != w.origin.Host || u.Scheme != w.origin.Scheme {
			return
		}
		u.Fragment = ""
		// Errors such as "already visited" or "max depth" are expected here.
		_ = e.Request.Visit(u.String())
	})
	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Request == nil || r.Request.URL.String() == startURL.String() {
			return
		}
		mu.Lock()
		res.Failed = append(res.Failed, r.Request.URL.String())
		mu.Unlock()
	})

	if err := c.Visit(startURL.String()); err != nil {
		return nil, err
	}
	c.Wait()
	if ctx.Err() != nil {
		return nil, errors.Join(errors.New("warm interrupted"), ctx.Err())
	}
	logger.Infof("warmed %s: visited %d, stored %d, failed %d", startURL, res.Visited, res.Stored, len(res.Failed))
	return &res, nil
}
