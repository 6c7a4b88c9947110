// Package classify assigns every intercepted request to exactly one caching
// category. Classification is an ordered rule table evaluated top to bottom;
// the first matching rule wins.
package classify

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

type Category string

const (
	API         Category = "api"
	Page        Category = "page"
	Image       Category = "image"
	Static      Category = "static"
	NextData    Category = "next-data"
	PassThrough Category = "pass-through"
)

// Request is the part of an intercepted request that classification looks at.
type Request struct {
	Method      string
	URL         *url.URL
	Destination string // Sec-Fetch-Dest
	Mode        string // Sec-Fetch-Mode
}

// Rule maps a predicate to a category.
type Rule struct {
	Name     string
	Match    func(Request) bool
	Category Category
}

type Options struct {
	// Origin is the site origin used for same-origin checks.
	Origin   *url.URL
	APIHosts []string
	// APIPaths are path prefixes served by the backend API, e.g. "/api/".
	APIPaths []string
}

var (
	imageExts  = setOf(".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".ico", ".bmp")
	staticExts = setOf(".css", ".js", ".mjs", ".woff", ".woff2", ".ttf", ".otf", ".eot")
	dataQuery  = []string{"_rsc", "__nextDataReq"}
)

// Classifier is safe for concurrent use; it holds no mutable state.
type Classifier struct {
	origin   *url.URL
	apiHosts map[string]struct{}
	apiPaths []string
	rules    []Rule
}

func New(opts Options) *Classifier {
	c := &Classifier{
		origin:   opts.Origin,
		apiHosts: make(map[string]struct{}, len(opts.APIHosts)),
		apiPaths: opts.APIPaths,
	}
	for _, h := range opts.APIHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			c.apiHosts[h] = struct{}{}
		}
	}
	c.rules = []Rule{
		{Name: "not-interceptable", Match: notInterceptable, Category: PassThrough},
		{Name: "api-endpoint", Match: c.isAPI, Category: API},
		{Name: "framework-data", Match: isFrameworkData, Category: NextData},
		{Name: "image", Match: isImage, Category: Image},
		{Name: "navigation", Match: isNavigation, Category: Page},
		{Name: "static-asset", Match: c.isStaticAsset, Category: Static},
		{Name: "framework-chunk", Match: c.isFrameworkChunk, Category: NextData},
	}
	return c
}

// Rules returns the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the category of the first matching rule, or PassThrough.
func (c *Classifier) Classify(r Request) Category {
	if r.URL == nil {
		return PassThrough
	}
	for _, rule := range c.rules {
		if rule.Match(r) {
			return rule.Category
		}
	}
	return PassThrough
}

func notInterceptable(r Request) bool {
	if r.Method != http.MethodGet {
		return true
	}
	return r.URL.Scheme != "http" && r.URL.Scheme != "https"
}

func (c *Classifier) isAPI(r Request) bool {
	// Entries may carry a port ("api.local:8081") or not.
	if _, ok := c.apiHosts[strings.ToLower(r.URL.Host)]; ok {
		return true
	}
	if _, ok := c.apiHosts[strings.ToLower(r.URL.Hostname())]; ok {
		return true
	}
	for _, p := range c.apiPaths {
		if p != "" && strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

func isFrameworkData(r Request) bool {
	if strings.Contains(r.URL.Path, "/_next/data/") {
		return true
	}
	q := r.URL.Query()
	for _, k := range dataQuery {
		if q.Has(k) {
			return true
		}
	}
	return false
}

func isImage(r Request) bool {
	if r.Destination == "image" {
		return true
	}
	_, ok := imageExts[ext(r.URL)]
	return ok
}

func isNavigation(r Request) bool { return r.Mode == "navigate" }

func (c *Classifier) isStaticAsset(r Request) bool {
	if !c.sameOrigin(r.URL) {
		return false
	}
	_, ok := staticExts[ext(r.URL)]
	return ok
}

func (c *Classifier) isFrameworkChunk(r Request) bool {
	return c.sameOrigin(r.URL) && strings.HasPrefix(r.URL.Path, "/_next/")
}

func (c *Classifier) sameOrigin(u *url.URL) bool {
	if c.origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

func ext(u *url.URL) string { return strings.ToLower(path.Ext(u.Path)) }

func setOf(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
