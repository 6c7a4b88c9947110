package web

import (
	"bytes"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// assetSelectors pick the elements whose URL attribute points at a static
// asset worth precaching.
var assetSelectors = []struct {
	sel  string
	attr string
}{
	{"link[rel=stylesheet][href]", "href"},
	{"link[rel=preload][href]", "href"},
	{"link[rel=modulepreload][href]", "href"},
	{"link[rel~=icon][href]", "href"},
	{"link[rel=apple-touch-icon][href]", "href"},
	{"script[src]", "src"},
}

var precacheExts = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {},
	".png": {}, ".ico": {}, ".svg": {}, ".webp": {},
}

// DiscoverAssets returns the same-origin static assets referenced by an HTML
// page, deduplicated, fragment-free and sorted.
func DiscoverAssets(base *url.URL, html []byte) []*url.URL {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	seen := make(map[string]*url.URL)
	for _, s := range assetSelectors {
		doc.Find(s.sel).Each(func(_ int, sel *goquery.Selection) {
			ref := strings.TrimSpace(sel.AttrOr(s.attr, ""))
			if ref == "" || strings.HasPrefix(ref, "data:") {
				return
			}
			u, err := url.Parse(ref)
			if err != nil {
				return
			}
			u = base.ResolveReference(u)
			if u.Scheme != base.Scheme || u.Host != base.Host {
				return
			}
			if _, ok := precacheExts[strings.ToLower(path.Ext(u.Path))]; !ok {
				return
			}
			u.Fragment = ""
			seen[u.String()] = u
		})
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*url.URL, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}
