package worker

import (
	"net/url"

	"github.com/leonardcser/sw-cache/internal/classify"
	"github.com/leonardcser/sw-cache/internal/strategy"
)

// Partitions names the cache partitions of one version.
type Partitions struct {
	Static string
	Image  string
	API    string
	Misc   string
}

// Plan is the strategy and partition used for one category.
type Plan struct {
	Kind      strategy.Kind
	Partition string
}

// Context is built once at startup and shared by the classifier, router and
// lifecycle code. It never changes afterwards.
type Context struct {
	Version    string
	Origin     *url.URL
	Partitions Partitions
	plans      map[classify.Category]Plan
}

func NewContext(version string, origin *url.URL) *Context {
	p := Partitions{
		Static: "static-cache-" + version,
		Image:  "image-cache-" + version,
		API:    "api-cache-" + version,
		Misc:   "misc-cache-" + version,
	}
	return &Context{
		Version:    version,
		Origin:     origin,
		Partitions: p,
		plans: map[classify.Category]Plan{
			classify.API:         {Kind: strategy.NetworkFirst, Partition: p.API},
			classify.NextData:    {Kind: strategy.NetworkFirst, Partition: p.API},
			classify.Page:        {Kind: strategy.NetworkFirst, Partition: p.Misc},
			classify.Image:       {Kind: strategy.CacheFirst, Partition: p.Image},
			classify.Static:      {Kind: strategy.CacheFirst, Partition: p.Static},
			classify.PassThrough: {Kind: strategy.NetworkOnly},
		},
	}
}

// Retained lists the partitions that survive activation.
func (c *Context) Retained() []string {
	return []string{c.Partitions.Static, c.Partitions.Image, c.Partitions.API, c.Partitions.Misc}
}

// IsRetained reports whether name belongs to the current version.
func (c *Context) IsRetained(name string) bool {
	for _, r := range c.Retained() {
		if r == name {
			return true
		}
	}
	return false
}

// PlanFor returns the plan for cat; unknown categories are network-only.
func (c *Context) PlanFor(cat classify.Category) Plan {
	if p, ok := c.plans[cat]; ok {
		return p
	}
	return Plan{Kind: strategy.NetworkOnly}
}

// Resolve turns a site-relative path into an absolute URL on the origin.
func (c *Context) Resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	return c.Origin.ResolveReference(ref), nil
}
