package strategy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/leonardcser/sw-cache/internal/cache"
	"github.com/leonardcser/sw-cache/internal/classify"
)

// HeaderServedFromCache marks responses answered from a partition.
const HeaderServedFromCache = "X-Served-From-Cache"

// Request is an intercepted request addressed to its upstream URL.
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        []byte
	Destination string
	Mode        string
}

// Key is the cache key: method plus absolute URL, query included.
func (r *Request) Key() string { return cache.Key(r.Method, r.URL.String()) }

// Ranged reports whether the client asked for part of the representation.
func (r *Request) Ranged() bool { return r.Header.Get("Range") != "" }

// Classification returns the fields the classifier looks at.
func (r *Request) Classification() classify.Request {
	return classify.Request{Method: r.Method, URL: r.URL, Destination: r.Destination, Mode: r.Mode}
}

// Response is a fully buffered response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// FromCache is set when the response was read from a partition.
	FromCache bool
	// Synthetic is set when the router produced the response itself.
	Synthetic bool
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Fetcher performs the network leg. An error means the network failed; any
// HTTP status, including 4xx and 5xx, is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

func fromEntry(e *cache.Entry) *Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(HeaderServedFromCache, "true")
	return &Response{Status: e.Status, Header: h, Body: e.Body, FromCache: true}
}

func synthesize(status int, msg string) *Response {
	return &Response{
		Status:    status,
		Header:    http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:      []byte(msg),
		Synthetic: true,
	}
}
