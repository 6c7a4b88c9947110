package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leonardcser/sw-cache/internal/strategy"
)

const (
	RequestTimeout  = 20 * time.Second
	MaxResponseSize = 64 * 1024 * 1024 // 64MB
)

// Hop-by-hop headers are never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fetcher is the network leg of the router: it forwards an intercepted
// request to its upstream and buffers the answer.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher that does not follow redirects, so the browser
// sees them exactly as the upstream sent them.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = RequestTimeout
	}
	return &Fetcher{client: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// Fetch implements strategy.Fetcher. Transport errors and oversized bodies are
// returned as errors; every HTTP status is a normal response.
func (f *Fetcher) Fetch(ctx context.Context, req *strategy.Request) (*strategy.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = cleanHeader(req.Header)
	// Let the transport negotiate gzip and decode it, so stored bodies are plain.
	out.Header.Del("Accept-Encoding")

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxResponseSize {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", req.URL, MaxResponseSize)
	}
	return &strategy.Response{
		Status: resp.StatusCode,
		Header: cleanHeader(resp.Header),
		Body:   b,
	}, nil
}

func cleanHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	return out
}
