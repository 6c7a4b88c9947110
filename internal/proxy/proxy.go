// Package proxy is the HTTP front door: it turns incoming requests into
// intercepted requests for the worker and writes the answers back.
package proxy

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leonardcser/sw-cache/internal/control"
	"github.com/leonardcser/sw-cache/internal/logger"
	"github.com/leonardcser/sw-cache/internal/strategy"
	"github.com/leonardcser/sw-cache/internal/worker"
)

const (
	HeaderRequestID    = "X-Request-Id"
	HeaderMessageToken = "X-SW-Token"
	MaxRequestBody     = 10 * 1024 * 1024

	ctxCategory = "sw.category"
)

// Upstream is an extra backend mounted under a path prefix. The prefix is
// stripped before forwarding.
type Upstream struct {
	Prefix string
	Target *url.URL
}

type Options struct {
	Site *url.URL
	API  *Upstream
	// MessageToken, when set, is required in X-SW-Token for messages that
	// clear caches.
	MessageToken string
}

type Server struct {
	worker  *worker.Worker
	control *control.Handler
	opts    Options
}

func NewServer(w *worker.Worker, h *control.Handler, opts Options) *Server {
	return &Server{worker: w, control: h, opts: opts}
}

// Engine builds the gin engine. Everything that is not a /_sw/ route goes
// through the worker.
func (s *Server) Engine() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), requestLog())
	e.RedirectTrailingSlash = false
	e.RedirectFixedPath = false

	sw := e.Group("/_sw")
	sw.POST("/message", s.message)
	sw.GET("/status", s.status)

	e.NoRoute(s.intercept)
	return e
}

// pageMessages are the message types pages may send. The value marks types
// that affect every client of the proxy.
var pageMessages = map[string]bool{
	control.TypeForceCacheClear: true,
	control.TypeUnregister:      true,
	control.TypeStatus:          false,
}

func (s *Server) message(c *gin.Context) {
	var msg control.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, control.Reply{Success: false, Error: err.Error()})
		return
	}
	shared, ok := pageMessages[msg.Type]
	if !ok {
		c.JSON(http.StatusBadRequest, control.Reply{Success: false, Error: "unsupported message type " + msg.Type})
		return
	}
	if shared {
		if err := s.authorize(c.Request); err != nil {
			logger.Warnf("rejected %s from %s: %v", msg.Type, c.ClientIP(), err)
			c.JSON(http.StatusForbidden, control.Reply{Success: false, Error: err.Error()})
			return
		}
	}
	reply := s.control.Handle(c.Request.Context(), msg)
	status := http.StatusOK
	if !reply.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, reply)
}

// authorize admits cache-clearing messages only from pages served by this
// proxy, and only with the configured token when there is one.
func (s *Server) authorize(r *http.Request) error {
	if origin := r.Header.Get("Origin"); origin != "" {
		u, err := url.Parse(origin)
		if err != nil || !strings.EqualFold(u.Host, r.Host) {
			return errors.New("cross-origin message")
		}
	} else if r.Header.Get("Sec-Fetch-Site") != "same-origin" {
		return errors.New("message without a same-origin marker")
	}
	if s.opts.MessageToken != "" {
		got := r.Header.Get(HeaderMessageToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.MessageToken)) != 1 {
			return errors.New("invalid message token")
		}
	}
	return nil
}

func (s *Server) status(c *gin.Context) {
	reply := s.control.Handle(c.Request.Context(), control.Message{Type: control.TypeStatus})
	status := http.StatusOK
	if !reply.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, reply)
}

func (s *Server) intercept(c *gin.Context) {
	req, err := s.buildRequest(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	resp, cat, err := s.worker.Handle(c.Request.Context(), req)
	c.Set(ctxCategory, string(cat))
	if err != nil {
		logger.Warnf("upstream %s %s: %v", req.Method, req.URL, err)
		c.String(http.StatusBadGateway, "Bad Gateway")
		return
	}
	h := c.Writer.Header()
	for k, vs := range resp.Header {
		// The body is re-framed by this server.
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	c.Status(resp.Status)
	// Commit the status so gin's NoRoute handling never adds its own 404 body.
	c.Writer.WriteHeaderNow()
	if c.Request.Method == http.MethodHead {
		return
	}
	_, _ = c.Writer.Write(resp.Body)
}

func (s *Server) buildRequest(r *http.Request) (*strategy.Request, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBody+1))
		if err != nil {
			return nil, err
		}
		if len(b) > MaxRequestBody {
			return nil, errors.New("request body too large")
		}
		body = b
	}
	header := r.Header.Clone()
	header.Del(HeaderRequestID)
	req := &strategy.Request{
		Method:      r.Method,
		URL:         s.upstreamURL(r.URL),
		Header:      header,
		Body:        body,
		Destination: r.Header.Get("Sec-Fetch-Dest"),
		Mode:        r.Header.Get("Sec-Fetch-Mode"),
	}
	// Clients that don't send fetch metadata: an HTML GET is a navigation.
	if req.Mode == "" && req.Destination == "" && r.Method == http.MethodGet &&
		strings.Contains(r.Header.Get("Accept"), "text/html") {
		req.Mode = "navigate"
		req.Destination = "document"
	}
	return req, nil
}

func (s *Server) upstreamURL(in *url.URL) *url.URL {
	base, p := s.opts.Site, in.Path
	if api := s.opts.API; api != nil {
		prefix := strings.TrimSuffix(api.Prefix, "/")
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			base, p = api.Target, strings.TrimPrefix(p, prefix)
		}
	}
	out := *base
	out.Path = strings.TrimSuffix(base.Path, "/") + p
	if out.Path == "" {
		out.Path = "/"
	}
	out.RawPath = ""
	out.RawQuery = in.RawQuery
	out.Fragment = ""
	return &out
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		start := time.Now()
		c.Next()
		logger.WithFields(logger.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"category":   c.GetString(ctxCategory),
			"cache":      c.Writer.Header().Get(strategy.HeaderServedFromCache) == "true",
			"duration":   time.Since(start).String(),
		}).Debug("request")
	}
}
