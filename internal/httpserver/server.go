// Package httpserver exposes discovery, queries and live tails over HTTP.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/tail"
	"github.com/tinytelemetry/journald-query/internal/timestamp"
)

// DefaultAddr is used when NewServer is given an empty address.
const DefaultAddr = "127.0.0.1:3000"

// Server provides the HTTP API.
type Server struct {
	addr      string
	reader    model.JournalReader
	hub       *tail.Hub
	parser    *timestamp.Parser
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a server answering from reader. hub may be nil, in
// which case /api/tail reports 503.
func NewServer(addr string, reader model.JournalReader, hub *tail.Hub) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		reader: reader,
		hub:    hub,
		parser: timestamp.NewParser(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) registerRoutes(r gin.IRoutes) {
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/hosts", s.handleHosts)
	r.GET("/api/units", s.handleUnits)
	r.GET("/api/hosts-units", s.handleHostsAndUnits)
	r.GET("/api/services", s.handleServices)
	r.POST("/api/query", s.handleQuery)
	r.GET("/api/tail", s.handleTail)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Start begins serving in the background.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.registerRoutes(r)

	// No WriteTimeout: /api/tail streams for as long as the client stays.
	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop cancels open tails and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	switch journal.KindOf(err) {
	case journal.KindInvalidArgument:
		return http.StatusBadRequest
	case journal.KindNotFound:
		return http.StatusNotFound
	case journal.KindUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	streams := 0
	if s.hub != nil {
		streams = s.hub.Streams()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"tail_streams": streams,
	})
}

func (s *Server) handleHosts(c *gin.Context) {
	hosts, err := s.reader.DiscoverHosts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": nonNil(hosts)})
}

func (s *Server) handleUnits(c *gin.Context) {
	units, err := s.reader.DiscoverUnits(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"units": nonNil(units)})
}

func (s *Server) handleHostsAndUnits(c *gin.Context) {
	hosts, units, err := s.reader.DiscoverHostsAndUnits(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": nonNil(hosts), "units": nonNil(units)})
}

func (s *Server) handleServices(c *gin.Context) {
	hosts, err := s.reader.DiscoverServices(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if hosts.Hosts == nil {
		hosts.Hosts = []model.Host{}
	}
	c.JSON(http.StatusOK, hosts)
}

type queryRequest struct {
	StartTimeUTC    *uint64 `json:"start_time_utc"`
	EndTimeUTC      *uint64 `json:"end_time_utc"`
	Since           any     `json:"since"`
	Until           any     `json:"until"`
	Hostname        string  `json:"hostname"`
	Unit            string  `json:"unit"`
	MessageContains string  `json:"message_contains"`
}

func (s *Server) buildQuery(req queryRequest) (model.Query, error) {
	var start, end uint64
	switch {
	case req.StartTimeUTC != nil:
		start = *req.StartTimeUTC
	case req.Since != nil:
		t, ok := s.parser.ParseTimestamp(req.Since)
		if !ok {
			return model.Query{}, errors.New("invalid since")
		}
		start = model.TimeToUsec(t)
	default:
		return model.Query{}, errors.New("start_time_utc or since is required")
	}
	switch {
	case req.EndTimeUTC != nil:
		end = *req.EndTimeUTC
	case req.Until != nil:
		t, ok := s.parser.ParseTimestamp(req.Until)
		if !ok {
			return model.Query{}, errors.New("invalid until")
		}
		end = model.TimeToUsec(t)
	default:
		end = model.TimeToUsec(s.parser.Now())
	}
	return model.NewQuery(start, end).
		WithHostname(req.Hostname).
		WithUnit(req.Unit).
		WithMessageContains(req.MessageContains), nil
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	q, err := s.buildQuery(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := s.reader.Query(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   q,
		"entries": entries,
		"count":   len(entries),
	})
}

// handleTail streams entries for ?hostname=&unit= as Server-Sent Events.
// Each entry is an "entry" event; a tail failure is sent as a final
// "error" event.
func (s *Server) handleTail(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live tail disabled"})
		return
	}
	hostname, unit := c.Query("hostname"), c.Query("unit")
	if hostname == "" || unit == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hostname and unit are required"})
		return
	}

	sub, err := s.hub.Subscribe(hostname, unit)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			if ev.Err != nil {
				c.SSEvent("error", gin.H{"error": ev.Err.Error()})
				return false
			}
			c.SSEvent("entry", ev.Entry)
			return true
		}
	})
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
