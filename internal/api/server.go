// Package api exposes the HTTP control surface: session CRUD, health,
// breaker and recovery management, and the WebSocket upgrade path.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/session"
	"github.com/user/checkmate/internal/types"
	"github.com/user/checkmate/internal/ws"
)

// Server wires the HTTP routes over the running subsystems.
type Server struct {
	sessions *session.Manager
	wsh      *ws.Handler
	conns    *ws.Manager
	breakers *resilience.Registry
	monitor  *resilience.Monitor
	recover  *resilience.Recoverer
	logger   *slog.Logger

	// redisPing reports primary store reachability; nil means the server
	// runs on the in-memory store only.
	redisPing func(ctx context.Context) error
	// probes are manual retry checks per operation name.
	probes map[string]func(ctx context.Context) error
	debug  bool

	router *gin.Engine
}

type Option func(*Server)

// WithRedisPing enables redis reachability reporting in /health.
func WithRedisPing(fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.redisPing = fn }
}

// WithProbe registers a manual retry probe for an operation name.
func WithProbe(op string, fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.probes[op] = fn }
}

// WithDebug enables debug-only endpoints.
func WithDebug() Option {
	return func(s *Server) { s.debug = true }
}

func NewServer(sessions *session.Manager, wsh *ws.Handler, conns *ws.Manager,
	breakers *resilience.Registry, monitor *resilience.Monitor,
	recoverer *resilience.Recoverer, logger *slog.Logger, opts ...Option) *Server {

	s := &Server{
		sessions: sessions,
		wsh:      wsh,
		conns:    conns,
		breakers: breakers,
		monitor:  monitor,
		recover:  recoverer,
		logger:   logger,
		probes:   make(map[string]func(ctx context.Context) error),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Checkmate fact-checking server")
	})
	router.GET("/health", s.getHealth)

	router.POST("/sessions", s.createSession)
	router.GET("/sessions", s.listSessions)
	router.GET("/sessions/:id", s.getSession)
	router.DELETE("/sessions/:id", s.deleteSession)

	router.GET("/ws/:id", s.serveWS)

	router.GET("/breakers", s.listBreakers)
	router.POST("/breakers/:op/reset", s.resetBreaker)
	router.POST("/operations/:op/retry", s.retryOperation)
	router.POST("/recovery/:action", s.runRecovery)

	if s.debug {
		router.POST("/sessions/:id/test-notification", s.testNotification)
	}

	s.router = router
	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) getHealth(c *gin.Context) {
	services := make(map[string]string)
	if s.redisPing != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.redisPing(ctx); err != nil {
			services["redis"] = "down"
		} else {
			services["redis"] = "up"
		}
	} else {
		services["redis"] = "disabled"
	}

	open := 0
	statuses := s.breakers.List()
	for _, st := range statuses {
		name := serviceName(st.Name)
		if name == "" {
			continue
		}
		state := "up"
		if st.State != resilience.StateClosed {
			state = "degraded"
			open++
		}
		// An operation group is degraded if any of its breakers is.
		if services[name] != "degraded" {
			services[name] = state
		}
	}

	errorRate := 0.0
	if len(statuses) > 0 {
		errorRate = float64(open) / float64(len(statuses))
	}

	mode := s.monitor.Mode()
	status := "ok"
	if mode != resilience.ModeFull {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"serviceMode": mode,
		"services":    services,
		"errorRate":   errorRate,
		"timestamp":   time.Now().UTC(),
	})
}

// serviceName groups breaker names into the health report's service keys.
func serviceName(breaker string) string {
	switch {
	case strings.HasPrefix(breaker, "llm:"):
		return "model"
	case strings.HasPrefix(breaker, "tool:"):
		return "search"
	case strings.HasPrefix(breaker, "store:"):
		return "redis"
	}
	return ""
}

func (s *Server) createSession(c *gin.Context) {
	var settings types.SessionSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed session settings"})
		return
	}
	id, err := s.sessions.Start(c.Request.Context(), settings)
	if err != nil {
		s.logger.Error("create session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": id,
		"settings":  settings,
		"createdAt": time.Now().UTC(),
	})
}

func (s *Server) listSessions(c *gin.Context) {
	ids, err := s.sessions.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}
	if ids == nil {
		ids = []types.SessionID{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids, "count": len(ids)})
}

func (s *Server) getSession(c *gin.Context) {
	id := types.SessionID(c.Param("id"))
	memory, err := s.sessions.Memory(c.Request.Context(), id)
	if err != nil {
		if resilience.Classify(err) == resilience.KindNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "memory": memory})
}

func (s *Server) deleteSession(c *gin.Context) {
	id := types.SessionID(c.Param("id"))
	// Store deletes are errorless for absent keys, so existence is checked
	// up front to keep the not-found contract.
	if _, err := s.sessions.Memory(c.Request.Context(), id); err != nil {
		if resilience.Classify(err) == resilience.KindNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		return
	}
	if err := s.sessions.Stop(c.Request.Context(), id, session.EndManual); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete session"})
		return
	}
	s.conns.Send(id, types.NewWSMessage(types.MsgSessionEnd, types.SessionEndPayload{
		Reason: string(session.EndManual),
	}))
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "ended": true})
}

func (s *Server) serveWS(c *gin.Context) {
	id := types.SessionID(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id required"})
		return
	}
	s.wsh.Serve(c.Writer, c.Request, id)
}

func (s *Server) listBreakers(c *gin.Context) {
	statuses := s.breakers.List()
	if statuses == nil {
		statuses = []resilience.BreakerStatus{}
	}
	c.JSON(http.StatusOK, gin.H{"breakers": statuses})
}

func (s *Server) resetBreaker(c *gin.Context) {
	op := c.Param("op")
	if !s.breakers.Reset(op) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown breaker: " + op})
		return
	}
	s.logger.Info("breaker reset", "op", op)
	c.JSON(http.StatusOK, gin.H{"op": op, "state": "closed"})
}

func (s *Server) retryOperation(c *gin.Context) {
	op := c.Param("op")
	probe, ok := s.probes[op]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no retry probe for operation: " + op})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	if err := probe(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"op": op, "ok": false, "error": err.Error()})
		return
	}
	// A successful probe is evidence the dependency is back.
	s.breakers.Reset(op)
	c.JSON(http.StatusOK, gin.H{"op": op, "ok": true})
}

func (s *Server) runRecovery(c *gin.Context) {
	name := c.Param("action")
	action, ok := s.recover.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown recovery action: " + name})
		return
	}
	if action.Run == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "action requires manual intervention: " + name})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := action.Run(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"action": name, "ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": name, "ok": true})
}

// testNotification pushes a synthetic notification down the session's socket.
// Only mounted when the server runs at debug log level.
func (s *Server) testNotification(c *gin.Context) {
	id := types.SessionID(c.Param("id"))
	notification := types.Notification{
		Color:        types.ColorYellow,
		ShortText:    "Test notification",
		Details:      "This is a synthetic notification from the control API.",
		Confidence:   0.5,
		Severity:     0.5,
		ShouldNotify: true,
	}
	if err := s.conns.Send(id, types.NewWSMessage(types.MsgNotification, notification)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session has no live connection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "sent": true})
}
