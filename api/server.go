// Package api provides the HTTP admin and mailbox API of a netchat server.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/file"
	"github.com/opd-ai/netchat/mail"
	"github.com/opd-ai/netchat/registry"
	"github.com/sirupsen/logrus"
)

// ErrNotListening is returned by Serve before Listen succeeded.
var ErrNotListening = errors.New("api: server is not listening")

// Config holds server configuration.
type Config struct {
	Addr         string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8080",
		EnableCORS:   false,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Deps are the services the API exposes. Any of them may be nil; the
// routes that need a missing service answer 503.
type Deps struct {
	Registry *registry.Registry
	Files    *file.Store
	Mail     *mail.Store
	Bus      *events.Bus
}

// Server is the HTTP API server.
type Server struct {
	config   *Config
	deps     Deps
	router   *gin.Engine
	upgrader *websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
}

// NewServer creates the router and registers all routes.
func NewServer(config *Config, deps Deps) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config:   config,
		deps:     deps,
		router:   router,
		upgrader: newUpgrader(config.EnableCORS),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/clients", s.handleClients)
		v1.GET("/events", s.handleEvents)

		files := v1.Group("/files")
		{
			files.GET("", s.handleListFiles)
			files.GET("/:name", s.handleDownloadFile)
		}

		m := v1.Group("/mail")
		{
			m.POST("/users", s.handleCreateUser)
			m.POST("/login", s.handleLogin)
			m.POST("/messages", s.handleSendMessage)
			m.GET("/users/:user/inbox", s.handleInbox)
			m.GET("/users/:user/sent", s.handleSent)
			m.POST("/messages/:id/read", s.handleMarkRead)
		}
	}
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Listen",
			"address":  s.config.Addr,
			"error":    err.Error(),
		}).Error("Failed to bind API listener")
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Unlock()
	return nil
}

// Serve answers requests until Close. It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, listener := s.httpServer, s.listener
	s.mu.Unlock()

	if srv == nil {
		return ErrNotListening
	}

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"address":  listener.Addr().String(),
	}).Info("HTTP API server starting")

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the server down, waiting up to five seconds for requests.
// Websocket streams end when the event bus closes or their client leaves.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
