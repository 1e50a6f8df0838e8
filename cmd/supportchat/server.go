package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"supportchat/internal/auth"
	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/middleware"
	"supportchat/internal/models"
	"supportchat/internal/service"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server exposes the chat engine over HTTP and WebSocket
type Server struct {
	router    *mux.Router
	handler   http.Handler
	cfg       *models.Config
	chat      service.Chat
	verifier  auth.Verifier
	files     http.Handler
	health    HealthChecker
	limiter   *RateLimiter
	logger    *logrus.Logger
	errLogger *apperrors.Logger
	server    *http.Server
}

// NewServer builds the router. files serves stored attachments and may be nil.
func NewServer(cfg *models.Config, chat service.Chat, verifier auth.Verifier, files http.Handler, health HealthChecker, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		cfg:       cfg,
		chat:      chat,
		verifier:  verifier,
		files:     files,
		health:    health,
		limiter:   NewRateLimiter(constants.DefaultRateLimitRequests, time.Duration(constants.DefaultRateLimitWindowSec)*time.Second),
		logger:    logger,
		errLogger: apperrors.NewLogger(logger),
	}

	s.setupRoutes()
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})(s.router)
	return s
}

func allowedOrigins(cfg *models.Config) []string {
	if len(cfg.Server.AllowedOrigins) > 0 {
		return cfg.Server.AllowedOrigins
	}
	return []string{"*"}
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	if prefix := localMediaPrefix(s.cfg); s.files != nil && prefix != "" {
		s.router.PathPrefix(prefix).Handler(s.files).Methods(http.MethodGet, http.MethodHead)
	}

	s.router.Handle("/webhooks/presence",
		middleware.WebhookObservabilityMiddleware(s.logger, "presence")(s.handlePresenceWebhook()),
	).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	limited := s.limiter.Middleware

	// Visitor routes
	api.Handle("/sessions", limited(s.handleStartSession())).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession()).Methods(http.MethodGet)
	api.Handle("/sessions/{id}/messages", limited(s.handleSendMessage())).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/history", s.handleHistory()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/close", s.handleCloseSession()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/typing", s.handleTyping()).Methods(http.MethodPut)
	api.Handle("/sessions/{id}/attachments", limited(s.handleUpload())).Methods(http.MethodPost)
	api.Handle("/sessions/{id}/emergency", limited(s.handleEmergency())).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/events", s.handleEvents()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}/retry", s.handleRetryMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/reactions", s.handleReaction(true)).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/reactions", s.handleReaction(false)).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/thread", s.handleThread()).Methods(http.MethodGet)
	api.Handle("/messages/{id}/replies", limited(s.handleReply())).Methods(http.MethodPost)
	api.HandleFunc("/support/status", s.handleSupportStatus()).Methods(http.MethodGet)

	// Staff routes
	staff := middleware.StaffAuth(s.verifier, s.logger)
	api.Handle("/staff/presence", staff(s.handleSetPresence())).Methods(http.MethodPut)
	api.Handle("/sessions/{id}/staff-messages", staff(s.handleStaffMessage())).Methods(http.MethodPost)
	api.Handle("/rules/reload", staff(s.handleReloadRules())).Methods(http.MethodPost)
	api.Handle("/notifications/stats", staff(s.handleNotificationStats())).Methods(http.MethodGet)
}

// localMediaPrefix returns the path attachments are served under, or ""
// when they are published on another host
func localMediaPrefix(cfg *models.Config) string {
	prefix := strings.TrimRight(cfg.Storage.PublicBaseURL, "/")
	if cfg.Storage.PublicBaseURL == "" {
		prefix = constants.DefaultStorageBaseURL
	}
	if !strings.HasPrefix(prefix, "/") {
		return ""
	}
	return prefix + "/"
}

// Handler returns the full handler chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	// Event streams are long-lived, so only header reads are bounded
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.handler,
		ReadHeaderTimeout: time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
