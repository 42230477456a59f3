package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/content"
	"github.com/Tyrowin/chatrelay/internal/crypt"
	"github.com/Tyrowin/chatrelay/internal/logging"
)

// Server is an assembled relay: registry, hub, router and HTTP surface.
type Server struct {
	cfg     config.Config
	relay   *chat.Relay
	hub     *Hub
	metrics *Metrics
	handler http.Handler
	http    *http.Server
	log     *logging.Logger
}

// New wires a relay from cfg. The hub is not running until Start.
func New(cfg config.Config, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}
	codec, err := crypt.New(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	area := content.NewArea(cfg.ContentRoot)
	relay := chat.NewRelay(
		chat.WithNames(cfg.Names),
		chat.WithProvisioner(area),
		chat.WithLogger(log),
	)
	metrics := NewMetrics()
	metrics.ObserveRelay(relay)
	router := NewRouter(relay, codec, area, metrics, log)
	hub := NewHub(router, metrics, log)
	handlers := NewHandlers(hub, area, metrics, cfg.AllowedOrigins, Limits{
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit:      cfg.RateLimit,
	}, log)
	handler := SetupRoutes(handlers)

	return &Server{
		cfg:     cfg,
		relay:   relay,
		hub:     hub,
		metrics: metrics,
		handler: handler,
		http:    CreateServer(cfg.Port, handler),
		log:     log.Sub("server"),
	}, nil
}

// Handler returns the HTTP handler, for embedding in a test server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Relay returns the session registry.
func (s *Server) Relay() *chat.Relay {
	return s.relay
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub event loop in the background.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info().Msg("hub started")
}

// ListenAndServe serves HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	return StartServer(s.http, s.cfg.TLS, s.log)
}

// Shutdown stops accepting requests, then closes every WebSocket and waits
// for the client goroutines.
func (s *Server) Shutdown() error {
	httpErr := ShutdownServer(s.http, s.cfg.ShutdownTimeout, s.log)
	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)
	return errors.Join(httpErr, hubErr)
}
