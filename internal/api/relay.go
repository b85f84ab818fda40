package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/sparkcart/order-relay/internal/config"
	"github.com/sparkcart/order-relay/internal/relay"
)

// RelayApp is the relay's HTTP surface: the websocket endpoint browsers
// connect to, the emission endpoint backend processes call, and the
// liveness check.
type RelayApp struct {
	log            *log.Logger
	rs             *relay.RelayServer
	mux            *http.Server
	emitToken      string
	allowedOrigins []string
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, rs *relay.RelayServer, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		rs:             rs,
		emitToken:      cfg.EmitToken,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /{$}", s.health)
	mux.Handle("POST /emit", s.emitAuthMiddleware(s.emit))
	mux.Handle("GET /ws", http.HandlerFunc(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
