package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Server provides HTTP endpoints
type Server struct {
	logger zerolog.Logger
	mirror MirrorStore
	ledger LedgerStore
	server *http.Server
}

// NewServer creates a new Server instance
func NewServer(logger zerolog.Logger, port int, mirrorStore MirrorStore, ledgerStore LedgerStore) *Server {
	s := &Server{
		logger: logger.With().Str("component", "query_server").Logger(),
		mirror: mirrorStore,
		ledger: ledgerStore,
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler serving all routes
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}

	go func() {
		err := s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("Query server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("Query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("Query server error")
		}
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("Query server started")
	return nil
}

// Run starts the server and shuts it down once ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
