// Package server exposes the knowledge graph over HTTP: meeting
// ingestion, entity and edge reads, the pending-mention review surface,
// merges, and a WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/config"
	"github.com/kairoshq/kairos/internal/graph"
)

// Server wires the pipeline and graph store into an HTTP API.
type Server struct {
	cfg      config.ServerConfig
	store    *graph.Store
	pipeline Pipeline
	merger   Merger
	hub      *Hub
	logger   *zap.Logger
}

// New creates a server.
func New(cfg config.ServerConfig, store *graph.Store, pipeline Pipeline, merger Merger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")
	return &Server{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline,
		merger:   merger,
		hub:      NewHub(logger),
		logger:   logger,
	}
}

// Hub returns the event hub for out-of-band broadcasts.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/meetings", s.handleIngestMeeting)
	api.HandleFunc("GET /api/meetings/{id}/mentions", s.handleMeetingMentions)
	api.HandleFunc("GET /api/entities", s.handleSearchEntities)
	api.HandleFunc("GET /api/entities/{id}", s.handleGetEntity)
	api.HandleFunc("GET /api/entities/{id}/mentions", s.handleEntityMentions)
	api.HandleFunc("GET /api/entities/{id}/edges", s.handleEntityEdges)
	api.HandleFunc("GET /api/entities/{id}/evidence", s.handleEntityEvidence)
	api.HandleFunc("GET /api/mentions/pending", s.handlePendingMentions)
	api.HandleFunc("POST /api/mentions/confirm", s.handleConfirmMention)
	api.HandleFunc("POST /api/merges", s.handleMerge)
	api.HandleFunc("GET /api/merges/{from}/{to}", s.handleGetMergeAudit)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("/api/", requireAuth(api, s.cfg.APIToken))
	mux.Handle("/ws", s.hub)

	handler := rateLimit(mux, s.cfg.RequestsPerSecond)
	handler = securityHeaders(handler)
	handler = requestLogger(handler, s.logger)
	return handler
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. Returns the bound address via the callback before
// blocking, which lets callers use port 0 in tests.
func (s *Server) Start(ctx context.Context, onListen func(addr string)) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	if onListen != nil {
		onListen(listener.Addr().String())
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.logger.Info("listening", zap.String("addr", listener.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.hub.Stop()
	return nil
}
