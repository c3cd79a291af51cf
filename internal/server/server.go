// Package server exposes the storage service and metastore over HTTP.
//
// All routes live under /v1. Entity CRUD goes to the metastore, the
// reading and rollup paths go to the storage service, and /v1/stream
// upgrades to a WebSocket fed by the write-notification broker.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/notify"
	"github.com/aispark/pdmcore/internal/storage"
	"github.com/aispark/pdmcore/internal/store"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "0.0.0.0:8080").
	Listen string

	// ReadTimeout bounds reading a full request, including the body.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a full response. It must be generous
	// enough for large query results; streaming connections are exempt
	// because the WebSocket upgrade hijacks the connection.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP front end.
type Server struct {
	cfg  Config
	svc  *storage.Service
	meta *store.Store
	hub  *notify.Hub
	http *http.Server
}

// New creates a server over the given storage service and metastore.
func New(cfg Config, svc *storage.Service, meta *store.Store) *Server {
	cfg.applyDefaults()

	s := &Server{
		cfg:  cfg,
		svc:  svc,
		meta: meta,
		hub:  notify.NewHub(svc.Broker()),
	}
	s.http = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run starts the HTTP listener and blocks until Shutdown.
func (s *Server) Run() error {
	log.Info("listening", "address", s.cfg.Listen)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown stops the listener, then disconnects streaming clients.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down http server")
	err := s.http.Shutdown(ctx)
	s.hub.Close()
	return err
}
