package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/networktap/networktap/internal/logger"
)

// Server timeouts. Write is generous because pcap downloads, mode
// switches and the WiFi survey all run long; per-route timeout
// middleware bounds everything tighter.
const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 120 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ServerConfig carries the listener settings derived from the config
// snapshot plus CLI overrides.
type ServerConfig struct {
	Addr    string
	TLSCert string
	TLSKey  string
}

// Server is the HTTP front end. Create with NewServer, run with Start,
// stop by canceling the context or calling Stop.
type Server struct {
	server       *http.Server
	config       ServerConfig
	hub          *Hub
	shutdownOnce sync.Once
}

// NewServer builds the server around the router for deps.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	return &Server{
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(deps),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		config: cfg,
		hub:    deps.Hub,
	}
}

// Start serves until ctx is canceled or the listener fails. On
// cancellation it performs a graceful stop and returns nil.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCert != "" && s.config.TLSKey != "" {
			logger.Info("API server listening", "addr", s.config.Addr, "tls", true)
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			logger.Info("API server listening", "addr", s.config.Addr, "tls", false)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop gracefully shuts the server down: WebSockets first with the
// going-away code, then the HTTP listener. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.hub != nil {
			s.hub.Shutdown()
		}
		err = s.server.Shutdown(ctx)
		if err != nil {
			logger.Warn("API server shutdown incomplete", "error", err)
			return
		}
		logger.Info("API server stopped")
	})
	return err
}
