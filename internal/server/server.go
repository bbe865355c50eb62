package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mir00r/proxy-balancer/internal/config"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// Server runs the proxy listener and, when enabled, the admin listener
type Server struct {
	config      config.ServerConfig
	adminConfig config.AdminConfig
	logger      *logger.Logger

	proxyServer *http.Server
	adminServer *http.Server

	mu        sync.Mutex
	proxyAddr net.Addr
	adminAddr net.Addr
	errCh     chan error
	wg        sync.WaitGroup
}

// New builds both servers. adminHandler may be nil when the admin API is disabled.
func New(cfg config.ServerConfig, adminCfg config.AdminConfig, proxyHandler, adminHandler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}

	if cfg.H2C {
		// cleartext HTTP/2 with prior knowledge or Upgrade, HTTP/1.1 otherwise
		proxyHandler = h2c.NewHandler(proxyHandler, &http2.Server{
			MaxConcurrentStreams: 1000,
			IdleTimeout:          cfg.IdleTimeout,
		})
	}

	s := &Server{
		config:      cfg,
		adminConfig: adminCfg,
		logger:      log.WithField("component", "server"),
		errCh:       make(chan error, 2),
		proxyServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      proxyHandler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	if adminCfg.Enabled && adminHandler != nil {
		s.adminServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", adminCfg.Port),
			Handler:      adminHandler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		}
	}

	return s
}

// Start binds the listeners and serves in the background. Bind failures are
// returned here; later serve failures arrive on Errors.
func (s *Server) Start() error {
	proxyLn, err := net.Listen("tcp", s.proxyServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.proxyServer.Addr, err)
	}

	var adminLn net.Listener
	if s.adminServer != nil {
		adminLn, err = net.Listen("tcp", s.adminServer.Addr)
		if err != nil {
			_ = proxyLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.adminServer.Addr, err)
		}
	}

	s.mu.Lock()
	s.proxyAddr = proxyLn.Addr()
	if adminLn != nil {
		s.adminAddr = adminLn.Addr()
	}
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"address": proxyLn.Addr().String(),
		"h2c":     s.config.H2C,
	}).Info("Starting proxy server")
	s.serve(s.proxyServer, proxyLn)

	if adminLn != nil {
		s.logger.WithField("address", adminLn.Addr().String()).Info("Starting admin server")
		s.serve(s.adminServer, adminLn)
	}

	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).WithField("address", ln.Addr().String()).Error("Server failed")
			s.errCh <- err
		}
	}()
}

// Errors delivers fatal serve errors from either listener
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// ProxyAddr returns the bound proxy address, nil before Start
func (s *Server) ProxyAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxyAddr
}

// AdminAddr returns the bound admin address, nil when disabled or before Start
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminAddr
}

// Shutdown gracefully shuts down the servers, proxy first
func (s *Server) Shutdown(ctx context.Context) error {
	var err error

	if shutdownErr := s.proxyServer.Shutdown(ctx); shutdownErr != nil {
		s.logger.WithError(shutdownErr).Error("Failed to shutdown proxy server")
		err = shutdownErr
	}

	if s.adminServer != nil {
		if shutdownErr := s.adminServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.WithError(shutdownErr).Error("Failed to shutdown admin server")
			err = shutdownErr
		}
	}

	s.wg.Wait()
	s.logger.Info("Servers stopped")
	return err
}
