package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	ReadTimeout time.Duration
	// WriteTimeout ноль для долгоживущих SSE соединений.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(port int, handler http.Handler, opts Options, logger *zap.Logger) *Server {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 120 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
		logger: logger.Named("http"),
	}
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}

	return nil
}

// Serve принимает соединения на уже открытом listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("serving HTTP", zap.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
