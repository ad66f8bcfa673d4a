// Package http levanta el servidor del admin API.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/aether/internal/observability/logger"
)

// Server envuelve http.Server con apagado por contexto.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             *zap.Logger
}

// NewServer no fija WriteTimeout: los streams de watch son largos.
func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		log:             logger.Named("http").With(logger.String("addr", addr)),
	}
}

// WithTLS sirve sobre TLS con cfg (que ya trae los certificados).
func (s *Server) WithTLS(cfg *tls.Config) *Server {
	s.srv.TLSConfig = cfg
	return s
}

// Named cambia el nombre del logger (ej: "raft-rpc").
func (s *Server) Named(name string) *Server {
	s.log = logger.Named(name).With(logger.String("addr", s.srv.Addr))
	return s
}

// Run sirve en ln (nil = escuchar en Addr) hasta que ctx se cancela y después
// hace un Shutdown ordenado.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.srv.Addr); err != nil {
			return err
		}
	}
	if s.srv.TLSConfig != nil {
		ln = tls.NewListener(ln, s.srv.TLSConfig)
	}
	// los streams SSE terminan cuando se cancela el BaseContext
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	s.srv.BaseContext = func(net.Listener) context.Context { return base }

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", logger.String("listen", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	cancelBase()
	sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		s.log.Warn("shutdown incomplete", logger.Err(err))
		_ = s.srv.Close()
		return err
	}
	s.log.Info("stopped")
	return nil
}
