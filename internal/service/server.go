package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
	listener   net.Listener
	name       string
	logger     *zap.Logger
}

func NewServer(name, addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{httpServer: s, name: name, logger: logger}
}

// Start 同步绑定端口（失败直接返回），后台提供服务
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	s.logger.Info("Starting HTTP server", zap.String("server", s.name), zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.String("server", s.name), zap.Error(err))
		}
	}()
	return nil
}

// Addr 实际监听地址（Start 之后有效）
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server", zap.String("server", s.name))
	return s.httpServer.Shutdown(ctx)
}
