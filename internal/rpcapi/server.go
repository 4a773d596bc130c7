package rpcapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/common/logger"
	"github.com/foofork/orchflow/internal/rpcapi/transport"
)

// Config tunes the RPC server's listen address.
type Config struct {
	Port int
}

// Server hosts the RPC upgrade endpoint (/rpc) and a health check
// (/healthz) on one gin router.
type Server struct {
	cfg    Config
	hub    *Hub
	logger *logger.Logger

	mu         sync.Mutex
	httpServer *http.Server
	running    bool
}

// New creates an RPC server bound to hub.
func New(cfg Config, hub *Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{cfg: cfg, hub: hub, logger: log.WithFields(zap.String("component", "rpcapi.server"))}
}

// Start listens and serves in a background goroutine, returning once the
// listener is bound (or ctx is canceled first).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("rpcapi: server already running")
	}
	s.mu.Unlock()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/rpc", s.handleUpgrade)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpcapi: listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.mu.Lock()
	s.httpServer = &http.Server{Handler: router}
	s.running = true
	s.mu.Unlock()

	ready := make(chan struct{})
	go func() {
		close(ready)
		s.logger.Info("rpc server listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("rpc server error", zap.Error(err))
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleUpgrade(c *gin.Context) {
	conn, err := transport.Upgrade(c.Writer, c.Request, uuid.NewString(), s.logger)
	if err != nil {
		s.logger.Error("failed to upgrade rpc connection", zap.Error(err))
		return
	}

	s.hub.Register(c.Request.Context(), conn)
	go conn.WriteLoop()
	conn.ReadLoop(func(data []byte) {
		if resp := s.hub.Dispatch(c.Request.Context(), data); resp != nil {
			conn.Send(resp)
		}
	})
	s.hub.Unregister(conn)
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Port returns the bound listen port, useful when Config.Port was 0.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Port
}
