package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"RedChat/internal/chatbot"
	"RedChat/internal/session"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// ChatService is what the HTTP edge needs from the orchestrator
type ChatService interface {
	Chat(ctx context.Context, req chatbot.Request) (*chatbot.Response, error)
	History(ctx context.Context, sessionID string) ([]session.Message, error)
	List(ctx context.Context) ([]session.Summary, error)
	Delete(ctx context.Context, sessionID string) error
}

// Server exposes a ChatService over HTTP and WebSocket
type Server struct {
	svc      ChatService
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	// wsIdle is how long a socket may go without any frame, pongs included
	wsIdle time.Duration
}

// New builds the router. The gin mode is left to the caller.
func New(svc ChatService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		svc:    svc,
		logger: logger,
		engine: gin.New(),
		wsIdle: defaultWSIdle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 45 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}

	s.engine.Use(gin.Recovery(), requestLogger(logger), cors())
	s.engine.POST("/chat", s.handleChat)
	s.engine.GET("/get_chats", s.handleListChats)
	s.engine.POST("/get_history", s.handleHistory)
	s.engine.POST("/delete_chat", s.handleDelete)
	s.engine.GET("/ws", s.handleWebSocket)
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
