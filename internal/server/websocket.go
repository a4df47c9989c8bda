package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"RedChat/internal/chatbot"
)

const (
	wsReadLimit   = 512 * 1024
	wsWriteWait   = 10 * time.Second
	defaultWSIdle = 60 * time.Second
)

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// handleWebSocket serves chat over a socket. Every text frame is a chat
// request and gets exactly one reply frame, either a chat response or an
// error. A {"type":"ping"} frame is answered with a pong frame instead.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	logger := s.logger.With("client_ip", c.ClientIP())
	logger.Info("websocket connected")

	idle := s.wsIdle
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(conn, idle*9/10, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
		conn.Close()
	}()

	ctx := c.Request.Context()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket closed unexpectedly", "error", err)
			} else {
				logger.Info("websocket disconnected")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(idle))

		if messageType != websocket.TextMessage {
			continue
		}

		if gjson.GetBytes(data, "type").String() == "ping" {
			s.writeFrame(conn, pongFrame{Type: "pong", Timestamp: time.Now().UnixMilli()})
			continue
		}

		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeFrame(conn, failFrame(fmt.Errorf("%w: malformed JSON frame", chatbot.ErrValidation)))
			continue
		}

		resp, err := s.svc.Chat(ctx, req.toRequest())
		if err != nil {
			if status, _ := statusFor(err); status >= http.StatusInternalServerError {
				logger.Error("websocket chat failed", "error", err)
			}
			s.writeFrame(conn, failFrame(err))
		} else {
			s.writeFrame(conn, newChatResponse(resp))
		}

		// a slow completion must not eat into the next read's window
		conn.SetReadDeadline(time.Now().Add(idle))
	}
}

// keepAlive pings the client until done is closed or a ping fails
func (s *Server) keepAlive(conn *websocket.Conn, period time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func failFrame(err error) errorResponse {
	_, msg := statusFor(err)
	return errorResponse{Error: msg}
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Warn("failed to write websocket frame", "error", err)
	}
}
