package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RedChat/internal/backend"
	"RedChat/internal/chatbot"
	"RedChat/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, gw backend.GatewayFunc) (*httptest.Server, *chatbot.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := chatbot.NewService(session.NewMemoryStore(), gw, chatbot.Options{
		Persona: "You are RED.",
		Logger:  logger,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(New(svc, logger).Handler())
	t.Cleanup(func() {
		ts.Close()
		svc.Close()
	})
	return ts, svc
}

// echoGateway answers titles with a fixed label and chats by echoing the prompt
func echoGateway(_ context.Context, messages []session.Message) (string, error) {
	if strings.HasPrefix(messages[0].Content, "Generate a short title") {
		return "Greeting", nil
	}
	return "echo: " + messages[len(messages)-1].Content, nil
}

func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func decode(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestChatFlow(t *testing.T) {
	ts, _ := newTestServer(t, echoGateway)

	status, body := postJSON(t, ts.URL+"/chat", map[string]any{"prompt": "Hello", "session_id": "s1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "echo: Hello", body["response"])
	assert.Equal(t, "Greeting", body["chat_title"])
	assert.Equal(t, "s1", body["session_id"])

	status, body = postJSON(t, ts.URL+"/chat", map[string]any{"message": "Again", "session_id": "s1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "echo: Again", body["response"])
	assert.Contains(t, body, "chat_title")
	assert.Nil(t, body["chat_title"])

	resp, err := http.Get(ts.URL + "/get_chats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	chats := decode(t, resp.Body)
	assert.Equal(t, true, chats["success"])
	assert.Equal(t, []any{map[string]any{"id": "s1", "title": "Greeting"}}, chats["chats"])

	status, body = postJSON(t, ts.URL+"/get_history", map[string]any{"session_id": "s1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{
		map[string]any{"role": "user", "content": "Hello"},
		map[string]any{"role": "assistant", "content": "echo: Hello"},
		map[string]any{"role": "user", "content": "Again"},
		map[string]any{"role": "assistant", "content": "echo: Again"},
	}, body["history"])

	status, body = postJSON(t, ts.URL+"/delete_chat", map[string]any{"session_id": "s1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true}, body)

	status, body = postJSON(t, ts.URL+"/get_history", map[string]any{"session_id": "s1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []any{}, body["history"])
}

func TestChat_Incognito(t *testing.T) {
	ts, svc := newTestServer(t, echoGateway)

	status, body := postJSON(t, ts.URL+"/chat", map[string]any{
		"prompt":       "secret",
		"session_id":   "s2",
		"is_incognito": true,
		"history":      []any{map[string]any{"role": "user", "content": "before"}, 7},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "echo: secret", body["response"])
	assert.Nil(t, body["chat_title"])

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		gatewayErr error
		body       any
		wantStatus int
		wantError  string
	}{
		{
			name:       "empty prompt",
			body:       map[string]any{"prompt": "  "},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request: prompt is required",
		},
		{
			name:       "malformed body",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request: malformed JSON body",
		},
		{
			name:       "rate limited",
			gatewayErr: fmt.Errorf("%w: status 429", backend.ErrRateLimited),
			body:       map[string]any{"prompt": "hi"},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "Rate limit reached, please slow down",
		},
		{
			name:       "unavailable",
			gatewayErr: fmt.Errorf("%w: status 503", backend.ErrUnavailable),
			body:       map[string]any{"prompt": "hi"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "AI service unavailable",
		},
		{
			name:       "unknown",
			gatewayErr: errors.New("status 418: secret upstream body"),
			body:       map[string]any{"prompt": "hi"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Processing error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, func(context.Context, []session.Message) (string, error) {
				if tt.gatewayErr != nil {
					return "", tt.gatewayErr
				}
				return "ok", nil
			})

			status, body := postJSON(t, ts.URL+"/chat", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, map[string]any{"success": false, "error": tt.wantError}, body)
		})
	}
}

func TestSessionEndpointsRequireID(t *testing.T) {
	ts, _ := newTestServer(t, echoGateway)

	for _, path := range []string{"/get_history", "/delete_chat"} {
		status, body := postJSON(t, ts.URL+path, map[string]any{})
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Equal(t, false, body["success"], path)
	}
}

func TestCORS(t *testing.T) {
	ts, _ := newTestServer(t, echoGateway)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(ts.URL + "/get_chats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketChat(t *testing.T) {
	ts, _ := newTestServer(t, echoGateway)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"prompt": "Hello", "session_id": "ws1"}))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, true, reply["success"])
	assert.Equal(t, "echo: Hello", reply["response"])
	assert.Equal(t, "Greeting", reply["chat_title"])
	assert.Equal(t, "ws1", reply["session_id"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	reply = nil
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, map[string]any{"success": false, "error": "invalid request: malformed JSON frame"}, reply)

	require.NoError(t, conn.WriteJSON(map[string]any{"prompt": ""}))
	reply = nil
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, false, reply["success"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestStatusFor(t *testing.T) {
	status, msg := statusFor(fmt.Errorf("%w: %w", chatbot.ErrStorage, errors.New("disk full")))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Could not save conversation", msg)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	srv := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}

func TestChat_NonArrayHistoryIsIgnored(t *testing.T) {
	ts, _ := newTestServer(t, echoGateway)

	for _, history := range []any{map[string]any{}, "earlier", 3} {
		status, body := postJSON(t, ts.URL+"/chat", map[string]any{
			"prompt":       "hi",
			"is_incognito": true,
			"history":      history,
		})
		assert.Equal(t, http.StatusOK, status, "history %v", history)
		assert.Equal(t, "echo: hi", body["response"])
	}

	status, _ := postJSON(t, ts.URL+"/chat", map[string]any{"prompt": "hi", "session_id": "p1", "history": map[string]any{}})
	assert.Equal(t, http.StatusOK, status)
}

func TestHistoryList_Decode(t *testing.T) {
	var req chatRequest
	require.NoError(t, json.Unmarshal([]byte(`{"history": [{"role":"user","content":"a"}, 5, {"role":"assistant","content":"b"}]}`), &req))
	assert.Equal(t, historyList{
		{Role: "user", Content: "a"},
		{},
		{Role: "assistant", Content: "b"},
	}, req.History)

	require.NoError(t, json.Unmarshal([]byte(`{"history": {"role":"user"}}`), &req))
	assert.Nil(t, req.History)
}

func TestNewLeavesGinModeAlone(t *testing.T) {
	New(nil, nil)
	assert.Equal(t, gin.TestMode, gin.Mode())
}
