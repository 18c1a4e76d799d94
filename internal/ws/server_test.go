package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiIerme/JobFinder-sub003/internal/adapter/identity"
	"github.com/guiIerme/JobFinder-sub003/internal/adapter/llm"
	"github.com/guiIerme/JobFinder-sub003/internal/analytics"
	"github.com/guiIerme/JobFinder-sub003/internal/assembler"
	"github.com/guiIerme/JobFinder-sub003/internal/bus"
	"github.com/guiIerme/JobFinder-sub003/internal/chat"
	"github.com/guiIerme/JobFinder-sub003/internal/config"
	"github.com/guiIerme/JobFinder-sub003/internal/hub"
	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/pipeline"
	"github.com/guiIerme/JobFinder-sub003/internal/policy"
	"github.com/guiIerme/JobFinder-sub003/internal/ratelimit"
	"github.com/guiIerme/JobFinder-sub003/internal/session"
	"github.com/guiIerme/JobFinder-sub003/internal/testutil"
)

type rejectCounter struct{ n int }

func (r *rejectCounter) RateLimitRejected() { r.n++ }

type gateway struct {
	url      string
	rejected *rejectCounter
	svc      *chat.Service
	sessions *session.Store
}

func newGateway(t *testing.T, rateLimit int) *gateway {
	t.Helper()
	return newGatewayWith(t, rateLimit, &config.Config{
		PingInterval:   time.Minute,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Minute,
		MaxMessageSize: 65536,
	})
}

func newGatewayWith(t *testing.T, rateLimit int, cfg *config.Config) *gateway {
	t.Helper()
	logging.Discard()
	ctx, cancel := context.WithCancel(context.Background())

	repo := testutil.NewTestSQLiteStore(t)
	rec := analytics.NewRecorder(repo, nil)
	sessions := session.New(repo, session.WithFinalizer(rec))
	idx := knowledge.NewIndex(repo)
	require.NoError(t, idx.LoadDefaults(ctx))

	pipe := pipeline.New(&llm.MockClient{Delay: 20 * time.Millisecond}, assembler.New(idx, 3, 10), pipeline.Config{Model: "mock"}, nil)
	engine, err := policy.NewEngine(ctx, "")
	require.NoError(t, err)

	b := bus.NewInProcess()
	h := hub.NewHub(ctx, b, nil)
	svc := chat.New(chat.Config{}, sessions, pipe, engine, rec, h, nil)

	tokens, err := identity.ParseStaticTokens("tok-ana:ana:client")
	require.NoError(t, err)
	rejected := &rejectCounter{}
	srv := NewServer(cfg, h, identity.NewGate(tokens, true), svc, ratelimit.New(rateLimit, time.Minute), rejected)

	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)

	t.Cleanup(func() {
		ts.Close()
		svc.Wait()
		cancel()
		_ = b.Close()
		idx.Close()
	})
	return &gateway{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		rejected: rejected,
		svc:      svc,
		sessions: sessions,
	}
}

func (g *gateway) dial(t *testing.T, query string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(g.url+"?"+query, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func payload(frame map[string]any) map[string]any {
	p, _ := frame["payload"].(map[string]any)
	return p
}

// readUntil skips frames until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readFrame(t, conn)
		if match(frame) {
			return frame
		}
	}
	t.Fatal("expected frame not received")
	return nil
}

func isAssistantMessage(frame map[string]any) bool {
	return frame["type"] == "message" && payload(frame)["sender"] == "assistant"
}

func TestChatRoundTrip(t *testing.T) {
	g := newGateway(t, 10)
	conn := g.dial(t, "page=/servicos", http.Header{"Authorization": {"Bearer tok-ana"}})

	hello := readFrame(t, conn)
	assert.Equal(t, "message", hello["type"])
	assert.Equal(t, "session", payload(hello)["event"])
	assert.Equal(t, false, payload(hello)["resumed"])
	assert.Equal(t, "client", payload(hello)["role"])
	sessionID := payload(hello)["session_id"].(string)
	assert.True(t, strings.HasPrefix(sessionID, "sess_"))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "chat",
		"payload": map[string]any{"text": "Quanto custa um encanador?", "request_id": "r1"},
	}))

	typing := readFrame(t, conn)
	assert.Equal(t, "typing", typing["type"])
	assert.Equal(t, true, payload(typing)["typing"])

	reply := readUntil(t, conn, isAssistantMessage)
	assert.Equal(t, "r1", reply["request_id"])
	assert.Equal(t, sessionID, reply["session_id"])
	assert.Contains(t, payload(reply)["content"], "R$ 80 a R$ 250")
}

func TestReconnectResumesSession(t *testing.T) {
	g := newGateway(t, 10)

	first := g.dial(t, "anon_id=visitor-1", nil)
	hello := readFrame(t, first)
	sessionID := payload(hello)["session_id"].(string)
	assert.Equal(t, "anonymous", payload(hello)["role"])

	require.NoError(t, first.WriteJSON(map[string]any{"type": "chat", "payload": map[string]any{"text": "Como pago?"}}))
	assert.Equal(t, "typing", readFrame(t, first)["type"])
	require.NoError(t, first.Close())
	g.svc.Wait()

	second := g.dial(t, "anon_id=visitor-1", nil)
	again := readFrame(t, second)
	assert.Equal(t, sessionID, payload(again)["session_id"])
	assert.Equal(t, true, payload(again)["resumed"])
	history, _ := payload(again)["history"].([]any)
	assert.Len(t, history, 2)
}

func TestRejectsMissingCredentials(t *testing.T) {
	g := newGateway(t, 10)
	conn := g.dial(t, "", nil)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "auth_error", payload(frame)["code"])

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestRejectsUnknownToken(t *testing.T) {
	g := newGateway(t, 10)
	conn := g.dial(t, "token=nope", nil)

	frame := readFrame(t, conn)
	assert.Equal(t, "auth_error", payload(frame)["code"])
}

func TestValidationErrors(t *testing.T) {
	g := newGateway(t, 10)
	conn := g.dial(t, "anon_id=visitor-2", nil)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "validation_error", payload(frame)["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat", "payload": map[string]any{"text": "   "}}))
	frame = readFrame(t, conn)
	assert.Equal(t, "validation_error", payload(frame)["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "rating", "payload": map[string]any{"score": 9}}))
	frame = readFrame(t, conn)
	assert.Equal(t, "validation_error", payload(frame)["code"])

	// Pings are accepted silently; the rating that follows is the next frame.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "rating", "payload": map[string]any{"score": 5}}))
	frame = readFrame(t, conn)
	assert.Equal(t, "message", frame["type"])
	assert.Equal(t, "system", payload(frame)["sender"])
}

func TestRateLimitedChat(t *testing.T) {
	g := newGateway(t, 1)
	conn := g.dial(t, "anon_id=visitor-3", nil)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat", "payload": map[string]any{"text": "Oi"}}))
	readUntil(t, conn, isAssistantMessage)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat", "payload": map[string]any{"text": "Oi de novo", "request_id": "r2"}}))
	frame := readFrame(t, conn)
	assert.Equal(t, "rate_limited", frame["type"])
	assert.Equal(t, "r2", frame["request_id"])
	assert.Greater(t, payload(frame)["retry_after_seconds"].(float64), 0.0)
	assert.Equal(t, 1, g.rejected.n)
}

func heartbeatConfig() *config.Config {
	return &config.Config{
		PingInterval:   50 * time.Millisecond,
		WriteTimeout:   time.Second,
		ReadTimeout:    300 * time.Millisecond,
		MaxMessageSize: 65536,
	}
}

func TestSilentClientIsDisconnected(t *testing.T) {
	g := newGatewayWith(t, 10, heartbeatConfig())
	conn := g.dial(t, "anon_id=visitor-4", nil)
	sessionID := payload(readFrame(t, conn))["session_id"].(string)

	// Not reading means server pings go unanswered.
	time.Sleep(700 * time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		require.False(t, netErr.Timeout(), "connection still open: %v", err)
	}

	sess, err := g.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, sess.Active)
}

func TestFramesKeepConnectionAlive(t *testing.T) {
	g := newGatewayWith(t, 10, heartbeatConfig())
	conn := g.dial(t, "anon_id=visitor-5", nil)
	readFrame(t, conn)

	// Pongs are only sent while reading, so the ping frames alone must
	// refresh the read deadline.
	for i := 0; i < 8; i++ {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
		time.Sleep(100 * time.Millisecond)
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat", "payload": map[string]any{"text": "Como pago?", "request_id": "r3"}}))
	typing := readFrame(t, conn)
	assert.Equal(t, "typing", typing["type"])
	reply := readUntil(t, conn, isAssistantMessage)
	assert.Equal(t, "r3", reply["request_id"])
}
