package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiIerme/JobFinder-sub003/internal/analytics"
	"github.com/guiIerme/JobFinder-sub003/internal/chat"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/session"
	"github.com/guiIerme/JobFinder-sub003/internal/testutil"
)

type fixedStats struct{}

func (fixedStats) GetConnectionCount() int { return 2 }
func (fixedStats) GetSessionCount() int    { return 1 }

type testEnv struct {
	handler  *Handler
	sessions *session.Store
	recorder *analytics.Recorder
	metrics  *analytics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logging.Discard()

	repo := testutil.NewTestSQLiteStore(t)
	metrics := analytics.NewMetrics()
	rec := analytics.NewRecorder(repo, metrics)
	sessions := session.New(repo, session.WithFinalizer(rec))
	idx := knowledge.NewIndex(repo)
	t.Cleanup(idx.Close)
	require.NoError(t, idx.LoadDefaults(context.Background()))

	svc := chat.New(chat.Config{}, sessions, nil, nil, rec, nil, nil)
	h := NewHandler(svc, idx, rec, fixedStats{}, metrics.Handler())
	return &testEnv{handler: h, sessions: sessions, recorder: rec, metrics: metrics}
}

func (env *testEnv) seedSession(t *testing.T, n int) string {
	t.Helper()
	ctx := context.Background()
	sess, err := env.sessions.Create(ctx, domain.Owner{UserID: "u1"}, domain.RoleClient, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, env.sessions.AppendMessages(ctx, sess.SessionID, &domain.Message{
			Sender:  domain.SenderUser,
			Content: "mensagem",
		}))
	}
	return sess.SessionID
}

func call(t *testing.T, handler echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	require.NoError(t, handler(c))
	return rec
}

func TestGetSessionMessagesPaging(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.seedSession(t, 3)

	rec := call(t, env.handler.GetSessionMessages, http.MethodGet, "/v1/sessions/x/messages?limit=2", "", "session_id", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Messages []map[string]any `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, float64(1), page.Messages[0]["seq"])

	rec = call(t, env.handler.GetSessionMessages, http.MethodGet, "/v1/sessions/x/messages?after_seq=2", "", "session_id", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, float64(3), page.Messages[0]["seq"])
}

func TestGetSessionMessagesErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := call(t, env.handler.GetSessionMessages, http.MethodGet, "/v1/sessions/x/messages", "", "session_id", "sess_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, env.handler.GetSessionMessages, http.MethodGet, "/v1/sessions/x/messages?limit=abc", "", "session_id", "sess_missing")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, env.handler.GetSessionMessages, http.MethodGet, "/v1/sessions/x/messages?after_seq=-1", "", "session_id", "sess_missing")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.seedSession(t, 1)

	rec := call(t, env.handler.CloseSession, http.MethodPost, "/v1/sessions/x/close", "", "session_id", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"closed":true}`, rec.Body.String())

	rec = call(t, env.handler.CloseSession, http.MethodPost, "/v1/sessions/x/close", `{"reason":"client"}`, "session_id", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"closed":false}`, rec.Body.String())

	record, err := env.recorder.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, record.Finalized())
	assert.Equal(t, domain.CloseReasonAdmin, record.CloseReason)

	rec = call(t, env.handler.CloseSession, http.MethodPost, "/v1/sessions/x/close", `{"reason":"expired"}`, "session_id", sessionID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, env.handler.CloseSession, http.MethodPost, "/v1/sessions/x/close", "", "session_id", "sess_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchKnowledge(t *testing.T) {
	env := newTestEnv(t)

	rec := call(t, env.handler.SearchKnowledge, http.MethodGet, "/v1/knowledge/search?q=encanador&category=service&k=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []domain.KnowledgeEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Entries)
	assert.LessOrEqual(t, len(resp.Entries), 2)
	assert.Equal(t, domain.CategoryService, resp.Entries[0].Category)

	rec = call(t, env.handler.SearchKnowledge, http.MethodGet, "/v1/knowledge/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, env.handler.SearchKnowledge, http.MethodGet, "/v1/knowledge/search?q=x&category=listings", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.seedSession(t, 2)

	rec := call(t, env.handler.GetSessionAnalytics, http.MethodGet, "/v1/analytics/sessions/x", "", "session_id", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	var record domain.AnalyticsRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, int64(2), record.UserMessages)

	rec = call(t, env.handler.GetSessionAnalytics, http.MethodGet, "/v1/analytics/sessions/x", "", "session_id", "sess_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, env.handler.GetReport, http.MethodGet, "/v1/analytics/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Sessions)

	rec = call(t, env.handler.Export, http.MethodGet, "/v1/analytics/export?since=2000-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var export struct {
		Records []domain.AnalyticsRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Len(t, export.Records, 1)

	rec = call(t, env.handler.GetReport, http.MethodGet, "/v1/analytics/report?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerRoutesAndAdminKey(t *testing.T) {
	env := newTestEnv(t)
	srv := NewServer(env.handler, "secret")
	env.metrics.CacheHit()

	get := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+key)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := get("/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(2), health["connections"])
	assert.Greater(t, health["knowledge"].(float64), 0.0)

	rec = get("/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assistant_cache_hits_total 1")

	assert.NotEqual(t, http.StatusOK, get("/v1/analytics/report", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/v1/analytics/report", "wrong").Code)
	assert.Equal(t, http.StatusOK, get("/v1/analytics/report", "secret").Code)
}
