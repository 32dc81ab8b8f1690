package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatrelay/internal/auth"
	"github.com/yungbote/chatrelay/internal/domain/chat"
	httpMW "github.com/yungbote/chatrelay/internal/http/middleware"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/provider"
	"github.com/yungbote/chatrelay/internal/services"
	"github.com/yungbote/chatrelay/internal/store/memstore"
	"github.com/yungbote/chatrelay/internal/tracing"
)

type stubProvider struct {
	calls  atomic.Int32
	chunks []string
	err    error
	delay  time.Duration
}

func (p *stubProvider) Stream(ctx context.Context, _ provider.Request) (provider.ChunkStream, error) {
	p.calls.Add(1)
	return provider.NewSliceStream(ctx, p.chunks, p.err).WithDelay(p.delay), nil
}

type harness struct {
	engine *gin.Engine
	store  *memstore.Store
	prov   *stubProvider
}

func newHarness(t *testing.T, prov *stubProvider) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	st := memstore.New()
	rec := tracing.Nop{}
	bg := services.NewBackground(log, 5*time.Second)
	t.Cleanup(func() { _ = bg.Drain(context.Background()) })

	chatSvc := services.NewChatService(log, prov, st, rec, bg, nil, services.ChatSettings{
		Model:       "gpt-3.5-turbo",
		Temperature: 0.7,
	})
	am := httpMW.NewAuthMiddleware(log, auth.NewHeaderResolver("", ""))

	r := gin.New()
	r.Use(httpMW.Recovery(log))
	protected := r.Group("/api", am.RequireIdentity())
	protected.POST("/chat", NewChatHandler(log, chatSvc, "").Chat)
	conv := NewConversationHandler(services.NewConversationService(log, st))
	protected.GET("/chats", conv.List)
	protected.GET("/chats/:id", conv.Get)
	r.POST("/api/feedback", am.OptionalIdentity(), NewFeedbackHandler(services.NewFeedbackService(log, rec, st, nil)).Submit)
	r.GET("/healthcheck", NewHealthHandler(st).HealthCheck)
	r.GET("/readyz", NewHealthHandler(st).Ready)

	return &harness{engine: r, store: st, prov: prov}
}

func chatBody(id, content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":       id,
		"messages": []chat.Message{{ID: "m1", Role: chat.RoleUser, Content: content}},
	})
	return string(b)
}

func (h *harness) do(method, path, body, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
		req.Header.Set("X-User-Email", user+"@example.com")
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsAndPersists(t *testing.T) {
	h := newHarness(t, &stubProvider{chunks: []string{"Hel", "lo", "!"}})

	rec := h.do(http.MethodPost, "/api/chat", chatBody("c1", "hi"), "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello!", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	messageID := rec.Header().Get(DefaultMessageIDHeader)
	assert.NotEmpty(t, messageID)
	assert.Equal(t, "c1", rec.Header().Get(ChatIDHeader))

	var conv *chat.Conversation
	require.Eventually(t, func() bool {
		c, err := h.store.GetConversation(context.Background(), chat.StorageKey("c1"))
		if err != nil {
			return false
		}
		conv = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello!", conv.Messages[1].Content)
	assert.Equal(t, chat.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, messageID, conv.Messages[1].ID)
	assert.Equal(t, "u1", conv.UserID)

	require.Eventually(t, func() bool {
		entries, err := h.store.ListUserIndex(context.Background(), chat.UserIndexKey("u1"), 0)
		return err == nil && len(entries) == 1 && entries[0].Member == chat.StorageKey("c1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatRejectsAnonymousWithoutCallingProvider(t *testing.T) {
	h := newHarness(t, &stubProvider{chunks: []string{"x"}})

	rec := h.do(http.MethodPost, "/api/chat", chatBody("c1", "hi"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", rec.Body.String())
	assert.Equal(t, int32(0), h.prov.calls.Load())
}

func TestChatRejectsInvalidMessages(t *testing.T) {
	h := newHarness(t, &stubProvider{chunks: []string{"x"}})

	rec := h.do(http.MethodPost, "/api/chat", `{"id":"c1","messages":[]}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")

	rec = h.do(http.MethodPost, "/api/chat", `{not json`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(0), h.prov.calls.Load())
}

func TestChatUpstreamFailureBeforeFirstChunk(t *testing.T) {
	h := newHarness(t, &stubProvider{err: errors.New("upstream 500")})

	rec := h.do(http.MethodPost, "/api/chat", chatBody("c1", "hi"), "u1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_error")
	assert.Empty(t, rec.Header().Get(DefaultMessageIDHeader))

	time.Sleep(50 * time.Millisecond)
	_, err := h.store.GetConversation(context.Background(), chat.StorageKey("c1"))
	assert.Error(t, err)
}

func TestChatUpstreamFailureMidStreamDropsConnection(t *testing.T) {
	h := newHarness(t, &stubProvider{chunks: []string{"partial "}, err: errors.New("reset")})
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", strings.NewReader(chatBody("c2", "hi")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "u1")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err)
	assert.Equal(t, "partial ", string(body))

	time.Sleep(50 * time.Millisecond)
	_, err = h.store.GetConversation(context.Background(), chat.StorageKey("c2"))
	assert.Error(t, err)
}

func TestConversationRoutes(t *testing.T) {
	h := newHarness(t, &stubProvider{chunks: []string{"ok"}})
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/chat", chatBody("c1", "first question"), "u1").Code)

	require.Eventually(t, func() bool {
		rec := h.do(http.MethodGet, "/api/chats", "", "u1")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"id":"c1"`)
	}, 2*time.Second, 10*time.Millisecond)

	rec := h.do(http.MethodGet, "/api/chats/c1", "", "u1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "first question")

	rec = h.do(http.MethodGet, "/api/chats/c1", "", "u2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/chats?limit=abc", "", "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/chats", "", "u3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chats":[]}`, rec.Body.String())
}

func TestFeedbackRoute(t *testing.T) {
	h := newHarness(t, &stubProvider{})

	rec := h.do(http.MethodPost, "/api/feedback", `{"chatId":"c9","vote":"positive","comment":"nice"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"traceId":"chat:c9","value":1}`, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/feedback", `{"chatId":"","vote":"positive"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/feedback", `{"chatId":"c9","vote":"meh"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	h := newHarness(t, &stubProvider{})
	assert.Equal(t, "ok", h.do(http.MethodGet, "/healthcheck", "", "").Body.String())
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "", "").Code)
}
