package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatrelay/internal/auth"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/platform/logger"
)

func newAuthEngine(optional bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	am := NewAuthMiddleware(logger.Nop(), auth.NewHeaderResolver("", ""))
	r := gin.New()
	mw := am.RequireIdentity()
	if optional {
		mw = am.OptionalIdentity()
	}
	r.POST("/x", mw, func(c *gin.Context) {
		id := ctxutil.GetIdentity(c.Request.Context())
		if id == nil {
			c.String(http.StatusOK, "anon")
			return
		}
		c.String(http.StatusOK, id.UserID)
	})
	return r
}

func TestRequireIdentity(t *testing.T) {
	r := newAuthEngine(false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	if rec.Code != http.StatusUnauthorized || rec.Body.String() != "Unauthorized" {
		t.Fatalf("anonymous request: got status=%d body=%q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-User-Id", "u1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u1" {
		t.Fatalf("identified request: got status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestOptionalIdentity(t *testing.T) {
	r := newAuthEngine(true)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	if got := rec.Body.String(); got != "anon" {
		t.Fatalf("optional identity: want=%q got=%q", "anon", got)
	}
}

func TestTraceContextHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/x", func(c *gin.Context) {
		td := ctxutil.GetTraceData(c.Request.Context())
		c.String(http.StatusOK, td.RequestID)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("request id header: want=%q got=%q", "req-123", got)
	}
	if got := rec.Body.String(); got != "req-123" {
		t.Fatalf("request id in context: want=%q got=%q", "req-123", got)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("missing trace id header")
	}
}

func TestRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logger.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("bad") })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusInternalServerError)
	}
}
