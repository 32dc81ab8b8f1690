package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/chatrelay/internal/http/handlers"
	httpMW "github.com/yungbote/chatrelay/internal/http/middleware"
	"github.com/yungbote/chatrelay/internal/observability"
	"github.com/yungbote/chatrelay/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware

	ChatHandler         *httpH.ChatHandler
	FeedbackHandler     *httpH.FeedbackHandler
	ConversationHandler *httpH.ConversationHandler
	HealthHandler       *httpH.HealthHandler

	Metrics         *observability.Metrics
	CORSOrigins     []string
	MessageIDHeader string
	MaxBodyBytes    int64
	// OtelServiceName enables otelgin spans when set.
	OtelServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(httpMW.Recovery(cfg.Log))
	if cfg.OtelServiceName != "" {
		r.Use(otelgin.Middleware(cfg.OtelServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins, cfg.MessageIDHeader, httpH.ChatIDHeader))
	r.Use(httpMW.LimitBody(cfg.MaxBodyBytes))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")

	// Feedback accepts anonymous votes; a signed-in caller is still attached for ownership checks.
	if cfg.FeedbackHandler != nil {
		fb := api.Group("/")
		if cfg.AuthMiddleware != nil {
			fb.Use(cfg.AuthMiddleware.OptionalIdentity())
		}
		fb.POST("/feedback", cfg.FeedbackHandler.Submit)
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireIdentity())
		}

		if cfg.ChatHandler != nil {
			protected.POST("/chat", cfg.ChatHandler.Chat)
		}

		if cfg.ConversationHandler != nil {
			protected.GET("/chats", cfg.ConversationHandler.List)
			protected.GET("/chats/:id", cfg.ConversationHandler.Get)
		}
	}

	return r
}
