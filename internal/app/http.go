package app

import (
	"github.com/yungbote/chatrelay/internal/http"
	httpH "github.com/yungbote/chatrelay/internal/http/handlers"
	httpMW "github.com/yungbote/chatrelay/internal/http/middleware"
	"github.com/yungbote/chatrelay/internal/observability"
	"github.com/yungbote/chatrelay/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health        *httpH.HealthHandler
	Chat          *httpH.ChatHandler
	Feedback      *httpH.FeedbackHandler
	Conversations *httpH.ConversationHandler
}

func wireMiddleware(log *logger.Logger, clients Clients) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{Auth: httpMW.NewAuthMiddleware(log, clients.Auth)}
}

func wireHandlers(log *logger.Logger, cfg *Config, clients Clients, svcs Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:        httpH.NewHealthHandler(clients.Store),
		Chat:          httpH.NewChatHandler(log, svcs.Chat, cfg.Chat.MessageIDHeader),
		Feedback:      httpH.NewFeedbackHandler(svcs.Feedback),
		Conversations: httpH.NewConversationHandler(svcs.Conversations),
	}
}

func wireServer(log *logger.Logger, cfg *Config, handlers Handlers, mw Middleware, metrics *observability.Metrics) *http.Server {
	otelName := ""
	if cfg.Otel.Enabled {
		otelName = cfg.Otel.ServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:                 log,
		AuthMiddleware:      mw.Auth,
		ChatHandler:         handlers.Chat,
		FeedbackHandler:     handlers.Feedback,
		ConversationHandler: handlers.Conversations,
		HealthHandler:       handlers.Health,
		Metrics:             metrics,
		CORSOrigins:         cfg.HTTP.CORSOrigins,
		MessageIDHeader:     cfg.Chat.MessageIDHeader,
		MaxBodyBytes:        cfg.HTTP.MaxRequestBytes,
		OtelServiceName:     otelName,
	})
}
