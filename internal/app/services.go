package app

import (
	"github.com/yungbote/chatrelay/internal/observability"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/services"
)

type Services struct {
	Background    *services.Background
	Chat          services.ChatService
	Feedback      services.FeedbackService
	Conversations services.ConversationService
}

func wireServices(log *logger.Logger, cfg *Config, clients Clients, metrics *observability.Metrics) Services {
	log.Info("Wiring services...")
	bg := services.NewBackground(log, cfg.HTTP.ShutdownTimeout.Duration)
	return Services{
		Background: bg,
		Chat: services.NewChatService(log, clients.Provider, clients.Store, clients.Recorder, bg, metrics, services.ChatSettings{
			Model:             cfg.Chat.Model,
			Temperature:       cfg.Chat.Temperature,
			DrainOnDisconnect: cfg.Chat.DrainOnDisconnect,
			ProviderTimeout:   cfg.Chat.ProviderTimeout.Duration,
		}),
		Feedback:      services.NewFeedbackService(log, clients.Recorder, clients.Store, metrics),
		Conversations: services.NewConversationService(log, clients.Store),
	}
}
