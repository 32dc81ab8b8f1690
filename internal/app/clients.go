package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/yungbote/chatrelay/internal/auth"
	"github.com/yungbote/chatrelay/internal/observability"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/provider"
	"github.com/yungbote/chatrelay/internal/provider/mock"
	"github.com/yungbote/chatrelay/internal/provider/oaihttp"
	"github.com/yungbote/chatrelay/internal/provider/openai"
	"github.com/yungbote/chatrelay/internal/store"
	"github.com/yungbote/chatrelay/internal/store/memstore"
	"github.com/yungbote/chatrelay/internal/store/redisstore"
	"github.com/yungbote/chatrelay/internal/store/sqlstore"
	"github.com/yungbote/chatrelay/internal/tracing"
	"github.com/yungbote/chatrelay/internal/tracing/langfuse"
	"github.com/yungbote/chatrelay/internal/tracing/oteltrace"
)

type Clients struct {
	Provider provider.Provider
	Store    store.Store
	Recorder tracing.Recorder
	Auth     auth.Resolver
}

func wireClients(ctx context.Context, log *logger.Logger, cfg *Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")

	prov, err := wireProvider(cfg.Chat)
	if err != nil {
		return Clients{}, fmt.Errorf("init provider: %w", err)
	}

	st, err := wireStore(ctx, log, cfg.Store)
	if err != nil {
		return Clients{}, fmt.Errorf("init store: %w", err)
	}

	rec, err := wireRecorder(log, cfg.Trace, metrics)
	if err != nil {
		_ = st.Close()
		return Clients{}, fmt.Errorf("init trace recorder: %w", err)
	}

	resolver, err := wireAuth(cfg.Auth)
	if err != nil {
		_ = st.Close()
		return Clients{}, fmt.Errorf("init auth: %w", err)
	}

	log.Info("Clients ready",
		"provider", cfg.Chat.Provider,
		"store", cfg.Store.Type,
		"trace_backend", cfg.Trace.Backend,
		"auth_mode", cfg.Auth.Mode,
	)
	return Clients{Provider: prov, Store: st, Recorder: rec, Auth: resolver}, nil
}

func wireProvider(cfg ChatConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			MaxRetries: 2,
		}), nil
	case "oai_http":
		return oaihttp.New(oaihttp.Config{
			BaseURL:       cfg.OpenAIBaseURL,
			APIKey:        cfg.OpenAIAPIKey,
			StreamTimeout: cfg.ProviderTimeout.Duration,
		})
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func wireStore(ctx context.Context, log *logger.Logger, cfg StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "redis":
		return redisstore.New(ctx, log, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "postgres":
		return sqlstore.Open(log, sqlstore.Config{Driver: "postgres", DSN: cfg.PostgresDSN})
	case "sqlite":
		return sqlstore.Open(log, sqlstore.Config{Driver: "sqlite", DSN: cfg.SQLitePath})
	case "memory":
		log.Warn("using in-memory store; conversations are lost on restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func wireRecorder(log *logger.Logger, cfg TraceConfig, metrics *observability.Metrics) (tracing.Recorder, error) {
	switch cfg.Backend {
	case "langfuse":
		rec, err := langfuse.New(langfuse.Config{
			BaseURL:       cfg.LangfuseBaseURL,
			PublicKey:     cfg.LangfusePublicKey,
			SecretKey:     cfg.LangfuseSecretKey,
			FlushInterval: cfg.LangfuseFlushInterval.Duration,
			FlushAt:       cfg.LangfuseFlushAt,
		}, log, nil)
		if err != nil {
			return nil, err
		}
		if metrics != nil {
			rec.WithObserver(metrics)
		}
		rec.Start()
		return rec, nil
	case "otel":
		// InitOTel has already installed the global provider.
		return oteltrace.New(otel.GetTracerProvider(), log), nil
	case "none":
		return tracing.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown trace backend %q", cfg.Backend)
	}
}

func wireAuth(cfg AuthConfig) (auth.Resolver, error) {
	switch cfg.Mode {
	case "jwt":
		return auth.NewJWTResolver(cfg.JWTSecret, cfg.CookieName)
	case "header":
		return auth.NewHeaderResolver(cfg.UserHeader, cfg.EmailHeader), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
