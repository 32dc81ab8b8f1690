package app

import (
	"context"
	"fmt"

	"github.com/yungbote/chatrelay/internal/http"
	"github.com/yungbote/chatrelay/internal/observability"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/platform/shutdown"
)

type App struct {
	Log      *logger.Logger
	Cfg      *Config
	Clients  Clients
	Services Services
	Server   *http.Server
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Env,
		Version:     cfg.Version,
		Endpoint:    cfg.Otel.Endpoint,
		Headers:     observability.ParseHeaders(cfg.Otel.Headers),
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	})

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	clients, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		_ = otelShutdown(context.Background())
		log.Sync()
		return nil, err
	}
	svcs := wireServices(log, cfg, clients, metrics)
	handlers := wireHandlers(log, cfg, clients, svcs)
	mw := wireMiddleware(log, clients)
	server := wireServer(log, cfg, handlers, mw, metrics)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Services:     svcs,
		Server:       server,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves until ctx is cancelled, then closes the app.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTP.Addr)
		errCh <- a.Server.Run(a.Cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		a.Close()
		return err
	case <-ctx.Done():
		a.Log.Info("shutdown requested")
	}
	a.Close()
	return <-errCh
}

// Close stops intake first, then lets in-flight side effects finish before the recorder flushes
// and the store closes.
func (a *App) Close() {
	if a == nil {
		return
	}
	err := shutdown.Run(a.Cfg.HTTP.ShutdownTimeout.Duration,
		a.Server.Shutdown,
		a.Services.Background.Drain,
		a.Clients.Recorder.Shutdown,
		a.otelShutdown,
		func(context.Context) error { return a.Clients.Store.Close() },
	)
	if err != nil {
		a.Log.Warn("shutdown finished with errors", "error", err)
	}
	a.Log.Sync()
}
