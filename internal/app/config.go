package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/chatrelay/internal/platform/envutil"
)

// Duration reads "5s"-style strings or integer nanoseconds from JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		if strings.TrimSpace(u) == "" {
			d.Duration = 0
			return nil
		}
		dd, err := time.ParseDuration(u)
		if err != nil {
			return err
		}
		d.Duration = dd
		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

type HTTPConfig struct {
	Addr            string   `json:"addr"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	MaxRequestBytes int64    `json:"max_request_bytes"`
	CORSOrigins     []string `json:"cors_origins"`
}

type ChatConfig struct {
	Provider          string   `json:"provider"`
	OpenAIAPIKey      string   `json:"openai_api_key"`
	OpenAIBaseURL     string   `json:"openai_base_url"`
	Model             string   `json:"model"`
	Temperature       float64  `json:"temperature"`
	ProviderTimeout   Duration `json:"provider_timeout"`
	DrainOnDisconnect bool     `json:"drain_on_disconnect"`
	MessageIDHeader   string   `json:"message_id_header"`
}

type StoreConfig struct {
	Type          string `json:"type"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	PostgresDSN   string `json:"postgres_dsn"`
	SQLitePath    string `json:"sqlite_path"`
}

type TraceConfig struct {
	Backend               string   `json:"backend"`
	LangfusePublicKey     string   `json:"langfuse_public_key"`
	LangfuseSecretKey     string   `json:"langfuse_secret_key"`
	LangfuseBaseURL       string   `json:"langfuse_base_url"`
	LangfuseFlushInterval Duration `json:"langfuse_flush_interval"`
	LangfuseFlushAt       int      `json:"langfuse_flush_at"`
}

type OtelConfig struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"service_name"`
	Endpoint    string  `json:"endpoint"`
	Headers     string  `json:"headers"`
	Insecure    bool    `json:"insecure"`
	SampleRatio float64 `json:"sample_ratio"`
}

type AuthConfig struct {
	Mode        string `json:"mode"`
	JWTSecret   string `json:"jwt_secret"`
	CookieName  string `json:"cookie_name"`
	UserHeader  string `json:"user_header"`
	EmailHeader string `json:"email_header"`
}

type Config struct {
	Env            string      `json:"env"`
	Version        string      `json:"version"`
	MetricsEnabled bool        `json:"metrics_enabled"`
	HTTP           HTTPConfig  `json:"http"`
	Chat           ChatConfig  `json:"chat"`
	Store          StoreConfig `json:"store"`
	Trace          TraceConfig `json:"trace"`
	Otel           OtelConfig  `json:"otel"`
	Auth           AuthConfig  `json:"auth"`
}

func defaultConfig() *Config {
	return &Config{
		Env:            "development",
		MetricsEnabled: true,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{Duration: 15 * time.Second},
			MaxRequestBytes: 1 << 20,
		},
		Chat: ChatConfig{
			Provider:          "mock",
			Model:             "gpt-3.5-turbo",
			Temperature:       0.7,
			ProviderTimeout:   Duration{Duration: 2 * time.Minute},
			DrainOnDisconnect: true,
			MessageIDHeader:   "X-Message-Id",
		},
		Store: StoreConfig{
			Type:       "memory",
			SQLitePath: "chatrelay.db",
		},
		Trace: TraceConfig{
			Backend:               "none",
			LangfuseBaseURL:       "https://cloud.langfuse.com",
			LangfuseFlushInterval: Duration{Duration: 5 * time.Second},
			LangfuseFlushAt:       15,
		},
		Otel: OtelConfig{
			ServiceName: "chatrelay",
			SampleRatio: 1,
		},
		Auth: AuthConfig{
			Mode:       "header",
			CookieName: "session",
		},
	}
}

// LoadConfig applies defaults, then the JSON file at CHAT_CONFIG_PATH, then environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := strings.TrimSpace(os.Getenv("CHAT_CONFIG_PATH")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", cfg.Env)
	cfg.Version = envutil.String("APP_VERSION", cfg.Version)
	cfg.MetricsEnabled = envutil.Bool("METRICS_ENABLED", cfg.MetricsEnabled)

	cfg.HTTP.Addr = envutil.String("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ShutdownTimeout.Duration = envutil.Duration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout.Duration)
	cfg.HTTP.MaxRequestBytes = int64(envutil.Int("HTTP_MAX_REQUEST_BYTES", int(cfg.HTTP.MaxRequestBytes)))
	cfg.HTTP.CORSOrigins = envutil.List("CORS_ALLOW_ORIGINS", cfg.HTTP.CORSOrigins)

	cfg.Chat.Provider = envutil.String("PROVIDER_TYPE", cfg.Chat.Provider)
	cfg.Chat.OpenAIAPIKey = envutil.String("OPENAI_API_KEY", cfg.Chat.OpenAIAPIKey)
	cfg.Chat.OpenAIBaseURL = envutil.String("OPENAI_BASE_URL", cfg.Chat.OpenAIBaseURL)
	cfg.Chat.Model = envutil.String("CHAT_MODEL", cfg.Chat.Model)
	cfg.Chat.Temperature = envutil.Float("CHAT_TEMPERATURE", cfg.Chat.Temperature)
	cfg.Chat.ProviderTimeout.Duration = envutil.Duration("PROVIDER_TIMEOUT", cfg.Chat.ProviderTimeout.Duration)
	cfg.Chat.DrainOnDisconnect = envutil.Bool("CHAT_DRAIN_ON_DISCONNECT", cfg.Chat.DrainOnDisconnect)
	cfg.Chat.MessageIDHeader = envutil.String("CHAT_MESSAGE_ID_HEADER", cfg.Chat.MessageIDHeader)

	cfg.Store.Type = envutil.String("STORE_TYPE", cfg.Store.Type)
	cfg.Store.RedisAddr = envutil.String("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = envutil.String("REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = envutil.Int("REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.PostgresDSN = envutil.String("POSTGRES_DSN", cfg.Store.PostgresDSN)
	cfg.Store.SQLitePath = envutil.String("SQLITE_PATH", cfg.Store.SQLitePath)

	cfg.Trace.Backend = envutil.String("TRACE_BACKEND", cfg.Trace.Backend)
	cfg.Trace.LangfusePublicKey = envutil.String("LANGFUSE_PUBLIC_KEY", cfg.Trace.LangfusePublicKey)
	cfg.Trace.LangfuseSecretKey = envutil.String("LANGFUSE_SECRET_KEY", cfg.Trace.LangfuseSecretKey)
	cfg.Trace.LangfuseBaseURL = envutil.String("LANGFUSE_BASE_URL", cfg.Trace.LangfuseBaseURL)
	cfg.Trace.LangfuseFlushInterval.Duration = envutil.Duration("LANGFUSE_FLUSH_INTERVAL", cfg.Trace.LangfuseFlushInterval.Duration)
	cfg.Trace.LangfuseFlushAt = envutil.Int("LANGFUSE_FLUSH_AT", cfg.Trace.LangfuseFlushAt)

	cfg.Otel.Enabled = envutil.Bool("OTEL_ENABLED", cfg.Otel.Enabled)
	cfg.Otel.ServiceName = envutil.String("OTEL_SERVICE_NAME", cfg.Otel.ServiceName)
	cfg.Otel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Otel.Endpoint)
	cfg.Otel.Headers = envutil.String("OTEL_EXPORTER_OTLP_HEADERS", cfg.Otel.Headers)
	cfg.Otel.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Otel.Insecure)
	cfg.Otel.SampleRatio = envutil.Float("OTEL_SAMPLER_RATIO", cfg.Otel.SampleRatio)

	cfg.Auth.Mode = envutil.String("AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.JWTSecret = envutil.String("JWT_SECRET_KEY", cfg.Auth.JWTSecret)
	cfg.Auth.CookieName = envutil.String("AUTH_COOKIE_NAME", cfg.Auth.CookieName)
	cfg.Auth.UserHeader = envutil.String("AUTH_USER_HEADER", cfg.Auth.UserHeader)
	cfg.Auth.EmailHeader = envutil.String("AUTH_EMAIL_HEADER", cfg.Auth.EmailHeader)
}

func (cfg *Config) validate() error {
	cfg.Chat.Provider = strings.ToLower(strings.TrimSpace(cfg.Chat.Provider))
	cfg.Store.Type = strings.ToLower(strings.TrimSpace(cfg.Store.Type))
	cfg.Trace.Backend = strings.ToLower(strings.TrimSpace(cfg.Trace.Backend))
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 1 << 20
	}
	if strings.TrimSpace(cfg.Chat.Model) == "" {
		return errors.New("chat model is required")
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		return fmt.Errorf("chat temperature %v out of range [0,2]", cfg.Chat.Temperature)
	}

	switch cfg.Chat.Provider {
	case "mock":
	case "openai":
		if cfg.Chat.OpenAIAPIKey == "" {
			return errors.New("provider openai requires OPENAI_API_KEY")
		}
	case "oai_http", "openai_http":
		cfg.Chat.Provider = "oai_http"
		if cfg.Chat.OpenAIBaseURL == "" {
			return errors.New("provider oai_http requires OPENAI_BASE_URL")
		}
	default:
		return fmt.Errorf("unknown provider %q", cfg.Chat.Provider)
	}

	switch cfg.Store.Type {
	case "memory":
	case "redis":
		if cfg.Store.RedisAddr == "" {
			return errors.New("store redis requires REDIS_ADDR")
		}
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			return errors.New("store postgres requires POSTGRES_DSN")
		}
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			return errors.New("store sqlite requires SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}

	switch cfg.Trace.Backend {
	case "none", "":
		cfg.Trace.Backend = "none"
	case "langfuse":
		if cfg.Trace.LangfusePublicKey == "" || cfg.Trace.LangfuseSecretKey == "" {
			return errors.New("trace backend langfuse requires LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY")
		}
	case "otel":
		// The recorder needs a real tracer provider behind it.
		cfg.Otel.Enabled = true
	default:
		return fmt.Errorf("unknown trace backend %q", cfg.Trace.Backend)
	}

	switch cfg.Auth.Mode {
	case "header":
	case "jwt":
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth mode jwt requires JWT_SECRET_KEY")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
	return nil
}
