package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/biodata-screener/internal/adapter/ai"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/ai/ollama"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/cleanup"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/repo/memory"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor/basic"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor/layout"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor/tika"
	"github.com/fairyhunter13/biodata-screener/internal/config"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	"github.com/fairyhunter13/biodata-screener/internal/prompt"
	"github.com/fairyhunter13/biodata-screener/internal/usecase"
)

// BuildExtractor returns the extraction chain: layout, then Tika when a URL
// is configured, then the content-stream reader.
func BuildExtractor(cfg config.Config) (*textextractor.Chain, *tika.Client) {
	strategies := []domain.ExtractionStrategy{layout.New()}
	var tk *tika.Client
	if cfg.TikaURL != "" {
		maxElapsed, initial := cfg.GetTikaBackoffConfig()
		tk = tika.New(cfg.TikaURL, tika.WithRetry(maxElapsed, initial))
		strategies = append(strategies, tk)
	}
	strategies = append(strategies, basic.New())
	return textextractor.NewChain(strategies...), tk
}

// BuildGateway routes "gemini*" models to Gemini when a key is configured
// and everything else to Ollama.
func BuildGateway(ctx context.Context, cfg config.Config) (*ai.Router, *ollama.Client, error) {
	ol := ollama.New(cfg.OllamaURL, cfg.LLMTimeout, ollama.WithMaxRPS(cfg.LLMMaxRPS))
	var routes []ai.Route
	if cfg.GeminiAPIKey != "" {
		gm, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL, Timeout: cfg.LLMTimeout})
		if err != nil {
			return nil, nil, fmt.Errorf("op=app.BuildGateway: %w", err)
		}
		routes = append(routes, ai.Route{Prefix: "gemini", Gateway: gm})
	}
	return ai.NewRouter(ol, routes...), ol, nil
}

// BuildPrompts loads the prompt registry with optional YAML overrides.
func BuildPrompts(cfg config.Config) (*prompt.Registry, error) {
	reg, err := prompt.NewRegistry(cfg.PromptsFile, prompt.WithConditionMaxChars(cfg.ConditionPrefixChars()))
	if err != nil {
		return nil, fmt.Errorf("op=app.BuildPrompts: %w", err)
	}
	return reg, nil
}

// ScreenConfig maps the process configuration onto the orchestrator settings.
func ScreenConfig(cfg config.Config) usecase.ScreenConfig {
	return usecase.ScreenConfig{
		WorkDir:        cfg.WorkDir,
		MaxWorkers:     cfg.MaxWorkers,
		CleanupDelay:   cfg.CleanupDelay,
		DefaultModel:   cfg.DefaultModel,
		Sampling:       cfg.SamplingOptions(),
		CleanupBackend: cfg.CleanupBackend,
	}
}

// NewRedisClient parses url and returns a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewRedisClient: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Components holds the long-lived collaborators of the API server.
type Components struct {
	Cfg       config.Config
	Screen    *usecase.ScreenService
	Downloads usecase.DownloadService
	Gateway   *ai.Router
	Ollama    *ollama.Client
	Tika      *tika.Client
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Timer     *cleanup.TimerScheduler
	Publisher *redpanda.Publisher
}

// Build wires the screening pipeline from cfg. Optional infrastructure is
// enabled by its setting: DB_URL for the Postgres verdict store, the redis
// cleanup backend and KAFKA_BROKERS for batch events.
func Build(ctx context.Context, cfg config.Config) (_ *Components, err error) {
	c := &Components{Cfg: cfg, Downloads: usecase.NewDownloadService(cfg.WorkDir)}
	defer func() {
		if err != nil {
			c.Close(context.Background())
		}
	}()

	chain, tk := BuildExtractor(cfg)
	c.Tika = tk
	c.Gateway, c.Ollama, err = BuildGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	prompts, err := BuildPrompts(cfg)
	if err != nil {
		return nil, err
	}

	var scheduler domain.CleanupScheduler
	switch cfg.CleanupBackend {
	case "redis":
		if c.Redis, err = NewRedisClient(cfg.RedisURL); err != nil {
			return nil, err
		}
		scheduler = cleanup.NewRedisScheduler(c.Redis, cleanup.DefaultKey)
		c.Timer = cleanup.NewTimerScheduler()
	default:
		c.Timer = cleanup.NewTimerScheduler()
		scheduler = c.Timer
	}

	svc := usecase.NewScreenService(chain, c.Gateway, prompts, scheduler, ScreenConfig(cfg))
	svc.Tokens = tokencount.NewCounter()
	if cfg.CleanupBackend == "redis" {
		svc.Fallback = c.Timer
	}

	if cfg.DBURL != "" {
		if c.Pool, err = postgres.NewPool(ctx, cfg.DBURL); err != nil {
			return nil, err
		}
		repo := postgres.NewVerdictRepo(c.Pool)
		if err = repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		svc.Store = repo
	} else {
		svc.Store = memory.NewStore(time.Duration(cfg.VerdictRetentionDays) * 24 * time.Hour)
	}

	if len(cfg.KafkaBrokers) > 0 {
		if c.Publisher, err = redpanda.NewPublisher(ctx, cfg.KafkaBrokers, cfg.KafkaTopic); err != nil {
			return nil, err
		}
		svc.Events = c.Publisher
	}

	c.Screen = svc
	slog.Info("screening pipeline wired",
		slog.Any("extractors", chain.Strategies()),
		slog.String("cleanup_backend", cfg.CleanupBackend),
		slog.Bool("postgres", c.Pool != nil),
		slog.Bool("events", c.Publisher != nil),
		slog.Int("max_workers", cfg.MaxWorkers))
	return c, nil
}

// Probes returns the readiness probes of the configured dependencies.
func (c *Components) Probes() []usecase.Probe {
	d := ReadinessDeps{}
	if c.Ollama != nil {
		d.Ollama = c.Ollama
	}
	if c.Tika != nil {
		d.Tika = c.Tika
	}
	if c.Pool != nil {
		d.DB = c.Pool
	}
	if c.Redis != nil {
		d.Redis = c.Redis
	}
	return BuildReadinessProbes(d)
}

// Close releases the components. Pending timer deletions run immediately so
// no working file outlives the process.
func (c *Components) Close(ctx context.Context) {
	if c.Timer != nil {
		c.Timer.Close(ctx, true)
	}
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
