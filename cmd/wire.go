package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/ai/gemini"
	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/guardrail"
	"github.com/WFHTask/AI-interview/internal/jobs"
	"github.com/WFHTask/AI-interview/internal/notify"
	"github.com/WFHTask/AI-interview/internal/prompt"
	"github.com/WFHTask/AI-interview/internal/ratelimit"
	"github.com/WFHTask/AI-interview/internal/secrets"
	"github.com/WFHTask/AI-interview/internal/service"
	"github.com/WFHTask/AI-interview/internal/store"
)

const redisPingTimeout = 5 * time.Second

// components are the long-lived parts shared by every command.
type components struct {
	service *service.Service
	limiter *ratelimit.Limiter
	engine  *evaluation.Engine
	closers []func() error
}

// Close releases connections in reverse order of creation.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, config *Config, logger *zap.Logger) (*components, error) {
	c := &components{}
	fail := func(err error) (*components, error) {
		c.Close()
		return nil, err
	}

	catalogue, err := loadJobs(config)
	if err != nil {
		return fail(err)
	}
	logger.Info("job profiles loaded", zap.Strings("jobs", catalogue.IDs()))

	sessions, err := openStore(config.Storage, c, logger)
	if err != nil {
		return fail(err)
	}

	counters, err := openCounters(ctx, config.Redis, c, logger)
	if err != nil {
		return fail(err)
	}
	c.limiter = ratelimit.New(counters, config.RateLimit, logger.Named("ratelimit"))

	generator, err := newGenerator(ctx, config.AI, logger)
	if err != nil {
		return fail(err)
	}

	notifier, err := newNotifier(config.Notify, logger)
	if err != nil {
		return fail(err)
	}

	prompts := prompt.New()
	c.engine = evaluation.NewEngine(generator, prompts, sessions, notifier, config.Evaluation, logger.Named("evaluation"))

	c.service, err = service.New(service.Deps{
		Jobs:      catalogue,
		Store:     sessions,
		Guardrail: guardrail.New(config.Guardrail, logger.Named("guardrail")),
		Limiter:   c.limiter,
		Prompts:   prompts,
		Model:     generator,
		Evaluator: c.engine,
		Logger:    logger,
	}, service.Config{
		Interview:     config.Interview,
		SweepInterval: config.SweepInterval,
		AutoEvaluate:  config.AutoEvaluate,
	})
	if err != nil {
		return fail(err)
	}

	return c, nil
}

func loadJobs(config *Config) (*jobs.Store, error) {
	if file := strings.TrimSpace(config.JobsFile); file != "" {
		return jobs.LoadFile(file)
	}

	profiles, err := jobs.Decode(config.Jobs)
	if err != nil {
		return nil, fmt.Errorf("decoding jobs: %w", err)
	}
	if len(profiles) == 0 {
		return nil, errors.New("no job profiles configured (set jobs or jobs-file)")
	}
	return jobs.New(profiles)
}

func openStore(cfg *StorageConfig, c *components, logger *zap.Logger) (store.Store, error) {
	driver := "memory"
	if cfg != nil && cfg.Driver != "" {
		driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	}

	switch driver {
	case "memory":
		logger.Warn("using in-memory storage, sessions are lost on restart")
		return store.NewMemory(), nil
	case "postgres":
		dsn, err := secrets.Load(secrets.Source{
			Name:  "database dsn",
			Value: cfg.DSN,
			File:  cfg.DSNFile,
			Env:   "DATABASE_URL",
		})
		if err != nil {
			return nil, err
		}
		db, err := store.OpenPostgres(dsn, viper.GetBool("debug"))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		logger.Info("connected to postgres")
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// openCounters returns nil for in-process counters.
func openCounters(ctx context.Context, cfg *RedisConfig, c *components, logger *zap.Logger) (ratelimit.Store, error) {
	if cfg == nil || strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	c.closers = append(c.closers, client.Close)
	logger.Info("rate limit counters in redis", zap.String("addr", cfg.Addr))
	return ratelimit.NewRedisStore(client, cfg.Prefix), nil
}

func newGenerator(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (*gemini.Generator, error) {
	if cfg == nil {
		cfg = &AIConfig{}
	}
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.Gemini == nil {
		cfg.Gemini = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
	}

	return gemini.NewGenerator(ctx, gemini.Config{
		APIKey:           apiKey,
		InterviewerModel: cfg.Gemini.InterviewerModel,
		EvaluatorModel:   cfg.Gemini.EvaluatorModel,
		MaxAttempts:      cfg.Gemini.MaxAttempts,
		MaxLogLength:     cfg.Gemini.MaxLogLength,
	}, logger)
}

func newNotifier(cfg *notify.Config, logger *zap.Logger) (evaluation.Notifier, error) {
	if cfg == nil || strings.TrimSpace(cfg.WebhookURL) == "" {
		logger.Info("notifications disabled", zap.String("hint", "set notify.webhook-url to enable"))
		return notify.Nop{}, nil
	}
	return notify.NewWebhook(*cfg, logger.Named("notify"))
}
