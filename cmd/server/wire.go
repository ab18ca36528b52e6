package main

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/studio-assistant/internal/ai"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/config"
	"github.com/suPer8Hu/studio-assistant/internal/db"
	"github.com/suPer8Hu/studio-assistant/internal/store/postgres"
	"go.uber.org/zap"
)

// storage is the message backend and account store for the configured driver.
type storage struct {
	backend chat.Backend
	users   auth.Users
	ping    func(context.Context) error
	migrate func() error
	close   func()
}

func openStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (*storage, error) {
	if cfg.DBDriver == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		return &storage{
			backend: postgres.NewBackend(pool),
			users:   postgres.NewUsers(pool),
			ping:    func(ctx context.Context) error { return postgres.Ping(ctx, pool) },
			migrate: func() error { return postgres.RunMigrations(cfg.DBDSN, log) },
			close:   pool.Close,
		}, nil
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	return &storage{
		backend: chat.NewRepo(gdb),
		users:   auth.NewGormUsers(gdb),
		ping:    func(ctx context.Context) error { return db.Ping(ctx, gdb) },
		migrate: func() error { return db.AutoMigrate(gdb, &chat.Message{}, &auth.User{}) },
		close:   func() { _ = sqlDB.Close() },
	}, nil
}

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("gemini", func(ctx context.Context, model string) (ai.Provider, error) {
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("GEMINI_API_KEY is not set")
		}
		return ai.NewGeminiProvider(ctx, cfg.GeminiAPIKey, orDefault(model, cfg.GeminiModel))
	})
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, orDefault(model, cfg.OllamaModel)), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			orDefault(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

// newProvider resolves the configured provider. A provider that cannot be
// built leaves the assistant read-only instead of failing startup.
func newProvider(ctx context.Context, cfg config.Config, log *zap.Logger) ai.Provider {
	reg := newRegistry(cfg)
	p, err := reg.Build(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Error("inference provider unavailable",
			zap.String("provider", cfg.AIProvider),
			zap.Strings("known", reg.Names()),
			zap.Error(err),
		)
		return ai.Unavailable(err)
	}
	return p
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
