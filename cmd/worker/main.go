package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/config"
	"github.com/suPer8Hu/studio-assistant/internal/db"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"github.com/suPer8Hu/studio-assistant/internal/store/postgres"
	"github.com/suPer8Hu/studio-assistant/internal/store/rabbitmq"
	"go.uber.org/zap"
)

// clampConcurrency keeps the pool between 1 and 50 workers.
func clampConcurrency(n int) int {
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func openBackend(ctx context.Context, cfg config.Config) (chat.Backend, func(), error) {
	if cfg.DBDriver == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewBackend(pool), pool.Close, nil
	}
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, err
	}
	return chat.NewRepo(gdb), func() { _ = sqlDB.Close() }, nil
}

// persistHandler inserts each queued turn into the message backend.
func persistHandler(backend chat.Backend, log *zap.Logger) rabbitmq.Handler {
	return func(ctx context.Context, job rabbitmq.PersistJob) error {
		m := job.Message()
		if err := backend.InsertMessage(ctx, &m); err != nil {
			return err
		}
		log.Debug("turn persisted", zap.String("job_id", job.JobID), zap.Uint64("message_id", m.ID))
		return nil
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logx.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	cons, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitURL,
		Queue:       cfg.RabbitQueue,
		Concurrency: clampConcurrency(cfg.WorkerConcurrency),
		MaxRetries:  cfg.WorkerMaxRetries,
		RetryDelay:  cfg.WorkerRetryDelay,
		Log:         log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = cons.Close() }()

	return cons.Run(ctx, persistHandler(backend, log))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}
