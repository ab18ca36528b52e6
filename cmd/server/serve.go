package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/config"
	"github.com/suPer8Hu/studio-assistant/internal/httpapi"
	"github.com/suPer8Hu/studio-assistant/internal/httpapi/handlers"
	"github.com/suPer8Hu/studio-assistant/internal/store/rabbitmq"
	"github.com/suPer8Hu/studio-assistant/internal/store/redisstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "provision the schema before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := st.ping(pingCtx); err != nil {
		// bootstrap reports this per user; keep serving
		log.Warn("database unreachable at startup", zap.Stringer("kind", chat.KindOf(err)), zap.Error(err))
	}
	cancel()
	if migrateOnStart {
		if err := st.migrate(); err != nil {
			return err
		}
	}

	var (
		locker  chat.Locker  = chat.NewMemoryLocker()
		revoker auth.Revoker = auth.NewMemoryRevoker()
	)
	if cfg.RedisAddr != "" {
		rs, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		locker, revoker = rs, rs
	}

	persister, closePersister, err := newPersister(cfg, st.backend, log)
	if err != nil {
		return err
	}

	contact := chat.Contact{Name: cfg.ContactName, Phone: cfg.ContactPhone, Email: cfg.ContactEmail}
	boot := chat.NewBootstrapper(st.backend, newProvider(ctx, cfg, log), chat.SystemInstruction(contact), log)
	hub := chat.NewHub(func() *chat.Conversation {
		return chat.NewConversation(chat.ConversationConfig{
			Bootstrapper:   boot,
			Persister:      persister,
			Locker:         locker,
			AttachmentSize: cfg.MaxAttachmentBytes,
			Log:            log,
		})
	})
	authSvc := auth.NewService(st.users, revoker, cfg.JWTSecret, cfg.JWTTTL)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.NewHandler(authSvc, hub, cfg.MaxAttachmentBytes, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, httpapi.RouterConfig{CORSOrigins: cfg.CORSOrigins, Log: log}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("db_driver", cfg.DBDriver),
			zap.String("ai_provider", cfg.AIProvider),
			zap.String("persist_mode", cfg.PersistMode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// pending turn writes finish before the database closes
	closePersister()
	return err
}

func newPersister(cfg config.Config, backend chat.Backend, log *zap.Logger) (chat.Persister, func(), error) {
	if cfg.PersistMode == "queue" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, log)
		if err != nil {
			return nil, nil, err
		}
		return pub, func() { _ = pub.Close() }, nil
	}
	ip := chat.NewInlinePersister(backend, log)
	return ip, ip.Close, nil
}
