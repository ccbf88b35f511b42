package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/config"
	"github.com/staylight/livechat/internal/db"
	"github.com/staylight/livechat/internal/httpapi"
	"github.com/staylight/livechat/internal/httpapi/handlers"
	"github.com/staylight/livechat/internal/httpapi/middleware"
	"github.com/staylight/livechat/internal/logging"
	"github.com/staylight/livechat/internal/models"
	"github.com/staylight/livechat/internal/presence"
	"github.com/staylight/livechat/internal/store/rabbitmq"
	"github.com/staylight/livechat/internal/store/redisstore"
	"github.com/staylight/livechat/internal/upload"
	"github.com/staylight/livechat/internal/ws"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogPretty)

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(&chat.Session{}, &chat.Message{}, &models.Agent{}); err != nil {
		logging.Fatal().Err(err).Msg("migrate")
	}

	repo := chat.NewRepo(gdb)
	hub := ws.NewHub()
	reg := presence.NewRegistry()

	opts := []chat.Option{
		chat.WithPublisher(hub),
		chat.WithPresence(reg),
	}

	// Redis backs visitor resume and the public rate limiter. The chat core
	// keeps working without it, so startup tolerates an absent instance.
	var limiter middleware.Limiter
	rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RetentionWindow)
	if err != nil {
		logging.Warn().Err(err).Msg("redis unavailable, resume index and rate limiting disabled")
	} else {
		opts = append(opts, chat.WithResumeIndex(rds))
		limiter = rds
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logging.Warn().Err(err).Msg("rabbitmq unavailable, notifications disabled")
		} else {
			defer pub.Close()
			opts = append(opts, chat.WithNotifier(pub))
		}
	}

	svc := chat.NewService(repo, cfg.RetentionWindow, opts...)

	blobs := upload.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseAPIKey, cfg.SupabaseBucket)
	uploads := upload.NewService(blobs, svc, cfg.UploadMaxBytes)

	gw := ws.NewGateway(hub, reg, svc, cfg.JWTSecret)
	h := handlers.NewHandler(gdb, cfg, svc, uploads)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go chat.NewReaper(repo, cfg.ReapInterval).Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(cfg, h, gw, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", cfg.ListenAddr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logging.Error().Err(err).Msg("shutdown")
	}
}
