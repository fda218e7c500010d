package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"enhancer-bot-backend/internal/bot"
	"enhancer-bot-backend/internal/common/config"
	"enhancer-bot-backend/internal/common/logger"
	"enhancer-bot-backend/internal/features/admin"
	"enhancer-bot-backend/internal/features/enhancer"
	userredis "enhancer-bot-backend/internal/features/user/repository/redis"
	"enhancer-bot-backend/internal/features/verification"
	apphttp "enhancer-bot-backend/internal/http"
	redisplatform "enhancer-bot-backend/internal/platform/redis"
	"enhancer-bot-backend/internal/platform/telegram"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger.Init("enhancer-bot", cfg.Debug)

	rdb, err := redisplatform.Open(ctx,
		fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("redis open failed")
	}
	defer rdb.Close()

	tg := telegram.NewClient(cfg.Telegram.BotToken)
	repo := userredis.NewUserRepository(rdb)
	verifier := verification.NewService(repo, cfg.Verification.Window)
	pipeline := enhancer.NewPipeline(tg, cfg.Enhancer.Endpoint, cfg.Enhancer.Timeout)
	adminSvc := admin.NewService(repo, tg, cfg.Telegram.AdminIDs, cfg.Broadcast.Concurrency)

	dispatcher := bot.NewDispatcher(
		tg, repo, verifier, pipeline, adminSvc,
		cfg.Telegram.RequiredChannel,
		cfg.Telegram.WebAppURL,
		cfg.Telegram.PollTimeout,
	)

	router := apphttp.NewRouter(cfg, verifier, tg)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dispatcher stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	log.Info().Msg("server stopped")
}
