package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"enhancer-bot-backend/internal/common/config"
	"enhancer-bot-backend/internal/features/verification"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	initdata "github.com/telegram-mini-apps/init-data-golang"
)

// Notifier tells the user in chat that verification went through.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// NewRouter builds the verification mini-app surface: a health route and
// the init-data authenticated confirm endpoint.
func NewRouter(cfg *config.Config, verifier *verification.Service, notifier Notifier) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.Server.Origin},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "init_data"},
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.POST("/verification/confirm", confirmHandler(cfg, verifier, notifier))

	return router
}

// confirmHandler validates the mini-app init_data against the bot token
// and marks the embedded user verified.
func confirmHandler(cfg *config.Config, verifier *verification.Service, notifier Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("init_data")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Telegram Init Data required"})
			return
		}

		if err := initdata.Validate(raw, cfg.Telegram.BotToken, time.Duration(0)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": fmt.Sprintf("Invalid init data: %v", err)})
			return
		}

		parsed, err := initdata.Parse(raw)
		if err != nil || parsed.User.ID == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse init data"})
			return
		}

		rec, err := verifier.MarkVerified(c.Request.Context(), parsed.User.ID, parsed.User.Username, parsed.User.FirstName, time.Now())
		if err != nil {
			log.Error().Err(err).Int64("user_id", parsed.User.ID).Msg("verification confirm failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}

		if notifier != nil {
			text := fmt.Sprintf(
				"You are verified until %s. Send me a photo to enhance!",
				rec.VerifiedUntil.UTC().Format("15:04 MST, 02 Jan"),
			)
			if err := notifier.SendText(c.Request.Context(), parsed.User.ID, text); err != nil {
				log.Warn().Err(err).Int64("user_id", parsed.User.ID).Msg("failed to send verification confirmation")
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"verified":       true,
			"verified_until": rec.VerifiedUntil,
		})
	}
}
