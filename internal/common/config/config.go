package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Server struct {
		Port   int    `env:"PORT" envDefault:"8080"`
		Origin string `env:"ORIGIN" envDefault:"http://localhost:3000"`
	}

	Redis struct {
		Host     string `env:"REDIS_HOST" envDefault:"localhost"`
		Port     int    `env:"REDIS_PORT" envDefault:"6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Telegram struct {
		BotToken string `env:"BOT_TOKEN,required"`

		// Channel the user must be subscribed to before any enhancement
		// request is accepted, e.g. "@mychannel" or a numeric chat id.
		RequiredChannel string `env:"REQUIRED_CHANNEL,required"`

		AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

		// Mini-app page used for human verification. When empty the bot
		// falls back to an inline confirmation button.
		WebAppURL string `env:"WEBAPP_URL" envDefault:""`

		// Long-poll timeout passed to getUpdates.
		PollTimeout time.Duration `env:"POLL_TIMEOUT" envDefault:"30s"`
	}

	Enhancer struct {
		Endpoint string        `env:"ENHANCER_URL" envDefault:"https://olivine-tricolor-samba.glitch.me/api/enhancer"`
		Timeout  time.Duration `env:"ENHANCER_TIMEOUT" envDefault:"30s"`
	}

	Verification struct {
		// How long a successful verification is honored before the user
		// has to verify again.
		Window time.Duration `env:"VERIFICATION_TTL" envDefault:"12h"`
	}

	Broadcast struct {
		// Upper bound on concurrent sends during a broadcast.
		Concurrency int `env:"BROADCAST_CONCURRENCY" envDefault:"8"`
	}
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		// Missing .env is fine; in production the variables are set directly.
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		panic(err)
	}

	return cfg
}
