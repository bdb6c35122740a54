package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL"`
	OpenAIAPIKey         string `env:"OPENAI_API_KEY,required=true"`
	OpenAIModel          string `env:"OPENAI_MODEL,default=gpt-4o-mini"`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL,default=https://api.openai.com/v1"`
	RenderServiceURL     string `env:"RENDER_SERVICE_URL,required=true"`
	ConvertTextToPaths   bool   `env:"RENDER_CONVERT_TEXT_TO_PATHS,default=true"`
	ParseRateLimitPerSec int    `env:"PARSE_RATE_LIMIT_PER_SEC,default=5"`
	JobRetentionHours    int    `env:"JOB_RETENTION_HOURS,default=24"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
