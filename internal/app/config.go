package app

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/shifu-backend/internal/data/db"
	"github.com/yungbote/shifu-backend/internal/modules/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/safety"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/envutil"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
	"github.com/yungbote/shifu-backend/internal/platform/openai"
	"github.com/yungbote/shifu-backend/internal/platform/redisx"
	"github.com/yungbote/shifu-backend/internal/platform/twilio"
)

type ServerConfig struct {
	Port          string
	GinMode       string
	CORSOrigins   []string
	ShutdownGrace time.Duration
	AutoMigrate   bool
}

type SafetyConfig struct {
	Provider string
	Timeout  time.Duration
}

type LockConfig struct {
	TTL        time.Duration
	Wait       time.Duration
	RunTimeout time.Duration
}

type Config struct {
	Server       ServerConfig
	Database     db.Config
	Redis        redisx.Config
	JWTSecretKey string
	LLM          openai.Config
	Safety       SafetyConfig
	Lock         LockConfig
	SMS          twilio.Config
	Otel         observability.OtelConfig
	Metrics      bool
}

// LoadEnvFiles loads the given dotenv files (".env" when none are named). Missing
// files are skipped; variables already set in the environment win.
func LoadEnvFiles(log *logger.Logger, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Debug("loaded env file", "path", p)
	}
	return nil
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Server: ServerConfig{
			Port:          envutil.String("PORT", "8080"),
			GinMode:       envutil.String("GIN_MODE", ""),
			CORSOrigins:   envutil.List("CORS_ALLOWED_ORIGINS"),
			ShutdownGrace: envutil.Seconds("SHUTDOWN_GRACE_SECONDS", 15*time.Second),
			AutoMigrate:   envutil.Bool("AUTO_MIGRATE", true),
		},
		Database: db.Config{
			Driver:           envutil.String("DB_DRIVER", "postgres"),
			PostgresHost:     envutil.String("POSTGRES_HOST", "localhost"),
			PostgresPort:     envutil.String("POSTGRES_PORT", "5432"),
			PostgresUser:     envutil.String("POSTGRES_USER", "postgres"),
			PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
			PostgresName:     envutil.String("POSTGRES_NAME", "shifu"),
			PostgresSSLMode:  envutil.String("POSTGRES_SSLMODE", "disable"),
			SQLitePath:       envutil.String("SQLITE_PATH", ""),
		},
		Redis:        redisx.ConfigFromEnv(),
		JWTSecretKey: os.Getenv("JWT_SECRET_KEY"),
		LLM:          openai.ConfigFromEnv(),
		Safety: SafetyConfig{
			Provider: strings.ToLower(envutil.String("SAFETY_PROVIDER", safety.ProviderNone)),
			Timeout:  envutil.Seconds("SAFETY_TIMEOUT_SECONDS", safety.DefaultTimeout),
		},
		Lock: LockConfig{
			TTL:        envutil.Seconds("RUN_LOCK_TTL_SECONDS", learn.DefaultLockTTL),
			Wait:       envutil.Seconds("RUN_LOCK_WAIT_SECONDS", learn.DefaultLockWait),
			RunTimeout: envutil.Seconds("RUN_TIMEOUT_SECONDS", learn.DefaultRunTimeout),
		},
		SMS:     twilio.ConfigFromEnv(),
		Otel:    observability.OtelConfigFromEnv(),
		Metrics: observability.Enabled(),
	}
	if cfg.JWTSecretKey == "" {
		log.Warn("JWT_SECRET_KEY is not set; every /api request will be rejected")
	}
	return cfg
}
