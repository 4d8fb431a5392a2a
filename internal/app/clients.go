package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/shifu-backend/internal/platform/logger"
	"github.com/yungbote/shifu-backend/internal/platform/openai"
	"github.com/yungbote/shifu-backend/internal/platform/redislock"
	"github.com/yungbote/shifu-backend/internal/platform/redisx"
	"github.com/yungbote/shifu-backend/internal/platform/smscode"
	"github.com/yungbote/shifu-backend/internal/platform/twilio"
)

type Clients struct {
	Redis *goredis.Client

	// LLM and Moderator stay nil when OPENAI_API_KEY is unset.
	LLM       openai.Client
	Moderator openai.Moderator

	SMS    twilio.Sender
	Locker redislock.Locker
	Codes  smscode.Store
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Redis
	if cfg.Redis.Enabled() {
		rdb, err := redisx.NewClient(cfg.Redis, log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
		c.Locker = redislock.NewRedisLocker(rdb, log)
		c.Codes = smscode.NewRedisStore(rdb)
	} else {
		log.Warn("REDIS_ADDR not set; run locks and verification codes are process-local")
		c.Locker = redislock.NewMemoryLocker()
		c.Codes = smscode.NewMemoryStore()
	}

	// Openai
	if cfg.LLM.APIKey != "" {
		oc, err := openai.NewClient(cfg.LLM, log)
		if err != nil {
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		c.LLM = oc
		c.Moderator = oc
	} else {
		log.Warn("OPENAI_API_KEY not set; content blocks stream their static text")
	}

	// Twilio
	if cfg.SMS.Configured() {
		sender, err := twilio.New(log, cfg.SMS)
		if err != nil {
			return Clients{}, fmt.Errorf("init twilio: %w", err)
		}
		c.SMS = sender
	} else {
		c.SMS = twilio.NewLogSender(log)
	}

	return c, nil
}

func (c Clients) Close(log *logger.Logger) {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
}
