package app

import (
	"fmt"

	"github.com/yungbote/shifu-backend/internal/modules/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/blocks"
	"github.com/yungbote/shifu-backend/internal/modules/learn/messages"
	"github.com/yungbote/shifu-backend/internal/modules/learn/safety"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type Services struct {
	Structs  *learn.StructProvider
	Progress *learn.ProgressStore
	Safety   *safety.Gate
	Learn    *learn.Service
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, reposet Repos, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	provider, err := safety.NewProvider(cfg.Safety.Provider, clients.Moderator)
	if err != nil {
		return Services{}, fmt.Errorf("init safety provider: %w", err)
	}
	catalog, err := messages.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load message catalog: %w", err)
	}

	structs := learn.NewStructProvider(log, reposet.Struct)
	progress := learn.NewProgressStore(reposet.Progress, reposet.Tx)
	gate := safety.NewGate(log, provider, reposet.Risk, cfg.Safety.Timeout, metrics)

	svc, err := learn.NewService(learn.ServiceDeps{
		Log:        log,
		Structs:    structs,
		Progress:   progress,
		Profiles:   reposet.Profile,
		Orders:     reposet.Order,
		Users:      reposet.User,
		Safety:     gate,
		Registry:   blocks.Default(),
		Messages:   catalog,
		LLM:        clients.LLM,
		Codes:      clients.Codes,
		SMS:        clients.SMS,
		Locker:     clients.Locker,
		Metrics:    metrics,
		LockTTL:    cfg.Lock.TTL,
		LockWait:   cfg.Lock.Wait,
		RunTimeout: cfg.Lock.RunTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init learn service: %w", err)
	}
	return Services{Structs: structs, Progress: progress, Safety: gate, Learn: svc}, nil
}
