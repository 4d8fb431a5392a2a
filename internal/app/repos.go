package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/shifu-backend/internal/data/aggregates"
	"github.com/yungbote/shifu-backend/internal/data/repos"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type Repos struct {
	Struct   repos.StructRepo
	Progress repos.ProgressRepo
	Profile  repos.ProfileRepo
	Order    repos.OrderRepo
	Risk     repos.RiskRepo
	User     repos.UserRepo

	Tx aggregates.TxRunner
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Struct:   repos.NewStructRepo(db, log),
		Progress: repos.NewProgressRepo(db, log),
		Profile:  repos.NewProfileRepo(db, log),
		Order:    repos.NewOrderRepo(db, log),
		Risk:     repos.NewRiskRepo(db, log),
		User:     repos.NewUserRepo(db, log),
		Tx:       aggregates.NewGormTxRunner(db),
	}
}
