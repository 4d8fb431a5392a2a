package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/shifu-backend/internal/data/repos/learn"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type StructRepo = learn.StructRepo
type ProgressRepo = learn.ProgressRepo
type ProfileRepo = learn.ProfileRepo
type OrderRepo = learn.OrderRepo
type RiskRepo = learn.RiskRepo
type UserRepo = learn.UserRepo

func NewStructRepo(db *gorm.DB, baseLog *logger.Logger) StructRepo {
	return learn.NewStructRepo(db, baseLog)
}
func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return learn.NewProgressRepo(db, baseLog)
}
func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return learn.NewProfileRepo(db, baseLog)
}
func NewOrderRepo(db *gorm.DB, baseLog *logger.Logger) OrderRepo {
	return learn.NewOrderRepo(db, baseLog)
}
func NewRiskRepo(db *gorm.DB, baseLog *logger.Logger) RiskRepo {
	return learn.NewRiskRepo(db, baseLog)
}
func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return learn.NewUserRepo(db, baseLog)
}
