package learn

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type RiskRepo interface {
	RecordCheck(dbc dbctx.Context, row *types.RiskControlResult) error
	ListByContent(dbc dbctx.Context, contentBID string) ([]*types.RiskControlResult, error)
}

type riskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRiskRepo(db *gorm.DB, baseLog *logger.Logger) RiskRepo {
	return &riskRepo{db: db, log: baseLog.With("repo", "RiskRepo")}
}

func (r *riskRepo) RecordCheck(dbc dbctx.Context, row *types.RiskControlResult) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return transaction.WithContext(dbc.Ctx).Create(row).Error
}

func (r *riskRepo) ListByContent(dbc dbctx.Context, contentBID string) ([]*types.RiskControlResult, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RiskControlResult
	if err := transaction.WithContext(dbc.Ctx).
		Where("content_bid = ?", contentBID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
