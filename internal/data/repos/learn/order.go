package learn

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type OrderRepo interface {
	QueryOrder(dbc dbctx.Context, userBID, shifuBID string) (*types.Order, error)
	InitBuyRecord(dbc dbctx.Context, userBID, shifuBID string, price float64) (*types.Order, error)
	UpdateStatus(dbc dbctx.Context, orderBID string, status types.OrderStatus) error
}

type orderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrderRepo(db *gorm.DB, baseLog *logger.Logger) OrderRepo {
	return &orderRepo{db: db, log: baseLog.With("repo", "OrderRepo")}
}

// QueryOrder returns the most relevant order: a paid one if any, else the latest.
func (r *orderRepo) QueryOrder(dbc dbctx.Context, userBID, shifuBID string) (*types.Order, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.Order
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_bid = ? AND shifu_bid = ?", userBID, shifuBID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	for _, o := range rows {
		if o.Paid() {
			return o, nil
		}
	}
	return rows[0], nil
}

// InitBuyRecord reuses an open order for the pair or opens a new one at price.
func (r *orderRepo) InitBuyRecord(dbc dbctx.Context, userBID, shifuBID string, price float64) (*types.Order, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var existing types.Order
	err := transaction.WithContext(dbc.Ctx).
		Where("user_bid = ? AND shifu_bid = ? AND status IN ?", userBID, shifuBID,
			[]types.OrderStatus{types.OrderInit, types.OrderToBePaid}).
		Order("created_at DESC").
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	o := &types.Order{
		ID:       uuid.New(),
		OrderBID: uuid.NewString(),
		UserBID:  userBID,
		ShifuBID: shifuBID,
		Price:    price,
		Status:   types.OrderInit,
	}
	if err := transaction.WithContext(dbc.Ctx).Create(o).Error; err != nil {
		return nil, err
	}
	r.log.Info("buy record opened", "order_bid", o.OrderBID, "shifu_bid", shifuBID, "user_bid", userBID)
	return o, nil
}

func (r *orderRepo) UpdateStatus(dbc dbctx.Context, orderBID string, status types.OrderStatus) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Order{}).
		Where("order_bid = ?", orderBID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}).Error
}
