package aggregates

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
)

// TxRunner is the transaction boundary used for multi-row progress writes.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return learn.NewError(learn.CodeInternal, "aggregate.tx", "transaction runner has nil db", nil)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
	return MapError("aggregate.tx", err)
}
