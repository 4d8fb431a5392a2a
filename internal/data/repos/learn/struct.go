package learn

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

// StructRepo reads one course universe: published rows, or draft rows for preview.
type StructRepo interface {
	GetShifu(dbc dbctx.Context, shifuBID string, draft bool) (*types.Shifu, error)
	ListOutlineItems(dbc dbctx.Context, shifuBID string, draft bool) ([]*types.OutlineItem, error)
	ListBlocks(dbc dbctx.Context, shifuBID string, draft bool) ([]*types.Block, error)
}

type structRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStructRepo(db *gorm.DB, baseLog *logger.Logger) StructRepo {
	return &structRepo{db: db, log: baseLog.With("repo", "StructRepo")}
}

func (r *structRepo) GetShifu(dbc dbctx.Context, shifuBID string, draft bool) (*types.Shifu, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.Shifu
	err := transaction.WithContext(dbc.Ctx).
		Where("shifu_bid = ? AND is_draft = ?", shifuBID, draft).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *structRepo) ListOutlineItems(dbc dbctx.Context, shifuBID string, draft bool) ([]*types.OutlineItem, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.OutlineItem
	if err := transaction.WithContext(dbc.Ctx).
		Where("shifu_bid = ? AND is_draft = ?", shifuBID, draft).
		Order("parent_bid ASC, position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListBlocks returns the universe's blocks with Payload decoded. A payload that fails
// to decode is kept with DecodeErr set.
func (r *structRepo) ListBlocks(dbc dbctx.Context, shifuBID string, draft bool) ([]*types.Block, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Block
	if err := transaction.WithContext(dbc.Ctx).
		Where("shifu_bid = ? AND is_draft = ?", shifuBID, draft).
		Order("outline_item_bid ASC, position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	for _, b := range out {
		p, err := types.DecodePayload(b.Type, b.Content)
		if err != nil {
			r.log.Warn("malformed block payload", "block_bid", b.BID, "type", b.Type, "error", err)
			b.DecodeErr = types.NewError(types.CodeMalformedBlock, "StructRepo.ListBlocks",
				fmt.Sprintf("block %s: %v", b.BID, err), err)
			continue
		}
		b.Payload = p
	}
	return out, nil
}
