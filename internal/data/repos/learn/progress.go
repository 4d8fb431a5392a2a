package learn

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type ProgressRepo interface {
	LoadActive(dbc dbctx.Context, userBID, shifuBID string, preview bool) (*types.Progress, error)
	Create(dbc dbctx.Context, p *types.Progress) error
	SaveCursor(dbc dbctx.Context, p *types.Progress) error
	Reset(dbc dbctx.Context, userBID, shifuBID string, preview bool) (bool, error)

	AppendGeneratedBlock(dbc dbctx.Context, row *types.GeneratedBlock) error
	UpdateGeneratedContent(dbc dbctx.Context, generatedBlockBID, content string, status types.GeneratedStatus) error
	ListGeneratedBlocks(dbc dbctx.Context, progressID uuid.UUID) ([]*types.GeneratedBlock, error)
	GetGeneratedBlock(dbc dbctx.Context, generatedBlockBID string) (*types.GeneratedBlock, error)
	MaxPosition(dbc dbctx.Context, progressID uuid.UUID) (int, error)
}

type progressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{db: db, log: baseLog.With("repo", "ProgressRepo")}
}

func (r *progressRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

// LoadActive returns the latest non-reset record, or nil when the learner has none.
func (r *progressRepo) LoadActive(dbc dbctx.Context, userBID, shifuBID string, preview bool) (*types.Progress, error) {
	var out types.Progress
	err := r.tx(dbc).
		Where("user_bid = ? AND shifu_bid = ? AND preview = ? AND status <> ?", userBID, shifuBID, preview, types.ProgressReset).
		Order("created_at DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *progressRepo) Create(dbc dbctx.Context, p *types.Progress) error {
	if p == nil {
		return nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = types.ProgressInProgress
	}
	return r.tx(dbc).Create(p).Error
}

// SaveCursor writes the cursor fields guarded by the version the caller loaded.
// A concurrent writer surfaces as a conflict error; on success p.Version is bumped.
func (r *progressRepo) SaveCursor(dbc dbctx.Context, p *types.Progress) error {
	if p == nil || p.ID == uuid.Nil {
		return types.NewError(types.CodeInternal, "ProgressRepo.SaveCursor", "missing progress", nil)
	}
	res := r.tx(dbc).
		Model(&types.Progress{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"outline_item_bid":            p.OutlineItemBID,
			"block_position":              p.BlockPosition,
			"status":                      p.Status,
			"pending_generated_block_bid": p.PendingGeneratedBlockBID,
			"version":                     p.Version + 1,
			"updated_at":                  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.CodeConflict, "ProgressRepo.SaveCursor",
			fmt.Sprintf("progress %s changed since version %d", p.ID, p.Version), nil)
	}
	p.Version++
	return nil
}

// Reset marks the active record reset. It reports whether a record was reset.
func (r *progressRepo) Reset(dbc dbctx.Context, userBID, shifuBID string, preview bool) (bool, error) {
	res := r.tx(dbc).
		Model(&types.Progress{}).
		Where("user_bid = ? AND shifu_bid = ? AND preview = ? AND status <> ?", userBID, shifuBID, preview, types.ProgressReset).
		Updates(map[string]interface{}{
			"status":                      types.ProgressReset,
			"pending_generated_block_bid": "",
			"version":                     gorm.Expr("version + 1"),
			"updated_at":                  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendGeneratedBlock assigns the next position within the progress log and inserts row.
func (r *progressRepo) AppendGeneratedBlock(dbc dbctx.Context, row *types.GeneratedBlock) error {
	if row == nil {
		return nil
	}
	if row.ProgressID == uuid.Nil {
		return types.NewError(types.CodeInternal, "ProgressRepo.AppendGeneratedBlock", "missing progress id", nil)
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.BID == "" {
		row.BID = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = types.GeneratedDone
	}
	maxPos, err := r.MaxPosition(dbc, row.ProgressID)
	if err != nil {
		return err
	}
	row.Position = maxPos + 1
	return r.tx(dbc).Create(row).Error
}

func (r *progressRepo) UpdateGeneratedContent(dbc dbctx.Context, generatedBlockBID, content string, status types.GeneratedStatus) error {
	res := r.tx(dbc).
		Model(&types.GeneratedBlock{}).
		Where("generated_block_bid = ?", generatedBlockBID).
		Updates(map[string]interface{}{
			"generated_content": content,
			"status":            status,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.CodeNotFound, "ProgressRepo.UpdateGeneratedContent",
			fmt.Sprintf("generated block %s", generatedBlockBID), nil)
	}
	return nil
}

func (r *progressRepo) ListGeneratedBlocks(dbc dbctx.Context, progressID uuid.UUID) ([]*types.GeneratedBlock, error) {
	var out []*types.GeneratedBlock
	if progressID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("progress_id = ?", progressID).
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *progressRepo) GetGeneratedBlock(dbc dbctx.Context, generatedBlockBID string) (*types.GeneratedBlock, error) {
	if generatedBlockBID == "" {
		return nil, nil
	}
	var out types.GeneratedBlock
	err := r.tx(dbc).Where("generated_block_bid = ?", generatedBlockBID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *progressRepo) MaxPosition(dbc dbctx.Context, progressID uuid.UUID) (int, error) {
	var maxPos *int
	if err := r.tx(dbc).
		Model(&types.GeneratedBlock{}).
		Where("progress_id = ?", progressID).
		Select("MAX(position)").
		Scan(&maxPos).Error; err != nil {
		return 0, err
	}
	if maxPos == nil {
		return 0, nil
	}
	return *maxPos, nil
}
