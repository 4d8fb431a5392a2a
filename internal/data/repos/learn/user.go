package learn

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type UserRepo interface {
	GetUser(dbc dbctx.Context, userBID string) (*types.UserInfo, error)
	EnsureUser(dbc dbctx.Context, userBID string) (*types.UserInfo, error)
	MarkRegistered(dbc dbctx.Context, userBID, mobile string) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) GetUser(dbc dbctx.Context, userBID string) (*types.UserInfo, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.UserInfo
	err := transaction.WithContext(dbc.Ctx).Where("user_bid = ?", userBID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsureUser returns the user row, creating an unregistered guest when missing.
func (r *userRepo) EnsureUser(dbc dbctx.Context, userBID string) (*types.UserInfo, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	guest := &types.UserInfo{
		ID:        uuid.New(),
		UserBID:   userBID,
		UserState: types.UserUnregistered,
	}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_bid"}}, DoNothing: true}).
		Create(guest).Error; err != nil {
		return nil, err
	}
	return r.GetUser(dbc, userBID)
}

func (r *userRepo) MarkRegistered(dbc dbctx.Context, userBID, mobile string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if _, err := r.EnsureUser(dbc, userBID); err != nil {
		return err
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.UserInfo{}).
		Where("user_bid = ?", userBID).
		Updates(map[string]interface{}{
			"user_state": types.UserRegistered,
			"mobile":     mobile,
			"updated_at": time.Now().UTC(),
		}).Error
}
