package learn

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type ProfileRepo interface {
	// GetProfiles returns values for keys; an empty key list returns every stored value.
	GetProfiles(dbc dbctx.Context, userBID, shifuBID string, keys []string) (map[string]string, error)
	SaveProfiles(dbc dbctx.Context, userBID, shifuBID string, items []types.ProfileItem) error
	ListDeclaredKeys(dbc dbctx.Context, shifuBID string) ([]string, error)
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return &profileRepo{db: db, log: baseLog.With("repo", "ProfileRepo")}
}

func (r *profileRepo) GetProfiles(dbc dbctx.Context, userBID, shifuBID string, keys []string) (map[string]string, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Where("user_bid = ? AND shifu_bid = ?", userBID, shifuBID)
	if len(keys) > 0 {
		q = q.Where("profile_key IN ?", keys)
	}
	var rows []*types.UserProfile
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// SaveProfiles upserts values. Every key must be declared for the course or as a
// system key; otherwise nothing is written.
func (r *profileRepo) SaveProfiles(dbc dbctx.Context, userBID, shifuBID string, items []types.ProfileItem) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(items) == 0 {
		return nil
	}
	declared, err := r.ListDeclaredKeys(dbc, shifuBID)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(declared))
	for _, k := range declared {
		allowed[k] = true
	}
	var unknown []string
	for _, it := range items {
		if !allowed[it.Key] {
			unknown = append(unknown, it.Key)
		}
	}
	if len(unknown) > 0 {
		return types.NewError(types.CodeValidation, "ProfileRepo.SaveProfiles",
			fmt.Sprintf("undeclared profile keys: %s", strings.Join(unknown, ",")), nil)
	}

	now := time.Now().UTC()
	rows := make([]*types.UserProfile, 0, len(items))
	for _, it := range items {
		rows = append(rows, &types.UserProfile{
			ID:        uuid.New(),
			UserBID:   userBID,
			ShifuBID:  shifuBID,
			Key:       it.Key,
			Value:     it.Value,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_bid"}, {Name: "shifu_bid"}, {Name: "profile_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"profile_value", "updated_at"}),
		}).
		Create(&rows).Error
}

// ListDeclaredKeys returns course keys plus system keys, sorted.
func (r *profileRepo) ListDeclaredKeys(dbc dbctx.Context, shifuBID string) ([]string, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var keys []string
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.ProfileDefinition{}).
		Where("shifu_bid IN ?", []string{shifuBID, ""}).
		Distinct().
		Pluck("profile_key", &keys).Error; err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
