package db

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/shifu-backend/internal/domain/learn"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(learn.Models()...)
}

// SeedSystemProfileKeys declares the profile keys every course may write.
func SeedSystemProfileKeys(db *gorm.DB) error {
	rows := make([]*learn.ProfileDefinition, 0, len(learn.SystemProfileKeys))
	for _, k := range learn.SystemProfileKeys {
		rows = append(rows, &learn.ProfileDefinition{
			ID:          uuid.New(),
			ShifuBID:    "",
			Key:         k,
			Description: "system",
		})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shifu_bid"}, {Name: "profile_key"}},
		DoNothing: true,
	}).Create(&rows).Error
}
