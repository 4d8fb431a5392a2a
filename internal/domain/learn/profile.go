package learn

import (
	"time"

	"github.com/google/uuid"
)

// ProfileDefinition declares a profile key. An empty ShifuBID declares a system key
// usable by every course.
type ProfileDefinition struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ShifuBID    string    `gorm:"column:shifu_bid;not null;default:'';uniqueIndex:idx_profile_def_key,priority:1" json:"shifu_bid"`
	Key         string    `gorm:"column:profile_key;not null;uniqueIndex:idx_profile_def_key,priority:2" json:"profile_key"`
	Description string    `gorm:"column:description;not null;default:''" json:"description"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ProfileDefinition) TableName() string { return "profile_item_definition" }

func (d ProfileDefinition) System() bool { return d.ShifuBID == "" }

type UserProfile struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserBID  string    `gorm:"column:user_bid;not null;uniqueIndex:idx_user_profile_key,priority:1" json:"user_bid"`
	ShifuBID string    `gorm:"column:shifu_bid;not null;uniqueIndex:idx_user_profile_key,priority:2" json:"shifu_bid"`
	Key      string    `gorm:"column:profile_key;not null;uniqueIndex:idx_user_profile_key,priority:3" json:"profile_key"`
	Value    string    `gorm:"column:profile_value;type:text" json:"profile_value"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserProfile) TableName() string { return "user_profile" }

type ProfileItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// System profile keys seeded by migrate.
const (
	ProfileLanguage = "sys_user_language"
	ProfileNickname = "sys_user_nickname"
	ProfilePhone    = "phone"
)

var SystemProfileKeys = []string{ProfileLanguage, ProfileNickname, ProfilePhone}
