package learn

import (
	"time"

	"github.com/google/uuid"
)

type UserState string

const (
	UserUnregistered UserState = "unregistered"
	UserRegistered   UserState = "registered"
)

type UserInfo struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserBID   string    `gorm:"column:user_bid;not null;uniqueIndex" json:"user_bid"`
	UserState UserState `gorm:"column:user_state;not null" json:"user_state"`
	Mobile    string    `gorm:"column:mobile;not null;default:''" json:"-"`
	Language  string    `gorm:"column:language;not null;default:''" json:"language"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserInfo) TableName() string { return "user_info" }

func (u *UserInfo) LoggedIn() bool { return u != nil && u.UserState == UserRegistered }

// Models lists every table owned by this domain, in migration order.
func Models() []any {
	return []any{
		&Shifu{},
		&OutlineItem{},
		&Block{},
		&Progress{},
		&GeneratedBlock{},
		&ProfileDefinition{},
		&UserProfile{},
		&Order{},
		&RiskControlResult{},
		&UserInfo{},
	}
}
