package learn

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type CheckResult string

const (
	CheckPass   CheckResult = "pass"
	CheckReview CheckResult = "review"
	CheckReject CheckResult = "reject"
)

// RiskControlResult is the compliance audit row written for every safety check.
type RiskControlResult struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ContentBID  string         `gorm:"column:content_bid;not null;index" json:"content_bid"`
	UserBID     string         `gorm:"column:user_bid;not null;index" json:"user_bid"`
	Text        string         `gorm:"column:text;type:text" json:"text"`
	CheckResult CheckResult    `gorm:"column:check_result;not null" json:"check_result"`
	RiskLabels  datatypes.JSON `gorm:"column:risk_labels" json:"risk_labels"`
	Provider    string         `gorm:"column:provider;not null;default:''" json:"provider"`
	RawData     datatypes.JSON `gorm:"column:raw_data" json:"raw_data"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RiskControlResult) TableName() string { return "risk_control_result" }
