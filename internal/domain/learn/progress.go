package learn

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressReset      ProgressStatus = "reset"
	// ProgressBranched marks a record whose cursor was relocated by a goto into another outline item.
	ProgressBranched ProgressStatus = "branched"
)

// Progress is the per-(user, course) cursor. Rows are never deleted: a reset flips the
// status and the next run starts a fresh record.
type Progress struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserBID  string    `gorm:"column:user_bid;not null;index:idx_progress_user_shifu,priority:1" json:"user_bid"`
	ShifuBID string    `gorm:"column:shifu_bid;not null;index:idx_progress_user_shifu,priority:2" json:"shifu_bid"`
	Preview  bool      `gorm:"column:preview;not null;default:false;index:idx_progress_user_shifu,priority:3" json:"preview"`

	OutlineItemBID string         `gorm:"column:outline_item_bid;not null;default:''" json:"outline_item_bid"`
	BlockPosition  int            `gorm:"column:block_position;not null;default:0" json:"block_position"`
	Status         ProgressStatus `gorm:"column:status;not null;index" json:"status"`

	// PendingGeneratedBlockBID is the UI row the learner is currently suspended on.
	PendingGeneratedBlockBID string `gorm:"column:pending_generated_block_bid;not null;default:''" json:"pending_generated_block_bid"`

	Version int64 `gorm:"column:version;not null;default:0" json:"version"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Progress) TableName() string { return "learn_progress_record" }

func (p *Progress) Active() bool {
	return p != nil && (p.Status == ProgressInProgress || p.Status == ProgressBranched)
}

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleUI      Role = "ui"
	// RoleReject marks corrective turns produced by a rejected input.
	RoleReject Role = "reject"
)

type GeneratedStatus string

const (
	GeneratedStreaming GeneratedStatus = "generating"
	GeneratedDone      GeneratedStatus = "done"
)

// GeneratedBlock is one unit actually shown to (or typed by) a learner. Text rows hold
// GeneratedContent; directive rows hold the DTO payload verbatim in Payload.
type GeneratedBlock struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BID            string          `gorm:"column:generated_block_bid;not null;uniqueIndex" json:"generated_block_bid"`
	ProgressID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_generated_progress_pos,priority:1" json:"progress_id"`
	Position       int             `gorm:"column:position;not null;uniqueIndex:idx_generated_progress_pos,priority:2" json:"position"`
	UserBID        string          `gorm:"column:user_bid;not null;index" json:"user_bid"`
	ShifuBID       string          `gorm:"column:shifu_bid;not null;index" json:"shifu_bid"`
	OutlineItemBID string          `gorm:"column:outline_item_bid;not null;default:''" json:"outline_item_bid"`
	BlockBID       string          `gorm:"column:block_bid;not null;default:''" json:"block_bid"`
	Role           Role            `gorm:"column:role;not null" json:"role"`
	Type           string          `gorm:"column:type;not null" json:"type"`
	Content        string          `gorm:"column:generated_content;type:text" json:"generated_content"`
	Payload        datatypes.JSON  `gorm:"column:payload;type:text" json:"payload,omitempty"`
	Status         GeneratedStatus `gorm:"column:status;not null" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GeneratedBlock) TableName() string { return "learn_generated_block" }
