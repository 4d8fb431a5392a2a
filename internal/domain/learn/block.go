package learn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BlockType string

const (
	BlockContent   BlockType = "content"
	BlockButton    BlockType = "button"
	BlockOptions   BlockType = "options"
	BlockInput     BlockType = "input"
	BlockPhone     BlockType = "phone"
	BlockCheckcode BlockType = "checkcode"
	BlockLogin     BlockType = "login"
	BlockPayment   BlockType = "payment"
	BlockGoto      BlockType = "goto"
)

// Block is one teaching unit inside a lesson outline item. Content holds the
// type-specific payload as stored; Payload is the decoded form.
type Block struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BID            string         `gorm:"column:block_bid;not null;uniqueIndex:idx_block_bid_draft,priority:1" json:"block_bid"`
	IsDraft        bool           `gorm:"column:is_draft;not null;default:false;uniqueIndex:idx_block_bid_draft,priority:2" json:"is_draft"`
	ShifuBID       string         `gorm:"column:shifu_bid;not null;index" json:"shifu_bid"`
	OutlineItemBID string         `gorm:"column:outline_item_bid;not null;index" json:"outline_item_bid"`
	Position       int            `gorm:"column:position;not null;default:0" json:"position"`
	Type           BlockType      `gorm:"column:type;not null" json:"type"`
	Content        datatypes.JSON `gorm:"column:content" json:"content"`

	Payload BlockPayload `gorm:"-" json:"-"`
	// DecodeErr is set when Content does not match Type; such blocks are skipped.
	DecodeErr error `gorm:"-" json:"-"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Block) TableName() string { return "shifu_block" }

// BlockPayload is the closed set of block content shapes. Each variant reports the
// block type it belongs to, so a handler can only be handed its own shape.
type BlockPayload interface {
	BlockType() BlockType
}

type ContentPayload struct {
	Content      string   `json:"content"`
	LLMEnabled   bool     `json:"llm_enabled"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

type ButtonPayload struct {
	Label string `json:"label"`
}

type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type OptionsPayload struct {
	Options           []Option `json:"options"`
	ResultVariableBID string   `json:"result_variable_bid"`
}

type InputPayload struct {
	Label             string `json:"label"`
	Placeholder       string `json:"placeholder,omitempty"`
	ResultVariableBID string `json:"result_variable_bid"`
}

type PhonePayload struct {
	Label       string `json:"label"`
	Placeholder string `json:"placeholder,omitempty"`
}

type CheckcodePayload struct {
	Label string `json:"label"`
}

type LoginPayload struct {
	Label string `json:"label"`
}

type PaymentPayload struct {
	Label string `json:"label"`
}

type GotoTarget struct {
	// Value matched against the profile variable; empty means unconditional.
	Value          string `json:"value"`
	DestinationBID string `json:"destination_bid"`
}

type GotoPayload struct {
	VariableBID string       `json:"variable_bid,omitempty"`
	Targets     []GotoTarget `json:"targets"`
}

func (ContentPayload) BlockType() BlockType   { return BlockContent }
func (ButtonPayload) BlockType() BlockType    { return BlockButton }
func (OptionsPayload) BlockType() BlockType   { return BlockOptions }
func (InputPayload) BlockType() BlockType     { return BlockInput }
func (PhonePayload) BlockType() BlockType     { return BlockPhone }
func (CheckcodePayload) BlockType() BlockType { return BlockCheckcode }
func (LoginPayload) BlockType() BlockType     { return BlockLogin }
func (PaymentPayload) BlockType() BlockType   { return BlockPayment }
func (GotoPayload) BlockType() BlockType      { return BlockGoto }

// DecodePayload decodes raw into the payload variant declared by t. Unknown types
// decode to nil without error; the registry decides whether that is fatal.
func DecodePayload(t BlockType, raw []byte) (BlockPayload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var (
		p   BlockPayload
		err error
	)
	switch t {
	case BlockContent:
		p, err = decodeAs[ContentPayload](raw)
	case BlockButton:
		p, err = decodeAs[ButtonPayload](raw)
	case BlockOptions:
		var op OptionsPayload
		op, err = decodeAs[OptionsPayload](raw)
		if err == nil && len(op.Options) == 0 {
			err = fmt.Errorf("options block has no options")
		}
		p = op
	case BlockInput:
		p, err = decodeAs[InputPayload](raw)
	case BlockPhone:
		p, err = decodeAs[PhonePayload](raw)
	case BlockCheckcode:
		p, err = decodeAs[CheckcodePayload](raw)
	case BlockLogin:
		p, err = decodeAs[LoginPayload](raw)
	case BlockPayment:
		p, err = decodeAs[PaymentPayload](raw)
	case BlockGoto:
		var gp GotoPayload
		gp, err = decodeAs[GotoPayload](raw)
		if err == nil {
			for _, t := range gp.Targets {
				if t.DestinationBID == "" {
					err = fmt.Errorf("goto target without destination_bid")
					break
				}
			}
		}
		p = gp
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func decodeAs[T any](raw []byte) (T, error) {
	var out T
	err := json.Unmarshal(raw, &out)
	return out, err
}

// EncodePayload marshals p for storage in Block.Content.
func EncodePayload(p BlockPayload) (datatypes.JSON, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
