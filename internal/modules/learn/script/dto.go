package script

import (
	"encoding/json"
)

type DTOType string

const (
	TypeText              DTOType = "text"
	TypeTextEnd           DTOType = "text_end"
	TypeButtons           DTOType = "buttons"
	TypeInput             DTOType = "input"
	TypePhone             DTOType = "phone"
	TypeCheckcode         DTOType = "checkcode"
	TypeOrder             DTOType = "order"
	TypeUserLogin         DTOType = "user_login"
	TypeProfileUpdate     DTOType = "profile_update"
	TypeOutlineItemUpdate DTOType = "outline_item_update"
	TypeAskMode           DTOType = "ask_mode"
	TypeDone              DTOType = "done"
	TypeError             DTOType = "error"
)

// Persisted reports whether DTOs of this type are backed by a generated block row.
// State notifications are not.
func (t DTOType) Persisted() bool {
	switch t {
	case TypeText, TypeTextEnd, TypeButtons, TypeInput, TypePhone, TypeCheckcode, TypeOrder, TypeUserLogin:
		return true
	default:
		return false
	}
}

// Directive reports whether the type suspends the script waiting for the learner.
func (t DTOType) Directive() bool {
	switch t {
	case TypeButtons, TypeInput, TypePhone, TypeCheckcode, TypeOrder, TypeUserLogin:
		return true
	default:
		return false
	}
}

// DTO is one event on the script stream. Content is kept as raw JSON so a stored
// directive is re-emitted byte for byte.
type DTO struct {
	Type              DTOType         `json:"type"`
	Content           json.RawMessage `json:"content"`
	OutlineItemBID    string          `json:"outline_item_bid"`
	BlockBID          string          `json:"block_bid"`
	GeneratedBlockBID string          `json:"generated_block_bid"`
}

type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type ButtonsContent struct {
	Buttons []Button `json:"buttons"`
}

type InputContent struct {
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
}

type CheckcodeContent struct {
	Phone string `json:"phone"`
}

type OrderContent struct {
	OrderBID string  `json:"order_bid"`
	Price    float64 `json:"price"`
	Label    string  `json:"label"`
}

type LoginContent struct {
	Label string `json:"label"`
}

type ProfileUpdateContent struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type OutlineItemUpdateContent struct {
	OutlineItemBID string `json:"outline_item_bid"`
	Status         string `json:"status"`
}

type AskModeContent struct {
	Enabled bool `json:"enabled"`
}

type ErrorContent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ContinueValue is the button value that advances past a gate.
const ContinueValue = "continue"

// Raw marshals v for DTO.Content. nil becomes JSON null.
func Raw(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// TextOf decodes the string carried by a text DTO.
func TextOf(d DTO) string {
	var s string
	_ = json.Unmarshal(d.Content, &s)
	return s
}
