// Package blocks maps block types to the handlers that render them and consume
// learner input. Handlers decide; the engine persists and emits.
package blocks

import (
	"context"
	"fmt"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/platform/openai"
)

// Env is the read and side-effect surface a handler may use during one pass.
type Env interface {
	Context() context.Context
	UserBID() string
	Shifu() types.ShifuInfo
	Preview() bool
	Paid() bool
	LoggedIn() bool
	Profiles() map[string]string
	// Message returns a catalog string in the learner's language.
	Message(key string) string
	InitBuyRecord() (*types.Order, error)
	IssueCheckcode(phone string) error
	VerifyCheckcode(phone, code string) (bool, error)
	MarkRegistered(mobile string) error
}

type OutputKind int

const (
	// OutputText streams Text, or the LLM response when LLM is set, then advances.
	OutputText OutputKind = iota
	// OutputDirective persists and emits a UI directive, then suspends.
	OutputDirective
	// OutputJump moves the cursor to Destination.
	OutputJump
	// OutputSkip advances without emitting.
	OutputSkip
)

type Output struct {
	Kind        OutputKind
	Text        string
	LLM         *openai.Request
	Directive   script.DTOType
	Content     any
	Destination string
}

type InputKind string

const (
	InputContinue InputKind = "continue"
	InputText     InputKind = "text"
	InputSelect   InputKind = "select"
	InputAsk      InputKind = "ask"
)

func (k InputKind) Valid() bool {
	switch k {
	case InputContinue, InputText, InputSelect, InputAsk:
		return true
	default:
		return false
	}
}

type Input struct {
	Kind     InputKind `json:"kind"`
	Value    string    `json:"value"`
	BlockBID string    `json:"block_bid"`
}

type Verdict int

const (
	// Advance clears the pending directive and moves past the block.
	Advance Verdict = iota
	// Render clears the pending directive and renders the same block again.
	Render
	// Suspend keeps waiting without emitting.
	Suspend
	// Reject emits RejectText and re-emits the pending directive.
	Reject
	// Noop ignores the input.
	Noop
)

func (v Verdict) String() string {
	switch v {
	case Advance:
		return "advance"
	case Render:
		return "render"
	case Suspend:
		return "suspend"
	case Reject:
		return "reject"
	case Noop:
		return "noop"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

type InputResult struct {
	Verdict    Verdict
	RejectText string
	// Profiles are saved and announced with profile_update.
	Profiles []types.ProfileItem
	// Notices are announced with profile_update but not saved.
	Notices []types.ProfileItem
}

type OutputHandler func(env Env, b *types.Block) (Output, error)

type InputHandler func(env Env, b *types.Block, in Input) (InputResult, error)

// Registry is immutable once built and safe for concurrent use.
type Registry struct {
	outputs map[types.BlockType]OutputHandler
	inputs  map[types.BlockType]InputHandler
}

// Builder collects handlers; a later registration for the same type wins.
type Builder struct {
	outputs map[types.BlockType]OutputHandler
	inputs  map[types.BlockType]InputHandler
}

func NewBuilder() *Builder {
	return &Builder{
		outputs: map[types.BlockType]OutputHandler{},
		inputs:  map[types.BlockType]InputHandler{},
	}
}

func (b *Builder) RegisterOutput(t types.BlockType, h OutputHandler) *Builder {
	b.outputs[t] = h
	return b
}

func (b *Builder) RegisterInput(t types.BlockType, h InputHandler) *Builder {
	b.inputs[t] = h
	return b
}

func (b *Builder) Build() *Registry {
	r := &Registry{
		outputs: make(map[types.BlockType]OutputHandler, len(b.outputs)),
		inputs:  make(map[types.BlockType]InputHandler, len(b.inputs)),
	}
	for k, v := range b.outputs {
		r.outputs[k] = v
	}
	for k, v := range b.inputs {
		r.inputs[k] = v
	}
	return r
}

func (r *Registry) HasOutput(t types.BlockType) bool {
	_, ok := r.outputs[t]
	return ok
}

func (r *Registry) HasInput(t types.BlockType) bool {
	_, ok := r.inputs[t]
	return ok
}

func (r *Registry) DispatchOutput(env Env, b *types.Block) (Output, error) {
	h, ok := r.outputs[b.Type]
	if !ok {
		return Output{}, types.NewError(types.CodeUnregisteredHandler, "blocks.DispatchOutput",
			fmt.Sprintf("no output handler for block type %q (block %s)", b.Type, b.BID), nil)
	}
	return h(env, b)
}

func (r *Registry) DispatchInput(env Env, b *types.Block, in Input) (InputResult, error) {
	h, ok := r.inputs[b.Type]
	if !ok {
		return InputResult{}, types.NewError(types.CodeUnregisteredHandler, "blocks.DispatchInput",
			fmt.Sprintf("no input handler for block type %q (block %s)", b.Type, b.BID), nil)
	}
	return h(env, b, in)
}

// Default returns a registry holding the canonical handler set.
func Default() *Registry {
	return DefaultBuilder().Build()
}

// DefaultBuilder is Default before Build, for callers that override handlers.
func DefaultBuilder() *Builder {
	return NewBuilder().
		RegisterOutput(types.BlockContent, contentOutput).
		RegisterInput(types.BlockContent, advanceInput).
		RegisterOutput(types.BlockButton, buttonOutput).
		RegisterInput(types.BlockButton, advanceInput).
		RegisterOutput(types.BlockOptions, optionsOutput).
		RegisterInput(types.BlockOptions, optionsInput).
		RegisterOutput(types.BlockInput, inputOutput).
		RegisterInput(types.BlockInput, inputInput).
		RegisterOutput(types.BlockPhone, phoneOutput).
		RegisterInput(types.BlockPhone, phoneInput).
		RegisterOutput(types.BlockCheckcode, checkcodeOutput).
		RegisterInput(types.BlockCheckcode, checkcodeInput).
		RegisterOutput(types.BlockLogin, loginOutput).
		RegisterInput(types.BlockLogin, loginInput).
		RegisterOutput(types.BlockPayment, paymentOutput).
		RegisterInput(types.BlockPayment, paymentInput).
		RegisterOutput(types.BlockGoto, gotoOutput).
		RegisterInput(types.BlockGoto, advanceInput)
}
