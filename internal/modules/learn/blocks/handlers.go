package blocks

import (
	"fmt"
	"regexp"
	"strings"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/messages"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/platform/openai"
)

// ProfileUserState is announced when a checkcode logs the learner in.
const ProfileUserState = "user_state"

var (
	mainlandMobile = regexp.MustCompile(`^1[3-9]\d{9}$`)
	e164Mobile     = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
)

func payload[T types.BlockPayload](b *types.Block) (T, error) {
	p, ok := b.Payload.(T)
	if !ok {
		var zero T
		return zero, types.NewError(types.CodeMalformedBlock, "blocks.payload",
			fmt.Sprintf("block %s of type %q carries %T", b.BID, b.Type, b.Payload), nil)
	}
	return p, nil
}

func continueButton(env Env, label string) Output {
	if strings.TrimSpace(label) == "" {
		label = env.Message(messages.ButtonContinue)
	}
	return Output{
		Kind:      OutputDirective,
		Directive: script.TypeButtons,
		Content:   script.ButtonsContent{Buttons: []script.Button{{Label: label, Value: script.ContinueValue}}},
	}
}

func reject(env Env, key string) InputResult {
	return InputResult{Verdict: Reject, RejectText: env.Message(key)}
}

func advanceInput(Env, *types.Block, Input) (InputResult, error) {
	return InputResult{Verdict: Advance}, nil
}

func contentOutput(env Env, b *types.Block) (Output, error) {
	p, err := payload[types.ContentPayload](b)
	if err != nil {
		return Output{}, err
	}
	profiles := env.Profiles()
	text := messages.Fill(p.Content, profiles)
	out := Output{Kind: OutputText, Text: text}
	if p.LLMEnabled {
		out.LLM = &openai.Request{
			UserBID:     env.UserBID(),
			System:      messages.Fill(p.SystemPrompt, profiles),
			Prompt:      text,
			Model:       p.Model,
			Temperature: p.Temperature,
		}
	}
	return out, nil
}

func buttonOutput(env Env, b *types.Block) (Output, error) {
	p, err := payload[types.ButtonPayload](b)
	if err != nil {
		return Output{}, err
	}
	return continueButton(env, p.Label), nil
}

func optionsOutput(_ Env, b *types.Block) (Output, error) {
	p, err := payload[types.OptionsPayload](b)
	if err != nil {
		return Output{}, err
	}
	buttons := make([]script.Button, 0, len(p.Options))
	for _, o := range p.Options {
		buttons = append(buttons, script.Button{Label: o.Label, Value: o.Value})
	}
	return Output{Kind: OutputDirective, Directive: script.TypeButtons, Content: script.ButtonsContent{Buttons: buttons}}, nil
}

func matchOption(p types.OptionsPayload, value string) (types.Option, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return types.Option{}, false
	}
	for _, o := range p.Options {
		if o.Value == value {
			return o, true
		}
	}
	for _, o := range p.Options {
		if strings.EqualFold(strings.TrimSpace(o.Label), value) {
			return o, true
		}
	}
	return types.Option{}, false
}

func optionsInput(env Env, b *types.Block, in Input) (InputResult, error) {
	p, err := payload[types.OptionsPayload](b)
	if err != nil {
		return InputResult{}, err
	}
	if in.Kind == InputContinue {
		return reject(env, messages.RejectOptions), nil
	}
	o, ok := matchOption(p, in.Value)
	if !ok {
		return reject(env, messages.RejectOptions), nil
	}
	res := InputResult{Verdict: Advance}
	if p.ResultVariableBID != "" {
		res.Profiles = []types.ProfileItem{{Key: p.ResultVariableBID, Value: o.Value}}
	}
	return res, nil
}

func inputOutput(_ Env, b *types.Block) (Output, error) {
	p, err := payload[types.InputPayload](b)
	if err != nil {
		return Output{}, err
	}
	return Output{Kind: OutputDirective, Directive: script.TypeInput, Content: script.InputContent{Label: p.Label, Placeholder: p.Placeholder}}, nil
}

func inputInput(env Env, b *types.Block, in Input) (InputResult, error) {
	p, err := payload[types.InputPayload](b)
	if err != nil {
		return InputResult{}, err
	}
	v := strings.TrimSpace(in.Value)
	if in.Kind == InputContinue || v == "" {
		return reject(env, messages.RejectInputEmpty), nil
	}
	res := InputResult{Verdict: Advance}
	if p.ResultVariableBID != "" {
		res.Profiles = []types.ProfileItem{{Key: p.ResultVariableBID, Value: v}}
	}
	return res, nil
}

// NormalizePhone strips separators and reports whether the result is a mobile number.
func NormalizePhone(raw string) (string, bool) {
	v := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if mainlandMobile.MatchString(v) || e164Mobile.MatchString(v) {
		return v, true
	}
	return "", false
}

func phoneOutput(_ Env, b *types.Block) (Output, error) {
	p, err := payload[types.PhonePayload](b)
	if err != nil {
		return Output{}, err
	}
	return Output{Kind: OutputDirective, Directive: script.TypePhone, Content: script.InputContent{Label: p.Label, Placeholder: p.Placeholder}}, nil
}

func phoneInput(env Env, b *types.Block, in Input) (InputResult, error) {
	if _, err := payload[types.PhonePayload](b); err != nil {
		return InputResult{}, err
	}
	phone, ok := NormalizePhone(in.Value)
	if in.Kind == InputContinue || !ok {
		return reject(env, messages.RejectPhone), nil
	}
	return InputResult{Verdict: Advance, Profiles: []types.ProfileItem{{Key: types.ProfilePhone, Value: phone}}}, nil
}

func checkcodePhone(env Env, b *types.Block) (string, error) {
	phone := env.Profiles()[types.ProfilePhone]
	if phone == "" {
		return "", types.NewError(types.CodeInvalidStruct, "blocks.checkcode",
			fmt.Sprintf("checkcode block %s reached without a phone profile", b.BID), nil)
	}
	return phone, nil
}

func checkcodeOutput(env Env, b *types.Block) (Output, error) {
	if _, err := payload[types.CheckcodePayload](b); err != nil {
		return Output{}, err
	}
	phone, err := checkcodePhone(env, b)
	if err != nil {
		return Output{}, err
	}
	if err := env.IssueCheckcode(phone); err != nil {
		return Output{}, err
	}
	return Output{Kind: OutputDirective, Directive: script.TypeCheckcode, Content: script.CheckcodeContent{Phone: phone}}, nil
}

func checkcodeInput(env Env, b *types.Block, in Input) (InputResult, error) {
	if _, err := payload[types.CheckcodePayload](b); err != nil {
		return InputResult{}, err
	}
	// continue on a checkcode prompt asks for a fresh code.
	if in.Kind == InputContinue {
		return InputResult{Verdict: Render}, nil
	}
	phone, err := checkcodePhone(env, b)
	if err != nil {
		return InputResult{}, err
	}
	ok, err := env.VerifyCheckcode(phone, strings.TrimSpace(in.Value))
	if err != nil {
		return InputResult{}, err
	}
	if !ok {
		return reject(env, messages.RejectCheckcode), nil
	}
	if err := env.MarkRegistered(phone); err != nil {
		return InputResult{}, err
	}
	return InputResult{
		Verdict: Advance,
		Notices: []types.ProfileItem{{Key: ProfileUserState, Value: string(types.UserRegistered)}},
	}, nil
}

func loginOutput(env Env, b *types.Block) (Output, error) {
	p, err := payload[types.LoginPayload](b)
	if err != nil {
		return Output{}, err
	}
	if env.LoggedIn() {
		return continueButton(env, ""), nil
	}
	label := p.Label
	if strings.TrimSpace(label) == "" {
		label = env.Message(messages.LoginLabel)
	}
	return Output{Kind: OutputDirective, Directive: script.TypeUserLogin, Content: script.LoginContent{Label: label}}, nil
}

func loginInput(env Env, _ *types.Block, _ Input) (InputResult, error) {
	if env.LoggedIn() {
		return InputResult{Verdict: Advance}, nil
	}
	return InputResult{Verdict: Suspend}, nil
}

func paymentOutput(env Env, b *types.Block) (Output, error) {
	p, err := payload[types.PaymentPayload](b)
	if err != nil {
		return Output{}, err
	}
	if env.Paid() {
		return continueButton(env, ""), nil
	}
	order, err := env.InitBuyRecord()
	if err != nil {
		return Output{}, err
	}
	label := p.Label
	if strings.TrimSpace(label) == "" {
		label = env.Message(messages.PaymentLabel)
	}
	return Output{
		Kind:      OutputDirective,
		Directive: script.TypeOrder,
		Content:   script.OrderContent{OrderBID: order.OrderBID, Price: order.Price, Label: label},
	}, nil
}

func paymentInput(env Env, _ *types.Block, _ Input) (InputResult, error) {
	if env.Paid() {
		return InputResult{Verdict: Advance}, nil
	}
	return InputResult{Verdict: Noop}, nil
}

// gotoOutput prefers a target matching the variable, then an unconditional one.
func gotoOutput(env Env, b *types.Block) (Output, error) {
	p, err := payload[types.GotoPayload](b)
	if err != nil {
		return Output{}, err
	}
	value := ""
	if p.VariableBID != "" {
		value = env.Profiles()[p.VariableBID]
	}
	var fallback string
	for _, t := range p.Targets {
		if t.Value == "" {
			if fallback == "" {
				fallback = t.DestinationBID
			}
			continue
		}
		if value != "" && t.Value == value {
			return Output{Kind: OutputJump, Destination: t.DestinationBID}, nil
		}
	}
	if fallback != "" {
		return Output{Kind: OutputJump, Destination: fallback}, nil
	}
	return Output{Kind: OutputSkip}, nil
}

// NeedsSafetyCheck reports whether in carries learner text that must pass the
// content-safety gate before the handler sees it.
func NeedsSafetyCheck(b *types.Block, in Input) bool {
	if strings.TrimSpace(in.Value) == "" {
		return false
	}
	if in.Kind == InputAsk {
		return true
	}
	if in.Kind == InputContinue {
		return false
	}
	switch b.Type {
	case types.BlockInput, types.BlockPhone, types.BlockCheckcode:
		return true
	case types.BlockOptions:
		p, ok := b.Payload.(types.OptionsPayload)
		if !ok {
			return true
		}
		_, isOption := matchOption(p, in.Value)
		return !isOption
	default:
		return false
	}
}
