package blocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/messages"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
)

type fakeEnv struct {
	paid       bool
	loggedIn   bool
	profiles   map[string]string
	issued     []string
	validCode  string
	registered string
	orders     int
	catalog    *messages.Catalog
}

func newEnv() *fakeEnv {
	return &fakeEnv{profiles: map[string]string{}, catalog: messages.MustLoad()}
}

func (f *fakeEnv) Context() context.Context    { return context.Background() }
func (f *fakeEnv) UserBID() string             { return "u1" }
func (f *fakeEnv) Shifu() types.ShifuInfo      { return types.ShifuInfo{BID: "s1", Title: "Go", Price: 9.9} }
func (f *fakeEnv) Preview() bool               { return false }
func (f *fakeEnv) Paid() bool                  { return f.paid }
func (f *fakeEnv) LoggedIn() bool              { return f.loggedIn }
func (f *fakeEnv) Profiles() map[string]string { return f.profiles }
func (f *fakeEnv) Message(key string) string   { return f.catalog.Get(messages.LangZH, key) }

func (f *fakeEnv) InitBuyRecord() (*types.Order, error) {
	f.orders++
	return &types.Order{OrderBID: "o1", Price: 9.9}, nil
}

func (f *fakeEnv) IssueCheckcode(phone string) error {
	f.issued = append(f.issued, phone)
	return nil
}

func (f *fakeEnv) VerifyCheckcode(_ string, code string) (bool, error) {
	return code != "" && code == f.validCode, nil
}

func (f *fakeEnv) MarkRegistered(mobile string) error {
	f.registered = mobile
	f.loggedIn = true
	return nil
}

func block(t *testing.T, bt types.BlockType, p types.BlockPayload) *types.Block {
	t.Helper()
	return &types.Block{BID: "b-" + string(bt), Type: bt, Payload: p}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	first := func(Env, *types.Block) (Output, error) { return Output{Text: "first"}, nil }
	second := func(Env, *types.Block) (Output, error) { return Output{Text: "second"}, nil }
	b := NewBuilder().RegisterOutput(types.BlockContent, first).RegisterOutput(types.BlockContent, second)
	reg := b.Build()

	// Mutating the builder afterwards does not leak into the built registry.
	b.RegisterOutput(types.BlockButton, first)
	assert.False(t, reg.HasOutput(types.BlockButton))

	out, err := reg.DispatchOutput(newEnv(), block(t, types.BlockContent, types.ContentPayload{}))
	require.NoError(t, err)
	assert.Equal(t, "second", out.Text)
}

func TestRegistryUnregisteredType(t *testing.T) {
	reg := NewBuilder().Build()
	_, err := reg.DispatchOutput(newEnv(), &types.Block{BID: "x", Type: "quiz"})
	assert.True(t, types.IsCode(err, types.CodeUnregisteredHandler))
	_, err = reg.DispatchInput(newEnv(), &types.Block{BID: "x", Type: "quiz"}, Input{Kind: InputContinue})
	assert.True(t, types.IsCode(err, types.CodeUnregisteredHandler))
}

func TestDefaultCoversEveryBlockType(t *testing.T) {
	reg := Default()
	for _, bt := range []types.BlockType{
		types.BlockContent, types.BlockButton, types.BlockOptions, types.BlockInput, types.BlockPhone,
		types.BlockCheckcode, types.BlockLogin, types.BlockPayment, types.BlockGoto,
	} {
		assert.True(t, reg.HasOutput(bt), "output %s", bt)
		assert.True(t, reg.HasInput(bt), "input %s", bt)
	}
}

func TestContentFillsProfiles(t *testing.T) {
	env := newEnv()
	env.profiles["nickname"] = "Ada"
	out, err := contentOutput(env, block(t, types.BlockContent, types.ContentPayload{Content: "Hi {nickname}"}))
	require.NoError(t, err)
	assert.Equal(t, OutputText, out.Kind)
	assert.Equal(t, "Hi Ada", out.Text)
	assert.Nil(t, out.LLM)

	out, err = contentOutput(env, block(t, types.BlockContent, types.ContentPayload{Content: "Greet {nickname}", LLMEnabled: true, SystemPrompt: "be kind", Model: "m"}))
	require.NoError(t, err)
	require.NotNil(t, out.LLM)
	assert.Equal(t, "Greet Ada", out.LLM.Prompt)
	assert.Equal(t, "u1", out.LLM.UserBID)
	assert.Equal(t, "m", out.LLM.Model)
}

func TestWrongPayloadIsMalformed(t *testing.T) {
	_, err := buttonOutput(newEnv(), &types.Block{BID: "b", Type: types.BlockButton, Payload: types.InputPayload{}})
	assert.True(t, types.IsCode(err, types.CodeMalformedBlock))
}

func TestOptions(t *testing.T) {
	env := newEnv()
	b := block(t, types.BlockOptions, types.OptionsPayload{
		Options:           []types.Option{{Label: "Yes", Value: "y"}, {Label: "No", Value: "n"}},
		ResultVariableBID: "answer",
	})
	out, err := optionsOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, script.TypeButtons, out.Directive)
	assert.Len(t, out.Content.(script.ButtonsContent).Buttons, 2)

	res, err := optionsInput(env, b, Input{Kind: InputSelect, Value: "y"})
	require.NoError(t, err)
	assert.Equal(t, Advance, res.Verdict)
	assert.Equal(t, []types.ProfileItem{{Key: "answer", Value: "y"}}, res.Profiles)

	res, err = optionsInput(env, b, Input{Kind: InputText, Value: "no"})
	require.NoError(t, err)
	assert.Equal(t, Advance, res.Verdict)
	assert.Equal(t, "n", res.Profiles[0].Value)

	res, err = optionsInput(env, b, Input{Kind: InputText, Value: "maybe"})
	require.NoError(t, err)
	assert.Equal(t, Reject, res.Verdict)
	assert.Equal(t, "请选择一个选项", res.RejectText)

	assert.False(t, NeedsSafetyCheck(b, Input{Kind: InputSelect, Value: "y"}))
	assert.True(t, NeedsSafetyCheck(b, Input{Kind: InputText, Value: "maybe"}))
}

func TestInput(t *testing.T) {
	env := newEnv()
	b := block(t, types.BlockInput, types.InputPayload{Label: "Name", ResultVariableBID: "nickname"})
	res, err := inputInput(env, b, Input{Kind: InputText, Value: "  "})
	require.NoError(t, err)
	assert.Equal(t, Reject, res.Verdict)

	res, err = inputInput(env, b, Input{Kind: InputText, Value: " Ada "})
	require.NoError(t, err)
	assert.Equal(t, Advance, res.Verdict)
	assert.Equal(t, []types.ProfileItem{{Key: "nickname", Value: "Ada"}}, res.Profiles)
	assert.True(t, NeedsSafetyCheck(b, Input{Kind: InputText, Value: "Ada"}))
}

func TestPhone(t *testing.T) {
	env := newEnv()
	b := block(t, types.BlockPhone, types.PhonePayload{Label: "Phone"})

	res, err := phoneInput(env, b, Input{Kind: InputText, Value: "abc"})
	require.NoError(t, err)
	assert.Equal(t, Reject, res.Verdict)
	assert.Equal(t, "请输入正确的手机号", res.RejectText)

	res, err = phoneInput(env, b, Input{Kind: InputText, Value: "138 0013 8000"})
	require.NoError(t, err)
	assert.Equal(t, Advance, res.Verdict)
	assert.Equal(t, []types.ProfileItem{{Key: types.ProfilePhone, Value: "13800138000"}}, res.Profiles)

	for raw, ok := range map[string]bool{"+14155552671": true, "12345": false, "23800138000": false} {
		_, got := NormalizePhone(raw)
		assert.Equal(t, ok, got, raw)
	}
}

func TestCheckcode(t *testing.T) {
	env := newEnv()
	b := block(t, types.BlockCheckcode, types.CheckcodePayload{})

	_, err := checkcodeOutput(env, b)
	assert.True(t, types.IsCode(err, types.CodeInvalidStruct))

	env.profiles[types.ProfilePhone] = "13800138000"
	out, err := checkcodeOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, script.TypeCheckcode, out.Directive)
	assert.Equal(t, []string{"13800138000"}, env.issued)

	env.validCode = "123456"
	res, err := checkcodeInput(env, b, Input{Kind: InputText, Value: "000000"})
	require.NoError(t, err)
	assert.Equal(t, Reject, res.Verdict)
	assert.Equal(t, "验证码错误", res.RejectText)

	res, err = checkcodeInput(env, b, Input{Kind: InputContinue})
	require.NoError(t, err)
	assert.Equal(t, Render, res.Verdict)

	res, err = checkcodeInput(env, b, Input{Kind: InputText, Value: "123456"})
	require.NoError(t, err)
	assert.Equal(t, Advance, res.Verdict)
	assert.Equal(t, "13800138000", env.registered)
	assert.Equal(t, []types.ProfileItem{{Key: ProfileUserState, Value: "registered"}}, res.Notices)
}

func TestLoginGate(t *testing.T) {
	env := newEnv()
	b := block(t, types.BlockLogin, types.LoginPayload{})
	out, err := loginOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, script.TypeUserLogin, out.Directive)

	res, err := loginInput(env, b, Input{Kind: InputContinue})
	require.NoError(t, err)
	assert.Equal(t, Suspend, res.Verdict)

	env.loggedIn = true
	out, err = loginOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, script.TypeButtons, out.Directive)
	res, err = loginInput(env, b, Input{Kind: InputContinue})
	require.NoError(t, err)
	assert.Equal(t, Advance, res.Verdict)
}

func TestPaymentGate(t *testing.T) {
	env := newEnv()
	b := block(t, types.BlockPayment, types.PaymentPayload{Label: "Buy"})
	out, err := paymentOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, script.TypeOrder, out.Directive)
	assert.Equal(t, script.OrderContent{OrderBID: "o1", Price: 9.9, Label: "Buy"}, out.Content)
	assert.Equal(t, 1, env.orders)

	res, err := paymentInput(env, b, Input{Kind: InputContinue})
	require.NoError(t, err)
	assert.Equal(t, Noop, res.Verdict)

	env.paid = true
	out, err = paymentOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, script.TypeButtons, out.Directive)
	assert.Equal(t, 1, env.orders)
	res, err = paymentInput(env, b, Input{Kind: InputContinue})
	require.NoError(t, err)
	assert.Equal(t, Advance, res.Verdict)
}

func TestGoto(t *testing.T) {
	env := newEnv()
	b := block(t, types.BlockGoto, types.GotoPayload{
		VariableBID: "level",
		Targets: []types.GotoTarget{
			{Value: "", DestinationBID: "default"},
			{Value: "pro", DestinationBID: "advanced"},
		},
	})
	out, err := gotoOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, Output{Kind: OutputJump, Destination: "default"}, out)

	env.profiles["level"] = "pro"
	out, err = gotoOutput(env, b)
	require.NoError(t, err)
	assert.Equal(t, "advanced", out.Destination)

	out, err = gotoOutput(env, block(t, types.BlockGoto, types.GotoPayload{VariableBID: "level", Targets: []types.GotoTarget{{Value: "beginner", DestinationBID: "x"}}}))
	require.NoError(t, err)
	assert.Equal(t, OutputSkip, out.Kind)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "reject", Reject.String())
	assert.Equal(t, "verdict(42)", Verdict(42).String())
	assert.True(t, InputAsk.Valid())
	assert.False(t, InputKind("poke").Valid())
}
