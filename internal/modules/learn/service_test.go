package learn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/shifu-backend/internal/data/repos/testutil"
	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/blocks"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
)

func phoneCourse() testutil.Course {
	return testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{
		BID:   "l1",
		Title: "Intro",
		Blocks: []types.BlockPayload{
			types.ContentPayload{Content: "Hi"},
			types.PhonePayload{Label: "Phone"},
			types.ButtonPayload{Label: "Continue"},
		},
	}}}
}

func TestRunPhoneScenario(t *testing.T) {
	h := newHarness(t)
	h.seed(phoneCourse())

	first := persisted(h.run(nil))
	require.Equal(t, []script.DTOType{script.TypeText, script.TypeText, script.TypeTextEnd, script.TypePhone}, typesOf(first))
	assert.Equal(t, []string{"H", "i"}, texts(first))
	phone := first[3]
	assert.Equal(t, "l1-b1", phone.BlockBID)
	assert.Equal(t, "l1", phone.OutlineItemBID)

	second := persisted(h.run(input(blocks.InputText, "not-a-phone", "l1-b1")))
	require.Equal(t, []script.DTOType{script.TypeText, script.TypeTextEnd, script.TypePhone}, typesOf(second))
	assert.Equal(t, []string{"请输入正确的手机号"}, texts(second))
	assert.Equal(t, phone, second[2], "pending directive is re-emitted unchanged")

	p := h.active()
	assert.Equal(t, 1, p.BlockPosition)
	assert.Equal(t, phone.GeneratedBlockBID, p.PendingGeneratedBlockBID)
	rejects := 0
	for _, r := range h.rows() {
		if r.Role == types.RoleReject {
			rejects++
		}
	}
	assert.Equal(t, 1, rejects)

	third := h.run(input(blocks.InputText, "13800138000", "l1-b1"))
	require.Equal(t, script.TypeProfileUpdate, third[0].Type)
	assert.JSONEq(t, `{"key":"phone","value":"13800138000"}`, string(third[0].Content))
	buttons := last(third)
	require.Equal(t, script.TypeButtons, buttons.Type)
	assert.JSONEq(t, `{"buttons":[{"label":"Continue","value":"continue"}]}`, string(buttons.Content))
	assert.Equal(t, 2, h.active().BlockPosition)
}

func TestRunReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(phoneCourse())
	h.run(nil)

	a := h.run(nil)
	b := h.run(nil)
	require.Len(t, a, 1)
	assert.Equal(t, a, b)

	ra, err := h.svc.Records(context.Background(), "u1", "s1", false)
	require.NoError(t, err)
	rb, err := h.svc.Records(context.Background(), "u1", "s1", false)
	require.NoError(t, err)
	ja, _ := json.Marshal(ra)
	jb, _ := json.Marshal(rb)
	assert.Equal(t, string(ja), string(jb))

	require.NotNil(t, ra.Pending)
	assert.Equal(t, a[0], *ra.Pending)
	require.Len(t, ra.Records, 2)
	assert.JSONEq(t, `"Hi"`, string(ra.Records[0].Content))
	assert.Equal(t, types.RoleTeacher, ra.Records[0].Role)
}

func TestRunPersistsBeforeEmit(t *testing.T) {
	h := newHarness(t)
	h.seed(phoneCourse())
	ctx := context.Background()
	var checked int
	emitter := script.EmitterFunc(func(_ context.Context, d script.DTO) error {
		if !d.Type.Persisted() {
			return nil
		}
		checked++
		row, err := h.progress.GetGeneratedBlock(dbctx.New(ctx), d.GeneratedBlockBID)
		if err != nil || row == nil {
			return errors.New("row missing for " + string(d.Type))
		}
		switch d.Type {
		case script.TypeText:
			if !strings.HasSuffix(row.Content, script.TextOf(d)) {
				return errors.New("chunk not persisted: " + row.Content)
			}
		case script.TypeTextEnd:
			if row.Status != types.GeneratedDone {
				return errors.New("text_end before row finalized")
			}
		default:
			if p := h.active(); p.PendingGeneratedBlockBID != d.GeneratedBlockBID {
				return errors.New("directive emitted before pending was saved")
			}
		}
		return nil
	})
	err := h.svc.Run(ctx, RunRequest{UserBID: "u1", ShifuBID: "s1"}, emitter)
	require.NoError(t, err)
	assert.Equal(t, 4, checked)
	// Any failed check above surfaces as a dropped client.
	assert.Equal(t, 1, h.active().BlockPosition)
	assert.Len(t, h.rows(), 2)
}

func TestRunSuspendIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.PhonePayload{Label: "Phone"},
	}}}})
	h.tx.FailNth(1, errors.New("commit failed"))

	dtos, err := h.runAs("u1", "s1", false, nil)
	require.Error(t, err)
	assert.Empty(t, persisted(dtos))
	assert.Equal(t, 1, h.tx.Rollbacks())
	assert.Empty(t, h.rows())
	assert.Empty(t, h.active().PendingGeneratedBlockBID)

	dtos = persisted(h.run(nil))
	require.Len(t, dtos, 1)
	assert.Equal(t, script.TypePhone, dtos[0].Type)
	assert.Len(t, h.rows(), 1)
}

func paymentCourse(price float64) testutil.Course {
	return testutil.Course{BID: "s1", Price: price, Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.PaymentPayload{Label: "Buy"},
		types.ContentPayload{Content: "ok"},
	}}}}
}

func TestRunPaymentGateMonotonic(t *testing.T) {
	h := newHarness(t)
	h.seed(paymentCourse(9.9))
	ctx := context.Background()

	order := last(h.run(nil))
	require.Equal(t, script.TypeOrder, order.Type)
	var oc script.OrderContent
	require.NoError(t, json.Unmarshal(order.Content, &oc))
	assert.Equal(t, 9.9, oc.Price)
	assert.NotEmpty(t, oc.OrderBID)

	assert.Empty(t, h.run(input(blocks.InputContinue, "", "l1-b0")), "unpaid continue is a silent no-op")
	assert.Equal(t, 0, h.active().BlockPosition)

	require.NoError(t, h.orders.UpdateStatus(dbctx.New(ctx), oc.OrderBID, types.OrderSuccess))
	dtos := h.run(input(blocks.InputContinue, "", "l1-b0"))
	assert.Equal(t, []string{"o", "k"}, texts(dtos))

	// A newer unpaid order cannot revoke the paid one.
	_, err := h.orders.InitBuyRecord(dbctx.New(ctx), "u1", "s1", 9.9)
	require.NoError(t, err)
	got, err := h.orders.QueryOrder(dbctx.New(ctx), "u1", "s1")
	require.NoError(t, err)
	assert.True(t, got.Paid())
}

func TestRunPaidPaymentShowsContinue(t *testing.T) {
	h := newHarness(t)
	h.seed(paymentCourse(9.9))
	ctx := context.Background()
	o, err := h.orders.InitBuyRecord(dbctx.New(ctx), "u1", "s1", 9.9)
	require.NoError(t, err)
	require.NoError(t, h.orders.UpdateStatus(dbctx.New(ctx), o.OrderBID, types.OrderSuccess))

	btn := last(h.run(nil))
	require.Equal(t, script.TypeButtons, btn.Type)
	assert.JSONEq(t, `{"buttons":[{"label":"继续","value":"continue"}]}`, string(btn.Content))
	assert.Equal(t, []string{"o", "k"}, texts(h.run(input(blocks.InputContinue, "", ""))))
}

func TestRunPreviewBypassesPayment(t *testing.T) {
	h := newHarness(t)
	c := paymentCourse(9.9)
	c.Draft = true
	h.seed(c)

	dtos, err := h.runAs("u1", "s1", true, nil)
	require.NoError(t, err)
	assert.Equal(t, script.TypeButtons, last(dtos).Type)

	_, err = h.runAs("u1", "s1", false, nil)
	assert.True(t, types.IsCode(err, types.CodeNotFound), "published universe does not exist: %v", err)
}

func TestRunGotoBranches(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{
		{BID: "l1", Blocks: []types.BlockPayload{
			types.OptionsPayload{Options: []types.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}}, ResultVariableBID: "track"},
			types.GotoPayload{VariableBID: "track", Targets: []types.GotoTarget{{Value: "a", DestinationBID: "l2"}, {Value: "b", DestinationBID: "l3"}}},
		}},
		{BID: "l2", Blocks: []types.BlockPayload{types.ContentPayload{Content: "A"}}},
		{BID: "l3", Blocks: []types.BlockPayload{types.ContentPayload{Content: "B"}}},
	}})
	testutil.SeedProfileKeys(t, h.db, "s1", "track")

	h.run(nil)
	dtos := h.run(input(blocks.InputSelect, "b", "l1-b0"))
	assert.Equal(t, []string{"B"}, texts(dtos))
	assert.Equal(t, script.TypeDone, last(dtos).Type)
	assert.Equal(t, types.ProgressCompleted, h.active().Status)
}

func TestRunGotoCycleFails(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.ContentPayload{Content: "x"},
		types.GotoPayload{Targets: []types.GotoTarget{{DestinationBID: "l1-b0"}}},
	}}}})

	_, err := h.runAs("u1", "s1", false, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeGotoCycle), "got %v", err)
	assert.True(t, types.IsConfigError(err))
}

func TestRunSkipsMalformedBlock(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.ContentPayload{Content: "ok"},
	}}}})
	require.NoError(t, h.db.Create(&types.Block{
		ID: uuid.New(), BID: "broken", ShifuBID: "s1", OutlineItemBID: "l1", Position: 0,
		Type: types.BlockOptions, Content: datatypes.JSON(`{"options":[]}`),
	}).Error)

	dtos := h.run(nil)
	assert.Equal(t, []string{"o", "k"}, texts(dtos))
	assert.Equal(t, script.TypeDone, last(dtos).Type)
}

func TestRunUnregisteredBlockType(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1"}}})
	require.NoError(t, h.db.Create(&types.Block{
		ID: uuid.New(), BID: "quiz", ShifuBID: "s1", OutlineItemBID: "l1", Position: 1,
		Type: "quiz", Content: datatypes.JSON(`{}`),
	}).Error)

	_, err := h.runAs("u1", "s1", false, nil)
	assert.True(t, types.IsCode(err, types.CodeUnregisteredHandler), "got %v", err)
}

func TestRunStaleInput(t *testing.T) {
	h := newHarness(t)
	h.seed(phoneCourse())
	h.run(nil)

	_, err := h.runAs("u1", "s1", false, input(blocks.InputText, "13800138000", "l1-b2"))
	assert.True(t, types.IsCode(err, types.CodeStaleInput), "got %v", err)
	assert.Equal(t, 1, h.active().BlockPosition)
}

func TestRunStopsAtBlockBoundaryWhenClientLeaves(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.ContentPayload{Content: "Hello"},
		types.ButtonPayload{},
	}}}})

	// outline_item_update, ask_mode and the first chunk get through.
	col := &script.Collector{GoneAfter: 3}
	require.NoError(t, h.svc.Run(context.Background(), RunRequest{UserBID: "u1", ShifuBID: "s1"}, col))
	assert.Equal(t, []string{"H"}, texts(col.DTOs()))

	rows := h.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Hello", rows[0].Content)
	assert.Equal(t, types.GeneratedDone, rows[0].Status)
	p := h.active()
	assert.Equal(t, 1, p.BlockPosition)
	assert.Empty(t, p.PendingGeneratedBlockBID)

	assert.Equal(t, script.TypeButtons, last(h.run(nil)).Type)
}

func TestRunBusyWhileLocked(t *testing.T) {
	h := newHarness(t)
	h.seed(phoneCourse())
	ctx := context.Background()
	lease, err := h.locker.Acquire(ctx, lockKey("u1", "s1"), time.Minute, 0)
	require.NoError(t, err)

	_, err = h.runAs("u1", "s1", false, nil)
	assert.True(t, types.IsCode(err, types.CodeBusy), "got %v", err)
	assert.Nil(t, h.active(), "nothing runs without the lock")

	require.NoError(t, lease.Release(ctx))
	h.run(nil)
}

func TestRunHoldsLockPastTTL(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"Slow ", "answer."}, hold: make(chan struct{})}
	h := newHarness(t, withLLM(llm), func(_ *harness, d *ServiceDeps) {
		d.LockTTL = 100 * time.Millisecond
		d.RunTimeout = 10 * time.Second
	})
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.ContentPayload{Content: "Explain goroutines", LLMEnabled: true},
		types.PhonePayload{Label: "Phone"},
	}}}})

	done := make(chan error, 1)
	go func() {
		err := h.svc.Run(context.Background(), RunRequest{UserBID: "u1", ShifuBID: "s1"}, &script.Collector{})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(llm.requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// well past the lease TTL while the first pass is still streaming
	time.Sleep(300 * time.Millisecond)
	_, err := h.runAs("u1", "s1", false, nil)
	assert.True(t, types.IsCode(err, types.CodeBusy), "got %v", err)

	close(llm.hold)
	require.NoError(t, <-done)
	assert.Len(t, llm.requests(), 1)

	teacher := 0
	for _, r := range h.rows() {
		if r.BlockBID == "l1-b0" && r.Role == types.RoleTeacher {
			teacher++
		}
	}
	assert.Equal(t, 1, teacher)
	assert.Equal(t, 1, h.active().BlockPosition)

	// the lease is gone once the pass returns
	lease, err := h.locker.Acquire(context.Background(), lockKey("u1", "s1"), time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}

func TestRunSafetyRejectKeepsCursor(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"Please ", "be kind."}}
	h := newHarness(t, withSafety(rejectAll{}), withLLM(llm))
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.InputPayload{Label: "Name", ResultVariableBID: "nickname"},
	}}}})
	testutil.SeedProfileKeys(t, h.db, "s1", "nickname")

	directive := last(h.run(nil))
	dtos := persisted(h.run(input(blocks.InputText, "something rude", "l1-b0")))
	require.Equal(t, []script.DTOType{script.TypeText, script.TypeText, script.TypeTextEnd, script.TypeInput}, typesOf(dtos))
	assert.Equal(t, directive, dtos[3])

	reqs := llm.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "something rude")
	assert.Contains(t, reqs[0].Prompt, "abuse")
	assert.Equal(t, "u1", reqs[0].UserBID)

	p := h.active()
	assert.Equal(t, 0, p.BlockPosition)
	assert.Equal(t, directive.GeneratedBlockBID, p.PendingGeneratedBlockBID)
	for _, r := range h.rows() {
		assert.NotEqual(t, types.RoleStudent, r.Role, "rejected input is not logged as a student turn")
	}
}

func TestRunSafetyFallbackWithoutLLM(t *testing.T) {
	h := newHarness(t, withSafety(rejectAll{}))
	h.seed(phoneCourse())
	h.run(nil)

	dtos := persisted(h.run(input(blocks.InputText, "13800138000", "l1-b1")))
	require.Len(t, dtos, 3)
	assert.Equal(t, []string{"你的输入包含不合适的内容，请重新输入。"}, texts(dtos))
	assert.Equal(t, 1, h.active().BlockPosition)
}

func TestRunAskMode(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"Go ", "is fun."}}
	h := newHarness(t, withLLM(llm))
	h.seed(testutil.Course{BID: "s1", Title: "Go 101", Lessons: []testutil.Lesson{
		{BID: "l1", Title: "Basics", AskEnabled: true, Blocks: []types.BlockPayload{types.ButtonPayload{}}},
		{BID: "l2", Blocks: []types.BlockPayload{types.ButtonPayload{}}},
	}})

	first := h.run(nil)
	var askMode script.DTO
	for _, d := range first {
		if d.Type == script.TypeAskMode {
			askMode = d
		}
	}
	assert.JSONEq(t, `{"enabled":true}`, string(askMode.Content))
	pending := last(first)

	dtos := persisted(h.run(input(blocks.InputAsk, "what is go?", "")))
	assert.Equal(t, []string{"Go ", "is fun."}, texts(dtos))
	assert.Equal(t, pending, last(dtos))
	require.Len(t, llm.requests(), 1)
	assert.Contains(t, llm.requests()[0].System, "Go 101")
	assert.Equal(t, 0, h.active().BlockPosition)

	roles := []types.Role{}
	for _, r := range h.rows() {
		roles = append(roles, r.Role)
	}
	assert.Equal(t, []types.Role{types.RoleUI, types.RoleStudent, types.RoleTeacher}, roles)

	h.run(input(blocks.InputContinue, "", ""))
	_, err := h.runAs("u1", "s1", false, input(blocks.InputAsk, "again?", ""))
	assert.True(t, types.IsCode(err, types.CodeValidation), "ask is disabled in l2: %v", err)
}

func TestRunCheckcodeLogin(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.PhonePayload{},
		types.CheckcodePayload{},
		types.LoginPayload{},
		types.ContentPayload{Content: "in"},
	}}}})

	h.run(nil)
	cc := last(h.run(input(blocks.InputText, "13800138000", "l1-b0")))
	require.Equal(t, script.TypeCheckcode, cc.Type)
	assert.JSONEq(t, `{"phone":"13800138000"}`, string(cc.Content))
	require.Len(t, h.sms.sent, 1)
	assert.Contains(t, h.sms.sent[0], testCode)

	wrong := persisted(h.run(input(blocks.InputText, "000000", "l1-b1")))
	assert.Equal(t, []string{"验证码错误"}, texts(wrong))
	assert.Equal(t, cc, last(wrong))

	ok := h.run(input(blocks.InputText, testCode, "l1-b1"))
	require.Equal(t, script.TypeProfileUpdate, ok[0].Type)
	assert.JSONEq(t, `{"key":"user_state","value":"registered"}`, string(ok[0].Content))
	login := last(ok)
	assert.Equal(t, script.TypeButtons, login.Type, "a logged-in learner sees a continue button")

	assert.Equal(t, []string{"i", "n"}, texts(h.run(input(blocks.InputContinue, "", "l1-b2"))))
}

func TestRunLoginSuspendsWhileLoggedOut(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{{BID: "l1", Blocks: []types.BlockPayload{
		types.LoginPayload{Label: "Sign in"},
		types.ContentPayload{Content: "x"},
	}}}})

	login := last(h.run(nil))
	require.Equal(t, script.TypeUserLogin, login.Type)
	assert.Empty(t, h.run(input(blocks.InputContinue, "", "l1-b0")))
	assert.Equal(t, login, last(h.run(nil)))
}

func TestRunCompletionAndReset(t *testing.T) {
	h := newHarness(t)
	h.seed(testutil.Course{BID: "s1", Lessons: []testutil.Lesson{
		{BID: "l1", Blocks: []types.BlockPayload{types.ContentPayload{Content: "A"}}},
		{BID: "l2", Blocks: []types.BlockPayload{types.ContentPayload{Content: "B"}}},
	}})

	dtos := h.run(nil)
	assert.Equal(t, []string{"A", "B"}, texts(dtos))
	var updates []string
	for _, d := range dtos {
		if d.Type == script.TypeOutlineItemUpdate {
			var c script.OutlineItemUpdateContent
			require.NoError(t, json.Unmarshal(d.Content, &c))
			updates = append(updates, c.OutlineItemBID+":"+c.Status)
		}
	}
	assert.Equal(t, []string{"l1:in_progress", "l1:completed", "l2:in_progress", "l2:completed"}, updates)
	assert.Equal(t, script.TypeDone, last(dtos).Type)
	assert.Equal(t, types.ProgressCompleted, h.active().Status)

	assert.Equal(t, []script.DTOType{script.TypeDone}, typesOf(h.run(nil)))

	require.NoError(t, h.svc.Reset(context.Background(), "u1", "s1", false))
	assert.Nil(t, h.active())
	assert.Equal(t, []string{"A", "B"}, texts(h.run(nil)))
}

func TestRunValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.runAs("", "s1", false, nil)
	assert.True(t, types.IsCode(err, types.CodeValidation))
	_, err = h.runAs("u1", "s1", false, &Input{Kind: "poke"})
	assert.True(t, types.IsCode(err, types.CodeValidation))
	_, err = h.runAs("u1", "missing", false, nil)
	assert.True(t, types.IsCode(err, types.CodeNotFound))
}
