package learn

import (
	"context"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/messages"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
)

// runContext implements blocks.Env for one pass.

func (rc *runContext) Context() context.Context    { return rc.ctx }
func (rc *runContext) UserBID() string             { return rc.req.UserBID }
func (rc *runContext) Shifu() types.ShifuInfo      { return rc.tree.Shifu }
func (rc *runContext) Preview() bool               { return rc.req.Preview }
func (rc *runContext) Paid() bool                  { return rc.paid }
func (rc *runContext) LoggedIn() bool              { return rc.user.LoggedIn() }
func (rc *runContext) Profiles() map[string]string { return rc.profiles }
func (rc *runContext) Message(key string) string   { return rc.s.deps.Messages.Get(rc.lang, key) }

func (rc *runContext) InitBuyRecord() (*types.Order, error) {
	o, err := rc.s.deps.Orders.InitBuyRecord(dbctx.New(rc.ctx), rc.req.UserBID, rc.req.ShifuBID, rc.tree.Shifu.Price)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, "learn.InitBuyRecord", err)
	}
	return o, nil
}

func (rc *runContext) IssueCheckcode(phone string) error {
	code, err := rc.s.deps.Codes.Issue(rc.ctx, rc.req.UserBID, phone)
	if err != nil {
		return types.Wrap(types.CodeUpstream, "learn.IssueCheckcode", err)
	}
	body := rc.s.deps.Messages.Format(rc.lang, messages.CheckcodeSMS, map[string]string{"code": code})
	if err := rc.s.deps.SMS.SendSMS(rc.ctx, phone, body); err != nil {
		return types.Wrap(types.CodeUpstream, "learn.IssueCheckcode", err)
	}
	rc.log.Info("verification code sent", "phone", phone)
	return nil
}

func (rc *runContext) VerifyCheckcode(phone, code string) (bool, error) {
	ok, err := rc.s.deps.Codes.Verify(rc.ctx, rc.req.UserBID, phone, code)
	if err != nil {
		return false, types.Wrap(types.CodeUpstream, "learn.VerifyCheckcode", err)
	}
	return ok, nil
}

func (rc *runContext) MarkRegistered(mobile string) error {
	if err := rc.s.deps.Users.MarkRegistered(dbctx.New(rc.ctx), rc.req.UserBID, mobile); err != nil {
		return types.Wrap(types.CodeInternal, "learn.MarkRegistered", err)
	}
	if rc.user == nil {
		rc.user = &types.UserInfo{UserBID: rc.req.UserBID}
	}
	rc.user.UserState = types.UserRegistered
	rc.user.Mobile = mobile
	return nil
}
