package learn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/blocks"
	"github.com/yungbote/shifu-backend/internal/modules/learn/messages"
	"github.com/yungbote/shifu-backend/internal/modules/learn/safety"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
	"github.com/yungbote/shifu-backend/internal/platform/openai"
)

const (
	outcomeSuspended  = "suspended"
	outcomeCompleted  = "completed"
	outcomeReplay     = "replay"
	outcomeRejected   = "rejected"
	outcomeAnswered   = "answered"
	outcomeClientGone = "client_gone"

	outlineInProgress = "in_progress"
	outlineCompleted  = "completed"
)

// runContext is the request-scope state of one pass. It is used from a single
// goroutine after load returns.
type runContext struct {
	s         *Service
	ctx       context.Context
	clientCtx context.Context
	emitter   script.Emitter
	log       *logger.Logger

	req      RunRequest
	tree     *types.OutlineTree
	progress *types.Progress
	user     *types.UserInfo
	paid     bool
	profiles map[string]string
	lang     string

	gone  bool
	leaf  int
	gotos map[string]bool
}

func (s *Service) newRunContext(runCtx, clientCtx context.Context, req RunRequest, emit script.Emitter) (*runContext, error) {
	rc := &runContext{
		s:         s,
		ctx:       runCtx,
		clientCtx: clientCtx,
		emitter:   emit,
		log:       s.log.With("user_bid", req.UserBID, "shifu_bid", req.ShifuBID, "preview", req.Preview),
		req:       req,
		leaf:      -1,
		gotos:     map[string]bool{},
	}
	if err := rc.load(); err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *runContext) load() error {
	const op = "learn.load"
	var order *types.Order
	d := rc.s.deps
	g, gctx := errgroup.WithContext(rc.ctx)
	g.Go(func() error {
		tree, err := d.Structs.GetShifuStruct(gctx, rc.req.ShifuBID, rc.req.Preview)
		rc.tree = tree
		return err
	})
	g.Go(func() error {
		u, err := d.Users.EnsureUser(dbctx.New(gctx), rc.req.UserBID)
		rc.user = u
		return types.Wrap(types.CodeInternal, op, err)
	})
	g.Go(func() error {
		o, err := d.Orders.QueryOrder(dbctx.New(gctx), rc.req.UserBID, rc.req.ShifuBID)
		order = o
		return types.Wrap(types.CodeInternal, op, err)
	})
	g.Go(func() error {
		p, err := d.Profiles.GetProfiles(dbctx.New(gctx), rc.req.UserBID, rc.req.ShifuBID, nil)
		rc.profiles = p
		return types.Wrap(types.CodeInternal, op, err)
	})
	g.Go(func() error {
		p, err := d.Progress.LoadActive(dbctx.New(gctx), rc.req.UserBID, rc.req.ShifuBID, rc.req.Preview)
		rc.progress = p
		return types.Wrap(types.CodeInternal, op, err)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if rc.profiles == nil {
		rc.profiles = map[string]string{}
	}
	rc.paid = rc.req.Preview || rc.tree.Shifu.Price <= 0 || (order != nil && order.Paid())
	lang := rc.profiles[types.ProfileLanguage]
	if lang == "" && rc.user != nil {
		lang = rc.user.Language
	}
	rc.lang = d.Messages.Normalize(lang)
	return nil
}

func (rc *runContext) run() (string, error) {
	if rc.progress == nil {
		if err := rc.startProgress(); err != nil {
			return "", err
		}
	}
	cursor, ok := rc.locate()
	pending, err := rc.pendingRow()
	if err != nil {
		return "", err
	}
	in := rc.req.Input
	if pending != nil {
		if in == nil {
			rc.emit(dtoFromRow(pending))
			return outcomeReplay, nil
		}
		return rc.handleInput(cursor, ok, pending, *in)
	}
	if in != nil {
		if b := rc.tree.Block(cursor); in.BlockBID != "" && (!ok || b == nil || b.BID != in.BlockBID) {
			return "", types.NewError(types.CodeStaleInput, "learn.Run", fmt.Sprintf("no directive pending for block %s", in.BlockBID), nil)
		}
		rc.log.Debug("input without a pending directive ignored", "kind", in.Kind)
	}
	return rc.render(cursor, ok)
}

func (rc *runContext) startProgress() error {
	p := &types.Progress{
		UserBID:  rc.req.UserBID,
		ShifuBID: rc.req.ShifuBID,
		Preview:  rc.req.Preview,
		Status:   types.ProgressInProgress,
	}
	if start, ok := rc.tree.Start(); ok {
		p.OutlineItemBID = rc.tree.Leaf(start).Item.BID
		p.BlockPosition = start.Block
	}
	if err := rc.s.deps.Progress.Create(dbctx.New(rc.ctx), p); err != nil {
		return types.Wrap(types.CodeInternal, "learn.startProgress", err)
	}
	rc.progress = p
	rc.log.Info("progress started", "outline_item_bid", p.OutlineItemBID)
	return nil
}

// locate maps the stored cursor onto the tree. ok is false past the end of the course.
func (rc *runContext) locate() (types.Cursor, bool) {
	p := rc.progress
	if p.OutlineItemBID == "" {
		return rc.tree.Start()
	}
	if c, ok := rc.tree.Locate(p.OutlineItemBID, p.BlockPosition); ok {
		return c, true
	}
	if p.Status == types.ProgressCompleted || rc.hasLeaf(p.OutlineItemBID) {
		return types.Cursor{}, false
	}
	rc.log.Warn("progress points at a missing outline item, restarting", "outline_item_bid", p.OutlineItemBID)
	p.PendingGeneratedBlockBID = ""
	return rc.tree.Start()
}

func (rc *runContext) hasLeaf(bid string) bool {
	for _, l := range rc.tree.Leaves() {
		if l.Item.BID == bid {
			return true
		}
	}
	return false
}

func (rc *runContext) pendingRow() (*types.GeneratedBlock, error) {
	bid := rc.progress.PendingGeneratedBlockBID
	if bid == "" {
		return nil, nil
	}
	row, err := rc.s.deps.Progress.GetGeneratedBlock(dbctx.New(rc.ctx), bid)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, "learn.pendingRow", err)
	}
	if row == nil {
		rc.log.Warn("pending directive row missing", "generated_block_bid", bid)
		rc.progress.PendingGeneratedBlockBID = ""
	}
	return row, nil
}

// position is where the stored cursor points after moving from prev to next.
func (rc *runContext) position(next types.Cursor, ok bool, prev types.Cursor) (string, int) {
	if ok {
		return rc.tree.Leaf(next).Item.BID, next.Block
	}
	return rc.tree.Leaf(prev).Item.BID, prev.Block + 1
}

func (rc *runContext) handleInput(cursor types.Cursor, ok bool, pending *types.GeneratedBlock, in blocks.Input) (string, error) {
	const op = "learn.handleInput"
	if in.BlockBID != "" && in.BlockBID != pending.BlockBID {
		return "", types.NewError(types.CodeStaleInput, op,
			fmt.Sprintf("input for block %s but waiting on %s", in.BlockBID, pending.BlockBID), nil)
	}
	block := rc.tree.Block(cursor)
	if !ok || block == nil || block.BID != pending.BlockBID {
		rc.log.Warn("pending directive no longer matches the outline, re-rendering", "block_bid", pending.BlockBID)
		rc.progress.PendingGeneratedBlockBID = ""
		return rc.render(cursor, ok)
	}
	leaf := rc.tree.Leaf(cursor)
	if in.Kind == blocks.InputAsk {
		return rc.ask(cursor, leaf, block, pending, in)
	}

	contentBID := uuid.NewString()
	if blocks.NeedsSafetyCheck(block, in) {
		res, err := rc.s.deps.Safety.Check(rc.ctx, safety.CheckRequest{ContentBID: contentBID, Text: in.Value, UserBID: rc.req.UserBID})
		if err != nil {
			return "", err
		}
		if !res.Passed() {
			return rc.corrective(cursor, block, pending, in.Value, res)
		}
	}
	if in.Kind != blocks.InputContinue && strings.TrimSpace(in.Value) != "" {
		if err := rc.appendStudent(contentBID, cursor, block, in.Value); err != nil {
			return "", err
		}
	}

	res, err := rc.s.deps.Registry.DispatchInput(rc, block, in)
	if err != nil {
		return "", err
	}
	rc.s.deps.Metrics.IncBlock(string(block.Type), "input")
	rc.log.Debug("input handled", "block_bid", block.BID, "type", block.Type, "verdict", res.Verdict.String())

	switch res.Verdict {
	case blocks.Reject:
		if err := rc.streamStatic(cursor, block, types.RoleReject, []string{res.RejectText}); err != nil {
			return "", err
		}
		rc.emit(dtoFromRow(pending))
		return outcomeRejected, nil
	case blocks.Suspend, blocks.Noop:
		return res.Verdict.String(), nil
	case blocks.Render:
		if err := rc.s.deps.Progress.Advance(rc.ctx, rc.progress, leaf.Item.BID, cursor.Block, "", nil); err != nil {
			return "", err
		}
		return rc.render(cursor, true)
	case blocks.Advance:
		next, nextOK := rc.tree.Next(cursor)
		leafBID, pos := rc.position(next, nextOK, cursor)
		var saveProfiles func(dbctx.Context) error
		if len(res.Profiles) > 0 {
			saveProfiles = func(dbc dbctx.Context) error {
				return rc.s.deps.Profiles.SaveProfiles(dbc, rc.req.UserBID, rc.req.ShifuBID, res.Profiles)
			}
		}
		if err := rc.s.deps.Progress.Advance(rc.ctx, rc.progress, leafBID, pos, "", saveProfiles); err != nil {
			return "", err
		}
		for _, it := range res.Profiles {
			rc.profiles[it.Key] = it.Value
			rc.emitProfile(cursor, block, it)
		}
		for _, it := range res.Notices {
			rc.emitProfile(cursor, block, it)
		}
		return rc.render(next, nextOK)
	default:
		return "", types.NewError(types.CodeInternal, op, "unknown input verdict "+res.Verdict.String(), nil)
	}
}

// ask answers a free question at the current suspension point without moving the cursor.
func (rc *runContext) ask(cursor types.Cursor, leaf *types.OutlineNode, block *types.Block, pending *types.GeneratedBlock, in blocks.Input) (string, error) {
	const op = "learn.ask"
	if !leaf.Item.AskEnabled {
		return "", types.NewError(types.CodeValidation, op, rc.Message(messages.AskDisabled), nil)
	}
	question := strings.TrimSpace(in.Value)
	if question == "" {
		return "", types.NewError(types.CodeValidation, op, "empty question", nil)
	}
	if rc.s.deps.LLM == nil {
		return "", types.NewError(types.CodeValidation, op, "ask mode needs an LLM", nil)
	}
	contentBID := uuid.NewString()
	res, err := rc.s.deps.Safety.Check(rc.ctx, safety.CheckRequest{ContentBID: contentBID, Text: question, UserBID: rc.req.UserBID})
	if err != nil {
		return "", err
	}
	if !res.Passed() {
		return rc.corrective(cursor, block, pending, question, res)
	}
	if err := rc.appendStudent(contentBID, cursor, block, question); err != nil {
		return "", err
	}
	req := openai.Request{
		System: rc.s.deps.Messages.Format(rc.lang, messages.AskSystem, map[string]string{
			"course": rc.tree.Shifu.Title,
			"lesson": leaf.Item.Title,
		}),
		Prompt: question,
	}
	if err := rc.streamLLM(cursor, block, types.RoleTeacher, req); err != nil {
		return "", err
	}
	rc.emit(dtoFromRow(pending))
	return outcomeAnswered, nil
}

// corrective streams the teacher's response to unsafe input, then re-emits the
// pending directive.
func (rc *runContext) corrective(cursor types.Cursor, block *types.Block, pending *types.GeneratedBlock, text string, res safety.Result) (string, error) {
	rc.log.Info("input held by safety gate", "block_bid", block.BID, "result", res.CheckResult, "labels", res.RiskLabels)
	var err error
	if rc.s.deps.LLM != nil {
		err = rc.streamLLM(cursor, block, types.RoleReject, openai.Request{
			System: rc.Message(messages.SafetySystem),
			Prompt: rc.s.deps.Messages.Format(rc.lang, messages.SafetyPrompt, map[string]string{
				"input":  text,
				"labels": strings.Join(res.RiskLabels, ", "),
			}),
		})
	} else {
		err = rc.streamStatic(cursor, block, types.RoleReject, []string{rc.Message(messages.SafetyFallback)})
	}
	if err != nil {
		return "", err
	}
	rc.emit(dtoFromRow(pending))
	return outcomeRejected, nil
}

func (rc *runContext) render(c types.Cursor, ok bool) (string, error) {
	const op = "learn.render"
	for {
		if rc.clientGone() {
			return outcomeClientGone, nil
		}
		if !ok {
			return outcomeCompleted, rc.complete()
		}
		rc.enterLeaf(c.Leaf)
		b := rc.tree.Block(c)
		if b.DecodeErr != nil {
			rc.log.Warn("skipping malformed block", "block_bid", b.BID, "type", b.Type, "error", b.DecodeErr)
			rc.s.deps.Metrics.IncBlock(string(b.Type), "skipped")
			c, ok = rc.tree.Next(c)
			continue
		}
		out, err := rc.s.deps.Registry.DispatchOutput(rc, b)
		if err != nil {
			return "", err
		}
		rc.s.deps.Metrics.IncBlock(string(b.Type), "output")

		switch out.Kind {
		case blocks.OutputText:
			if err := rc.streamContent(c, b, out); err != nil {
				return "", err
			}
			prev := c
			c, ok = rc.tree.Next(c)
			leafBID, pos := rc.position(c, ok, prev)
			if err := rc.s.deps.Progress.Advance(rc.ctx, rc.progress, leafBID, pos, "", nil); err != nil {
				return "", err
			}
		case blocks.OutputDirective:
			return outcomeSuspended, rc.suspend(c, b, out)
		case blocks.OutputJump:
			dest, found := rc.tree.FindDestination(out.Destination)
			if !found {
				return "", types.NewError(types.CodeInvalidStruct, op,
					fmt.Sprintf("goto %s targets unknown destination %s", b.BID, out.Destination), nil)
			}
			if rc.gotos[b.BID] {
				return "", types.NewError(types.CodeGotoCycle, op, fmt.Sprintf("goto %s revisited in one pass", b.BID), nil)
			}
			rc.gotos[b.BID] = true
			if dest.Leaf != c.Leaf {
				rc.progress.Status = types.ProgressBranched
			}
			rc.log.Debug("goto", "block_bid", b.BID, "destination", out.Destination)
			c, ok = dest, true
		case blocks.OutputSkip:
			c, ok = rc.tree.Next(c)
		default:
			return "", types.NewError(types.CodeInternal, op, fmt.Sprintf("unknown output kind %d", out.Kind), nil)
		}
	}
}

func (rc *runContext) streamContent(c types.Cursor, b *types.Block, out blocks.Output) error {
	if out.LLM != nil {
		if rc.s.deps.LLM != nil {
			return rc.streamLLM(c, b, types.RoleTeacher, *out.LLM)
		}
		rc.log.Warn("LLM not configured, streaming static content", "block_bid", b.BID)
	}
	if out.Text == "" {
		return nil
	}
	return rc.streamStatic(c, b, types.RoleTeacher, splitRunes(out.Text))
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func (rc *runContext) streamStatic(c types.Cursor, b *types.Block, role types.Role, chunks []string) error {
	w, err := rc.openText(c, b, role)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if err := w.write(ch); err != nil {
			return err
		}
	}
	return w.close()
}

func (rc *runContext) streamLLM(c types.Cursor, b *types.Block, role types.Role, req openai.Request) error {
	const op = "learn.streamLLM"
	req.UserBID = rc.req.UserBID
	model := req.Model
	if model == "" {
		model = "default"
	}
	started := time.Now()
	stream, err := rc.s.deps.LLM.Stream(rc.ctx, req)
	if err != nil {
		rc.s.deps.Metrics.ObserveLLM(model, time.Since(started), true)
		return types.Wrap(types.CodeUpstream, op, err)
	}
	defer stream.Close()

	w, err := rc.openText(c, b, role)
	if err != nil {
		return err
	}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rc.s.deps.Metrics.ObserveLLM(model, time.Since(started), true)
			if cerr := w.close(); cerr != nil {
				rc.log.Warn("closing partial LLM message failed", "error", cerr)
			}
			return types.Wrap(types.CodeUpstream, op, err)
		}
		if chunk.Result == "" {
			continue
		}
		if err := w.write(chunk.Result); err != nil {
			return err
		}
	}
	rc.s.deps.Metrics.ObserveLLM(model, time.Since(started), false)
	return w.close()
}

// textWriter persists a text row before each emitted chunk.
type textWriter struct {
	rc      *runContext
	row     *types.GeneratedBlock
	content strings.Builder
}

func (rc *runContext) openText(c types.Cursor, b *types.Block, role types.Role) (*textWriter, error) {
	row := &types.GeneratedBlock{
		ProgressID:     rc.progress.ID,
		UserBID:        rc.req.UserBID,
		ShifuBID:       rc.req.ShifuBID,
		OutlineItemBID: rc.tree.Leaf(c).Item.BID,
		BlockBID:       b.BID,
		Role:           role,
		Type:           string(script.TypeText),
		Status:         types.GeneratedStreaming,
	}
	if err := rc.s.deps.Progress.AppendGeneratedBlock(dbctx.New(rc.ctx), row); err != nil {
		return nil, types.Wrap(types.CodeInternal, "learn.openText", err)
	}
	return &textWriter{rc: rc, row: row}, nil
}

func (w *textWriter) write(chunk string) error {
	w.content.WriteString(chunk)
	if err := w.rc.s.deps.Progress.UpdateGeneratedContent(dbctx.New(w.rc.ctx), w.row.BID, w.content.String(), types.GeneratedStreaming); err != nil {
		return types.Wrap(types.CodeInternal, "learn.writeText", err)
	}
	w.rc.emit(w.dto(script.TypeText, script.Raw(chunk)))
	return nil
}

func (w *textWriter) close() error {
	if err := w.rc.s.deps.Progress.UpdateGeneratedContent(dbctx.New(w.rc.ctx), w.row.BID, w.content.String(), types.GeneratedDone); err != nil {
		return types.Wrap(types.CodeInternal, "learn.closeText", err)
	}
	w.rc.emit(w.dto(script.TypeTextEnd, script.Raw(nil)))
	return nil
}

func (w *textWriter) dto(t script.DTOType, content json.RawMessage) script.DTO {
	return script.DTO{
		Type:              t,
		Content:           content,
		OutlineItemBID:    w.row.OutlineItemBID,
		BlockBID:          w.row.BlockBID,
		GeneratedBlockBID: w.row.BID,
	}
}

func (rc *runContext) appendStudent(bid string, c types.Cursor, b *types.Block, text string) error {
	row := &types.GeneratedBlock{
		BID:            bid,
		ProgressID:     rc.progress.ID,
		UserBID:        rc.req.UserBID,
		ShifuBID:       rc.req.ShifuBID,
		OutlineItemBID: rc.tree.Leaf(c).Item.BID,
		BlockBID:       b.BID,
		Role:           types.RoleStudent,
		Type:           string(script.TypeText),
		Content:        text,
		Status:         types.GeneratedDone,
	}
	if err := rc.s.deps.Progress.AppendGeneratedBlock(dbctx.New(rc.ctx), row); err != nil {
		return types.Wrap(types.CodeInternal, "learn.appendStudent", err)
	}
	return nil
}

// suspend writes the directive row and cursor together, then emits the stored row.
func (rc *runContext) suspend(c types.Cursor, b *types.Block, out blocks.Output) error {
	leafBID := rc.tree.Leaf(c).Item.BID
	row := &types.GeneratedBlock{
		ProgressID:     rc.progress.ID,
		UserBID:        rc.req.UserBID,
		ShifuBID:       rc.req.ShifuBID,
		OutlineItemBID: leafBID,
		BlockBID:       b.BID,
		Role:           types.RoleUI,
		Type:           string(out.Directive),
		Payload:        datatypes.JSON(script.Raw(out.Content)),
		Status:         types.GeneratedDone,
	}
	rc.progress.OutlineItemBID = leafBID
	rc.progress.BlockPosition = c.Block
	if err := rc.s.deps.Progress.Suspend(rc.ctx, rc.progress, row); err != nil {
		return err
	}
	rc.emit(dtoFromRow(row))
	return nil
}

func (rc *runContext) complete() error {
	if rc.progress.Status != types.ProgressCompleted {
		leafBID, pos := "", 0
		if leaves := rc.tree.Leaves(); len(leaves) > 0 {
			last := leaves[len(leaves)-1]
			leafBID, pos = last.Item.BID, len(last.Blocks)
		}
		if err := rc.s.deps.Progress.Advance(rc.ctx, rc.progress, leafBID, pos, types.ProgressCompleted, nil); err != nil {
			return err
		}
		rc.log.Info("course completed")
	}
	if rc.leaf >= 0 {
		rc.emitOutline(rc.leaf, outlineCompleted)
	}
	rc.emit(script.DTO{Type: script.TypeDone, Content: script.Raw(nil)})
	return nil
}

// enterLeaf announces outline item transitions.
func (rc *runContext) enterLeaf(i int) {
	if rc.leaf == i {
		return
	}
	if rc.leaf >= 0 && i > rc.leaf {
		rc.emitOutline(rc.leaf, outlineCompleted)
	}
	rc.leaf = i
	rc.emitOutline(i, outlineInProgress)
	leaf := rc.tree.Leaves()[i]
	rc.emit(script.DTO{
		Type:           script.TypeAskMode,
		Content:        script.Raw(script.AskModeContent{Enabled: leaf.Item.AskEnabled}),
		OutlineItemBID: leaf.Item.BID,
	})
}

func (rc *runContext) emitOutline(i int, status string) {
	bid := rc.tree.Leaves()[i].Item.BID
	rc.emit(script.DTO{
		Type:           script.TypeOutlineItemUpdate,
		Content:        script.Raw(script.OutlineItemUpdateContent{OutlineItemBID: bid, Status: status}),
		OutlineItemBID: bid,
	})
}

func (rc *runContext) emitProfile(c types.Cursor, b *types.Block, it types.ProfileItem) {
	rc.emit(script.DTO{
		Type:           script.TypeProfileUpdate,
		Content:        script.Raw(script.ProfileUpdateContent{Key: it.Key, Value: it.Value}),
		OutlineItemBID: rc.tree.Leaf(c).Item.BID,
		BlockBID:       b.BID,
	})
}

// emit forwards to the client until it goes away; later DTOs are dropped while the
// pass finishes its current block.
func (rc *runContext) emit(dto script.DTO) {
	if rc.gone {
		return
	}
	if err := rc.emitter.Emit(rc.clientCtx, dto); err != nil {
		rc.gone = true
		if errors.Is(err, script.ErrClientGone) {
			rc.log.Info("client disconnected", "type", dto.Type)
		} else {
			rc.log.Warn("emit failed, treating client as gone", "type", dto.Type, "error", err)
		}
	}
}

func (rc *runContext) clientGone() bool {
	if rc.gone {
		return true
	}
	select {
	case <-rc.clientCtx.Done():
		rc.gone = true
		rc.log.Info("client context done, stopping at block boundary")
	default:
	}
	return rc.gone
}

func dtoFromRow(row *types.GeneratedBlock) script.DTO {
	d := script.DTO{
		Type:              script.DTOType(row.Type),
		OutlineItemBID:    row.OutlineItemBID,
		BlockBID:          row.BlockBID,
		GeneratedBlockBID: row.BID,
	}
	if len(row.Payload) > 0 {
		d.Content = json.RawMessage(row.Payload)
	} else {
		d.Content = script.Raw(row.Content)
	}
	return d
}
