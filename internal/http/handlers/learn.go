package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/shifu-backend/internal/http/response"
	"github.com/yungbote/shifu-backend/internal/modules/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/platform/apierr"
	"github.com/yungbote/shifu-backend/internal/platform/ctxutil"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

// LearnService is the slice of the learn module the HTTP layer drives.
type LearnService interface {
	Run(ctx context.Context, req learn.RunRequest, emit script.Emitter) error
	Records(ctx context.Context, userBID, shifuBID string, preview bool) (*learn.RecordsView, error)
	Reset(ctx context.Context, userBID, shifuBID string, preview bool) error
}

type LearnHandler struct {
	log   *logger.Logger
	learn LearnService
}

func NewLearnHandler(log *logger.Logger, svc LearnService) *LearnHandler {
	return &LearnHandler{log: log.With("handler", "LearnHandler"), learn: svc}
}

type runReq struct {
	Preview bool         `json:"preview"`
	Input   *learn.Input `json:"input"`
}

// POST /api/learn/shifu/:shifu_bid/run
func (h *LearnHandler) Run(c *gin.Context) {
	userBID, ok := requireUser(c)
	if !ok {
		return
	}
	var req runReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !req.Preview {
		req.Preview = queryBool(c, "preview")
	}

	stream := newSSEStream(c)
	err := h.learn.Run(c.Request.Context(), learn.RunRequest{
		UserBID:  userBID,
		ShifuBID: c.Param("shifu_bid"),
		Preview:  req.Preview,
		Input:    req.Input,
	}, stream)
	if err == nil {
		stream.open()
		return
	}
	if !stream.started() {
		response.RespondAppError(c, err)
		return
	}
	// The stream is already committed to 200; report in-band.
	_, code, msg := response.Describe(err)
	_ = c.Error(err)
	h.log.Warn("run failed after streaming began", "request_id", ctxutil.RequestID(c.Request.Context()), "code", code)
	if emitErr := stream.Emit(c.Request.Context(), script.DTO{
		Type:    script.TypeError,
		Content: script.Raw(script.ErrorContent{Code: code, Message: msg}),
	}); emitErr != nil {
		h.log.Debug("error frame not delivered", "error", emitErr)
	}
}

// GET /api/learn/shifu/:shifu_bid/records?preview=true
func (h *LearnHandler) Records(c *gin.Context) {
	userBID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.learn.Records(c.Request.Context(), userBID, c.Param("shifu_bid"), queryBool(c, "preview"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}

// POST /api/learn/shifu/:shifu_bid/reset?preview=true
func (h *LearnHandler) Reset(c *gin.Context) {
	userBID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.learn.Reset(c.Request.Context(), userBID, c.Param("shifu_bid"), queryBool(c, "preview")); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func requireUser(c *gin.Context) (string, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || strings.TrimSpace(rd.UserBID) == "" {
		response.RespondAppError(c, apierr.Unauthorized(errors.New("not authenticated")))
		return "", false
	}
	return rd.UserBID, true
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(c.Query(key)))
	return err == nil && v
}

// sseStream frames DTOs as server-sent events on the response. Headers go out
// with the first event so errors raised before any output can still be JSON.
type sseStream struct {
	mu      sync.Mutex
	c       *gin.Context
	reqCtx  context.Context
	flusher http.Flusher
	opened  bool
	gone    bool
}

func newSSEStream(c *gin.Context) *sseStream {
	s := &sseStream{c: c, reqCtx: c.Request.Context()}
	s.flusher, _ = c.Writer.(http.Flusher)
	return s
}

func (s *sseStream) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *sseStream) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked()
}

func (s *sseStream) openLocked() {
	if s.opened {
		return
	}
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.opened = true
	s.flush()
}

func (s *sseStream) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *sseStream) Emit(_ context.Context, dto script.DTO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone || s.reqCtx.Err() != nil {
		s.gone = true
		return script.ErrClientGone
	}
	b, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", dto.Type, err)
	}
	s.openLocked()
	if _, err := fmt.Fprintf(s.c.Writer, "event: message\ndata: %s\n\n", b); err != nil {
		s.gone = true
		return script.ErrClientGone
	}
	s.flush()
	return nil
}
