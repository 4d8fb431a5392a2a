package learn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/shifu-backend/internal/data/repos"
	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/blocks"
	"github.com/yungbote/shifu-backend/internal/modules/learn/messages"
	"github.com/yungbote/shifu-backend/internal/modules/learn/safety"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
	"github.com/yungbote/shifu-backend/internal/platform/openai"
	"github.com/yungbote/shifu-backend/internal/platform/redislock"
	"github.com/yungbote/shifu-backend/internal/platform/smscode"
	"github.com/yungbote/shifu-backend/internal/platform/twilio"
)

const (
	DefaultLockTTL    = 2 * time.Minute
	DefaultLockWait   = 3 * time.Second
	DefaultRunTimeout = 5 * time.Minute
)

type Input = blocks.Input

type RunRequest struct {
	UserBID  string
	ShifuBID string
	Preview  bool
	Input    *Input
}

type ServiceDeps struct {
	Log *logger.Logger

	Structs  *StructProvider
	Progress *ProgressStore
	Profiles repos.ProfileRepo
	Orders   repos.OrderRepo
	Users    repos.UserRepo

	Safety   *safety.Gate
	Registry *blocks.Registry
	Messages *messages.Catalog

	// LLM is optional; without it content blocks stream their static text.
	LLM    openai.Client
	Codes  smscode.Store
	SMS    twilio.Sender
	Locker redislock.Locker

	Metrics *observability.Metrics

	LockTTL    time.Duration
	LockWait   time.Duration
	RunTimeout time.Duration
}

// Service executes lesson scripts: one Run is one pass from the learner's cursor to
// the next suspension point or the end of the course.
type Service struct {
	deps   ServiceDeps
	log    *logger.Logger
	tracer trace.Tracer
}

func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Log == nil:
		return nil, errors.New("learn service: missing logger")
	case deps.Structs == nil, deps.Progress == nil, deps.Profiles == nil, deps.Orders == nil, deps.Users == nil:
		return nil, errors.New("learn service: missing repositories")
	case deps.Safety == nil:
		return nil, errors.New("learn service: missing safety gate")
	case deps.Codes == nil:
		return nil, errors.New("learn service: missing verification code store")
	case deps.Locker == nil:
		return nil, errors.New("learn service: missing run locker")
	}
	if deps.Registry == nil {
		deps.Registry = blocks.Default()
	}
	if deps.Messages == nil {
		cat, err := messages.Load()
		if err != nil {
			return nil, err
		}
		deps.Messages = cat
	}
	if deps.SMS == nil {
		deps.SMS = twilio.NewLogSender(deps.Log)
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = DefaultLockTTL
	}
	if deps.LockWait <= 0 {
		deps.LockWait = DefaultLockWait
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = DefaultRunTimeout
	}
	return &Service{
		deps:   deps,
		log:    deps.Log.With("service", "LearnService"),
		tracer: otel.Tracer("shifu/learn"),
	}, nil
}

func lockKey(userBID, shifuBID string) string {
	return "shifu:run:" + userBID + ":" + shifuBID
}

func validateIDs(op, userBID, shifuBID string) error {
	if strings.TrimSpace(userBID) == "" {
		return types.NewError(types.CodeValidation, op, "missing user", nil)
	}
	if strings.TrimSpace(shifuBID) == "" {
		return types.NewError(types.CodeValidation, op, "missing shifu_bid", nil)
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, userBID, shifuBID string, preview bool) (redislock.Lease, error) {
	lease, err := s.deps.Locker.Acquire(ctx, lockKey(userBID, shifuBID), s.deps.LockTTL, s.deps.LockWait)
	if errors.Is(err, redislock.ErrNotAcquired) {
		s.deps.Metrics.IncLockBusy(preview)
		return nil, types.NewError(types.CodeBusy, "learn.lock", "another run is in progress for this course", err)
	}
	if err != nil {
		return nil, types.Wrap(types.CodeUpstream, "learn.lock", err)
	}
	return lease, nil
}

func (s *Service) release(ctx context.Context, lease redislock.Lease) {
	if err := lease.Release(ctx); err != nil {
		s.log.Warn("run lock release failed", "error", err)
	}
}

// lock holds the run lock for as long as the caller needs it, renewing the lease
// every third of its TTL. The returned unlock stops renewal and releases.
func (s *Service) lock(ctx context.Context, userBID, shifuBID string, preview bool) (unlock func(), err error) {
	lease, err := s.acquire(ctx, userBID, shifuBID, preview)
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	exited := make(chan struct{})
	go s.keepAlive(ctx, lease, stop, exited)
	return func() {
		close(stop)
		<-exited
		s.release(context.WithoutCancel(ctx), lease)
	}, nil
}

func (s *Service) keepAlive(ctx context.Context, lease redislock.Lease, stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	interval := s.deps.LockTTL / 3
	if interval <= 0 {
		interval = s.deps.LockTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lease.Extend(ctx, s.deps.LockTTL)
			if errors.Is(err, redislock.ErrLeaseLost) {
				s.log.Warn("run lock lease lost", "error", err)
				return
			}
			if err != nil {
				s.log.Warn("run lock renewal failed", "error", err)
			}
		}
	}
}

// Run executes one pass and streams its DTOs to emit. The pass runs on a context
// detached from ctx so persistence and an in-flight LLM call finish after the
// client leaves; emission stops at that point.
func (s *Service) Run(ctx context.Context, req RunRequest, emit script.Emitter) (err error) {
	const op = "learn.Run"
	if err := validateIDs(op, req.UserBID, req.ShifuBID); err != nil {
		return err
	}
	if req.Input != nil && !req.Input.Kind.Valid() {
		return types.NewError(types.CodeValidation, op, fmt.Sprintf("unknown input kind %q", req.Input.Kind), nil)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.RunTimeout)
	defer cancel()
	runCtx, span := s.tracer.Start(runCtx, "learn.run_script", trace.WithAttributes(
		attribute.String("learn.shifu_bid", req.ShifuBID),
		attribute.Bool("learn.preview", req.Preview),
		attribute.Bool("learn.has_input", req.Input != nil),
	))
	defer span.End()

	outcome := "error"
	started := time.Now()
	defer func() {
		s.deps.Metrics.IncRun(outcome)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("learn.outcome", outcome))
		s.log.Debug("run finished",
			"user_bid", req.UserBID,
			"shifu_bid", req.ShifuBID,
			"preview", req.Preview,
			"outcome", outcome,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}()

	unlock, err := s.lock(runCtx, req.UserBID, req.ShifuBID, req.Preview)
	if err != nil {
		if types.IsCode(err, types.CodeBusy) {
			outcome = "busy"
		}
		return err
	}
	defer unlock()

	rc, err := s.newRunContext(runCtx, ctx, req, emit)
	if err != nil {
		return err
	}
	outcome, err = rc.run()
	if err != nil {
		outcome = "error"
		if types.IsConfigError(err) {
			rc.log.Error("course configuration error", "error", err)
		} else {
			rc.log.Warn("run failed", "error", err)
		}
	}
	return err
}

// Reset marks the learner's active progress reset; the next run starts over.
func (s *Service) Reset(ctx context.Context, userBID, shifuBID string, preview bool) error {
	const op = "learn.Reset"
	if err := validateIDs(op, userBID, shifuBID); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, userBID, shifuBID, preview)
	if err != nil {
		return err
	}
	defer unlock()

	reset, err := s.deps.Progress.Reset(dbctx.New(ctx), userBID, shifuBID, preview)
	if err != nil {
		return types.Wrap(types.CodeInternal, op, err)
	}
	s.log.Info("progress reset", "user_bid", userBID, "shifu_bid", shifuBID, "preview", preview, "reset", reset)
	return nil
}
