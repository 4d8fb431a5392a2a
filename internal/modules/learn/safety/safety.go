package safety

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/yungbote/shifu-backend/internal/data/repos"
	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
	"github.com/yungbote/shifu-backend/internal/platform/openai"
)

const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"

	DefaultTimeout = 5 * time.Second
)

type CheckRequest struct {
	ContentBID string
	Text       string
	UserBID    string
}

type Result struct {
	CheckResult types.CheckResult
	RiskLabels  []string
	Provider    string
	RawData     map[string]any
}

// Passed reports whether the text may proceed. review does not pass.
func (r Result) Passed() bool { return r.CheckResult == types.CheckPass }

type Provider interface {
	Name() string
	Check(ctx context.Context, req CheckRequest) (Result, error)
}

// NewProvider selects a provider by name. openai requires a moderator.
func NewProvider(name string, mod openai.Moderator) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderNone:
		return NoneProvider{}, nil
	case ProviderOpenAI:
		if mod == nil {
			return nil, fmt.Errorf("safety provider %q requires an LLM client", ProviderOpenAI)
		}
		return &OpenAIProvider{mod: mod}, nil
	default:
		return nil, fmt.Errorf("unknown safety provider %q", name)
	}
}

// NoneProvider passes everything.
type NoneProvider struct{}

func (NoneProvider) Name() string { return ProviderNone }

func (NoneProvider) Check(context.Context, CheckRequest) (Result, error) {
	return Result{CheckResult: types.CheckPass, Provider: ProviderNone}, nil
}

// OpenAIProvider rejects text the moderation endpoint flags.
type OpenAIProvider struct {
	mod openai.Moderator
}

func NewOpenAIProvider(mod openai.Moderator) *OpenAIProvider { return &OpenAIProvider{mod: mod} }

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) Check(ctx context.Context, req CheckRequest) (Result, error) {
	res, err := p.mod.Moderate(ctx, req.Text)
	if err != nil {
		return Result{}, err
	}
	out := Result{CheckResult: types.CheckPass, Provider: ProviderOpenAI, RiskLabels: res.Categories}
	if len(res.Raw) > 0 {
		var raw map[string]any
		if json.Unmarshal(res.Raw, &raw) == nil {
			out.RawData = raw
		}
	}
	if res.Flagged {
		out.CheckResult = types.CheckReject
	}
	return out, nil
}

// Gate runs a provider under its own deadline and writes one audit row per check.
type Gate struct {
	log      *logger.Logger
	provider Provider
	audit    repos.RiskRepo
	timeout  time.Duration
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

func NewGate(log *logger.Logger, provider Provider, audit repos.RiskRepo, timeout time.Duration, metrics *observability.Metrics) *Gate {
	if provider == nil {
		provider = NoneProvider{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		log:      log.With("service", "SafetyGate"),
		provider: provider,
		audit:    audit,
		timeout:  timeout,
		metrics:  metrics,
		tracer:   otel.Tracer("shifu/learn"),
	}
}

// Check classifies req.Text. Provider failures and timeouts yield review. The
// returned error only reports a failed audit write.
func (g *Gate) Check(ctx context.Context, req CheckRequest) (Result, error) {
	if req.ContentBID == "" {
		req.ContentBID = uuid.New().String()
	}
	ctx, span := g.tracer.Start(ctx, "learn.safety_check", trace.WithAttributes(
		attribute.String("safety.provider", g.provider.Name()),
		attribute.String("safety.content_bid", req.ContentBID),
	))
	defer span.End()

	checkCtx, cancel := context.WithTimeout(ctx, g.timeout)
	res, err := g.provider.Check(checkCtx, req)
	cancel()
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		g.log.Warn("safety check failed, holding for review",
			"provider", g.provider.Name(),
			"content_bid", req.ContentBID,
			"error", err,
		)
		span.SetStatus(codes.Error, reason)
		res = Result{
			CheckResult: types.CheckReview,
			Provider:    g.provider.Name(),
			RawData:     map[string]any{"error": reason},
		}
	}
	if res.CheckResult == "" {
		res.CheckResult = types.CheckReview
	}
	if res.Provider == "" {
		res.Provider = g.provider.Name()
	}
	span.SetAttributes(attribute.String("safety.result", string(res.CheckResult)))
	g.metrics.IncSafety(res.Provider, string(res.CheckResult))

	if g.audit != nil {
		row := &types.RiskControlResult{
			ContentBID:  req.ContentBID,
			UserBID:     req.UserBID,
			Text:        req.Text,
			CheckResult: res.CheckResult,
			RiskLabels:  jsonOf(res.RiskLabels),
			Provider:    res.Provider,
			RawData:     jsonOf(res.RawData),
		}
		// The audit row survives a disconnected caller.
		auditCtx := context.WithoutCancel(ctx)
		if err := g.audit.RecordCheck(dbctx.Context{Ctx: auditCtx}, row); err != nil {
			span.RecordError(err)
			return res, types.Wrap(types.CodeInternal, "safety.Check", err)
		}
	}
	return res, nil
}

func jsonOf(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	return datatypes.JSON(b)
}
