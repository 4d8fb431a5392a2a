package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/shifu-backend/internal/platform/envutil"
	"github.com/yungbote/shifu-backend/internal/platform/httpx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

// Request is one streamed completion. Empty Model and nil Temperature fall back to
// the client defaults.
type Request struct {
	UserBID     string
	System      string
	Prompt      string
	Model       string
	Temperature *float64
}

type Chunk struct {
	Result string
}

// Stream yields chunks until Recv returns io.EOF. Close must always be called.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	Timeout         time.Duration
	MaxRetries      int
	ModerationModel string
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:          envutil.String("OPENAI_API_KEY", ""),
		BaseURL:         envutil.String("OPENAI_BASE_URL", ""),
		Model:           envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:     envutil.Float("OPENAI_TEMPERATURE", 0.3),
		Timeout:         envutil.Seconds("LLM_TIMEOUT_SECONDS", 120*time.Second),
		MaxRetries:      envutil.Int("LLM_MAX_RETRIES", 2),
		ModerationModel: envutil.String("OPENAI_MODERATION_MODEL", ""),
	}
}

// OpenAIClient streams chat completions and runs moderation through go-openai.
type OpenAIClient struct {
	log    *logger.Logger
	api    *openai.Client
	cfg    Config
	tracer trace.Tracer
}

// NewClient builds an OpenAI-compatible client. BaseURL may point at any
// compatible gateway.
func NewClient(cfg Config, log *logger.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &OpenAIClient{
		log:    log.With("client", "OpenAIClient"),
		api:    openai.NewClientWithConfig(oc),
		cfg:    cfg,
		tracer: otel.Tracer("shifu/llm"),
	}, nil
}

// Stream opens a chat completion stream. Only opening is retried; once chunks flow a
// failure is returned to the caller. The per-call timeout covers the whole stream.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	temp := c.cfg.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(temp),
		Stream:      true,
		User:        req.UserBID,
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	callCtx, span := c.tracer.Start(callCtx, "llm.stream", trace.WithAttributes(attribute.String("llm.model", model)))

	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		s, err := c.api.CreateChatCompletionStream(callCtx, chatReq)
		if err == nil {
			return &chatStream{stream: s, cancel: cancel, span: span}, nil
		}
		err = mapError(err)
		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			cancel()
			return nil, err
		}
		sleepFor := httpx.JitterSleep(backoff)
		c.log.Warn("OpenAI stream retrying",
			"model", model,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if serr := httpx.Sleep(callCtx, sleepFor); serr != nil {
			span.End()
			cancel()
			return nil, serr
		}
		backoff *= 2
	}
}

type chatStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
	span   trace.Span
	chunks int
}

func (s *chatStream) Recv() (Chunk, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		if err != nil {
			err = mapError(err)
			s.span.RecordError(err)
			return Chunk{}, err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		s.chunks++
		return Chunk{Result: resp.Choices[0].Delta.Content}, nil
	}
}

func (s *chatStream) Close() error {
	err := s.stream.Close()
	s.span.SetAttributes(attribute.Int("llm.chunks", s.chunks))
	s.span.End()
	s.cancel()
	return err
}

// StatusError carries the upstream HTTP status so retry policy can inspect it.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string       { return fmt.Sprintf("openai status %d: %v", e.Code, e.Err) }
func (e *StatusError) Unwrap() error       { return e.Err }
func (e *StatusError) HTTPStatusCode() int { return e.Code }

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{Code: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{Code: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
