package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/shifu-backend/internal/platform/ctxutil"
	"github.com/yungbote/shifu-backend/internal/platform/envutil"
	"github.com/yungbote/shifu-backend/internal/platform/httpx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

// Sender delivers a plain-text SMS.
type Sender interface {
	SendSMS(ctx context.Context, to string, body string) error
}

type Config struct {
	AccountSID          string
	AuthToken           string
	BaseURL             string
	From                string
	MessagingServiceSID string
	Timeout             time.Duration
	MaxRetries          int
}

func ConfigFromEnv() Config {
	return Config{
		AccountSID:          envutil.String("TWILIO_ACCOUNT_SID", ""),
		AuthToken:           envutil.String("TWILIO_AUTH_TOKEN", ""),
		BaseURL:             envutil.String("TWILIO_BASE_URL", ""),
		From:                envutil.String("TWILIO_FROM_NUMBER", ""),
		MessagingServiceSID: envutil.String("TWILIO_MESSAGING_SERVICE_SID", ""),
		Timeout:             envutil.Seconds("TWILIO_TIMEOUT_SECONDS", 15*time.Second),
		MaxRetries:          envutil.Int("TWILIO_MAX_RETRIES", 2),
	}
}

// Configured reports whether cfg carries enough to talk to Twilio.
func (c Config) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && (c.From != "" || c.MessagingServiceSID != "")
}

type Client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("twilio: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and a sender are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		log:        log.With("client", "TwilioClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) SendSMS(ctx context.Context, to string, body string) error {
	to = strings.TrimSpace(to)
	body = strings.TrimSpace(body)
	if to == "" || body == "" {
		return fmt.Errorf("twilio: To and Body required")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)
	if c.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", c.cfg.MessagingServiceSID)
	} else {
		form.Set("From", c.cfg.From)
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.cfg.BaseURL, c.cfg.AccountSID)

	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		resp, err := c.postOnce(ctx, endpoint, form)
		if err == nil {
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Twilio request retrying",
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string       { return fmt.Sprintf("twilio http %d: %s", e.StatusCode, e.Message) }
func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

func (c *Client) postOnce(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
			msg = fmt.Sprintf("%s (code=%d)", ae.Message, ae.Code)
		}
		return resp, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// LogSender writes messages to the log instead of delivering them. Used when Twilio
// is not configured.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.With("client", "LogSMSSender")}
}

func (s *LogSender) SendSMS(ctx context.Context, to string, body string) error {
	s.log.Info("sms not delivered (twilio disabled)", "phone", to, "body_len", len(body))
	return nil
}
