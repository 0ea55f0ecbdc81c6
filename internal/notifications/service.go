package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rvcworker/internal/config"
	"rvcworker/internal/logging"
	"rvcworker/internal/retry"
)

const userAgent = "rvcworker/0.1.0"

// Event types understood by the calling service.
const (
	EventModelStatus = "update_model_info"
	EventResultSaved = "save_result"
)

// Model statuses reported through EventModelStatus.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Service defines the notification surface exposed to workflow components.
// Delivery is best effort; implementations never report failures to callers.
type Service interface {
	NotifyModelStatus(ctx context.Context, modelName, status string, epoch *int)
	NotifyResultSaved(ctx context.Context, fileID, resultURL string)
	// TestNotification sends a single probe and reports the outcome, for the CLI.
	TestNotification(ctx context.Context) error
}

// Event is the JSON body posted to the callback endpoint.
type Event struct {
	EventType string `json:"event_type"`
	ModelName string `json:"model_name,omitempty"`
	Status    string `json:"status,omitempty"`
	Epoch     *int   `json:"epoch,omitempty"`
	FileID    string `json:"file_id,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
	Secret    string `json:"secret,omitempty"`
}

// NewService builds a callback notifier when a callback URL is configured.
// When none is configured, a noop implementation is returned.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	endpoint := strings.TrimSpace(cfg.Callback.URL)
	if endpoint == "" {
		return noopService{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	timeout := cfg.CallbackTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &callbackService{
		endpoint: endpoint,
		secret:   cfg.Callback.Secret,
		client:   &http.Client{Timeout: timeout},
		policy: retry.Policy{
			Attempts: cfg.Callback.MaxAttempts,
			Initial:  time.Duration(cfg.Callback.InitialBackoffMs) * time.Millisecond,
			Max:      time.Duration(cfg.Callback.MaxBackoffMs) * time.Millisecond,
		},
		logger: logging.NewComponentLogger(logger, "callback"),
	}
}

type callbackService struct {
	endpoint string
	secret   string
	client   *http.Client
	policy   retry.Policy
	logger   *slog.Logger
}

func (c *callbackService) NotifyModelStatus(ctx context.Context, modelName, status string, epoch *int) {
	c.deliver(ctx, Event{
		EventType: EventModelStatus,
		ModelName: strings.TrimSpace(modelName),
		Status:    status,
		Epoch:     epoch,
	})
}

func (c *callbackService) NotifyResultSaved(ctx context.Context, fileID, resultURL string) {
	c.deliver(ctx, Event{
		EventType: EventResultSaved,
		FileID:    strings.TrimSpace(fileID),
		ResultURL: resultURL,
	})
}

func (c *callbackService) TestNotification(ctx context.Context) error {
	return c.send(ctx, Event{EventType: EventModelStatus, ModelName: "rvcworker-test", Status: "TEST"})
}

// deliver retries send under the configured policy and logs the final failure.
func (c *callbackService) deliver(ctx context.Context, event Event) {
	logger := logging.WithContext(ctx, c.logger)
	policy := c.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("callback attempt failed",
			logging.String(logging.FieldEventType, "callback_retry"),
			logging.String("callback_event", event.EventType),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		return c.send(ctx, event)
	})
	if err != nil {
		logging.WarnWithContext(logger, "callback delivery abandoned", "callback_failed",
			logging.String("callback_event", event.EventType),
			logging.Int("attempts", max(policy.Attempts, 1)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check callback.url and that the calling service is reachable"),
			logging.String(logging.FieldImpact, "calling service will not see this status update"),
		)
		return
	}
	logger.Debug("callback delivered", logging.String("callback_event", event.EventType))
}

func (c *callbackService) send(ctx context.Context, event Event) error {
	if c == nil || c.client == nil {
		return nil
	}
	event.Secret = c.secret
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyModelStatus(context.Context, string, string, *int) {}
func (noopService) NotifyResultSaved(context.Context, string, string)       {}
func (noopService) TestNotification(context.Context) error                  { return nil }
