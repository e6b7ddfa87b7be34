package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/config"
	"github.com/spanearme/voicebridge/internal/observability"
	"github.com/spanearme/voicebridge/internal/resilience"
)

// HTTPClient implements Service against a JSON record-creation API
// (Salesforce/HubSpot-style lead endpoint behind a gateway).
type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

type createRequest struct {
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
}

// NewHTTPClient creates a client for the configured record-creation service.
func NewHTTPClient(cfg *config.Config, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		url:    cfg.CRMAPIURL,
		apiKey: cfg.CRMAPIKey,
		httpClient: &http.Client{
			Timeout: cfg.CRMTimeoutDuration(),
		},
		breaker: resilience.NewCircuitBreaker(
			"crm",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		// MaxAttempts 1 means single-shot; retrying failed record creation
		// is a deployment policy choice, not a default.
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.CRMRetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.CRMRetryBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: logger.With().Str("component", "crm").Logger(),
	}
}

// CreateRecord posts the lead to the record-creation service.
func (c *HTTPClient) CreateRecord(ctx context.Context, fullName, phoneNumber, email string) (CreateResult, error) {
	var result CreateResult

	err := resilience.Retry(func() error {
		return c.breaker.Call(func() error {
			res, err := c.createOnce(ctx, fullName, phoneNumber, email)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	}, c.retry, func(err error) bool {
		// A canceled context will not recover on retry.
		return ctx.Err() == nil
	})

	if err != nil {
		observability.RecordCRMRequest("failure")
		return CreateResult{}, fmt.Errorf("%w: %v", ErrRecordService, err)
	}

	observability.RecordCRMRequest("success")
	c.logger.Info().Str("record_id", result.RecordID).Msg("lead record created")
	return result, nil
}

func (c *HTTPClient) createOnce(ctx context.Context, fullName, phoneNumber, email string) (CreateResult, error) {
	body, err := json.Marshal(createRequest{
		FullName:    fullName,
		PhoneNumber: phoneNumber,
		Email:       email,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return CreateResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CreateResult{}, fmt.Errorf("record service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return CreateResult{}, fmt.Errorf("record service returned status %d", resp.StatusCode)
	}

	var result CreateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CreateResult{}, fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return CreateResult{}, fmt.Errorf("record service reported failure")
	}
	return result, nil
}

// LoggingClient implements Service without an external dependency: records
// are acknowledged locally with a generated id. Used when no CRM endpoint is
// configured (development and demos).
type LoggingClient struct {
	logger zerolog.Logger
}

// NewLoggingClient creates the log-only client.
func NewLoggingClient(logger zerolog.Logger) *LoggingClient {
	return &LoggingClient{logger: logger.With().Str("component", "crm").Logger()}
}

// CreateRecord acknowledges the lead locally.
func (c *LoggingClient) CreateRecord(ctx context.Context, fullName, phoneNumber, email string) (CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrRecordService, err)
	}
	id := "lead_" + uuid.New().String()
	c.logger.Info().
		Str("record_id", id).
		Str("full_name", fullName).
		Str("phone_number", phoneNumber).
		Str("email", email).
		Msg("lead record created (log-only client)")
	observability.RecordCRMRequest("success")
	return CreateResult{Success: true, RecordID: id}, nil
}

// NewClient selects the HTTP client when a CRM endpoint is configured and
// the log-only client otherwise.
func NewClient(cfg *config.Config, logger zerolog.Logger) Service {
	if cfg.CRMAPIURL == "" {
		return NewLoggingClient(logger)
	}
	return NewHTTPClient(cfg, logger)
}
