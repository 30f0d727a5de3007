package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const defaultTimeoutSeconds = 30

var (
	// ErrIntegrationServerError is returned when the remote side answers with a 5xx status.
	ErrIntegrationServerError = errors.New("server error during integration call")
	// ErrIntegrationTargetInvalid is returned when the request has no target url.
	ErrIntegrationTargetInvalid = errors.New("invalid integration target")
)

// RetryConfig defines retry behavior for outbound calls.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// HTTPIntegrator performs WEBHOOK and API_CALL requests over HTTP behind a circuit breaker.
type HTTPIntegrator struct {
	client  *http.Client
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPIntegrator creates an integrator that trips after five consecutive failures
// and probes again after timeout.
func NewHTTPIntegrator(logger *slog.Logger, retry RetryConfig, timeout time.Duration) *HTTPIntegrator {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}

	logger = logger.With("module", "http_integrator")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "http_integrator",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &HTTPIntegrator{
		client:  &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		retry:   retry,
		breaker: breaker,
		logger:  logger,
	}
}

func (i *HTTPIntegrator) Call(ctx context.Context, request IntegrationRequest) (IntegrationResponse, error) {
	if request.Target == "" {
		return IntegrationResponse{}, ErrIntegrationTargetInvalid
	}

	result, err := i.breaker.Execute(func() (any, error) {
		return i.callWithRetry(ctx, request)
	})
	if err != nil {
		return IntegrationResponse{}, err
	}

	response, _ := result.(IntegrationResponse)

	return response, nil
}

func (i *HTTPIntegrator) callWithRetry(ctx context.Context, request IntegrationRequest) (IntegrationResponse, error) {
	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= i.retry.Attempts; attempt++ {
		if attempt > 1 {
			i.logger.InfoContext(ctx, "retrying integration call",
				"attempt", attempt, "attempts", i.retry.Attempts, "target", request.Target)

			select {
			case <-ctx.Done():
				return IntegrationResponse{}, ctx.Err()
			case <-time.After(i.retry.Delay):
			}
		}

		req, err := i.buildRequest(ctx, request)
		if err != nil {
			return IntegrationResponse{}, err
		}

		resp, err = i.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)
			resp = nil

			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %w", resp.StatusCode, ErrIntegrationServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return IntegrationResponse{}, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	return i.processResponse(ctx, resp)
}

func (i *HTTPIntegrator) buildRequest(ctx context.Context, request IntegrationRequest) (*http.Request, error) {
	method := strings.ToUpper(request.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader = http.NoBody

	if method != http.MethodGet && request.Payload != nil {
		payload, err := json.Marshal(request.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, request.Target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Procflow-Instance", request.InstanceID)

	return req, nil
}

func (i *HTTPIntegrator) processResponse(ctx context.Context, resp *http.Response) (IntegrationResponse, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return IntegrationResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	body := map[string]any{}

	if len(bytes.TrimSpace(bodyBytes)) > 0 {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = map[string]any{"raw": string(bodyBytes)}

			i.logger.WarnContext(ctx, "failed to parse response as JSON object, keeping raw body", "error", err)
		}
	}

	i.logger.InfoContext(ctx, "integration call completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return IntegrationResponse{StatusCode: resp.StatusCode, Body: body}, nil
}
