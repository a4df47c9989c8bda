package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RedChat/internal/config"
	"RedChat/internal/session"
)

var (
	// ErrRateLimited means the completion service asked us to back off
	ErrRateLimited = errors.New("completion service rate limited")

	// ErrUnavailable means the completion service could not be reached or
	// returned something unusable
	ErrUnavailable = errors.New("completion service unavailable")
)

// Gateway turns an ordered message list into generated text
type Gateway interface {
	Complete(ctx context.Context, messages []session.Message) (string, error)
}

// GatewayFunc adapts a function to Gateway
type GatewayFunc func(ctx context.Context, messages []session.Message) (string, error)

// Complete calls f
func (f GatewayFunc) Complete(ctx context.Context, messages []session.Message) (string, error) {
	return f(ctx, messages)
}

// New creates the gateway for cfg.Backend. A nil tracer or meter falls back
// to the global OpenTelemetry providers.
func New(cfg config.LLMConfig, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer("redchat")
	}
	if meter == nil {
		meter = otel.Meter("redchat")
	}

	c := &client{
		backend:    cfg.Backend,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("backend", cfg.Backend),
		tracer:     tracer,
		meter:      meter,
	}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	c.duration = duration

	switch cfg.Backend {
	case config.BackendGroq, config.BackendOpenAI, config.BackendGrok:
		return &OpenAIGateway{client: c}, nil
	case config.BackendAnthropic:
		return &AnthropicGateway{client: c}, nil
	case config.BackendOllama:
		return &OllamaGateway{client: c}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

// client is the HTTP plumbing shared by every gateway
type client struct {
	backend    string
	cfg        config.LLMConfig
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	duration   metric.Float64Histogram
}

// post sends body as JSON and returns the raw response body of a 200 reply.
// Non-200 replies are classified into ErrRateLimited, ErrUnavailable or a
// plain error; the upstream body is only logged.
func (c *client) post(ctx context.Context, url string, headers map[string]string, body any) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, c.backend+"_api_call",
		trace.WithAttributes(
			attribute.String("llm.backend", c.backend),
			attribute.String("llm.model", c.cfg.Model),
		),
	)
	defer span.End()

	respBody, err := c.do(ctx, url, headers, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return respBody, err
}

func (c *client) do(ctx context.Context, url string, headers map[string]string, body any) ([]byte, error) {
	start := time.Now()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}

	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(
			attribute.String("llm.backend", c.backend),
			attribute.Int("http.response.status_code", resp.StatusCode),
		),
	)

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("completion rate limited", "status", resp.Status)
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, resp.Status)
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Debug("completion upstream error", "status", resp.Status, "body", string(respBody))
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	default:
		c.logger.Debug("completion rejected", "status", resp.Status, "body", string(respBody))
		return nil, fmt.Errorf("API error: %s", resp.Status)
	}
}

// parseBody validates that body is JSON before any field lookup
func parseBody(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: malformed response", ErrUnavailable)
	}
	return gjson.ParseBytes(body), nil
}

// recordUsage records OpenTelemetry counters from the numeric fields of usage
func (c *client) recordUsage(ctx context.Context, usage gjson.Result) {
	if !usage.IsObject() {
		return
	}

	usage.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number {
			return true
		}
		counter, err := c.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key.String()),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key.String())),
		)
		if err != nil {
			c.logger.Warn("failed to create counter", "key", key.String(), "error", err)
			return true
		}
		counter.Add(ctx, value.Int(), metric.WithAttributes(attribute.String("llm.backend", c.backend)))
		return true
	})
}

func (c *client) requireAPIKey() error {
	if c.cfg.APIKey == "" {
		c.logger.Error("API key missing", "env", config.APIKeyEnv(c.backend))
		return fmt.Errorf("%w: API key missing", ErrUnavailable)
	}
	return nil
}
