package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/pkg/encoding"
	"github.com/kevin07696/escrow-scheduler/pkg/httpclient"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
	"github.com/kevin07696/escrow-scheduler/pkg/resilience"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// HTTPGatewayConfig contains configuration for the settlement HTTP gateway
type HTTPGatewayConfig struct {
	// Base URL of the settlement service; transfers are POSTed to BaseURL + "/transfers"
	BaseURL string

	// Bearer token sent with every request, usually loaded from the secret manager
	APIKey string

	// Timeout for the whole transfer including retries
	Timeout time.Duration

	// Timeout for a single attempt
	AttemptTimeout time.Duration

	MaxRetries int

	// Consecutive failed transfers before the breaker opens
	FailureThreshold uint32

	// How long the breaker stays open before letting a probe through
	OpenTimeout time.Duration

	InsecureSkipVerify bool

	// Pause between retries; nil means resilience.DefaultExponentialBackoff
	Backoff resilience.BackoffStrategy
}

// DefaultHTTPGatewayConfig returns default configuration for the HTTP gateway
func DefaultHTTPGatewayConfig(baseURL string) *HTTPGatewayConfig {
	return &HTTPGatewayConfig{
		BaseURL:          baseURL,
		Timeout:          20 * time.Second,
		AttemptTimeout:   5 * time.Second,
		MaxRetries:       2,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// ErrRejected is returned when the settlement service refuses a transfer outright.
var ErrRejected = errors.New("transfer rejected by settlement service")

// retryableError marks a failure worth another attempt
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type transferBody struct {
	Destination    string `json:"destination"`
	Kind           string `json:"kind"`
	Reference      string `json:"reference"`
	Amount         int64  `json:"amount"`
	SubscriptionID uint64 `json:"subscription_id,omitempty"`
}

// HTTPGateway implements ports.TransferGateway against a settlement REST endpoint.
// Each request carries the transfer reference as its idempotency key, so retries
// after an ambiguous failure cannot pay twice.
type HTTPGateway struct {
	config     *HTTPGatewayConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[any]
	backoff    resilience.BackoffStrategy
	logger     *zap.Logger
}

var _ ports.TransferGateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a new settlement HTTP gateway
func NewHTTPGateway(config *HTTPGatewayConfig, logger *zap.Logger) *HTTPGateway {
	clientCfg := httpclient.SettlementConfig()
	clientCfg.InsecureSkipVerify = config.InsecureSkipVerify

	backoff := config.Backoff
	if backoff == nil {
		backoff = resilience.DefaultExponentialBackoff()
	}

	g := &HTTPGateway{
		config:     config,
		httpClient: httpclient.New(clientCfg, config.AttemptTimeout),
		backoff:    backoff,
		logger:     logger,
	}

	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "settlement",
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		// A rejection proves the service is up; only transport trouble trips the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observability.RecordCircuitBreakerState(name, int(to))
		},
	})

	return g
}

// Transfer sends req to the settlement service, retrying transient failures.
func (g *HTTPGateway) Transfer(ctx context.Context, req ports.TransferRequest) error {
	body, err := encoding.EncodeJSON(transferBody{
		Destination:    req.Destination.String(),
		Kind:           string(req.Kind),
		Reference:      req.Reference,
		Amount:         req.Amount,
		SubscriptionID: uint64(req.SubscriptionID),
	})
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	_, err = g.breaker.Execute(func() (any, error) {
		var lastErr error
		for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
			if attempt > 0 {
				g.logger.Info("Retrying transfer with exponential backoff",
					zap.String("reference", req.Reference),
					zap.Int("attempt", attempt),
				)
				if err := resilience.Wait(ctx, g.backoff, attempt-1); err != nil {
					return nil, fmt.Errorf("retry cancelled: %w (last error: %v)", err, lastErr)
				}
			}

			lastErr = g.send(ctx, req, body)
			if lastErr == nil {
				return nil, nil
			}

			var retryable *retryableError
			if !errors.As(lastErr, &retryable) {
				return nil, lastErr
			}
			g.logger.Warn("Retryable transfer error",
				zap.String("reference", req.Reference),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}
		return nil, fmt.Errorf("failed after %d retries: %w", g.config.MaxRetries, lastErr)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.Warn("Circuit breaker is open, rejecting transfer",
				zap.String("reference", req.Reference),
				zap.String("circuit_state", g.breaker.State().String()),
			)
		}
		return err
	}

	g.logger.Info("Transfer settled",
		zap.String("reference", req.Reference),
		zap.String("destination", req.Destination.String()),
		zap.String("kind", string(req.Kind)),
		zap.Int64("amount", req.Amount),
	)
	return nil
}

func (g *HTTPGateway) send(ctx context.Context, req ports.TransferRequest, body []byte) error {
	url := strings.TrimRight(g.config.BaseURL, "/") + "/transfers"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	if g.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("send transfer: %w", err)
		}
		return &retryableError{err: fmt.Errorf("send transfer: %w", err)}
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	g.logger.Debug("Received settlement response",
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// The reference was already settled by an earlier attempt.
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("settlement service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// State reports the breaker state, for health checks.
func (g *HTTPGateway) State() gobreaker.State {
	return g.breaker.State()
}
