// Package payments adapts external payment gateways behind a narrow
// provider contract used by checkout.
package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment intent states shared across providers.
type Status string

const (
	// StatusPending indicates the intent is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

var (
	// ErrGatewayUnavailable signals a transient gateway failure (network error or 5xx).
	// Callers may retry the operation.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayRejected signals the gateway permanently rejected the request (4xx).
	// Retrying with the same payload will not succeed.
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
)

// IntentRequest captures the payload required to register a pending payment with the gateway.
type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent represents the gateway-side order created for an online payment.
type Intent struct {
	GatewayOrderID string
	ClientSecret   string
	Amount         int64
	Currency       string
	Status         Status
	CreatedAt      time.Time
}

// RefundRequest defines a gateway refund attempt.
type RefundRequest struct {
	GatewayPaymentID string
	Amount           *int64
	Reason           string
	IdempotencyKey   string
	Metadata         map[string]string
}

// RefundResult normalises gateway refund fields for storage.
type RefundResult struct {
	RefundID   string
	Status     Status
	Amount     int64
	RefundedAt time.Time
}

// Gateway defines the contract gateway adapters implement.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

const (
	defaultRetryAttempts = 2
	defaultRetryBackoff  = 200 * time.Millisecond
)

// RetryingGateway wraps a Gateway and retries intent creation on transient failures.
// Permanent rejections are returned immediately.
type RetryingGateway struct {
	inner    Gateway
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// RetryOption customises RetryingGateway behaviour.
type RetryOption func(*RetryingGateway)

// WithRetryAttempts overrides the number of retries after the initial attempt.
func WithRetryAttempts(attempts int) RetryOption {
	return func(g *RetryingGateway) {
		if attempts >= 0 {
			g.attempts = attempts
		}
	}
}

// WithRetryBackoff overrides the base delay between attempts.
func WithRetryBackoff(d time.Duration) RetryOption {
	return func(g *RetryingGateway) {
		if d > 0 {
			g.backoff = d
		}
	}
}

// NewRetryingGateway wraps the supplied gateway with transient-failure retries.
func NewRetryingGateway(inner Gateway, opts ...RetryOption) (*RetryingGateway, error) {
	if inner == nil {
		return nil, errors.New("payments: inner gateway is required")
	}
	g := &RetryingGateway{
		inner:    inner,
		attempts: defaultRetryAttempts,
		backoff:  defaultRetryBackoff,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// CreateIntent forwards to the inner gateway, retrying on ErrGatewayUnavailable.
// The idempotency key on the request keeps retries from creating duplicate intents.
func (g *RetryingGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	var lastErr error
	for attempt := 0; attempt <= g.attempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff*time.Duration(attempt)); err != nil {
				return Intent{}, err
			}
		}

		intent, err := g.inner.CreateIntent(ctx, req)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, ErrGatewayUnavailable) {
			return Intent{}, err
		}
		lastErr = err
	}
	return Intent{}, lastErr
}

// Refund forwards to the inner gateway without retries. Refund failures are
// surfaced to the caller, which decides whether to queue a manual followup.
func (g *RetryingGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	return g.inner.Refund(ctx, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
