package resilience

import (
	"context"
	"fmt"
	"time"
)

// TimeoutConfig holds the timeout hierarchy, outermost first:
//
//	HTTP handler / gRPC call
//	  transfer primitive, all attempts
//	    single transfer attempt
//
// A keeper or cron sweep pays many subscriptions and gets its own, longer budget.
type TimeoutConfig struct {
	HTTPHandler     time.Duration
	Sweep           time.Duration
	Transfer        time.Duration
	TransferAttempt time.Duration
	EventPublish    time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:     30 * time.Second,
		Sweep:           5 * time.Minute,
		Transfer:        20 * time.Second,
		TransferAttempt: 5 * time.Second,
		EventPublish:    5 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:     5 * time.Second,
		Sweep:           30 * time.Second,
		Transfer:        2 * time.Second,
		TransferAttempt: 500 * time.Millisecond,
		EventPublish:    time.Second,
	}
}

// Validate reports a hierarchy where an inner budget outlasts the one enclosing it.
// A request whose transfer can outlive the handler would be cut off mid-payment.
func (tc *TimeoutConfig) Validate() error {
	switch {
	case tc.TransferAttempt <= 0 || tc.Transfer <= 0 || tc.HTTPHandler <= 0 || tc.Sweep <= 0:
		return fmt.Errorf("timeouts must be positive")
	case tc.Transfer < tc.TransferAttempt:
		return fmt.Errorf("transfer timeout %v is shorter than one attempt (%v)", tc.Transfer, tc.TransferAttempt)
	case tc.HTTPHandler <= tc.Transfer+tc.EventPublish:
		return fmt.Errorf("handler timeout %v must exceed transfer plus publish (%v)", tc.HTTPHandler, tc.Transfer+tc.EventPublish)
	case tc.Sweep < tc.HTTPHandler:
		return fmt.Errorf("sweep timeout %v is shorter than the handler timeout %v", tc.Sweep, tc.HTTPHandler)
	}
	return nil
}

// HandlerContext bounds one HTTP request or gRPC call
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// SweepContext bounds one due-payment sweep
func (tc *TimeoutConfig) SweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Sweep)
}
