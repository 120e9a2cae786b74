// Package broker holds the brokerage adapters behind interfaces.Broker: a resilient decorator
// for live adapters and an in-process paper broker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

// BrokerError wraps a failed broker call. Retryable errors are transient: the trading cycle
// logs them and tries again on the next tick.
type BrokerError struct {
	Op        string
	StockCode string
	Err       error
	Retryable bool
}

func (e *BrokerError) Error() string {
	if e.StockCode != "" {
		return fmt.Sprintf("broker %s %s: %v", e.Op, e.StockCode, e.Err)
	}
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable reports whether err is worth retrying on a later cycle.
func IsRetryable(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return IsTimeout(err)
}

func wrapError(op, stockCode string, err error) error {
	if err == nil {
		return nil
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return err
	}
	retryable := IsTimeout(err) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
	return &BrokerError{Op: op, StockCode: stockCode, Err: err, Retryable: retryable}
}
