package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrRateLimited is a silent skip: the copytrader hit its per-pair hourly limit.
var ErrRateLimited = errors.New("rate limited")

// FieldError describes one invalid configuration field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ConfigValidationError is returned synchronously by FollowLeader and UpdateConfig.
type ConfigValidationError struct {
	Fields []FieldError
}

func (e *ConfigValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ConfigValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "invalid copy configuration: " + strings.Join(parts, "; ")
}

// NewConfigValidationError builds a single-field validation error.
func NewConfigValidationError(field, msg string) *ConfigValidationError {
	e := &ConfigValidationError{}
	e.add(field, msg)
	return e
}

// FilterRejected is a silent skip decided by the trade filter.
type FilterRejected struct {
	Reason string
}

func (e *FilterRejected) Error() string {
	return "filter rejected: " + e.Reason
}

// RegimeRejected is a silent skip caused by a red regime signal.
type RegimeRejected struct {
	Symbol string
	Signal RegimeColor
}

func (e *RegimeRejected) Error() string {
	return fmt.Sprintf("regime rejected: %s is %s", e.Symbol, e.Signal)
}

// SlippageExceeded is terminal for one request and is never retried.
type SlippageExceeded struct {
	ImpactBps decimal.Decimal
	MaxBps    int
}

func (e *SlippageExceeded) Error() string {
	return fmt.Sprintf("slippage exceeded: %s bps > %d bps", e.ImpactBps.StringFixed(2), e.MaxBps)
}

// TransientExecutionError marks a retryable failure (timeout, network).
type TransientExecutionError struct {
	Op  string
	Err error
}

func (e *TransientExecutionError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientExecutionError) Unwrap() error {
	return e.Err
}

// ExecutionError is a terminal execution failure (rejection, insufficient
// funds, or exhausted retries).
type ExecutionError struct {
	Reason   string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed after %d attempt(s): %s: %v", e.Attempts, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution failed after %d attempt(s): %s", e.Attempts, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// DataConsistencyWarning reports a ledger anomaly that was absorbed with
// best-effort accounting, such as a CLOSED event without a matching lot.
type DataConsistencyWarning struct {
	Address   string
	Pair      string
	Side      Side
	TxHash    string
	Unmatched decimal.Decimal
	Message   string
}

func (w *DataConsistencyWarning) Error() string {
	return fmt.Sprintf("data consistency: %s %s %s tx=%s unmatched=%s: %s",
		w.Address, w.Pair, w.Side, w.TxHash, w.Unmatched.String(), w.Message)
}

// IsSilentSkip reports whether err is a filter-stage skip that must not be
// surfaced to the follower.
func IsSilentSkip(err error) bool {
	var fr *FilterRejected
	var rr *RegimeRejected
	return errors.Is(err, ErrRateLimited) || errors.As(err, &fr) || errors.As(err, &rr)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientExecutionError
	return errors.As(err, &te)
}
