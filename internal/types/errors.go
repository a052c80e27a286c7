package types

import (
	"errors"
	"fmt"
)

// ValidationError is a local, pre-submission failure. It is never sent to the
// exchange; the caller corrects the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

var ErrBelowMinNotional = errors.New("order notional below symbol minimum")

// ExchangeRejection means the submission reached the exchange and was refused.
// Transient rejections (rate limit, timeout) may be retried; fatal ones
// (insufficient balance, bad precision) may not.
type ExchangeRejection struct {
	Code      string
	Message   string
	Transient bool
}

func (e *ExchangeRejection) Error() string {
	return fmt.Sprintf("exchange rejected order (%s): %s", e.Code, e.Message)
}

// Rejection codes surfaced by the gateway contract.
const (
	RejectInsufficientBalance = "INSUFFICIENT_BALANCE"
	RejectBelowMinNotional    = "BELOW_MIN_NOTIONAL"
	RejectInvalidPrecision    = "INVALID_PRECISION"
	RejectRateLimit           = "RATE_LIMIT"
	RejectOrderNotFound       = "ORDER_NOT_FOUND"
)

// IsTransient reports whether err is an exchange rejection worth retrying.
func IsTransient(err error) bool {
	var rej *ExchangeRejection
	if errors.As(err, &rej) {
		return rej.Transient
	}
	return false
}

// ReconciliationGap signals that the exchange view of an order diverged from
// the ledger. Resolved by a snapshot re-query; not surfaced to the user as an
// error.
type ReconciliationGap struct {
	Token      string
	ExchangeID int64
	Detail     string
}

func (e *ReconciliationGap) Error() string {
	return fmt.Sprintf("reconciliation gap for order %d (%s): %s", e.ExchangeID, e.Token, e.Detail)
}

// ResidualExposureError means a stop or cancel could not be confirmed within
// the retry bound. Always surfaced on the instance status, never dropped.
type ResidualExposureError struct {
	InstanceID string
	Tokens     []string
}

func (e *ResidualExposureError) Error() string {
	return fmt.Sprintf("instance %s stopped with %d unconfirmed cancels", e.InstanceID, len(e.Tokens))
}
