// Package errs defines an error taxonomy. Wrapping a cause with one of
// these kinds lets callers branch on errors.Is without parsing error
// strings. The other packages of this module return errors wrapped with
// fmt.Errorf and do not attach these kinds.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure for routing/retry decisions.
type Kind error

var (
	// Transient indicates a retryable failure: network blip, timeout, 5xx.
	Transient Kind = errors.New("transient error")
	// Auth indicates a credential or signature rejection.
	Auth Kind = errors.New("auth error")
	// ProtocolDecode indicates a malformed or unexpected wire message.
	ProtocolDecode Kind = errors.New("protocol decode error")
	// Stale indicates data too old to act on (book staleness, expired opportunity).
	Stale Kind = errors.New("stale data")
	// InsufficientLiquidity indicates the book can't fill the requested size.
	InsufficientLiquidity Kind = errors.New("insufficient liquidity")
	// ProfitGate indicates an opportunity failed the net-profit threshold.
	ProfitGate Kind = errors.New("profit gate rejected")
	// RiskDenied indicates the RiskGuardian refused to authorize an action.
	RiskDenied Kind = errors.New("risk denied")
	// BreakerOpen indicates a venue's circuit breaker is open.
	BreakerOpen Kind = errors.New("circuit breaker open")
	// LeggingRisk indicates a partial fill left the position unhedged.
	LeggingRisk Kind = errors.New("legging risk")
	// Fatal indicates a non-retryable configuration or programming error.
	Fatal Kind = errors.New("fatal error")
)

// Wrap attaches kind to the formatted message for errors.Is matching.
func Wrap(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches kind to an existing error, preserving it in the chain.
func WrapErr(kind Kind, cause error) error {
	return &kindError{kind: kind, msg: fmt.Sprintf("%v: %v", kind, cause), cause: cause}
}

type kindError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *kindError) Error() string { return e.msg }

// Unwrap exposes the kind first so errors.Is(err, errs.Transient) works;
// errors.As on the original cause still works via the chain below.
func (e *kindError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}
