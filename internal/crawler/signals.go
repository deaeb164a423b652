// File: internal/crawler/signals.go

// Package crawler implements the session orchestration core: a state machine
// that keeps a long-lived browser session authenticated, detects adversarial
// conditions (login walls, captchas, security blocks), paginates through
// search results while draining asynchronously captured network responses,
// and shapes its timing to look human.
package crawler

import (
	"errors"
	"fmt"
)

// Expected operating conditions are typed signals, not faults. Callers
// discriminate with errors.Is / errors.As; anything else coming out of the
// core is a genuine fault.
var (
	// ErrLoginRequired means authentication could not be established within
	// the configured wait budget. Never retried automatically.
	ErrLoginRequired = errors.New("login required")

	// ErrCaptchaDetected means a challenge is present and unsolved in the
	// current mode. Never retried automatically.
	ErrCaptchaDetected = errors.New("captcha detected")

	// ErrEndOfResults is the normal termination of pagination.
	ErrEndOfResults = errors.New("end of results")

	// ErrStopped means a cooperative stop was requested mid-operation.
	ErrStopped = errors.New("stop requested")

	// ErrUnavailable means the target item is no longer accessible.
	ErrUnavailable = errors.New("content unavailable")
)

// SecurityRestrictionError is a platform-level block (rate-limit page,
// "restricted" banner). It is an expected operating condition, surfaced as a
// typed value and terminal for the current operation.
type SecurityRestrictionError struct {
	// Code is the block code embedded in the page text, empty when none is.
	Code string
	// Message is the human-readable marker that matched.
	Message string
}

func (e *SecurityRestrictionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("security restriction: %s", e.Message)
	}
	return fmt.Sprintf("security restriction %s: %s", e.Code, e.Message)
}

// isTerminalSignal reports whether err must reach the caller unmodified:
// retry wrappers and recovery paths never mask these.
func isTerminalSignal(err error) bool {
	var restriction *SecurityRestrictionError
	return errors.Is(err, ErrLoginRequired) ||
		errors.Is(err, ErrCaptchaDetected) ||
		errors.Is(err, ErrStopped) ||
		errors.As(err, &restriction)
}
