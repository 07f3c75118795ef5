// errors.go defines the typed error kinds every venue call can fail with.
//
// The engine's error policy hangs off these three types: transport and
// rate-limit errors are retryable, venue errors carry the v5 retCode and may
// be benign ("not modified" responses are treated as success by callers).
package venue

import (
	"errors"
	"fmt"
	"time"
)

// Bybit v5 retCodes with special handling.
const (
	codeOK                  = 0
	codeRateLimit           = 10006 // too many visits
	codeIPRateLimit         = 10018
	codeStopNotModified     = 34040  // trading-stop unchanged
	codeLeverageNotModified = 110043 // leverage unchanged
)

// Error is a non-zero retCode response from the venue.
type Error struct {
	Op      string // the logical operation, e.g. "place_order"
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: venue error %d: %s", e.Op, e.Code, e.Message)
}

// Benign reports whether the error is a no-op acknowledgement the caller
// should treat as success.
func (e *Error) Benign() bool {
	return e.Code == codeStopNotModified || e.Code == codeLeverageNotModified
}

// RateLimitError signals the venue asked us to back off.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration // zero when the venue gave no hint
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s)", e.Op, e.RetryAfter)
}

// TransportError wraps network-level failures (dial, timeout, bad payload).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsBenign reports whether err is a venue error that should be treated as
// success.
func IsBenign(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Benign()
}

// IsRateLimit reports whether err is a rate-limit rejection.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
