package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind classifies failures across the engine
type ErrorKind string

const (
	ErrKindNetworkTimeout    ErrorKind = "network_timeout"
	ErrKindConnectionFailure ErrorKind = "connection_failure"
	ErrKindHTTPStatus        ErrorKind = "http_status_failure"
	ErrKindCheckInternal     ErrorKind = "check_internal_error"
	ErrKindStorageWrite      ErrorKind = "storage_write_failure"
	ErrKindConfiguration     ErrorKind = "configuration_error"
)

// MonitorError carries an ErrorKind alongside the failing operation
type MonitorError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *MonitorError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *MonitorError) Unwrap() error {
	return e.Err
}

// Is matches any MonitorError of the same kind, so callers can write
// errors.Is(err, ErrConfiguration).
func (e *MonitorError) Is(target error) bool {
	t, ok := target.(*MonitorError)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

var (
	ErrNetworkTimeout    = &MonitorError{Kind: ErrKindNetworkTimeout}
	ErrConnectionFailure = &MonitorError{Kind: ErrKindConnectionFailure}
	ErrHTTPStatus        = &MonitorError{Kind: ErrKindHTTPStatus}
	ErrCheckInternal     = &MonitorError{Kind: ErrKindCheckInternal}
	ErrStorageWrite      = &MonitorError{Kind: ErrKindStorageWrite}
	ErrConfiguration     = &MonitorError{Kind: ErrKindConfiguration}

	ErrTargetNotFound = errors.New("target not found")
	ErrAlertNotFound  = errors.New("alert not found")
	ErrTaskBusy       = errors.New("a check is already running for this target")
	ErrNoCapacity     = errors.New("maximum concurrent checks reached")
)

// NewConfigError builds a ConfigurationError
func NewConfigError(op, format string, args ...interface{}) error {
	return &MonitorError{Kind: ErrKindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

func newStorageError(op string, err error) error {
	return &MonitorError{Kind: ErrKindStorageWrite, Op: op, Err: err}
}

// KindOf returns the ErrorKind of err, or "" when err is not a MonitorError
func KindOf(err error) ErrorKind {
	var me *MonitorError
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// classifyProbeError maps a transport error to a check status.
// Timeouts and aborts become timeout, DNS failures and refused connections
// become down, everything else is an error result.
func classifyProbeError(err error) (CheckStatus, ErrorKind) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CheckStatusTimeout, ErrKindNetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CheckStatusTimeout, ErrKindNetworkTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CheckStatusDown, ErrKindConnectionFailure
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return CheckStatusDown, ErrKindConnectionFailure
	}
	return CheckStatusError, ErrKindCheckInternal
}
