package hportal

import "fmt"

// Status is the outcome a GOP callback (send_command/send_phase/recv_phase)
// reports back to its host connection. It drives both the connection's
// own teardown decision and the GOP's final disposition.
type Status int

const (
	// StatusSuccess means the callback completed normally; the pipeline
	// continues.
	StatusSuccess Status = iota
	// StatusRetry means the connection is unusable but the GOP itself may
	// succeed elsewhere; honored only while RetryCount > 0.
	StatusRetry
	// StatusTimeout means the callback's deadline elapsed; honored only
	// while RetryCount > 0, after which it behaves like StatusError.
	StatusTimeout
	// StatusDead means the socket died outright (read/write error).
	StatusDead
	// StatusInvalidHost means the portal's host is known bad; every
	// queued GOP fails without a connect attempt.
	StatusInvalidHost
	// StatusCantConnect means the transport's connect callback failed.
	StatusCantConnect
	// StatusError is a generic terminal failure: the GOP completes with
	// this status and is not retried.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusRetry:
		return "RETRY"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusDead:
		return "DEAD"
	case StatusInvalidHost:
		return "INVALID_HOST"
	case StatusCantConnect:
		return "CANT_CONNECT"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// retriable reports whether a status may still be honored as a retry given
// the GOP's remaining retry budget.
func (s Status) retriable(retryCount int) bool {
	if retryCount <= 0 {
		return false
	}
	return s == StatusRetry || s == StatusTimeout
}
