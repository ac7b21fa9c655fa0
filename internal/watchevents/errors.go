// SPDX-License-Identifier: MIT

package watchevents

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthorized        = errors.New("watchevents: not authenticated")
	ErrNotFound            = errors.New("watchevents: resource not found")
	ErrRejected            = errors.New("watchevents: request rejected (4xx)")
	ErrUpstreamUnavailable = errors.New("watchevents: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("watchevents: internal error (5xx)")
	ErrBadResponse         = errors.New("watchevents: invalid response format or malformed data")
	ErrTimeout             = errors.New("watchevents: request timed out")
)

// Error wraps a sentinel with the failing operation and HTTP context.
type Error struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// classifyStatus maps a non-2xx status code to a sentinel.
func classifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrUnauthorized
	case status == 404:
		return ErrNotFound
	case status >= 500:
		return ErrUpstreamError
	default:
		return ErrRejected
	}
}
