// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("psrpc: call timed out")
	ErrMalformedRequest = errors.New("psrpc: malformed request")
	ErrUnknownTransport = errors.New("psrpc: unknown transport")
)

// TimeoutError is returned by Call when no response arrived in time.
// It carries the call's inputs for diagnosis.
type TimeoutError struct {
	Topic   string
	Params  interface{}
	Options CallOptions
	ID      []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("psrpc: call to %q timed out after %s (id %s)",
		e.Topic, e.Options.Timeout, EncodeID(e.ID))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Timeout reports true, matching net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// RemoteError is returned by Call when the handler failed.
type RemoteError struct {
	Topic   string
	Message string
	Data    interface{}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("psrpc: remote error from %q: %s", e.Topic, e.Message)
}

// HandlerError lets a handler attach structured data to its failure.
// Any other error is reported with its message only.
type HandlerError struct {
	Message string
	Data    interface{}
}

// NewHandlerError returns a handler failure carrying data.
func NewHandlerError(message string, data interface{}) *HandlerError {
	return &HandlerError{Message: message, Data: data}
}

func (e *HandlerError) Error() string { return e.Message }

// defaultErrorMessage stands in for a handler error with an empty message.
const defaultErrorMessage = "handler error"

// errorObject extracts the wire form of a handler failure. The message is
// never empty.
func errorObject(err error) wireError {
	var we wireError
	var he *HandlerError
	var re *RemoteError
	switch {
	case errors.As(err, &he):
		we = wireError{Message: he.Message, Data: he.Data}
	case errors.As(err, &re):
		we = wireError{Message: re.Message, Data: re.Data}
	default:
		we = wireError{Message: err.Error()}
	}
	if we.Message == "" {
		we.Message = defaultErrorMessage
	}
	return we
}
