// Package epc implements the symmetric s-expression RPC protocol: both
// peers register methods, issue calls correlated by uid, and receive
// results or failures through deferred chains.
package epc

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned by a synchronous wait whose
	// connection died before the reply arrived.
	ErrConnectionClosed = errors.New("epc: connection closed")

	// errIncompleteFrame signals the decoder needs more bytes.
	errIncompleteFrame = errors.New("epc: incomplete frame")
)

// ApplicationError carries a peer-side task failure delivered in a
// return-error message. The message is the peer's rendering of whatever
// the task raised.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// ProtocolError carries a protocol-level failure delivered in an
// epc-error message, such as calling a method the peer never registered.
// It is the tagged counterpart of the wire's (epc-error …) payload, so
// callers can discriminate it from application failures with errors.As.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "epc-error: " + e.Message
}

// FrameError reports a single undecodable frame. The surrounding
// connection survives: the decoder consumed the frame's declared extent
// and continues with the next one.
type FrameError struct {
	Length int
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("epc: bad frame (%d bytes): %v", e.Length, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
