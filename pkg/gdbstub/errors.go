package gdbstub

import (
	"errors"
	"fmt"
)

// ErrNoLiveThreads is returned by Aggregator.Capture when the inferior has
// no thread left to report, stop replies built from such a stop carry no
// thread fields.
var ErrNoLiveThreads = errors.New("no live threads")

// ErrDisconnected is returned when the debugger goes away in the middle of
// an operation.
var ErrDisconnected = errors.New("debugger disconnected")

// InvariantError is returned when the state of the inferior can not be
// reported consistently. The session that observes it is aborted without
// sending anything.
type InvariantError struct {
	Reason string
}

func (err *InvariantError) Error() string {
	return fmt.Sprintf("inconsistent stop state: %s", err.Reason)
}

// errorCode is the two digit code sent in an Exx reply.
type errorCode uint8

const (
	errcodeBadArgs    errorCode = 0x01
	errcodeNoThread   errorCode = 0x02
	errcodeNoRegister errorCode = 0x03
	errcodeMemory     errorCode = 0x08
	errcodeTarget     errorCode = 0x16
	errcodeEndOfList  errorCode = 0x45
)

func (code errorCode) reply() []byte {
	return []byte(fmt.Sprintf("E%02x", uint8(code)))
}
