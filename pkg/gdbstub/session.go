package gdbstub

import (
	"github.com/google/uuid"
)

// StopReplyMode says which fields are sent in stop replies.
type StopReplyMode uint8

const (
	// BasicStopReply replies only describe the stopping thread.
	BasicStopReply StopReplyMode = iota
	// ExtendedStopReply replies also list every thread and its pc, it is
	// enabled by QListThreadsInStopReply.
	ExtendedStopReply
)

func (mode StopReplyMode) String() string {
	switch mode {
	case BasicStopReply:
		return "basic"
	case ExtendedStopReply:
		return "extended"
	}
	return "unknown"
}

// Session is the state negotiated with one debugger, it lives as long as
// the connection it was created for.
type Session struct {
	ID string

	stopReply    StopReplyMode
	noAck        bool // QStartNoAckMode
	threadSuffix bool // QThreadSuffixSupported

	snapshot *StopSnapshot

	gThread uint64 // thread selected by Hg, 0 for any
	cThread uint64 // thread selected by Hc, 0 for any
}

// NewSession returns a session in its initial state: acks enabled, basic
// stop replies.
func NewSession() *Session {
	return &Session{ID: uuid.New().String()}
}

// StopReplyMode returns the current stop reply mode.
func (s *Session) StopReplyMode() StopReplyMode {
	return s.stopReply
}

// AckMode returns true until QStartNoAckMode is negotiated.
func (s *Session) AckMode() bool {
	return !s.noAck
}

// ThreadSuffix returns true if register packets may carry a thread:<tid>;
// suffix.
func (s *Session) ThreadSuffix() bool {
	return s.threadSuffix
}

// Snapshot returns the snapshot of the current stop, nil before the first
// stop has been captured.
func (s *Session) Snapshot() *StopSnapshot {
	return s.snapshot
}

// Negotiate applies the capability packet name. It returns false, leaving
// the session unchanged, if name is not a capability this stub knows.
// Capabilities can only be enabled: once enabled they apply to every
// following reply, including a stop reply sent again for the current stop.
func (s *Session) Negotiate(name string) bool {
	switch name {
	case "QListThreadsInStopReply":
		s.stopReply = ExtendedStopReply
	case "QStartNoAckMode":
		s.noAck = true
	case "QThreadSuffixSupported":
		s.threadSuffix = true
	default:
		return false
	}
	return true
}
