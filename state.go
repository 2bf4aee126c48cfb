package chatloop

import (
	"sync/atomic"
)

// SessionState is the connection state of a [Session].
//
//	StateUnconnected → StateConnecting   [first operation, CAS]
//	StateConnecting  → StateReady        [handshake succeeded]
//	StateConnecting  → StateClosing      [handshake failed]
//	StateReady       → StateClosing      [Close, or stream failure]
//	StateClosing     → StateClosed       [teardown complete]
//	StateClosed      → (terminal)
//
// StateUnconnected and StateConnecting may also move directly to
// StateClosing, via Close. There is no reconnect path.
type SessionState uint32

const (
	// StateUnconnected indicates no connection has been attempted.
	StateUnconnected SessionState = iota
	// StateConnecting indicates the handshake is in progress.
	StateConnecting
	// StateReady indicates requests may be sent.
	StateReady
	// StateClosing indicates teardown is in progress. New sends fail.
	StateClosing
	// StateClosed indicates the session is finished.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateUnconnected:
		return "Unconnected"
	case StateConnecting:
		return "Connecting"
	case StateReady:
		return "Ready"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type sessionState struct {
	v atomic.Uint32
}

func (s *sessionState) Load() SessionState {
	return SessionState(s.v.Load())
}

// Store is for irreversible states only (Closing, Closed).
func (s *sessionState) Store(state SessionState) {
	s.v.Store(uint32(state))
}

func (s *sessionState) TryTransition(from, to SessionState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// beginClose moves any state prior to StateClosing to StateClosing, and
// returns the state it replaced, or the current state if already closing.
func (s *sessionState) beginClose() SessionState {
	for {
		current := s.Load()
		if current >= StateClosing {
			return current
		}
		if s.TryTransition(current, StateClosing) {
			return current
		}
	}
}
