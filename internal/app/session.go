package app

import (
	"time"

	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

// PeerState is the lifecycle position of one peer session.
type PeerState int

const (
	StateNew PeerState = iota
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAnswering:
		return "answering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// peerSession is the manager's record of one remote participant. At most
// one exists per remote identity. The transport is non-nil for the whole
// lifetime; closed is terminal, not a nil handle.
//
// epoch increments whenever the transport is replaced so that callbacks
// from a torn-down transport can be recognized and ignored.
type peerSession struct {
	peer      domain.Participant
	transport core.PeerTransport
	data      core.DataChannel
	state     PeerState
	attempts  int
	epoch     uint64

	graceTimer *time.Timer
	retryTimer *time.Timer
}

func (s *peerSession) stopTimers() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}
