package core

import (
	"errors"
	"fmt"

	"github.com/huddle-rtc/huddle/internal/domain"
)

var (
	// ErrChannelClosed is returned by Broadcast after the channel is closed.
	ErrChannelClosed = errors.New("signal channel closed")
	// ErrBackpressure is returned when an outbound queue is full; the
	// message is dropped, matching the channel's best-effort contract.
	ErrBackpressure = errors.New("backpressure")
)

// MediaAccessError reports capture device permission or availability
// failure after the built-in fallback attempt. It propagates to the caller
// for user-facing reporting.
type MediaAccessError struct {
	Reason string
	Err    error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access: %s: %v", e.Reason, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// NegotiationError reports an offer/answer/candidate application failure.
// The affected peer session is discarded; other sessions are unaffected.
type NegotiationError struct {
	Peer domain.ParticipantID
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s: %s: %v", e.Peer, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransportFailure reports that a peer's direct connection dropped. It is
// consumed by the reconnection policy, never surfaced to the caller.
type TransportFailure struct {
	Peer  domain.ParticipantID
	State string
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("transport to %s: %s", e.Peer, e.State)
}
