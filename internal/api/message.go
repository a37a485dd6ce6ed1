// Package api defines the wire types carried over the signaling channel.
//
// Broadcast payloads form a closed tagged union. Decode validates on
// receipt; unknown or malformed messages are reported as errors so the
// caller can drop them without propagating.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindUserJoined   Kind = "user-joined"
	KindUserLeft     Kind = "user-left"
	KindHandRaised   Kind = "hand-raised"
	KindHeartbeat    Kind = "heartbeat"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrBadMessage  = errors.New("malformed message")
)

// Message is one signaling broadcast. From is always the sender identity;
// To is set only on peer-addressed kinds (offer, answer, ice-candidate).
type Message struct {
	Kind      Kind                     `json:"kind"`
	From      domain.ParticipantID     `json:"from"`
	To        domain.ParticipantID     `json:"to,omitempty"`
	Name      string                   `json:"name,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Raised    bool                     `json:"raised,omitempty"`
	SentAt    int64                    `json:"ts"`
}

func now() int64 { return time.Now().UnixMilli() }

func NewOffer(from, to domain.ParticipantID, name, sdp string) Message {
	return Message{Kind: KindOffer, From: from, To: to, Name: name, SDP: sdp, SentAt: now()}
}

func NewAnswer(from, to domain.ParticipantID, name, sdp string) Message {
	return Message{Kind: KindAnswer, From: from, To: to, Name: name, SDP: sdp, SentAt: now()}
}

func NewICECandidate(from, to domain.ParticipantID, cand webrtc.ICECandidateInit) Message {
	return Message{Kind: KindICECandidate, From: from, To: to, Candidate: &cand, SentAt: now()}
}

func NewUserJoined(p domain.Participant) Message {
	return Message{Kind: KindUserJoined, From: p.ID, Name: p.Name, SentAt: now()}
}

func NewUserLeft(id domain.ParticipantID) Message {
	return Message{Kind: KindUserLeft, From: id, SentAt: now()}
}

func NewHandRaised(p domain.Participant, raised bool) Message {
	return Message{Kind: KindHandRaised, From: p.ID, Name: p.Name, Raised: raised, SentAt: now()}
}

func NewHeartbeat(id domain.ParticipantID) Message {
	return Message{Kind: KindHeartbeat, From: id, SentAt: now()}
}

// Validate checks the per-kind required fields.
func (m *Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: missing sender", ErrBadMessage)
	}
	switch m.Kind {
	case KindOffer, KindAnswer:
		if m.To == "" || m.SDP == "" {
			return fmt.Errorf("%w: %s requires to and sdp", ErrBadMessage, m.Kind)
		}
	case KindICECandidate:
		if m.To == "" || m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("%w: ice-candidate requires to and candidate", ErrBadMessage)
		}
	case KindUserJoined:
		if m.Name == "" {
			return fmt.Errorf("%w: user-joined requires name", ErrBadMessage)
		}
	case KindUserLeft, KindHandRaised, KindHeartbeat:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// Decode parses and validates one broadcast payload.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
