package api

import (
	"encoding/json"
	"time"

	"github.com/huddle-rtc/huddle/internal/domain"
)

// EnvelopeType frames the client<->hub websocket protocol.
type EnvelopeType string

const (
	// client -> hub
	EnvelopeJoin      EnvelopeType = "join"
	EnvelopeBroadcast EnvelopeType = "broadcast"

	// hub -> client
	EnvelopePresenceState EnvelopeType = "presence-state"
	EnvelopePresenceJoin  EnvelopeType = "presence-join"
	EnvelopePresenceLeave EnvelopeType = "presence-leave"
	EnvelopeError         EnvelopeType = "error"
)

// PresenceMeta is the identity metadata the hub tracks per subscriber.
type PresenceMeta struct {
	ID       domain.ParticipantID `json:"id"`
	Name     string               `json:"name"`
	JoinedAt time.Time            `json:"joined_at"`
}

// Envelope wraps every websocket frame between channel client and hub.
// Broadcast payloads are carried opaquely; the hub never inspects them.
type Envelope struct {
	Type    EnvelopeType    `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	Member  *PresenceMeta   `json:"member,omitempty"`
	Roster  []PresenceMeta  `json:"roster,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
