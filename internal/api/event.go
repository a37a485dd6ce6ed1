package api

// EventKind discriminates what the channel delivered.
type EventKind int

const (
	// EventMessage is a decoded broadcast from another participant.
	EventMessage EventKind = iota
	// EventPresenceSync carries the full roster; emitted on every
	// (re)connection of the channel.
	EventPresenceSync
	EventPresenceJoin
	EventPresenceLeave
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventPresenceSync:
		return "presence-sync"
	case EventPresenceJoin:
		return "presence-join"
	case EventPresenceLeave:
		return "presence-leave"
	}
	return "unknown"
}

// Event is one delivery from the signaling channel to its consumer.
type Event struct {
	Kind    EventKind
	Message *Message       // EventMessage
	Roster  []PresenceMeta // EventPresenceSync
	Member  *PresenceMeta  // EventPresenceJoin / EventPresenceLeave
}
