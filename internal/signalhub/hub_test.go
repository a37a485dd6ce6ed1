package signalhub

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/domain"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/api/ws/rooms", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/rooms"
}

func dialAndJoin(t *testing.T, url string, room domain.RoomID, id domain.ParticipantID, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	join := api.Envelope{
		Type:   api.EnvelopeJoin,
		Room:   room,
		Member: &api.PresenceMeta{ID: id, Name: name, JoinedAt: time.Now()},
	}
	require.NoError(t, conn.WriteJSON(join))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) api.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env api.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func rosterIDs(roster []api.PresenceMeta) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(roster))
	for _, m := range roster {
		out = append(out, m.ID)
	}
	return out
}

func TestSubscribeSyncsRoster(t *testing.T) {
	_, url := startHub(t)

	alice := dialAndJoin(t, url, "demo", "a", "Alice")
	state := readEnvelope(t, alice)
	require.Equal(t, api.EnvelopePresenceState, state.Type)
	require.Equal(t, []domain.ParticipantID{"a"}, rosterIDs(state.Roster))

	bob := dialAndJoin(t, url, "demo", "b", "Bob")
	state = readEnvelope(t, bob)
	require.Equal(t, api.EnvelopePresenceState, state.Type)
	require.ElementsMatch(t, []domain.ParticipantID{"a", "b"}, rosterIDs(state.Roster))

	joined := readEnvelope(t, alice)
	require.Equal(t, api.EnvelopePresenceJoin, joined.Type)
	require.Equal(t, domain.ParticipantID("b"), joined.Member.ID)
}

func TestBroadcastFansOutToOthersOnly(t *testing.T) {
	_, url := startHub(t)

	alice := dialAndJoin(t, url, "demo", "a", "Alice")
	readEnvelope(t, alice) // roster
	bob := dialAndJoin(t, url, "demo", "b", "Bob")
	readEnvelope(t, bob)   // roster
	readEnvelope(t, alice) // bob's join

	payload, err := json.Marshal(api.NewOffer("a", "b", "Alice", "v=0"))
	require.NoError(t, err)
	require.NoError(t, alice.WriteJSON(api.Envelope{
		Type:    api.EnvelopeBroadcast,
		Room:    "demo",
		Payload: payload,
	}))

	env := readEnvelope(t, bob)
	require.Equal(t, api.EnvelopeBroadcast, env.Type)
	msg, err := api.Decode(env.Payload)
	require.NoError(t, err)
	require.Equal(t, api.KindOffer, msg.Kind)
	require.Equal(t, domain.ParticipantID("a"), msg.From)

	// The sender must not hear its own broadcast.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var echo api.Envelope
	require.Error(t, alice.ReadJSON(&echo))
}

func TestBroadcastRejectsSpoofedSender(t *testing.T) {
	_, url := startHub(t)

	alice := dialAndJoin(t, url, "demo", "a", "Alice")
	readEnvelope(t, alice)

	payload, err := json.Marshal(api.NewHeartbeat("someone-else"))
	require.NoError(t, err)
	require.NoError(t, alice.WriteJSON(api.Envelope{
		Type:    api.EnvelopeBroadcast,
		Room:    "demo",
		Payload: payload,
	}))

	env := readEnvelope(t, alice)
	require.Equal(t, api.EnvelopeError, env.Type)
	require.Equal(t, "sender mismatch", env.Error)
}

func TestMalformedBroadcastReportsError(t *testing.T) {
	_, url := startHub(t)

	alice := dialAndJoin(t, url, "demo", "a", "Alice")
	readEnvelope(t, alice)

	require.NoError(t, alice.WriteJSON(api.Envelope{
		Type:    api.EnvelopeBroadcast,
		Room:    "demo",
		Payload: json.RawMessage(`{"kind":"gossip","from":"a"}`),
	}))

	env := readEnvelope(t, alice)
	require.Equal(t, api.EnvelopeError, env.Type)
}

func TestRejectsBadJoin(t *testing.T) {
	_, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(api.Envelope{Type: api.EnvelopeBroadcast, Room: "demo"}))
	env := readEnvelope(t, conn)
	require.Equal(t, api.EnvelopeError, env.Type)
}

func TestLeaveBroadcastsPresenceAndDropsRoom(t *testing.T) {
	hub, url := startHub(t)

	alice := dialAndJoin(t, url, "demo", "a", "Alice")
	readEnvelope(t, alice)
	bob := dialAndJoin(t, url, "demo", "b", "Bob")
	readEnvelope(t, bob)
	readEnvelope(t, alice)
	require.Equal(t, 1, hub.RoomCount())

	require.NoError(t, bob.Close())
	env := readEnvelope(t, alice)
	require.Equal(t, api.EnvelopePresenceLeave, env.Type)
	require.Equal(t, domain.ParticipantID("b"), env.Member.ID)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return hub.RoomCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRetiredRoomRejectsLateAdd(t *testing.T) {
	hub := NewHub()
	stale := hub.getOrCreate("demo")
	hub.dropIfEmpty("demo")

	// An add that lost the race against the last leave must not land in
	// the retired instance; a fresh lookup gets a live room.
	meta := api.PresenceMeta{ID: "a", Name: "Alice", JoinedAt: time.Now()}
	require.False(t, stale.add(meta, nil))
	require.False(t, hub.subscribe(stale, meta, nil))

	fresh := hub.getOrCreate("demo")
	require.True(t, fresh.add(meta, nil))
	require.Equal(t, []domain.ParticipantID{"a"}, rosterIDs(fresh.roster()))
	require.Equal(t, 1, hub.RoomCount())
}

func TestJoinDuringLastLeaveLandsInLiveRoom(t *testing.T) {
	hub, url := startHub(t)

	// Churn the same interleaving: the sole member drops while a new
	// member joins. The joiner must end up in the room later joiners see.
	for i := 0; i < 25; i++ {
		room := domain.RoomID(fmt.Sprintf("churn-%d", i))
		alice := dialAndJoin(t, url, room, "a", "Alice")
		readEnvelope(t, alice)

		done := make(chan struct{})
		go func() {
			_ = alice.Close()
			close(done)
		}()
		bob := dialAndJoin(t, url, room, "b", "Bob")
		state := readEnvelope(t, bob)
		require.Equal(t, api.EnvelopePresenceState, state.Type)
		<-done

		cara := dialAndJoin(t, url, room, "c", "Cara")
		state = readEnvelope(t, cara)
		require.Equal(t, api.EnvelopePresenceState, state.Type)
		require.Contains(t, rosterIDs(state.Roster), domain.ParticipantID("b"))

		require.NoError(t, bob.Close())
		require.NoError(t, cara.Close())
	}
	require.Eventually(t, func() bool { return hub.RoomCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRejoinReplacesStaleSocket(t *testing.T) {
	hub, url := startHub(t)

	first := dialAndJoin(t, url, "demo", "a", "Alice")
	readEnvelope(t, first)

	// The same member resubscribing (channel drop, quick redial) takes
	// over the slot without a duplicate roster entry.
	second := dialAndJoin(t, url, "demo", "a", "Alice")
	state := readEnvelope(t, second)
	require.Equal(t, api.EnvelopePresenceState, state.Type)
	require.Equal(t, []domain.ParticipantID{"a"}, rosterIDs(state.Roster))
	require.Equal(t, 1, hub.RoomCount())
}
