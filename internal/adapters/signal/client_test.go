package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/signalhub"
)

func startHub(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	hub := signalhub.NewHub()
	r.GET("/api/ws/rooms", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/rooms"
}

func connect(t *testing.T, url string, room domain.RoomID, id domain.ParticipantID, name string) *Client {
	t.Helper()
	c := NewClient(url, room, domain.Participant{ID: id, Name: name})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Client) api.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return api.Event{}
	}
}

func TestConnectDeliversRosterSync(t *testing.T) {
	url := startHub(t)
	alice := connect(t, url, "demo", "a", "Alice")

	ev := nextEvent(t, alice)
	require.Equal(t, api.EventPresenceSync, ev.Kind)
	require.Len(t, ev.Roster, 1)
	require.Equal(t, domain.ParticipantID("a"), ev.Roster[0].ID)
}

func TestBroadcastRoundTrip(t *testing.T) {
	url := startHub(t)
	alice := connect(t, url, "demo", "a", "Alice")
	nextEvent(t, alice) // own roster

	bob := connect(t, url, "demo", "b", "Bob")
	sync := nextEvent(t, bob)
	require.Equal(t, api.EventPresenceSync, sync.Kind)
	require.Len(t, sync.Roster, 2)

	join := nextEvent(t, alice)
	require.Equal(t, api.EventPresenceJoin, join.Kind)
	require.Equal(t, domain.ParticipantID("b"), join.Member.ID)

	require.NoError(t, alice.Broadcast(context.Background(), api.NewOffer("a", "b", "Alice", "v=0")))
	ev := nextEvent(t, bob)
	require.Equal(t, api.EventMessage, ev.Kind)
	require.Equal(t, api.KindOffer, ev.Message.Kind)
	require.Equal(t, domain.ParticipantID("a"), ev.Message.From)
}

func TestLeaveNotifiesSubscribers(t *testing.T) {
	url := startHub(t)
	alice := connect(t, url, "demo", "a", "Alice")
	nextEvent(t, alice)

	bob := connect(t, url, "demo", "b", "Bob")
	nextEvent(t, bob)
	nextEvent(t, alice) // bob's join

	require.NoError(t, bob.Close())
	ev := nextEvent(t, alice)
	require.Equal(t, api.EventPresenceLeave, ev.Kind)
	require.Equal(t, domain.ParticipantID("b"), ev.Member.ID)
}

func TestCloseStopsChannel(t *testing.T) {
	url := startHub(t)
	alice := connect(t, url, "demo", "a", "Alice")
	nextEvent(t, alice)

	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close(), "close is idempotent")

	err := alice.Broadcast(context.Background(), api.NewHeartbeat("a"))
	require.ErrorIs(t, err, core.ErrChannelClosed)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-alice.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "event stream closes after Close")
}

func TestBroadcastBackpressure(t *testing.T) {
	// Not connected: nothing drains the outbound queue.
	c := NewClient("ws://127.0.0.1:1/api/ws/rooms", "demo", domain.Participant{ID: "a", Name: "A"})

	var err error
	for i := 0; i < sendQueueSize+1; i++ {
		err = c.Broadcast(context.Background(), api.NewHeartbeat("a"))
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, core.ErrBackpressure)
}
