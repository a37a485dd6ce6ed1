package api

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/huddle-rtc/huddle/internal/domain"
)

func TestValidate(t *testing.T) {
	cand := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 203.0.113.5 4444 typ host"}

	cases := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"offer ok", NewOffer("a", "b", "A", "v=0"), nil},
		{"offer without target", Message{Kind: KindOffer, From: "a", SDP: "v=0"}, ErrBadMessage},
		{"offer without sdp", Message{Kind: KindOffer, From: "a", To: "b"}, ErrBadMessage},
		{"answer ok", NewAnswer("a", "b", "A", "v=0"), nil},
		{"candidate ok", NewICECandidate("a", "b", *cand), nil},
		{"candidate without payload", Message{Kind: KindICECandidate, From: "a", To: "b"}, ErrBadMessage},
		{"candidate with empty string", Message{Kind: KindICECandidate, From: "a", To: "b", Candidate: &webrtc.ICECandidateInit{}}, ErrBadMessage},
		{"joined ok", NewUserJoined(domain.Participant{ID: "a", Name: "Ann"}), nil},
		{"joined without name", Message{Kind: KindUserJoined, From: "a"}, ErrBadMessage},
		{"left ok", NewUserLeft("a"), nil},
		{"hand ok", NewHandRaised(domain.Participant{ID: "a", Name: "Ann"}, true), nil},
		{"heartbeat ok", NewHeartbeat("a"), nil},
		{"missing sender", Message{Kind: KindHeartbeat}, ErrBadMessage},
		{"unknown kind", Message{Kind: "gossip", From: "a"}, ErrUnknownKind},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDecode(t *testing.T) {
	data, err := json.Marshal(NewOffer("a", "b", "Ann", "v=0"))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindOffer, msg.Kind)
	require.Equal(t, domain.ParticipantID("b"), msg.To)

	_, err = Decode([]byte(`{"kind":`))
	require.ErrorIs(t, err, ErrBadMessage)

	_, err = Decode([]byte(`{"kind":"gossip","from":"a"}`))
	require.ErrorIs(t, err, ErrUnknownKind)
}
