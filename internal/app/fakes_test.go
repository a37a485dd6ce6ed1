package app

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/core"
)

// fakeChannel records broadcasts and lets tests inject inbound events.
type fakeChannel struct {
	mu     sync.Mutex
	sent   []api.Message
	events chan api.Event
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan api.Event, 64)}
}

func (c *fakeChannel) Broadcast(_ context.Context, msg api.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Events() <-chan api.Event { return c.events }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

func (c *fakeChannel) push(ev api.Event) { c.events <- ev }

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) countOf(kind api.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.sent {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func (c *fakeChannel) lastOf(kind api.Kind) (api.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Kind == kind {
			return c.sent[i], true
		}
	}
	return api.Message{}, false
}

// fakeTransport is a scriptable core.PeerTransport. Tests drive it by
// firing the stored callbacks.
type fakeTransport struct {
	mu sync.Mutex

	offers     int
	answers    int
	accepted   []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	replaced   map[webrtc.RTPCodecType][]webrtc.TrackLocal
	hasRemote  bool
	closed     bool

	offerErr  error
	answerErr error
	acceptErr error

	stateFn func(webrtc.PeerConnectionState)
	trackFn func(core.RemoteMedia)
	candFn  func(webrtc.ICECandidateInit)
	dcFn    func(core.DataChannel)

	data *fakeData
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replaced: make(map[webrtc.RTPCodecType][]webrtc.TrackLocal)}
}

func (t *fakeTransport) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.offerErr != nil {
		return webrtc.SessionDescription{}, t.offerErr
	}
	t.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answerErr != nil {
		return webrtc.SessionDescription{}, t.answerErr
	}
	t.answers++
	t.hasRemote = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) AcceptAnswer(answer webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.acceptErr != nil {
		return t.acceptErr
	}
	t.accepted = append(t.accepted, answer)
	t.hasRemote = true
	return nil
}

func (t *fakeTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, ci)
	return nil
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasRemote
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *fakeTransport) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaced[kind] = append(t.replaced[kind], track)
	return nil
}

func (t *fakeTransport) CreateDataChannel(string) (core.DataChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = &fakeData{}
	return t.data, nil
}

func (t *fakeTransport) OnDataChannel(fn func(core.DataChannel)) {
	t.mu.Lock()
	t.dcFn = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.candFn = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.stateFn = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnTrack(fn func(core.RemoteMedia)) {
	t.mu.Lock()
	t.trackFn = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Stats() core.TransportStats {
	return core.TransportStats{State: webrtc.PeerConnectionStateConnected.String()}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) fireState(s webrtc.PeerConnectionState) {
	t.mu.Lock()
	fn := t.stateFn
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *fakeTransport) fireTrack(rm core.RemoteMedia) {
	t.mu.Lock()
	fn := t.trackFn
	t.mu.Unlock()
	if fn != nil {
		fn(rm)
	}
}

func (t *fakeTransport) fireDataChannel(dc core.DataChannel) {
	t.mu.Lock()
	fn := t.dcFn
	t.mu.Unlock()
	if fn != nil {
		fn(dc)
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) candidateCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.candidates)
}

func (t *fakeTransport) offerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

func (t *fakeTransport) lastReplaced(kind webrtc.RTPCodecType) (webrtc.TrackLocal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	swaps := t.replaced[kind]
	if len(swaps) == 0 {
		return nil, false
	}
	return swaps[len(swaps)-1], true
}

// fakeFactory hands out transports in order and remembers them.
type fakeFactory struct {
	mu    sync.Mutex
	made  []*fakeTransport
	fail  error
	setup func(*fakeTransport)
}

func (f *fakeFactory) factory() (core.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	t := newFakeTransport()
	if f.setup != nil {
		f.setup(t)
	}
	f.made = append(f.made, t)
	return t, nil
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.made) {
		return nil
	}
	return f.made[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

// fakeMedia is a static two-track local source.
type fakeMedia struct {
	mu      sync.Mutex
	video   webrtc.TrackLocal
	audio   webrtc.TrackLocal
	onEnded func()
	closed  bool
}

func newFakeMedia() *fakeMedia {
	video, _ := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam")
	audio, _ := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "mic")
	return &fakeMedia{video: video, audio: audio}
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.video, m.audio}
}

func (m *fakeMedia) VideoTrack() webrtc.TrackLocal { return m.video }
func (m *fakeMedia) AudioTrack() webrtc.TrackLocal { return m.audio }

func (m *fakeMedia) OnVideoEnded(fn func()) {
	m.mu.Lock()
	m.onEnded = fn
	m.mu.Unlock()
}

func (m *fakeMedia) fireVideoEnded() {
	m.mu.Lock()
	fn := m.onEnded
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeData is an in-memory data channel; frames sent on one end can be
// injected into another via its message callback.
type fakeData struct {
	mu     sync.Mutex
	sent   [][]byte
	msgFn  func([]byte)
	closed bool
}

func (d *fakeData) Send(data []byte) error {
	d.mu.Lock()
	d.sent = append(d.sent, data)
	d.mu.Unlock()
	return nil
}

func (d *fakeData) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	d.msgFn = fn
	d.mu.Unlock()
}

func (d *fakeData) OnOpen(fn func()) {}

func (d *fakeData) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeData) inject(data []byte) {
	d.mu.Lock()
	fn := d.msgFn
	d.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (d *fakeData) sentFrames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

// fakeRemote satisfies core.RemoteMedia for track arrival tests.
type fakeRemote struct{ kind string }

func (r *fakeRemote) ID() string       { return "remote-" + r.kind }
func (r *fakeRemote) StreamID() string { return "peer-stream" }
func (r *fakeRemote) Kind() string     { return r.kind }
