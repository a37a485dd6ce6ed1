package app

import (
	"sync"
	"time"

	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

type (
	RemoteStreamFunc func(peer domain.ParticipantID, media core.RemoteMedia, displayName string)
	PeerLeftFunc     func(peer domain.ParticipantID)
	HandRaisedFunc   func(peer domain.ParticipantID, displayName string, raised bool)
	ChatFunc         func(peer domain.ParticipantID, displayName, body string, sentAt time.Time)
)

// Listeners decouples the manager from any particular UI: consumers
// register callbacks instead of the manager holding a single assignable
// hook.
type Listeners struct {
	mu           sync.RWMutex
	remoteStream []RemoteStreamFunc
	peerLeft     []PeerLeftFunc
	handRaised   []HandRaisedFunc
	chat         []ChatFunc
}

func (l *Listeners) OnRemoteStream(fn RemoteStreamFunc) {
	l.mu.Lock()
	l.remoteStream = append(l.remoteStream, fn)
	l.mu.Unlock()
}

func (l *Listeners) OnPeerLeft(fn PeerLeftFunc) {
	l.mu.Lock()
	l.peerLeft = append(l.peerLeft, fn)
	l.mu.Unlock()
}

func (l *Listeners) OnHandRaised(fn HandRaisedFunc) {
	l.mu.Lock()
	l.handRaised = append(l.handRaised, fn)
	l.mu.Unlock()
}

func (l *Listeners) OnChatMessage(fn ChatFunc) {
	l.mu.Lock()
	l.chat = append(l.chat, fn)
	l.mu.Unlock()
}

func (l *Listeners) fireRemoteStream(peer domain.ParticipantID, media core.RemoteMedia, name string) {
	l.mu.RLock()
	fns := l.remoteStream
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(peer, media, name)
	}
}

func (l *Listeners) firePeerLeft(peer domain.ParticipantID) {
	l.mu.RLock()
	fns := l.peerLeft
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(peer)
	}
}

func (l *Listeners) fireHandRaised(peer domain.ParticipantID, name string, raised bool) {
	l.mu.RLock()
	fns := l.handRaised
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(peer, name, raised)
	}
}

func (l *Listeners) fireChat(peer domain.ParticipantID, name, body string, sentAt time.Time) {
	l.mu.RLock()
	fns := l.chat
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(peer, name, body, sentAt)
	}
}
