package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/adityaadpandey/roomlink/internals/transport"
)

const eventBuffer = 256

type Participant struct {
	identity string

	mu     sync.RWMutex
	tracks []transport.RemoteTrack
}

func NewParticipant(identity string, tracks ...transport.RemoteTrack) *Participant {
	return &Participant{identity: identity, tracks: tracks}
}

func (p *Participant) Identity() string { return p.identity }

func (p *Participant) Tracks() []transport.RemoteTrack {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]transport.RemoteTrack, len(p.tracks))
	copy(out, p.tracks)
	return out
}

func (p *Participant) addTrack(t transport.RemoteTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
}

func (p *Participant) removeTrack(trackID string) (transport.RemoteTrack, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tracks {
		if t.ID() == trackID {
			p.tracks = append(p.tracks[:i], p.tracks[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

func (p *Participant) clone() *Participant {
	return NewParticipant(p.identity, p.Tracks()...)
}

type OpKind string

const (
	OpPublish   OpKind = "publish"
	OpUnpublish OpKind = "unpublish"
)

// Op is one entry of the publish journal. Publishes are journaled when they
// complete, unpublishes when they are initiated.
type Op struct {
	Kind    OpKind
	TrackID string
}

type LocalParticipant struct {
	mu        sync.Mutex
	published []transport.LocalTrack
	journal   []Op

	publishHook   func(transport.LocalTrack) error
	unpublishHook func(transport.LocalTrack) error
}

// FailPublish makes subsequent publishes return the hook's error when non-nil.
func (lp *LocalParticipant) FailPublish(hook func(transport.LocalTrack) error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.publishHook = hook
}

func (lp *LocalParticipant) FailUnpublish(hook func(transport.LocalTrack) error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.unpublishHook = hook
}

func (lp *LocalParticipant) PublishTrack(ctx context.Context, track transport.LocalTrack) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	if lp.publishHook != nil {
		if err := lp.publishHook(track); err != nil {
			return err
		}
	}
	for _, t := range lp.published {
		if t.ID() == track.ID() {
			return fmt.Errorf("track %s already published", track.ID())
		}
	}

	lp.published = append(lp.published, track)
	lp.journal = append(lp.journal, Op{Kind: OpPublish, TrackID: track.ID()})
	return nil
}

func (lp *LocalParticipant) UnpublishTrack(ctx context.Context, track transport.LocalTrack) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	lp.journal = append(lp.journal, Op{Kind: OpUnpublish, TrackID: track.ID()})

	if lp.unpublishHook != nil {
		if err := lp.unpublishHook(track); err != nil {
			return err
		}
	}
	for i, t := range lp.published {
		if t.ID() == track.ID() {
			lp.published = append(lp.published[:i], lp.published[i+1:]...)
			return nil
		}
	}
	return transport.ErrNotPublished
}

func (lp *LocalParticipant) PublishedTracks() []transport.LocalTrack {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	out := make([]transport.LocalTrack, len(lp.published))
	copy(out, lp.published)
	return out
}

func (lp *LocalParticipant) Journal() []Op {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	out := make([]Op, len(lp.journal))
	copy(out, lp.journal)
	return out
}

// Room is an in-process room whose participant and connectivity events are
// driven by the caller.
type Room struct {
	name  string
	token string
	local *LocalParticipant

	mu           sync.Mutex
	order        []string
	participants map[string]*Participant
	events       chan transport.Event
	closed       bool
}

func newRoom(name, token string, seeds []*Participant) *Room {
	r := &Room{
		name:         name,
		token:        token,
		local:        &LocalParticipant{},
		participants: make(map[string]*Participant),
		events:       make(chan transport.Event, eventBuffer),
	}
	for _, p := range seeds {
		c := p.clone()
		r.order = append(r.order, c.identity)
		r.participants[c.identity] = c
	}
	return r
}

func (r *Room) Name() string                                 { return r.name }
func (r *Room) Token() string                                { return r.token }
func (r *Room) LocalParticipant() transport.LocalParticipant { return r.local }
func (r *Room) Local() *LocalParticipant                     { return r.local }
func (r *Room) Events() <-chan transport.Event               { return r.events }

func (r *Room) Participants() []transport.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participants[id])
	}
	return out
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	return nil
}

func (r *Room) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.events)
}

func (r *Room) emitLocked(ev transport.Event) bool {
	if r.closed {
		return false
	}
	r.events <- ev
	return true
}

// Join adds a participant and emits ParticipantConnected.
func (r *Room) Join(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.participants[p.identity]; !ok {
		r.order = append(r.order, p.identity)
	}
	r.participants[p.identity] = p
	return r.emitLocked(transport.Event{Type: transport.EventParticipantConnected, Participant: p})
}

func (r *Room) Leave(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[identity]
	if !ok {
		return false
	}
	delete(r.participants, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return r.emitLocked(transport.Event{Type: transport.EventParticipantDisconnected, Participant: p})
}

func (r *Room) Subscribe(identity string, track transport.RemoteTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[identity]
	if !ok {
		return false
	}
	p.addTrack(track)
	return r.emitLocked(transport.Event{Type: transport.EventTrackSubscribed, Participant: p, Track: track})
}

func (r *Room) Unsubscribe(identity, trackID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[identity]
	if !ok {
		return false
	}
	t, ok := p.removeTrack(trackID)
	if !ok {
		return false
	}
	return r.emitLocked(transport.Event{Type: transport.EventTrackUnsubscribed, Participant: p, Track: t})
}

func (r *Room) Reconnecting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitLocked(transport.Event{Type: transport.EventReconnecting})
}

func (r *Room) Reconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitLocked(transport.Event{Type: transport.EventReconnected})
}

// Drop emits Disconnected carrying err and closes the room. A nil err models
// the server ending the room.
func (r *Room) Drop(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok := r.emitLocked(transport.Event{Type: transport.EventDisconnected, Err: err})
	r.closeLocked()
	return ok
}

// Provider hands out in-process rooms. Seeded participants are present in
// every room created for that name.
type Provider struct {
	mu          sync.Mutex
	seeds       map[string][]*Participant
	rooms       map[string][]*Room
	connectHook func(ctx context.Context, token, roomName string) error
}

func NewProvider() *Provider {
	return &Provider{
		seeds: make(map[string][]*Participant),
		rooms: make(map[string][]*Room),
	}
}

func (p *Provider) Seed(roomName string, participants ...*Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeds[roomName] = append(p.seeds[roomName], participants...)
}

// OnConnect installs a hook run before each connect; a non-nil error rejects it.
func (p *Provider) OnConnect(hook func(ctx context.Context, token, roomName string) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectHook = hook
}

func (p *Provider) Connect(ctx context.Context, token, roomName string) (transport.Room, error) {
	p.mu.Lock()
	hook := p.connectHook
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, token, roomName); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	r := newRoom(roomName, token, p.seeds[roomName])
	p.rooms[roomName] = append(p.rooms[roomName], r)
	return r, nil
}

// Room returns the most recent room created for roomName.
func (p *Provider) Room(roomName string) *Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	rooms := p.rooms[roomName]
	if len(rooms) == 0 {
		return nil
	}
	return rooms[len(rooms)-1]
}

func (p *Provider) Connects(roomName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[roomName])
}
