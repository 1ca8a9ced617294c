package room

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adityaadpandey/roomlink/internals/render"
	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/adityaadpandey/roomlink/internals/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stateLog struct {
	mu     sync.Mutex
	states []state.ConnectionState
}

func (l *stateLog) sink(s state.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) all() []state.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]state.ConnectionState, len(l.states))
	copy(out, l.states)
	return out
}

func (l *stateLog) last() state.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return state.Idle
	}
	return l.states[len(l.states)-1]
}

func newTestHandler(t *testing.T, timeout time.Duration) (*Handler, *render.Recorder, *stateLog) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rec := render.NewRecorder(logger)
	h := NewHandler(rec, timeout, logger)
	log := &stateLog{}
	h.Start(log.sink)
	t.Cleanup(h.Reset)
	return h, rec, log
}

func subscribed(p *memory.Participant, tr transport.RemoteTrack) transport.Event {
	return transport.Event{Type: transport.EventTrackSubscribed, Participant: p, Track: tr}
}

func unsubscribed(p *memory.Participant, tr transport.RemoteTrack) transport.Event {
	return transport.Event{Type: transport.EventTrackUnsubscribed, Participant: p, Track: tr}
}

func TestParticipantWithVideoJoinsBecomesActive(t *testing.T) {
	h, rec, log := newTestHandler(t, time.Second)

	video := memory.NewRemoteTrack("cam-1-track", transport.KindVideo)
	p := memory.NewParticipant("broadcaster", video)

	h.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: p})

	assert.Equal(t, []state.ConnectionState{state.Active}, log.all())
	assert.Equal(t, 1, rec.Live("cam-1-track"))
	assert.True(t, h.HasVideo())
	assert.Equal(t, "broadcaster", h.Rendered())
	assert.Equal(t, []string{"broadcaster"}, h.Participants())
}

func TestVideoUnsubscribedWithoutReplacementGoesOffline(t *testing.T) {
	h, rec, log := newTestHandler(t, 30*time.Millisecond)

	video := memory.NewRemoteTrack("cam-1-track", transport.KindVideo)
	p := memory.NewParticipant("broadcaster")

	h.Dispatch(subscribed(p, video))
	h.Dispatch(unsubscribed(p, video))

	assert.Equal(t, 0, rec.Live("cam-1-track"))
	assert.True(t, h.TimerPending())

	assert.Eventually(t, func() bool {
		return log.last() == state.Offline
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.TimerPending())
	assert.Empty(t, h.Bindings())
}

func TestReplacementVideoCancelsOfflineTimer(t *testing.T) {
	h, rec, log := newTestHandler(t, 50*time.Millisecond)

	p := memory.NewParticipant("broadcaster")
	first := memory.NewRemoteTrack("cam-1-track", transport.KindVideo)
	second := memory.NewRemoteTrack("cam-2-track", transport.KindVideo)

	h.Dispatch(subscribed(p, first))
	h.Dispatch(unsubscribed(p, first))
	require.True(t, h.TimerPending())

	h.Dispatch(subscribed(p, second))
	assert.False(t, h.TimerPending())

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, []state.ConnectionState{state.Active, state.Active}, log.all())
	assert.Equal(t, 1, rec.Live("cam-2-track"))
}

func TestOnlyOneOfflineTimerIsPending(t *testing.T) {
	h, _, log := newTestHandler(t, 40*time.Millisecond)

	p := memory.NewParticipant("broadcaster")
	for _, id := range []string{"a", "b", "c"} {
		tr := memory.NewRemoteTrack(id, transport.KindVideo)
		h.Dispatch(subscribed(p, tr))
		h.Dispatch(unsubscribed(p, tr))
	}

	assert.Eventually(t, func() bool {
		return log.last() == state.Offline
	}, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	offline := 0
	for _, s := range log.all() {
		if s == state.Offline {
			offline++
		}
	}
	assert.Equal(t, 1, offline, "replaced timers must never fire")
}

func TestDuplicateSubscriptionKeepsSingleBinding(t *testing.T) {
	h, rec, _ := newTestHandler(t, time.Second)

	p := memory.NewParticipant("broadcaster")
	video := memory.NewRemoteTrack("v", transport.KindVideo)
	audio := memory.NewRemoteTrack("a", transport.KindAudio)

	h.Dispatch(subscribed(p, video))
	h.Dispatch(subscribed(p, video))
	h.Dispatch(subscribed(p, audio))
	h.Dispatch(subscribed(p, audio))

	assert.Equal(t, 1, rec.Peak("v"))
	assert.Equal(t, 1, rec.Peak("a"))
	assert.Len(t, h.Bindings(), 2)

	h.Dispatch(unsubscribed(p, video))
	h.Dispatch(subscribed(p, video))
	assert.Equal(t, 1, rec.Peak("v"))
	assert.Equal(t, []string{"attach:video:v", "attach:audio:a", "detach:v", "attach:video:v"}, rec.History())
}

func TestRenderedParticipantLeavingGoesOfflineImmediately(t *testing.T) {
	h, rec, log := newTestHandler(t, time.Hour)

	video := memory.NewRemoteTrack("v", transport.KindVideo)
	audio := memory.NewRemoteTrack("a", transport.KindAudio)
	p := memory.NewParticipant("broadcaster", video, audio)

	h.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: p})
	h.Dispatch(transport.Event{Type: transport.EventParticipantDisconnected, Participant: p})

	assert.Equal(t, []state.ConnectionState{state.Active, state.Offline}, log.all())
	assert.Equal(t, 0, rec.LiveCount())
	assert.False(t, h.TimerPending())
	assert.Empty(t, h.Participants())
}

func TestOtherParticipantLeavingKeepsState(t *testing.T) {
	h, rec, log := newTestHandler(t, time.Hour)

	broadcaster := memory.NewParticipant("broadcaster", memory.NewRemoteTrack("v", transport.KindVideo))
	guest := memory.NewParticipant("guest", memory.NewRemoteTrack("guest-mic", transport.KindAudio))

	h.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: broadcaster})
	h.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: guest})
	h.Dispatch(transport.Event{Type: transport.EventParticipantDisconnected, Participant: guest})

	assert.Equal(t, []state.ConnectionState{state.Active}, log.all())
	assert.Equal(t, 1, rec.Live("v"))
	assert.Equal(t, 0, rec.Live("guest-mic"))
}

func TestRenderingHandsOffBetweenBroadcasters(t *testing.T) {
	h, rec, log := newTestHandler(t, time.Hour)

	first := memory.NewParticipant("first", memory.NewRemoteTrack("va", transport.KindVideo))
	second := memory.NewParticipant("second", memory.NewRemoteTrack("vb", transport.KindVideo))

	h.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: first})
	h.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: second})
	assert.Equal(t, "second", h.Rendered())

	h.Dispatch(transport.Event{Type: transport.EventParticipantDisconnected, Participant: second})
	assert.Equal(t, state.Active, log.last())
	assert.Equal(t, "first", h.Rendered())
	assert.Equal(t, 1, rec.Live("va"))
	assert.False(t, h.TimerPending())

	h.Dispatch(transport.Event{Type: transport.EventParticipantDisconnected, Participant: first})
	assert.Equal(t, state.Offline, log.last())
	assert.False(t, h.TimerPending())
	assert.Equal(t, 0, rec.LiveCount())
	assert.Empty(t, h.Rendered())
}

func TestFormerBroadcasterLeavingDuringGraceGoesOffline(t *testing.T) {
	h, _, log := newTestHandler(t, time.Hour)

	video := memory.NewRemoteTrack("v", transport.KindVideo)
	p := memory.NewParticipant("broadcaster", video)

	h.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: p})
	h.Dispatch(unsubscribed(p, video))
	require.True(t, h.TimerPending())

	h.Dispatch(transport.Event{Type: transport.EventParticipantDisconnected, Participant: p})
	assert.Equal(t, []state.ConnectionState{state.Active, state.Offline}, log.all())
	assert.False(t, h.TimerPending())
}

func TestAudioSinksFollowMuteSetting(t *testing.T) {
	h, rec, _ := newTestHandler(t, time.Second)
	p := memory.NewParticipant("broadcaster")

	h.SetMuted(true)
	h.Dispatch(subscribed(p, memory.NewRemoteTrack("a1", transport.KindAudio)))

	muted, ok := rec.Muted("a1")
	require.True(t, ok)
	assert.True(t, muted)

	h.SetMuted(false)
	muted, _ = rec.Muted("a1")
	assert.False(t, muted)
	assert.False(t, h.Muted())
}

func TestAttachFailureLeavesNoBinding(t *testing.T) {
	h, rec, log := newTestHandler(t, time.Second)
	rec.FailAttach(errors.New("surface unavailable"))

	h.Dispatch(subscribed(memory.NewParticipant("b"), memory.NewRemoteTrack("v", transport.KindVideo)))

	assert.Empty(t, log.all())
	assert.Empty(t, h.Bindings())
}

func TestResetDetachesAndSilencesTimer(t *testing.T) {
	h, rec, log := newTestHandler(t, 20*time.Millisecond)
	p := memory.NewParticipant("b")

	h.Dispatch(subscribed(p, memory.NewRemoteTrack("a", transport.KindAudio)))
	v := memory.NewRemoteTrack("v", transport.KindVideo)
	h.Dispatch(subscribed(p, v))
	h.Dispatch(unsubscribed(p, v))
	require.True(t, h.TimerPending())

	h.Reset()
	h.Reset()

	assert.Equal(t, 0, rec.LiveCount())
	assert.False(t, h.TimerPending())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []state.ConnectionState{state.Active}, log.all())
}
