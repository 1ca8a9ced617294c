package room

import (
	"sort"
	"sync"
	"time"

	"github.com/adityaadpandey/roomlink/internals/metrics"
	"github.com/adityaadpandey/roomlink/internals/render"
	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/adityaadpandey/roomlink/internals/transport"
	"go.uber.org/zap"
)

const DefaultOfflineTimeout = 10 * time.Second

// participantRecord tracks the subscriptions a remote participant owns.
type participantRecord struct {
	identity string
	tracks   map[string]transport.RemoteTrack
	joinedAt time.Time
}

// Handler turns participant and track notifications into render bindings and
// state decisions. Events must be dispatched in arrival order from one
// goroutine; the offline timer is the only other writer.
type Handler struct {
	target         render.Target
	bindings       *render.Registry
	offlineTimeout time.Duration
	logger         *zap.Logger

	mu           sync.Mutex
	participants map[string]*participantRecord
	rendered     string // identity owning the bound video track
	muted        bool
	sink         state.Sink

	// Offline detection timer
	offlineTimer *time.Timer
	timerSeq     uint64
}

func NewHandler(target render.Target, offlineTimeout time.Duration, logger *zap.Logger) *Handler {
	if offlineTimeout <= 0 {
		offlineTimeout = DefaultOfflineTimeout
	}
	return &Handler{
		target:         target,
		bindings:       render.NewRegistry(),
		offlineTimeout: offlineTimeout,
		logger:         logger,
		participants:   make(map[string]*participantRecord),
		sink:           state.Drop,
	}
}

// Start binds the handler to a session's state sink.
func (h *Handler) Start(sink state.Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sink == nil {
		sink = state.Drop
	}
	h.sink = sink
}

// Reset detaches every binding, stops the offline timer and forgets all
// participants. State decisions made after Reset are dropped until Start.
func (h *Handler) Reset() {
	h.mu.Lock()
	h.stopTimerLocked()
	h.participants = make(map[string]*participantRecord)
	h.rendered = ""
	h.sink = state.Drop
	h.mu.Unlock()

	for id, err := range h.bindings.DetachAll() {
		h.logger.Warn("Failed to detach render binding during reset",
			zap.String("trackID", id),
			zap.Error(err),
		)
	}
}

// Dispatch processes one participant or track event. Room-level events are
// ignored.
func (h *Handler) Dispatch(ev transport.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case transport.EventParticipantConnected:
		h.participantConnectedLocked(ev.Participant)
	case transport.EventParticipantDisconnected:
		h.participantDisconnectedLocked(ev.Identity())
	case transport.EventTrackSubscribed:
		h.trackSubscribedLocked(ev.Identity(), ev.Track)
	case transport.EventTrackUnsubscribed:
		h.trackUnsubscribedLocked(ev.Identity(), ev.Track)
	}
}

func (h *Handler) participantConnectedLocked(p transport.Participant) {
	if p == nil {
		return
	}
	rec := h.recordLocked(p.Identity())

	h.logger.Info("Participant connected",
		zap.String("identity", rec.identity),
		zap.Int("existingTracks", len(p.Tracks())),
	)

	for _, t := range p.Tracks() {
		h.trackSubscribedLocked(rec.identity, t)
	}
}

func (h *Handler) participantDisconnectedLocked(identity string) {
	rec, ok := h.participants[identity]
	if !ok {
		h.logger.Debug("Ignoring disconnect of unknown participant", zap.String("identity", identity))
		return
	}

	ownedVideo := h.rendered == identity || h.ownsVideoLocked(identity)
	for _, t := range sortedTracks(rec.tracks) {
		h.trackUnsubscribedLocked(identity, t)
	}
	delete(h.participants, identity)

	h.logger.Info("Participant disconnected",
		zap.String("identity", identity),
		zap.Duration("present", time.Since(rec.joinedAt)),
	)

	if h.rendered == identity {
		h.rendered = ""
	}
	if ownedVideo && h.bindings.CountKind(transport.KindVideo) == 0 {
		h.stopTimerLocked()
		h.sink(state.Offline)
	}
}

// ownsVideoLocked reports whether identity currently has a bound video track.
func (h *Handler) ownsVideoLocked(identity string) bool {
	for _, b := range h.bindings.Snapshot() {
		if b.Participant == identity && b.Kind == transport.KindVideo {
			return true
		}
	}
	return false
}

// handOffRenderedLocked moves the rendered identity to the owner of the first
// remaining video binding. With no video left the last owner is kept so its
// departure still ends the broadcast.
func (h *Handler) handOffRenderedLocked() {
	if h.ownsVideoLocked(h.rendered) {
		return
	}
	for _, b := range h.bindings.Snapshot() {
		if b.Kind == transport.KindVideo {
			h.rendered = b.Participant
			return
		}
	}
}

func (h *Handler) trackSubscribedLocked(identity string, t transport.RemoteTrack) {
	if t == nil {
		return
	}
	rec := h.recordLocked(identity)
	rec.tracks[t.ID()] = t

	// Pion-style providers may notify the same subscription twice.
	if h.bindings.IsBound(t.ID()) {
		h.logger.Debug("Ignoring duplicate track subscription",
			zap.String("identity", identity),
			zap.String("trackID", t.ID()),
		)
		return
	}

	switch t.Kind() {
	case transport.KindVideo:
		h.stopTimerLocked()

		surface, err := h.target.AttachVideo(t)
		if err != nil {
			h.logger.Error("Failed to attach video track",
				zap.String("identity", identity),
				zap.String("trackID", t.ID()),
				zap.Error(err),
			)
			return
		}
		h.addBindingLocked(identity, t, surface)
		h.rendered = identity
		h.sink(state.Active)

	case transport.KindAudio:
		sink, err := h.target.AttachAudio(t, h.muted)
		if err != nil {
			h.logger.Error("Failed to attach audio track",
				zap.String("identity", identity),
				zap.String("trackID", t.ID()),
				zap.Error(err),
			)
			return
		}
		h.addBindingLocked(identity, t, sink)
	}
}

func (h *Handler) addBindingLocked(identity string, t transport.RemoteTrack, s render.Surface) {
	if err := h.bindings.Add(&render.Binding{
		TrackID:     t.ID(),
		Kind:        t.Kind(),
		Participant: identity,
		Surface:     s,
	}); err != nil {
		// Unreachable while IsBound is checked first; never leak the surface.
		_ = s.Detach()
		return
	}

	h.logger.Debug("Track attached",
		zap.String("identity", identity),
		zap.String("trackID", t.ID()),
		zap.String("kind", string(t.Kind())),
	)
}

func (h *Handler) trackUnsubscribedLocked(identity string, t transport.RemoteTrack) {
	if t == nil {
		return
	}
	if rec, ok := h.participants[identity]; ok {
		delete(rec.tracks, t.ID())
	}

	if !h.bindings.IsBound(t.ID()) {
		return
	}
	if err := h.bindings.Detach(t.ID()); err != nil {
		h.logger.Warn("Failed to detach track",
			zap.String("identity", identity),
			zap.String("trackID", t.ID()),
			zap.Error(err),
		)
	}

	h.logger.Debug("Track detached",
		zap.String("identity", identity),
		zap.String("trackID", t.ID()),
		zap.String("kind", string(t.Kind())),
	)

	if t.Kind() != transport.KindVideo {
		return
	}
	h.handOffRenderedLocked()
	if h.bindings.CountKind(transport.KindVideo) == 0 {
		h.startTimerLocked()
	}
}

func (h *Handler) recordLocked(identity string) *participantRecord {
	rec, ok := h.participants[identity]
	if !ok {
		rec = &participantRecord{
			identity: identity,
			tracks:   make(map[string]transport.RemoteTrack),
			joinedAt: time.Now(),
		}
		h.participants[identity] = rec
	}
	return rec
}

// startTimerLocked replaces any pending offline timer with a fresh one.
func (h *Handler) startTimerLocked() {
	h.stopTimerLocked()

	h.timerSeq++
	seq := h.timerSeq
	h.offlineTimer = time.AfterFunc(h.offlineTimeout, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if h.timerSeq != seq || h.offlineTimer == nil {
			return
		}
		h.offlineTimer = nil
		if h.bindings.CountKind(transport.KindVideo) > 0 {
			return
		}

		h.logger.Info("No replacement video track arrived, going offline",
			zap.Duration("timeout", h.offlineTimeout),
		)
		metrics.OfflineTimeoutsTotal.Inc()
		h.sink(state.Offline)
	})
}

func (h *Handler) stopTimerLocked() {
	if h.offlineTimer != nil {
		h.offlineTimer.Stop()
		h.offlineTimer = nil
	}
	h.timerSeq++
}

// SetMuted applies the mute setting to live audio sinks and to sinks created
// later.
func (h *Handler) SetMuted(muted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.muted = muted
	for _, b := range h.bindings.Snapshot() {
		if sink, ok := b.Surface.(render.AudioSink); ok && b.Kind == transport.KindAudio {
			sink.SetMuted(muted)
		}
	}
}

func (h *Handler) Muted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.muted
}

func (h *Handler) HasVideo() bool {
	return h.bindings.CountKind(transport.KindVideo) > 0
}

func (h *Handler) TimerPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offlineTimer != nil
}

// Rendered returns the identity whose video is bound, or the last one bound
// while the offline timer runs.
func (h *Handler) Rendered() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rendered
}

func (h *Handler) Participants() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.participants))
	for id := range h.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Handler) Bindings() []render.Binding {
	return h.bindings.Snapshot()
}

func sortedTracks(m map[string]transport.RemoteTrack) []transport.RemoteTrack {
	out := make([]transport.RemoteTrack, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
