package render

import (
	"fmt"
	"sync"

	"github.com/adityaadpandey/roomlink/internals/transport"
	"go.uber.org/zap"
)

// Recorder is a Target that keeps no real UI resources. It logs every attach
// and detach and remembers which track ids are currently bound, which makes it
// the harness target and the target used in tests.
type Recorder struct {
	logger *zap.Logger

	mu        sync.Mutex
	live      map[string]int
	peak      map[string]int
	muted     map[string]bool
	history   []string
	attachErr error
	detachErr error
}

func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{
		logger: logger,
		live:   make(map[string]int),
		peak:   make(map[string]int),
		muted:  make(map[string]bool),
	}
}

// FailAttach makes subsequent attaches fail with err (nil restores success).
func (r *Recorder) FailAttach(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachErr = err
}

func (r *Recorder) FailDetach(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachErr = err
}

func (r *Recorder) AttachVideo(track transport.RemoteTrack) (Surface, error) {
	s, err := r.attach(track, false)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Recorder) AttachAudio(track transport.RemoteTrack, muted bool) (AudioSink, error) {
	return r.attach(track, muted)
}

func (r *Recorder) attach(track transport.RemoteTrack, muted bool) (*recordedSurface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attachErr != nil {
		return nil, r.attachErr
	}

	id := track.ID()
	r.live[id]++
	if r.live[id] > r.peak[id] {
		r.peak[id] = r.live[id]
	}
	if track.Kind() == transport.KindAudio {
		r.muted[id] = muted
	}
	r.history = append(r.history, fmt.Sprintf("attach:%s:%s", track.Kind(), id))

	r.logger.Debug("Render binding attached",
		zap.String("trackID", id),
		zap.String("kind", string(track.Kind())),
		zap.Bool("muted", muted),
	)

	return &recordedSurface{recorder: r, trackID: id}, nil
}

func (r *Recorder) detach(trackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live[trackID] > 0 {
		r.live[trackID]--
	}
	if r.live[trackID] == 0 {
		delete(r.live, trackID)
		delete(r.muted, trackID)
	}
	r.history = append(r.history, "detach:"+trackID)

	r.logger.Debug("Render binding detached", zap.String("trackID", trackID))
	return r.detachErr
}

func (r *Recorder) setMuted(trackID string, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[trackID]; ok {
		r.muted[trackID] = muted
	}
}

// Live returns how many bindings are currently attached for trackID.
func (r *Recorder) Live(trackID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[trackID]
}

// Peak returns the highest number of simultaneous bindings seen for trackID.
func (r *Recorder) Peak(trackID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak[trackID]
}

func (r *Recorder) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.live {
		n += c
	}
	return n
}

func (r *Recorder) Muted(trackID string) (muted, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	muted, ok = r.muted[trackID]
	return muted, ok
}

func (r *Recorder) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}

type recordedSurface struct {
	recorder *Recorder
	trackID  string
	once     sync.Once
	err      error
}

func (s *recordedSurface) Detach() error {
	s.once.Do(func() {
		s.err = s.recorder.detach(s.trackID)
	})
	return s.err
}

func (s *recordedSurface) SetMuted(muted bool) {
	s.recorder.setMuted(s.trackID, muted)
}
