package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adityaadpandey/roomlink/internals/metrics"
	"github.com/adityaadpandey/roomlink/internals/store"
	"github.com/adityaadpandey/roomlink/internals/transport"
	"go.uber.org/zap"
)

const DefaultSwitchGrace = 500 * time.Millisecond

const (
	OpSwitchCamera     = "switch camera"
	OpSwitchMicrophone = "switch microphone"
	OpSwitchQuality    = "switch quality"
	OpAttach           = "attach"
)

type Options struct {
	Grace      time.Duration
	Quality    Quality
	StreamSlug string
	Store      store.Store // optional
}

// Switcher owns the local capture tracks. Every publish, unpublish and stop of
// a local track goes through it and switches run one at a time.
type Switcher struct {
	factory transport.TrackFactory
	store   store.Store
	slug    string
	grace   time.Duration
	logger  *zap.Logger

	opMu sync.Mutex // serializes switches, Attach and Release

	mu        sync.Mutex
	room      transport.Room
	video     transport.LocalTrack
	audio     transport.LocalTrack
	quality   Quality
	selection store.DeviceSelection
}

func NewSwitcher(factory transport.TrackFactory, opts Options, logger *zap.Logger) *Switcher {
	grace := opts.Grace
	if grace < 0 {
		grace = 0
	}
	quality := opts.Quality
	if !quality.Valid() {
		quality = QualityHigh
	}
	return &Switcher{
		factory: factory,
		store:   opts.Store,
		slug:    opts.StreamSlug,
		grace:   grace,
		logger:  logger,
		quality: quality,
	}
}

// SwitchCamera replaces the local video track with one captured from deviceID
// at the current quality.
func (s *Switcher) SwitchCamera(ctx context.Context, deviceID string) (transport.LocalTrack, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	res := s.quality.Resolution()
	s.mu.Unlock()

	track, err := s.replace(ctx, OpSwitchCamera, transport.KindVideo, deviceID, func(ctx context.Context) (transport.LocalTrack, error) {
		return s.factory.CreateVideoTrack(ctx, deviceID, res)
	})
	metrics.RecordSwitch("camera", err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.selection.CameraID = deviceID
	sel := s.selection
	s.mu.Unlock()

	s.persist(ctx, sel)
	return track, nil
}

func (s *Switcher) SwitchMicrophone(ctx context.Context, deviceID string) (transport.LocalTrack, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	track, err := s.replace(ctx, OpSwitchMicrophone, transport.KindAudio, deviceID, func(ctx context.Context) (transport.LocalTrack, error) {
		return s.factory.CreateAudioTrack(ctx, deviceID)
	})
	metrics.RecordSwitch("microphone", err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.selection.MicID = deviceID
	sel := s.selection
	s.mu.Unlock()

	s.persist(ctx, sel)
	return track, nil
}

// SwitchVideoQuality recreates the video track from the selected camera at the
// preset for q.
func (s *Switcher) SwitchVideoQuality(ctx context.Context, q Quality) (transport.LocalTrack, error) {
	if !q.Valid() {
		err := &SwitchError{Op: OpSwitchQuality, Kind: ErrInvalidQuality, Err: fmt.Errorf("%v", q)}
		metrics.RecordSwitch("quality", err)
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	deviceID := s.selection.CameraID
	s.mu.Unlock()

	track, err := s.replace(ctx, OpSwitchQuality, transport.KindVideo, deviceID, func(ctx context.Context) (transport.LocalTrack, error) {
		return s.factory.CreateVideoTrack(ctx, deviceID, q.Resolution())
	})
	metrics.RecordSwitch("quality", err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.quality = q
	sel := s.selection
	s.mu.Unlock()

	s.persist(ctx, sel)
	return track, nil
}

// SelectSpeaker records the output device for this session only.
func (s *Switcher) SelectSpeaker(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.SpeakerID = deviceID
	s.logger.Info("Speaker selected", zap.String("deviceID", deviceID))
}

// replace runs the publish-before-unpublish choreography. opMu must be held.
func (s *Switcher) replace(
	ctx context.Context,
	op string,
	kind transport.Kind,
	deviceID string,
	create func(context.Context) (transport.LocalTrack, error),
) (transport.LocalTrack, error) {
	next, err := create(ctx)
	if err != nil {
		s.logger.Warn("Failed to create local track",
			zap.String("op", op),
			zap.String("deviceID", deviceID),
			zap.Error(err),
		)
		return nil, &SwitchError{Op: op, DeviceID: deviceID, Kind: ErrDeviceUnavailable, Err: err}
	}

	s.mu.Lock()
	room := s.room
	prev := s.currentLocked(kind)
	s.mu.Unlock()

	if room != nil {
		if err := room.LocalParticipant().PublishTrack(ctx, next); err != nil {
			s.logger.Warn("Room refused new track",
				zap.String("op", op),
				zap.String("trackID", next.ID()),
				zap.Error(err),
			)
			s.stop(next)
			return nil, &SwitchError{Op: op, DeviceID: deviceID, Kind: ErrPublishRejected, Err: err}
		}
	}

	s.mu.Lock()
	s.setCurrentLocked(kind, next)
	s.mu.Unlock()

	if prev != nil {
		if room != nil {
			s.settle(ctx)
			s.unpublish(context.WithoutCancel(ctx), room, prev)
		}
		s.stop(prev)
	}

	s.logger.Info("Local track replaced",
		zap.String("op", op),
		zap.String("deviceID", deviceID),
		zap.String("trackID", next.ID()),
		zap.Bool("published", room != nil),
	)
	return next, nil
}

// settle waits the grace interval so the new publication is live before the
// old one goes away. Cancellation ends the wait early.
func (s *Switcher) settle(ctx context.Context) {
	if s.grace <= 0 {
		return
	}
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Switcher) unpublish(ctx context.Context, room transport.Room, track transport.LocalTrack) {
	if err := room.LocalParticipant().UnpublishTrack(ctx, track); err != nil {
		s.logger.Warn("Failed to unpublish previous track",
			zap.String("trackID", track.ID()),
			zap.Error(errors.Join(ErrResourceCleanup, err)),
		)
	}
}

func (s *Switcher) stop(track transport.LocalTrack) {
	if err := track.Stop(); err != nil {
		s.logger.Warn("Failed to stop local track",
			zap.String("trackID", track.ID()),
			zap.Error(errors.Join(ErrResourceCleanup, err)),
		)
	}
}

func (s *Switcher) persist(ctx context.Context, sel store.DeviceSelection) {
	if s.store == nil || s.slug == "" {
		return
	}
	if err := s.store.UpdateDevices(ctx, s.slug, sel); err != nil {
		metrics.MetadataWriteErrorsTotal.Inc()
		s.logger.Warn("Failed to persist device selection",
			zap.String("slug", s.slug),
			zap.String("cameraID", sel.CameraID),
			zap.String("micID", sel.MicID),
			zap.Error(err),
		)
	}
}

// Attach publishes the held local tracks to a newly joined room and routes
// later switches through it.
func (s *Switcher) Attach(ctx context.Context, room transport.Room) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.room = room
	tracks := s.heldLocked()
	s.mu.Unlock()

	var errs []error
	for _, t := range tracks {
		if err := room.LocalParticipant().PublishTrack(ctx, t); err != nil {
			s.logger.Error("Failed to publish held track",
				zap.String("room", room.Name()),
				zap.String("trackID", t.ID()),
				zap.Error(err),
			)
			errs = append(errs, &SwitchError{Op: OpAttach, DeviceID: t.DeviceID(), Kind: ErrPublishRejected, Err: err})
			continue
		}
		s.logger.Debug("Published held track",
			zap.String("room", room.Name()),
			zap.String("trackID", t.ID()),
		)
	}
	return errors.Join(errs...)
}

// Detach forgets the room. Tracks stay alive for preview and the next Attach.
func (s *Switcher) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = nil
}

// Release stops every local track. Used when the broadcast ends.
func (s *Switcher) Release(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	room := s.room
	tracks := s.heldLocked()
	s.video = nil
	s.audio = nil
	s.mu.Unlock()

	for _, t := range tracks {
		if room != nil {
			s.unpublish(ctx, room, t)
		}
		s.stop(t)
	}
}

func (s *Switcher) heldLocked() []transport.LocalTrack {
	var out []transport.LocalTrack
	if s.video != nil {
		out = append(out, s.video)
	}
	if s.audio != nil {
		out = append(out, s.audio)
	}
	return out
}

func (s *Switcher) currentLocked(kind transport.Kind) transport.LocalTrack {
	if kind == transport.KindVideo {
		return s.video
	}
	return s.audio
}

func (s *Switcher) setCurrentLocked(kind transport.Kind, t transport.LocalTrack) {
	if kind == transport.KindVideo {
		s.video = t
	} else {
		s.audio = t
	}
}

func (s *Switcher) VideoTrack() transport.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *Switcher) AudioTrack() transport.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *Switcher) Selection() store.DeviceSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

func (s *Switcher) Quality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

func (s *Switcher) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room != nil
}
