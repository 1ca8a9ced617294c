package pionrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

var (
	ErrTrackStopped     = errors.New("track stopped")
	ErrUnsupportedTrack = errors.New("track was not created by this package")
)

// LocalTrack is a capture track backed by a sample writer. The capture
// pipeline pushes encoded frames through WriteSample.
type LocalTrack struct {
	sample   *webrtc.TrackLocalStaticSample
	kind     transport.Kind
	deviceID string
	res      transport.Resolution
	stopped  atomic.Bool
}

func (t *LocalTrack) ID() string                       { return t.sample.ID() }
func (t *LocalTrack) Kind() transport.Kind             { return t.kind }
func (t *LocalTrack) Owner() transport.Owner           { return transport.OwnerLocal }
func (t *LocalTrack) DeviceID() string                 { return t.deviceID }
func (t *LocalTrack) Resolution() transport.Resolution { return t.res }
func (t *LocalTrack) Enabled() bool                    { return !t.stopped.Load() }
func (t *LocalTrack) MimeType() string                 { return t.sample.Codec().MimeType }

// Sample exposes the underlying pion track for AddTrack.
func (t *LocalTrack) Sample() *webrtc.TrackLocalStaticSample { return t.sample }

func (t *LocalTrack) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	return t.sample.WriteSample(s)
}

func (t *LocalTrack) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return ErrTrackStopped
	}
	return nil
}

// TrackFactory creates VP8 video and Opus audio tracks. A nil device set
// accepts any device id.
type TrackFactory struct {
	streamID string

	mu      sync.RWMutex
	devices map[string]bool
}

func NewTrackFactory(streamID string, devices ...string) *TrackFactory {
	f := &TrackFactory{streamID: streamID}
	if len(devices) > 0 {
		f.devices = make(map[string]bool, len(devices))
		for _, id := range devices {
			f.devices[id] = true
		}
	}
	return f
}

func (f *TrackFactory) CreateVideoTrack(ctx context.Context, deviceID string, res transport.Resolution) (transport.LocalTrack, error) {
	if err := f.check(ctx, deviceID); err != nil {
		return nil, err
	}
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video-"+uuid.New().String(),
		f.streamID,
	)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{sample: sample, kind: transport.KindVideo, deviceID: deviceID, res: res}, nil
}

func (f *TrackFactory) CreateAudioTrack(ctx context.Context, deviceID string) (transport.LocalTrack, error) {
	if err := f.check(ctx, deviceID); err != nil {
		return nil, err
	}
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+uuid.New().String(),
		f.streamID,
	)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{sample: sample, kind: transport.KindAudio, deviceID: deviceID}, nil
}

func (f *TrackFactory) check(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.devices != nil && deviceID != "" && !f.devices[deviceID] {
		return fmt.Errorf("%w: %s", transport.ErrDeviceNotFound, deviceID)
	}
	return nil
}
