package pionrtc

import (
	"sync"
	"sync/atomic"

	"github.com/adityaadpandey/roomlink/internals/render"
	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// PacketHandler receives RTP packets of a bound track.
type PacketHandler func(trackID string, kind transport.Kind, pkt *rtp.Packet)

// PacketTarget is a render.Target that pumps RTP from subscribed tracks into
// a handler, typically a decoder or a recorder.
type PacketTarget struct {
	handler PacketHandler
	logger  *zap.Logger
}

func NewPacketTarget(handler PacketHandler, logger *zap.Logger) *PacketTarget {
	return &PacketTarget{handler: handler, logger: logger}
}

func (t *PacketTarget) AttachVideo(track transport.RemoteTrack) (render.Surface, error) {
	rt, ok := track.(*RemoteTrack)
	if !ok {
		return nil, ErrUnsupportedTrack
	}
	if err := rt.RequestKeyframe(); err != nil {
		t.logger.Warn("Failed to request keyframe",
			zap.String("trackID", rt.ID()),
			zap.Error(err),
		)
	}
	return t.pump(rt, false), nil
}

func (t *PacketTarget) AttachAudio(track transport.RemoteTrack, muted bool) (render.AudioSink, error) {
	rt, ok := track.(*RemoteTrack)
	if !ok {
		return nil, ErrUnsupportedTrack
	}
	return t.pump(rt, muted), nil
}

func (t *PacketTarget) pump(rt *RemoteTrack, muted bool) *pipe {
	p := &pipe{done: make(chan struct{}), exited: make(chan struct{})}
	p.muted.Store(muted)

	kind := rt.Kind()
	go func() {
		defer close(p.exited)
		for {
			pkt, err := rt.ReadRTP()
			if err != nil {
				t.logger.Debug("Track read ended",
					zap.String("trackID", rt.ID()),
					zap.Error(err),
				)
				return
			}
			select {
			case <-p.done:
				return
			default:
			}
			if p.muted.Load() {
				continue
			}
			t.handler(rt.ID(), kind, pkt)
		}
	}()
	return p
}

// pipe is the surface of one bound track. After Detach no further packets are
// handed over; the reader goroutine exits on its next packet or when the track
// ends.
type pipe struct {
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	muted  atomic.Bool
}

func (p *pipe) Detach() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *pipe) SetMuted(muted bool) {
	p.muted.Store(muted)
}
