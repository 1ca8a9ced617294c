package pionrtc

import (
	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// RTPSource is the read side of a subscribed track. *webrtc.TrackRemote
// satisfies it.
type RTPSource interface {
	ID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RTCPWriter is satisfied by *webrtc.PeerConnection.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// RemoteTrack adapts a subscribed pion track to transport.RemoteTrack.
type RemoteTrack struct {
	src  RTPSource
	rtcp RTCPWriter
}

func NewRemoteTrack(src RTPSource, w RTCPWriter) *RemoteTrack {
	return &RemoteTrack{src: src, rtcp: w}
}

func (t *RemoteTrack) ID() string             { return t.src.ID() }
func (t *RemoteTrack) Enabled() bool          { return true }
func (t *RemoteTrack) Owner() transport.Owner { return transport.OwnerRemote }

func (t *RemoteTrack) Kind() transport.Kind {
	if t.src.Kind() == webrtc.RTPCodecTypeVideo {
		return transport.KindVideo
	}
	return transport.KindAudio
}

func (t *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.src.ReadRTP()
	return pkt, err
}

// RequestKeyframe asks the publisher for a fresh keyframe so a newly attached
// surface does not wait for the next periodic one.
func (t *RemoteTrack) RequestKeyframe() error {
	if t.Kind() != transport.KindVideo || t.rtcp == nil {
		return nil
	}
	return t.rtcp.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(t.src.SSRC())},
	})
}
