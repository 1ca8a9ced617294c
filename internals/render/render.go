package render

import (
	"errors"

	"github.com/adityaadpandey/roomlink/internals/transport"
)

// Surface is a live UI binding (video element or audio sink) for one track.
type Surface interface {
	Detach() error
}

// AudioSink is an output binding whose mute setting can change while bound.
type AudioSink interface {
	Surface
	SetMuted(muted bool)
}

// Target creates render bindings. It is implemented by the UI layer.
type Target interface {
	AttachVideo(track transport.RemoteTrack) (Surface, error)
	AttachAudio(track transport.RemoteTrack, muted bool) (AudioSink, error)
}

var (
	ErrAlreadyBound = errors.New("track already has a render binding")
	ErrNotBound     = errors.New("track has no render binding")
)
