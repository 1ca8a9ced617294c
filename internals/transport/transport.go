package transport

import (
	"context"
	"errors"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Owner string

const (
	OwnerLocal  Owner = "local"
	OwnerRemote Owner = "remote"
)

// Track is one media leg flowing to or from a participant.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	Owner() Owner
}

// LocalTrack is a capture-backed track owned by this process. Stop releases the
// underlying device and must be called exactly once by the track owner.
type LocalTrack interface {
	Track
	DeviceID() string
	Stop() error
}

// RemoteTrack is a subscribed track published by another participant.
type RemoteTrack interface {
	Track
}

// Participant is a remote endpoint in a room.
type Participant interface {
	Identity() string
	// Tracks returns the tracks this client is already subscribed to.
	Tracks() []RemoteTrack
}

// LocalParticipant exposes the publish primitives of the provider.
type LocalParticipant interface {
	PublishTrack(ctx context.Context, track LocalTrack) error
	UnpublishTrack(ctx context.Context, track LocalTrack) error
	PublishedTracks() []LocalTrack
}

// Room is a connected room handle. Events are delivered in arrival order on a
// single channel which the provider closes once the room is released.
type Room interface {
	Name() string
	LocalParticipant() LocalParticipant
	Participants() []Participant
	Events() <-chan Event
	Disconnect() error
}

// Provider is the real-time transport SDK entry point.
type Provider interface {
	Connect(ctx context.Context, token, roomName string) (Room, error)
}

// Resolution is a capture target for video tracks.
type Resolution struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frameRate"`
}

// TrackFactory creates local capture tracks bound to a device.
type TrackFactory interface {
	CreateVideoTrack(ctx context.Context, deviceID string, res Resolution) (LocalTrack, error)
	CreateAudioTrack(ctx context.Context, deviceID string) (LocalTrack, error)
}

var (
	ErrRoomClosed     = errors.New("room is closed")
	ErrDeviceNotFound = errors.New("device not found")
	ErrNotPublished   = errors.New("track is not published")
)
