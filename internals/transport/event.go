package transport

import "fmt"

type EventType int

const (
	EventParticipantConnected EventType = iota + 1
	EventParticipantDisconnected
	EventTrackSubscribed
	EventTrackUnsubscribed
	EventReconnecting
	EventReconnected
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventParticipantConnected:
		return "participant-connected"
	case EventParticipantDisconnected:
		return "participant-disconnected"
	case EventTrackSubscribed:
		return "track-subscribed"
	case EventTrackUnsubscribed:
		return "track-unsubscribed"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a room-level notification. Participant is set for participant and
// track events, Track for track events and Err for EventDisconnected when the
// room dropped because of a failure.
type Event struct {
	Type        EventType
	Participant Participant
	Track       RemoteTrack
	Err         error
}

// IsRoomLevel reports whether the event concerns connectivity rather than a
// participant or track.
func (e Event) IsRoomLevel() bool {
	switch e.Type {
	case EventReconnecting, EventReconnected, EventDisconnected:
		return true
	}
	return false
}

// Identity returns the participant identity or "" for room-level events.
func (e Event) Identity() string {
	if e.Participant == nil {
		return ""
	}
	return e.Participant.Identity()
}
