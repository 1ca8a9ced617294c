package session

import (
	"time"

	"github.com/google/uuid"
)

// Session describes one successful Connect. It survives supervisor reconnects
// and ends with Disconnect.
type Session struct {
	ID          string    `json:"id"`
	RoomName    string    `json:"room_name"`
	StreamSlug  string    `json:"stream_slug,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Reconnects  int       `json:"reconnects"`
}

func NewSession(roomName, streamSlug string) *Session {
	return &Session{
		ID:          uuid.New().String(),
		RoomName:    roomName,
		StreamSlug:  streamSlug,
		ConnectedAt: time.Now(),
	}
}

// Uptime returns how long the session has existed.
func (s *Session) Uptime() time.Duration {
	return time.Since(s.ConnectedAt)
}
