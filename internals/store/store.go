package store

import (
	"context"
	"errors"
	"sync"
)

var ErrInvalidSlug = errors.New("stream slug is empty")

// DeviceSelection is the broadcaster's current device choice. SpeakerID is
// session-only and never persisted.
type DeviceSelection struct {
	CameraID  string `json:"camera_id"`
	MicID     string `json:"mic_id"`
	SpeakerID string `json:"speaker_id,omitempty"`
}

// Store persists stream metadata for other clients to read.
type Store interface {
	UpdateDevices(ctx context.Context, slug string, sel DeviceSelection) error
	Devices(ctx context.Context, slug string) (DeviceSelection, error)
}

// MemoryStore keeps stream metadata in process.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]DeviceSelection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string]DeviceSelection)}
}

func (s *MemoryStore) UpdateDevices(ctx context.Context, slug string, sel DeviceSelection) error {
	if slug == "" {
		return ErrInvalidSlug
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.streams[slug]
	s.streams[slug] = merge(cur, sel)
	return nil
}

func (s *MemoryStore) Devices(ctx context.Context, slug string) (DeviceSelection, error) {
	if slug == "" {
		return DeviceSelection{}, ErrInvalidSlug
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[slug], nil
}

// merge overlays the non-empty persisted fields of next onto cur.
func merge(cur, next DeviceSelection) DeviceSelection {
	if next.CameraID != "" {
		cur.CameraID = next.CameraID
	}
	if next.MicID != "" {
		cur.MicID = next.MicID
	}
	return cur
}
