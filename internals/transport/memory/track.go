package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/google/uuid"
)

var ErrAlreadyStopped = errors.New("track already stopped")

// Track is an in-process track. Local tracks count their Stop calls so callers
// can check that a device is released exactly once.
type Track struct {
	id       string
	kind     transport.Kind
	owner    transport.Owner
	deviceID string
	res      transport.Resolution

	enabled atomic.Bool
	stops   atomic.Int32
}

func NewRemoteTrack(id string, kind transport.Kind) *Track {
	t := &Track{id: id, kind: kind, owner: transport.OwnerRemote}
	t.enabled.Store(true)
	return t
}

func NewLocalTrack(id string, kind transport.Kind, deviceID string) *Track {
	t := &Track{id: id, kind: kind, owner: transport.OwnerLocal, deviceID: deviceID}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string                       { return t.id }
func (t *Track) Kind() transport.Kind             { return t.kind }
func (t *Track) Owner() transport.Owner           { return t.owner }
func (t *Track) DeviceID() string                 { return t.deviceID }
func (t *Track) Resolution() transport.Resolution { return t.res }
func (t *Track) Enabled() bool                    { return t.enabled.Load() }
func (t *Track) SetEnabled(v bool)                { t.enabled.Store(v) }

func (t *Track) Stop() error {
	if t.stops.Add(1) > 1 {
		return ErrAlreadyStopped
	}
	t.enabled.Store(false)
	return nil
}

func (t *Track) Stopped() bool  { return t.stops.Load() > 0 }
func (t *Track) StopCount() int { return int(t.stops.Load()) }

// Devices is a TrackFactory over a fixed set of device ids. An empty device id
// selects the default device.
type Devices struct {
	mu        sync.Mutex
	available map[string]bool
	created   []*Track
}

func NewDevices(ids ...string) *Devices {
	d := &Devices{available: make(map[string]bool)}
	for _, id := range ids {
		d.available[id] = true
	}
	return d
}

// Remove simulates a device being unplugged or its permission revoked.
func (d *Devices) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.available, id)
}

func (d *Devices) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available[id] = true
}

func (d *Devices) Created() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Track, len(d.created))
	copy(out, d.created)
	return out
}

func (d *Devices) CreateVideoTrack(ctx context.Context, deviceID string, res transport.Resolution) (transport.LocalTrack, error) {
	t, err := d.create(ctx, transport.KindVideo, deviceID)
	if err != nil {
		return nil, err
	}
	t.res = res
	return t, nil
}

func (d *Devices) CreateAudioTrack(ctx context.Context, deviceID string) (transport.LocalTrack, error) {
	return d.create(ctx, transport.KindAudio, deviceID)
}

func (d *Devices) create(ctx context.Context, kind transport.Kind, deviceID string) (*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if deviceID != "" && !d.available[deviceID] {
		return nil, fmt.Errorf("%w: %s", transport.ErrDeviceNotFound, deviceID)
	}

	t := NewLocalTrack(fmt.Sprintf("%s-%s", kind, uuid.New().String()), kind, deviceID)
	d.created = append(d.created, t)
	return t, nil
}
