package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomEventsInOrder(t *testing.T) {
	p := NewProvider()
	rm, err := p.Connect(context.Background(), "tok", "lobby")
	require.NoError(t, err)
	r := p.Room("lobby")
	assert.Equal(t, "tok", r.Token())

	video := NewRemoteTrack("v1", transport.KindVideo)
	require.True(t, r.Join(NewParticipant("host")))
	require.True(t, r.Subscribe("host", video))
	require.True(t, r.Unsubscribe("host", "v1"))
	assert.False(t, r.Unsubscribe("host", "v1"))
	require.True(t, r.Leave("host"))
	require.True(t, r.Drop(errors.New("ice failed")))

	var got []transport.EventType
	for ev := range rm.Events() {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []transport.EventType{
		transport.EventParticipantConnected,
		transport.EventTrackSubscribed,
		transport.EventTrackUnsubscribed,
		transport.EventParticipantDisconnected,
		transport.EventDisconnected,
	}, got)

	assert.True(t, r.Closed())
	assert.False(t, r.Join(NewParticipant("late")))
	require.NoError(t, rm.Disconnect())
}

func TestSeedsAreCopiedPerRoom(t *testing.T) {
	p := NewProvider()
	p.Seed("lobby", NewParticipant("host", NewRemoteTrack("v1", transport.KindVideo)))

	first, err := p.Connect(context.Background(), "t", "lobby")
	require.NoError(t, err)
	p.Room("lobby").Unsubscribe("host", "v1")

	second, err := p.Connect(context.Background(), "t", "lobby")
	require.NoError(t, err)

	require.Len(t, first.Participants(), 1)
	assert.Empty(t, first.Participants()[0].Tracks())
	require.Len(t, second.Participants(), 1)
	assert.Len(t, second.Participants()[0].Tracks(), 1)
	assert.Equal(t, 2, p.Connects("lobby"))
}

func TestConnectHookRejects(t *testing.T) {
	p := NewProvider()
	denied := errors.New("401")
	p.OnConnect(func(context.Context, string, string) error { return denied })

	_, err := p.Connect(context.Background(), "t", "lobby")
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 0, p.Connects("lobby"))
	assert.Nil(t, p.Room("lobby"))
}

func TestLocalParticipantJournal(t *testing.T) {
	lp := &LocalParticipant{}
	ctx := context.Background()
	a := NewLocalTrack("a", transport.KindVideo, "cam")
	b := NewLocalTrack("b", transport.KindVideo, "cam")

	require.NoError(t, lp.PublishTrack(ctx, a))
	assert.Error(t, lp.PublishTrack(ctx, a))
	require.NoError(t, lp.PublishTrack(ctx, b))
	require.NoError(t, lp.UnpublishTrack(ctx, a))
	assert.ErrorIs(t, lp.UnpublishTrack(ctx, a), transport.ErrNotPublished)

	assert.Equal(t, []Op{
		{Kind: OpPublish, TrackID: "a"},
		{Kind: OpPublish, TrackID: "b"},
		{Kind: OpUnpublish, TrackID: "a"},
		{Kind: OpUnpublish, TrackID: "a"},
	}, lp.Journal())
	require.Len(t, lp.PublishedTracks(), 1)

	rejected := errors.New("sfu full")
	lp.FailPublish(func(transport.LocalTrack) error { return rejected })
	assert.ErrorIs(t, lp.PublishTrack(ctx, NewLocalTrack("c", transport.KindAudio, "")), rejected)
}

func TestDevices(t *testing.T) {
	d := NewDevices("cam-1")
	ctx := context.Background()

	tr, err := d.CreateVideoTrack(ctx, "cam-1", transport.Resolution{Width: 640, Height: 360, FrameRate: 15})
	require.NoError(t, err)
	assert.Equal(t, "cam-1", tr.DeviceID())
	assert.Equal(t, transport.OwnerLocal, tr.Owner())

	d.Remove("cam-1")
	_, err = d.CreateVideoTrack(ctx, "cam-1", transport.Resolution{})
	assert.ErrorIs(t, err, transport.ErrDeviceNotFound)

	_, err = d.CreateAudioTrack(ctx, "")
	require.NoError(t, err)
	assert.Len(t, d.Created(), 2)

	require.NoError(t, tr.Stop())
	assert.True(t, d.Created()[0].Stopped())
}
