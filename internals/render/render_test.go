package render

import (
	"errors"
	"testing"

	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/adityaadpandey/roomlink/internals/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func bind(t *testing.T, rec *Recorder, reg *Registry, id string, kind transport.Kind) {
	t.Helper()
	track := memory.NewRemoteTrack(id, kind)
	var s Surface
	var err error
	if kind == transport.KindVideo {
		s, err = rec.AttachVideo(track)
	} else {
		s, err = rec.AttachAudio(track, false)
	}
	require.NoError(t, err)
	require.NoError(t, reg.Add(&Binding{TrackID: id, Kind: kind, Participant: "p", Surface: s}))
}

func TestRegistryRejectsDoubleBinding(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	reg := NewRegistry()

	bind(t, rec, reg, "v1", transport.KindVideo)
	err := reg.Add(&Binding{TrackID: "v1", Kind: transport.KindVideo})
	assert.ErrorIs(t, err, ErrAlreadyBound)
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.IsBound("v1"))
}

func TestRegistryDetach(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	reg := NewRegistry()
	bind(t, rec, reg, "v1", transport.KindVideo)
	bind(t, rec, reg, "a1", transport.KindAudio)

	assert.Equal(t, 1, reg.CountKind(transport.KindVideo))
	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a1", snap[0].TrackID)

	require.NoError(t, reg.Detach("v1"))
	assert.ErrorIs(t, reg.Detach("v1"), ErrNotBound)
	assert.Equal(t, 0, rec.Live("v1"))
	assert.Equal(t, 1, rec.Peak("v1"))
}

func TestRegistryDetachAllReportsFailures(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	reg := NewRegistry()
	bind(t, rec, reg, "v1", transport.KindVideo)
	bind(t, rec, reg, "a1", transport.KindAudio)

	boom := errors.New("surface gone")
	rec.FailDetach(boom)

	failed := reg.DetachAll()
	assert.Len(t, failed, 2)
	assert.ErrorIs(t, failed["v1"], boom)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, rec.LiveCount())
}

func TestRecorderTracksMute(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	sink, err := rec.AttachAudio(memory.NewRemoteTrack("a1", transport.KindAudio), true)
	require.NoError(t, err)

	muted, ok := rec.Muted("a1")
	require.True(t, ok)
	assert.True(t, muted)

	sink.SetMuted(false)
	muted, _ = rec.Muted("a1")
	assert.False(t, muted)

	require.NoError(t, sink.Detach())
	require.NoError(t, sink.Detach())
	_, ok = rec.Muted("a1")
	assert.False(t, ok)
	assert.Equal(t, []string{"attach:audio:a1", "detach:a1"}, rec.History())
}

func TestRecorderAttachFailure(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	rec.FailAttach(errors.New("no surface"))

	_, err := rec.AttachVideo(memory.NewRemoteTrack("v1", transport.KindVideo))
	assert.Error(t, err)
	assert.Equal(t, 0, rec.LiveCount())
}
