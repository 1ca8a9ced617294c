package media

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func flat(size int, v uint8) []uint8 {
	frame := make([]uint8, size)
	for i := range frame {
		frame[i] = v
	}
	return frame
}

func unsmoothed(size int) Options {
	opts := DefaultOptions(SourceMicrophone)
	opts.FrameSize = size
	opts.Smoothing = 0
	return opts
}

func TestLevelCurve(t *testing.T) {
	assert.Equal(t, 0.0, Level(0, 10, 0.75))
	assert.Equal(t, 0.0, Level(10, 10, 0.75))
	assert.Equal(t, 100.0, Level(255, 10, 0.75))
	assert.Equal(t, 0.0, Level(math.NaN(), 10, 0.75))

	quiet := Level(30, 10, 0.75)
	linear := 100 * (30.0 - 10) / 245
	assert.Greater(t, quiet, linear, "quiet input is boosted above linear")

	prev := 0.0
	for p := 0.0; p <= 255; p++ {
		l := Level(p, 10, 0.75)
		assert.GreaterOrEqual(t, l, prev)
		assert.LessOrEqual(t, l, 100.0)
		prev = l
	}
}

func TestDefaultOptionsPerSource(t *testing.T) {
	mic := DefaultOptions(SourceMicrophone)
	tone := DefaultOptions(SourceTestTone)
	assert.Equal(t, 128, mic.FrameSize)
	assert.Equal(t, 512, tone.FrameSize)
	assert.Less(t, mic.Smoothing, tone.Smoothing)
	assert.Equal(t, 10.0, mic.NoiseFloor)
	assert.Equal(t, 0.5, mic.Threshold)
}

func TestAllZeroFrameEmitsZero(t *testing.T) {
	a := NewAnalyzer(NewChannelNode(1), DefaultOptions(SourceMicrophone), zaptest.NewLogger(t))

	var got []float64
	a.OnLevel(func(l float64) { got = append(got, l) })

	level, emitted, err := a.Process(flat(128, 0))
	require.NoError(t, err)
	assert.True(t, emitted)
	assert.Equal(t, 0.0, level)
	assert.Equal(t, []float64{0}, got)
	assert.False(t, math.IsNaN(level))
}

func TestThresholdSuppressesChurn(t *testing.T) {
	a := NewAnalyzer(NewChannelNode(1), unsmoothed(4), zaptest.NewLogger(t))

	var got []float64
	a.OnLevel(func(l float64) { got = append(got, l) })

	frames := [][]uint8{
		{0, 200, 0, 0},
		{0, 200, 0, 0},
		{0, 203, 0, 0},
		{0, 0, 0, 0},
	}
	for _, f := range frames {
		_, _, err := a.Process(f)
		require.NoError(t, err)
	}

	require.Len(t, got, 3)
	assert.Equal(t, Level(200, 10, 0.75), got[0])
	assert.Equal(t, Level(203, 10, 0.75), got[1])
	assert.Equal(t, 0.0, got[2])
}

func TestSmoothingDampensSpikes(t *testing.T) {
	opts := unsmoothed(2)
	opts.Smoothing = 0.8
	a := NewAnalyzer(NewChannelNode(1), opts, zaptest.NewLogger(t))

	first, _, err := a.Process([]uint8{255, 0})
	require.NoError(t, err)
	assert.Less(t, first, 100.0)

	second, _, err := a.Process([]uint8{255, 0})
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestFrameSizeMismatch(t *testing.T) {
	a := NewAnalyzer(NewChannelNode(1), unsmoothed(8), zaptest.NewLogger(t))
	_, _, err := a.Process(flat(4, 100))
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestReleaseClosesNode(t *testing.T) {
	node := NewChannelNode(1)
	a := NewAnalyzer(node, unsmoothed(4), zaptest.NewLogger(t))

	require.NoError(t, a.Release())
	require.NoError(t, a.Release())

	assert.True(t, node.Closed())
	assert.True(t, a.Released())
	_, _, err := a.Process(flat(4, 50))
	assert.ErrorIs(t, err, ErrReleased)
}

func TestRunStopsWhenNodeCloses(t *testing.T) {
	node := NewChannelNode(4)
	a := NewAnalyzer(node, unsmoothed(16), zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []float64
	a.OnLevel(func(l float64) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, l)
	})

	require.True(t, node.Push(ToneFrame(16, 4, 255)))
	require.True(t, node.Push(flat(16, 0)))
	require.NoError(t, node.Close())

	require.NoError(t, a.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{100, 0}, got)
}

func TestMeterReleasesPreviousSource(t *testing.T) {
	m := NewMeter(zaptest.NewLogger(t))

	levels := make(chan SourceKind, 16)
	m.OnLevel(func(kind SourceKind, _ float64) { levels <- kind })

	mic := NewChannelNode(4)
	first := m.Start(SourceMicrophone, mic)
	require.True(t, mic.Push(ToneFrame(128, 10, 200)))

	select {
	case kind := <-levels:
		assert.Equal(t, SourceMicrophone, kind)
	case <-time.After(time.Second):
		t.Fatal("no level from microphone")
	}

	tone := NewChannelNode(4)
	m.Start(SourceTestTone, tone)
	assert.True(t, first.Released())
	assert.True(t, mic.Closed())
	assert.True(t, m.Active())

	m.Stop()
	m.Stop()
	assert.True(t, tone.Closed())
	assert.False(t, m.Active())
}
