package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrReleased  = errors.New("analyzer released")
	ErrFrameSize = errors.New("unexpected frame size")
)

const maxMagnitude = 255

type SourceKind int

const (
	SourceMicrophone SourceKind = iota
	SourceTestTone
)

func (k SourceKind) String() string {
	switch k {
	case SourceMicrophone:
		return "microphone"
	case SourceTestTone:
		return "test-tone"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// Options tune one analyzer. Magnitudes are on a 0-255 scale.
type Options struct {
	FrameSize  int
	Smoothing  float64 // 0 disables, must be < 1
	NoiseFloor float64
	Exponent   float64
	Threshold  float64
}

// DefaultOptions gives microphones a small snappy window and test tones a
// larger smoother one.
func DefaultOptions(kind SourceKind) Options {
	opts := Options{
		NoiseFloor: 10,
		Exponent:   0.75,
		Threshold:  0.5,
	}
	switch kind {
	case SourceTestTone:
		opts.FrameSize = 512
		opts.Smoothing = 0.8
	default:
		opts.FrameSize = 128
		opts.Smoothing = 0.3
	}
	return opts
}

// Node is the audio graph tap feeding an analyzer with magnitude frames.
type Node interface {
	Frames() <-chan []uint8
	Close() error
}

// Level maps a peak magnitude to a 0-100 reading.
func Level(peak, noiseFloor, exponent float64) float64 {
	if math.IsNaN(peak) || peak <= noiseFloor {
		return 0
	}
	span := maxMagnitude - noiseFloor
	if span <= 0 {
		return 0
	}
	x := (peak - noiseFloor) / span
	level := 100 * math.Pow(x, exponent)
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	return math.Min(level, 100)
}

// Analyzer turns magnitude frames into level updates. It owns its node and
// smoothing buffer until Release.
type Analyzer struct {
	opts   Options
	node   Node
	logger *zap.Logger

	mu       sync.Mutex
	smoothed []float64
	last     float64
	emitted  bool
	released bool
	onLevel  func(level float64)
}

func NewAnalyzer(node Node, opts Options, logger *zap.Logger) *Analyzer {
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultOptions(SourceMicrophone).FrameSize
	}
	if opts.Smoothing < 0 || opts.Smoothing >= 1 {
		opts.Smoothing = 0
	}
	if opts.Exponent <= 0 {
		opts.Exponent = 0.75
	}
	return &Analyzer{
		opts:     opts,
		node:     node,
		logger:   logger,
		smoothed: make([]float64, opts.FrameSize),
	}
}

func (a *Analyzer) OnLevel(fn func(level float64)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLevel = fn
}

// Process folds one frame into the analyzer and reports the resulting level
// and whether it was emitted.
func (a *Analyzer) Process(frame []uint8) (float64, bool, error) {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return 0, false, ErrReleased
	}
	if len(frame) != a.opts.FrameSize {
		a.mu.Unlock()
		return 0, false, fmt.Errorf("%w: got %d bins, want %d", ErrFrameSize, len(frame), a.opts.FrameSize)
	}

	peak := 0.0
	s := a.opts.Smoothing
	for i, v := range frame {
		a.smoothed[i] = s*a.smoothed[i] + (1-s)*float64(v)
		if a.smoothed[i] > peak {
			peak = a.smoothed[i]
		}
	}
	level := Level(peak, a.opts.NoiseFloor, a.opts.Exponent)

	if a.emitted && math.Abs(level-a.last) <= a.opts.Threshold {
		a.mu.Unlock()
		return level, false, nil
	}
	a.last = level
	a.emitted = true
	fn := a.onLevel
	a.mu.Unlock()

	if fn != nil {
		fn(level)
	}
	return level, true, nil
}

// Run consumes frames until ctx ends or the node stops producing.
func (a *Analyzer) Run(ctx context.Context) error {
	frames := a.node.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if _, _, err := a.Process(frame); err != nil {
				if errors.Is(err, ErrReleased) {
					return nil
				}
				a.logger.Debug("Dropping audio frame", zap.Error(err))
			}
		}
	}
}

// Release closes the node and drops the analysis buffer. Safe to call more
// than once.
func (a *Analyzer) Release() error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return nil
	}
	a.released = true
	a.smoothed = nil
	a.onLevel = nil
	a.mu.Unlock()

	return a.node.Close()
}

func (a *Analyzer) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Last returns the most recently emitted level.
func (a *Analyzer) Last() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
