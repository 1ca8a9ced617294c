package media

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Meter runs at most one analyzer for a device-test session. Starting a new
// source releases the previous analyzer first.
type Meter struct {
	logger *zap.Logger

	mu      sync.Mutex
	current *Analyzer
	kind    SourceKind
	cancel  context.CancelFunc
	done    chan struct{}
	onLevel func(kind SourceKind, level float64)
}

func NewMeter(logger *zap.Logger) *Meter {
	return &Meter{logger: logger}
}

func (m *Meter) OnLevel(fn func(kind SourceKind, level float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLevel = fn
}

// Start analyzes node with the defaults for kind.
func (m *Meter) Start(kind SourceKind, node Node) *Analyzer {
	return m.StartWithOptions(kind, node, DefaultOptions(kind))
}

func (m *Meter) StartWithOptions(kind SourceKind, node Node, opts Options) *Analyzer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	a := NewAnalyzer(node, opts, m.logger)
	if fn := m.onLevel; fn != nil {
		a.OnLevel(func(level float64) { fn(kind, level) })
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("Level analyzer stopped", zap.String("source", kind.String()), zap.Error(err))
		}
	}()

	m.current = a
	m.kind = kind
	m.cancel = cancel
	m.done = done

	m.logger.Info("Level meter started",
		zap.String("source", kind.String()),
		zap.Int("frameSize", opts.FrameSize),
		zap.Float64("smoothing", opts.Smoothing),
	)
	return a
}

// Stop ends the session and releases the analyzer and its node.
func (m *Meter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Meter) stopLocked() {
	if m.current == nil {
		return
	}

	m.cancel()
	<-m.done
	if err := m.current.Release(); err != nil {
		m.logger.Warn("Failed to release level analyzer", zap.Error(err))
	}

	m.logger.Info("Level meter stopped", zap.String("source", m.kind.String()))
	m.current = nil
	m.cancel = nil
	m.done = nil
}

func (m *Meter) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}
