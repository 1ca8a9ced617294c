package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adityaadpandey/roomlink/internals/metrics"
	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var ErrExhausted = errors.New("reconnect attempts exhausted")

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		Multiplier:  1.5,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// backOff yields BaseDelay × Multiplier^n for n = 0, 1, 2... with no jitter.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delays returns the wait before each attempt of a full retry loop.
func (p Policy) Delays() []time.Duration {
	p = p.normalized()
	b := p.backOff()
	out := make([]time.Duration, p.MaxAttempts)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

// RetryState is a snapshot of the supervisor's retry bookkeeping.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
	Running     bool
}

// ConnectFunc performs one reconnect attempt. It must honour ctx.
type ConnectFunc func(ctx context.Context) error

// Supervisor recovers a dropped session by redialling with exponential
// back-off. At most one retry loop runs at a time.
type Supervisor struct {
	policy  Policy
	connect ConnectFunc
	logger  *zap.Logger

	mu      sync.Mutex
	sink    state.Sink
	attempt int
	running bool
	gen     uint64
	cancel  context.CancelFunc

	onRetry        func(attempt int, delay time.Duration)
	onReconnecting func()
	onExhausted    func(err error)
}

func NewSupervisor(policy Policy, connect ConnectFunc, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		policy:  policy.normalized(),
		connect: connect,
		logger:  logger,
		sink:    state.Drop,
	}
}

// Start binds the supervisor to a session's state sink.
func (s *Supervisor) Start(sink state.Sink) {
	if sink == nil {
		sink = state.Drop
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

func (s *Supervisor) OnRetry(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRetry = fn
}

func (s *Supervisor) OnReconnecting(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}

func (s *Supervisor) OnExhausted(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExhausted = fn
}

// HandleEvent reacts to room-level connectivity events. Other events are
// ignored.
func (s *Supervisor) HandleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventReconnecting:
		s.logger.Info("Transport reconnecting")
		s.mu.Lock()
		fn := s.onReconnecting
		s.mu.Unlock()
		if fn != nil {
			fn()
		}

	case transport.EventReconnected:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.running {
			return
		}
		s.attempt = 0
		s.logger.Info("Transport reconnected")
		s.sink(state.Active)

	case transport.EventDisconnected:
		if ev.Err == nil {
			return
		}
		s.begin(ev.Err)
	}
}

func (s *Supervisor) begin(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug("Retry loop already running, ignoring disconnect", zap.Error(cause))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.gen++

	s.logger.Warn("Connection lost, starting reconnect loop",
		zap.Error(cause),
		zap.Int("maxAttempts", s.policy.MaxAttempts),
	)

	go s.run(ctx, s.gen, cause)
}

func (s *Supervisor) run(ctx context.Context, gen uint64, cause error) {
	b := s.policy.backOff()

	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		attempt := s.attempt
		onRetry := s.onRetry
		s.mu.Unlock()

		if attempt >= s.policy.MaxAttempts {
			s.exhaust(gen, cause)
			return
		}

		delay := b.NextBackOff()
		metrics.ReconnectBackoffMs.Observe(float64(delay.Milliseconds()))
		if onRetry != nil {
			onRetry(attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.attempt++
		attempt = s.attempt
		s.mu.Unlock()

		metrics.ReconnectAttemptsTotal.Inc()
		s.logger.Info("Reconnect attempt",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", s.policy.MaxAttempts),
			zap.Duration("delay", delay),
		)

		err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.recovered(gen, attempt)
			return
		}

		s.logger.Warn("Reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		cause = err
	}
}

func (s *Supervisor) recovered(gen uint64, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.attempt = 0
	s.running = false
	s.cancel = nil

	metrics.RecordReconnectOutcome(true)
	s.logger.Info("Reconnected", zap.Int("attempts", attempts))
}

func (s *Supervisor) exhaust(gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel = nil
	s.attempt = 0
	fn := s.onExhausted
	s.sink(state.Error)
	s.mu.Unlock()

	metrics.RecordReconnectOutcome(false)
	s.logger.Error("Reconnect attempts exhausted",
		zap.Int("maxAttempts", s.policy.MaxAttempts),
		zap.Error(cause),
	)

	if fn != nil {
		fn(errors.Join(ErrExhausted, cause))
	}
}

// Cancel aborts any running retry loop and unbinds the sink. It is safe to
// call repeatedly.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	s.attempt = 0
	s.sink = state.Drop
}

func (s *Supervisor) RetryState() RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RetryState{
		Attempt:     s.attempt,
		MaxAttempts: s.policy.MaxAttempts,
		BaseDelay:   s.policy.BaseDelay,
		Running:     s.running,
	}
}

// Running reports whether a retry loop is in progress.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
