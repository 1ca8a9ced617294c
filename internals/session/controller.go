package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adityaadpandey/roomlink/internals/credential"
	"github.com/adityaadpandey/roomlink/internals/device"
	"github.com/adityaadpandey/roomlink/internals/metrics"
	"github.com/adityaadpandey/roomlink/internals/reconnect"
	"github.com/adityaadpandey/roomlink/internals/render"
	"github.com/adityaadpandey/roomlink/internals/room"
	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/adityaadpandey/roomlink/internals/transport"
	"go.uber.org/zap"
)

const DefaultConnectTimeout = 15 * time.Second

type Options struct {
	ConnectTimeout time.Duration
	OfflineTimeout time.Duration
	Reconnect      reconnect.Policy
	StreamSlug     string
}

type observer struct {
	id uint64
	fn func(old, new state.ConnectionState)
}

// Controller owns the connection state of one client and the room handle it
// is joined to.
//
// Lock order: dispatchMu, then the handler and supervisor locks, then mu.
// Nothing calls into the handler, switcher or supervisor while holding mu.
type Controller struct {
	provider   transport.Provider
	creds      credential.Source
	handler    *room.Handler
	switcher   *device.Switcher
	supervisor *reconnect.Supervisor
	opts       Options
	logger     *zap.Logger

	current atomic.Int32

	// dispatchMu orders event dispatch against teardown.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	epoch        uint64 // bumped by Connect and Disconnect
	roomName     string
	room         transport.Room
	roomSeq      uint64
	session      *Session
	dialCancel   context.CancelFunc
	observers    []observer
	nextObserver uint64
	onReconnect  func()
}

// NewController builds a controller rendering into target. switcher may be
// nil for viewers that never publish.
func NewController(
	provider transport.Provider,
	creds credential.Source,
	target render.Target,
	switcher *device.Switcher,
	opts Options,
	logger *zap.Logger,
) *Controller {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	c := &Controller{
		provider: provider,
		creds:    creds,
		handler:  room.NewHandler(target, opts.OfflineTimeout, logger),
		switcher: switcher,
		opts:     opts,
		logger:   logger,
	}
	c.supervisor = reconnect.NewSupervisor(opts.Reconnect, c.redial, logger)
	c.supervisor.OnReconnecting(c.notifyReconnecting)
	return c
}

// CurrentState is safe to call from any goroutine, including observers.
func (c *Controller) CurrentState() state.ConnectionState {
	return state.ConnectionState(c.current.Load())
}

// OnStateChange registers fn for every transition. Observers run in
// transition order while the controller lock is held. CurrentState is the
// only Controller method an observer may call; any other, including the
// returned cancel func, deadlocks. Hand off to a goroutine for more.
func (c *Controller) OnStateChange(fn func(old, new state.ConnectionState)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, observer{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// OnReconnecting registers fn for transport reconnecting notifications.
func (c *Controller) OnReconnecting(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

func (c *Controller) notifyReconnecting() {
	c.mu.Lock()
	fn := c.onReconnect
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Connect joins roomName. It is valid only from Idle or Error and is never
// retried here.
func (c *Controller) Connect(ctx context.Context, roomName string) (*Session, error) {
	if roomName == "" {
		return nil, &ConnectionError{Op: OpConnect, Kind: ErrInvalidRoomName}
	}

	c.mu.Lock()
	if cur := c.CurrentState(); cur != state.Idle && cur != state.Error {
		c.mu.Unlock()
		return nil, &ConnectionError{Op: OpConnect, Room: roomName, Kind: ErrAlreadyConnected}
	}
	c.epoch++
	epoch := c.epoch
	dialCtx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	c.roomName = roomName
	c.session = nil
	c.setStateLocked(state.Connecting)
	c.mu.Unlock()
	defer cancel()

	c.logger.Info("Connecting to room", zap.String("room", roomName))
	start := time.Now()

	rm, err := c.dial(dialCtx, OpConnect, roomName)
	if err != nil {
		return nil, c.connectFailed(ctx, epoch, roomName, err)
	}

	sess, err := c.install(ctx, epoch, rm, false)
	if err != nil {
		metrics.RecordConnect("cancelled")
		return nil, err
	}

	metrics.RecordConnect("ok")
	metrics.ConnectDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	return sess, nil
}

func (c *Controller) connectFailed(ctx context.Context, epoch uint64, roomName string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		metrics.RecordConnect("cancelled")
		return &ConnectionError{Op: OpConnect, Room: roomName, Kind: ErrConnectCancelled, Err: err}
	}
	c.dialCancel = nil

	if ctx.Err() != nil {
		metrics.RecordConnect("cancelled")
		c.roomName = ""
		c.setStateLocked(state.Idle)
		return &ConnectionError{Op: OpConnect, Room: roomName, Kind: ErrConnectCancelled, Err: ctx.Err()}
	}

	metrics.RecordConnect("failed")
	c.logger.Error("Failed to connect to room",
		zap.String("room", roomName),
		zap.Error(err),
	)
	c.setStateLocked(state.Error)
	return err
}

// dial fetches a token and joins the room. Errors carry their kind.
func (c *Controller) dial(ctx context.Context, op, roomName string) (transport.Room, error) {
	token, err := c.creds.Fetch(ctx, roomName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ConnectionError{Op: op, Room: roomName, Kind: ErrConnectCancelled, Err: err}
		}
		return nil, &ConnectionError{Op: op, Room: roomName, Kind: ErrCredentialUnavailable, Err: err}
	}

	tctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	rm, err := c.provider.Connect(tctx, token, roomName)
	if err == nil {
		return rm, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, &ConnectionError{Op: op, Room: roomName, Kind: ErrConnectCancelled, Err: err}
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return nil, &ConnectionError{Op: op, Room: roomName, Kind: ErrTimeout, Err: err}
	default:
		c.creds.Invalidate(roomName)
		return nil, &ConnectionError{Op: op, Room: roomName, Kind: ErrTransportRejected, Err: err}
	}
}

// install makes rm the session's room, replays its participants and starts
// the event loop.
func (c *Controller) install(ctx context.Context, epoch uint64, rm transport.Room, reconnected bool) (*Session, error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.release(rm)
		op := OpConnect
		if reconnected {
			op = OpReconnect
		}
		return nil, &ConnectionError{Op: op, Room: rm.Name(), Kind: ErrConnectCancelled}
	}
	c.dialCancel = nil
	c.room = rm
	c.roomSeq++
	seq := c.roomSeq
	if c.session == nil {
		c.session = NewSession(rm.Name(), c.opts.StreamSlug)
	} else if reconnected {
		c.session.Reconnects++
	}
	sess := *c.session
	c.mu.Unlock()

	sink := c.sinkFor(epoch)
	c.handler.Start(sink)
	c.supervisor.Start(sink)

	c.prime(epoch, seq, rm)
	go c.eventLoop(seq, rm)

	if c.switcher != nil {
		if err := c.switcher.Attach(ctx, rm); err != nil {
			c.logger.Warn("Some local tracks were not published", zap.Error(err))
		}
		c.mu.Lock()
		stale := c.epoch != epoch
		c.mu.Unlock()
		if stale {
			c.switcher.Detach()
		}
	}

	c.logger.Info("Joined room",
		zap.String("room", rm.Name()),
		zap.String("sessionID", sess.ID),
		zap.Int("participants", len(rm.Participants())),
		zap.Bool("reconnected", reconnected),
	)
	return &sess, nil
}

// prime dispatches the participants already present, then waits for a
// broadcaster if no video was bound.
func (c *Controller) prime(epoch, seq uint64, rm transport.Room) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if !c.isCurrent(seq) {
		return
	}
	for _, p := range rm.Participants() {
		c.handler.Dispatch(transport.Event{Type: transport.EventParticipantConnected, Participant: p})
	}
	if !c.handler.HasVideo() {
		c.transitionIf(epoch, state.Waiting)
	}
}

func (c *Controller) eventLoop(seq uint64, rm transport.Room) {
	for ev := range rm.Events() {
		if !c.dispatch(seq, ev) {
			return
		}
	}
}

func (c *Controller) dispatch(seq uint64, ev transport.Event) bool {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if !c.isCurrent(seq) {
		return false
	}

	switch ev.Type {
	case transport.EventDisconnected:
		c.roomLost(seq, ev)
		return false
	case transport.EventReconnecting, transport.EventReconnected:
		c.supervisor.HandleEvent(ev)
	default:
		c.handler.Dispatch(ev)
	}
	return true
}

// roomLost tears down a dead room. A failure hands over to the supervisor; a
// clean close by the server leaves the session Offline. dispatchMu is held.
func (c *Controller) roomLost(seq uint64, ev transport.Event) {
	c.mu.Lock()
	if c.roomSeq != seq {
		c.mu.Unlock()
		return
	}
	epoch := c.epoch
	rm := c.room
	c.room = nil
	c.roomSeq++
	c.mu.Unlock()

	c.handler.Reset()
	if c.switcher != nil {
		c.switcher.Detach()
	}
	c.release(rm)

	if ev.Err == nil {
		c.logger.Info("Room closed by server", zap.String("room", rm.Name()))
	} else {
		c.logger.Warn("Room connection dropped",
			zap.String("room", rm.Name()),
			zap.Error(ev.Err),
		)
	}

	c.transitionIf(epoch, state.Offline)
	c.supervisor.HandleEvent(ev)
}

// redial is the supervisor's connect function.
func (c *Controller) redial(ctx context.Context) error {
	c.mu.Lock()
	if c.roomName == "" || c.room != nil {
		c.mu.Unlock()
		return ErrConnectCancelled
	}
	epoch := c.epoch
	roomName := c.roomName
	c.setStateLocked(state.Connecting)
	c.mu.Unlock()

	rm, err := c.dial(ctx, OpReconnect, roomName)
	if err != nil {
		return err
	}
	_, err = c.install(ctx, epoch, rm, true)
	return err
}

// Disconnect leaves the room and returns to Idle. It is idempotent and safe
// to call at any point, including during Connect or a reconnect loop.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.epoch++
	rm := c.room
	cancel := c.dialCancel
	c.room = nil
	c.roomSeq++
	c.roomName = ""
	c.dialCancel = nil
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.supervisor.Cancel()

	c.dispatchMu.Lock()
	c.handler.Reset()
	c.dispatchMu.Unlock()

	if c.switcher != nil {
		c.switcher.Detach()
	}
	if rm != nil {
		c.release(rm)
	}

	c.mu.Lock()
	c.setStateLocked(state.Idle)
	c.mu.Unlock()

	if sess != nil {
		c.logger.Info("Disconnected",
			zap.String("room", sess.RoomName),
			zap.String("sessionID", sess.ID),
			zap.Duration("uptime", sess.Uptime()),
			zap.Int("reconnects", sess.Reconnects),
		)
	}
}

func (c *Controller) release(rm transport.Room) {
	if err := rm.Disconnect(); err != nil {
		c.logger.Warn("Failed to release room handle",
			zap.String("room", rm.Name()),
			zap.Error(err),
		)
	}
}

func (c *Controller) isCurrent(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomSeq == seq && c.room != nil
}

// sinkFor returns a Sink that only applies while epoch is current.
func (c *Controller) sinkFor(epoch uint64) state.Sink {
	return func(s state.ConnectionState) {
		c.transitionIf(epoch, s)
	}
}

func (c *Controller) transitionIf(epoch uint64, s state.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.logger.Debug("Dropping stale state decision", zap.String("state", s.String()))
		return
	}
	c.setStateLocked(s)
}

func (c *Controller) setStateLocked(s state.ConnectionState) {
	old := c.CurrentState()
	if old == s {
		return
	}
	c.current.Store(int32(s))
	metrics.RecordStateTransition(old.String(), s.String())

	c.logger.Info("Connection state changed",
		zap.String("from", old.String()),
		zap.String("to", s.String()),
	)

	for _, o := range c.observers {
		o.fn(old, s)
	}
}

// Session returns a copy of the active session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	sess := *c.session
	return &sess
}

func (c *Controller) Bindings() []render.Binding {
	return c.handler.Bindings()
}

func (c *Controller) SetMuted(muted bool) {
	c.handler.SetMuted(muted)
}

func (c *Controller) RetryState() reconnect.RetryState {
	return c.supervisor.RetryState()
}

// OfflineTimerPending reports whether the offline timer is running.
func (c *Controller) OfflineTimerPending() bool {
	return c.handler.TimerPending()
}
